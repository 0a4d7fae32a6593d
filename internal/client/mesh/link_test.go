package mesh

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
)

// fakeConn models just enough of a peer connection for negotiation: the
// signaling state machine and a forced candidate failure.
type fakeConn struct {
	mu    sync.Mutex
	id    string
	state webrtc.SignalingState

	offersMade      int
	remoteOffers    int
	remoteAnswers   int
	candidatesAdded int
	addCandidateErr error
	closed          bool

	onNegotiationNeeded func()
	onICECandidate      func(webrtc.ICECandidateInit)
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, state: webrtc.SignalingStateStable}
}

func (f *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offersMade++
	f.state = webrtc.SignalingStateHaveLocalOffer
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-from-%s-%d", f.id, f.offersMade)}, nil
}

func (f *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("answer in state %s", f.state)
	}
	f.state = webrtc.SignalingStateStable
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-from-" + f.id}, nil
}

func (f *fakeConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		// Implicit rollback of a pending local offer, as PionConn does.
		f.remoteOffers++
		f.state = webrtc.SignalingStateHaveRemoteOffer
	case webrtc.SDPTypeAnswer:
		if f.state != webrtc.SignalingStateHaveLocalOffer {
			return fmt.Errorf("answer in state %s", f.state)
		}
		f.remoteAnswers++
		f.state = webrtc.SignalingStateStable
	}
	return nil
}

func (f *fakeConn) AddICECandidate(webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addCandidateErr != nil {
		return f.addCandidateErr
	}
	f.candidatesAdded++
	return nil
}

func (f *fakeConn) SignalingStable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == webrtc.SignalingStateStable
}

func (f *fakeConn) OnNegotiationNeeded(fn func())                   { f.onNegotiationNeeded = fn }
func (f *fakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) { f.onICECandidate = fn }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPoliteRoleAssignment(t *testing.T) {
	if !Polite("aaa", "bbb") {
		t.Fatalf("smaller id must be polite")
	}
	if Polite("bbb", "aaa") {
		t.Fatalf("larger id must be impolite")
	}
	if Polite("aaa", "bbb") == Polite("bbb", "aaa") {
		t.Fatalf("roles must disagree across the pair")
	}
}

func TestOfferAnswerWithoutCollision(t *testing.T) {
	connA := newFakeConn("a")
	connB := newFakeConn("b")

	var toB, toA []SignalPayload
	linkA := NewLink("a", "b", connA, func(_ string, p SignalPayload) error {
		toB = append(toB, p)
		return nil
	}, testLogger())
	linkB := NewLink("b", "a", connB, func(_ string, p SignalPayload) error {
		toA = append(toA, p)
		return nil
	}, testLogger())

	if err := linkA.Negotiate(); err != nil {
		t.Fatal(err)
	}
	if len(toB) != 1 || toB[0].Description.Type != webrtc.SDPTypeOffer {
		t.Fatalf("expected one offer toward b, got %+v", toB)
	}

	if err := linkB.Handle(toB[0]); err != nil {
		t.Fatal(err)
	}
	if len(toA) != 1 || toA[0].Description.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("expected answer toward a, got %+v", toA)
	}

	if err := linkA.Handle(toA[0]); err != nil {
		t.Fatal(err)
	}
	if !connA.SignalingStable() || !connB.SignalingStable() {
		t.Fatalf("both sides must converge to stable")
	}
}

func TestGlareImpoliteIgnoresPoliteYields(t *testing.T) {
	connA := newFakeConn("a") // polite
	connB := newFakeConn("b") // impolite

	var toB, toA []SignalPayload
	linkA := NewLink("a", "b", connA, func(_ string, p SignalPayload) error {
		toB = append(toB, p)
		return nil
	}, testLogger())
	linkB := NewLink("b", "a", connB, func(_ string, p SignalPayload) error {
		toA = append(toA, p)
		return nil
	}, testLogger())

	// Both sides offer at once.
	if err := linkA.Negotiate(); err != nil {
		t.Fatal(err)
	}
	if err := linkB.Negotiate(); err != nil {
		t.Fatal(err)
	}
	offerFromA, offerFromB := toB[0], toA[0]

	// Impolite b drops a's offer.
	if err := linkB.Handle(offerFromA); err != nil {
		t.Fatal(err)
	}
	if connB.remoteOffers != 0 {
		t.Fatalf("impolite side must not apply a colliding offer")
	}

	// Polite a rolls back its own offer and answers b's.
	toB = nil
	if err := linkA.Handle(offerFromB); err != nil {
		t.Fatal(err)
	}
	if connA.remoteOffers != 1 {
		t.Fatalf("polite side must accept the colliding offer")
	}
	if len(toB) != 1 || toB[0].Description.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("polite side must answer, got %+v", toB)
	}

	// b applies the answer; both sides settle.
	if err := linkB.Handle(toB[0]); err != nil {
		t.Fatal(err)
	}
	if !connA.SignalingStable() || !connB.SignalingStable() {
		t.Fatalf("glare did not converge: a=%v b=%v", connA.state, connB.state)
	}
}

func TestCandidateFailureSwallowedWhileIgnoring(t *testing.T) {
	connB := newFakeConn("b")
	linkB := NewLink("b", "a", connB, func(string, SignalPayload) error { return nil }, testLogger())

	// Put b mid-offer, then feed it a colliding offer so it starts ignoring.
	if err := linkB.Negotiate(); err != nil {
		t.Fatal(err)
	}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-from-a"}
	if err := linkB.HandleDescription(offer); err != nil {
		t.Fatal(err)
	}

	connB.addCandidateErr = errors.New("unknown ufrag")
	cand := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"}
	if err := linkB.HandleCandidate(cand); err != nil {
		t.Fatalf("candidate failure must be swallowed while ignoring an offer: %v", err)
	}
}

func TestCandidateFailureSurfacesOtherwise(t *testing.T) {
	connA := newFakeConn("a")
	linkA := NewLink("a", "b", connA, func(string, SignalPayload) error { return nil }, testLogger())

	connA.addCandidateErr = errors.New("no remote description")
	cand := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"}
	if err := linkA.HandleCandidate(cand); err == nil {
		t.Fatalf("candidate failure must surface when no offer is being ignored")
	}
}
