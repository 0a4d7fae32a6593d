// Package mesh keeps one peer connection per remote participant and runs
// the negotiation protocol over each of them. Roles are fixed per pair:
// the lexicographically smaller participant id is polite, so exactly one
// side of every pair yields during an offer collision.
package mesh

import (
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Polite reports whether selfID takes the polite role toward peerID.
func Polite(selfID, peerID string) bool {
	return selfID < peerID
}

// SignalPayload is the negotiation blob relayed through the server. Exactly
// one of the fields is set per message.
type SignalPayload struct {
	Description *webrtc.SessionDescription `json:"description,omitempty"`
	Candidate   *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// Conn is the slice of a peer connection the negotiation engine drives.
// CreateOffer and CreateAnswer set the local description before returning.
type Conn interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	SignalingStable() bool
	OnNegotiationNeeded(func())
	OnICECandidate(func(webrtc.ICECandidateInit))
	Close() error
}

// Sender delivers a negotiation payload to one peer via the signal channel.
type Sender func(peerID string, payload SignalPayload) error

// Link is the negotiation state for a single peer: the makingOffer and
// ignoringOffer flags plus the fixed polite role.
type Link struct {
	selfID string
	peerID string
	polite bool
	conn   Conn
	send   Sender
	logger *slog.Logger

	mu            sync.Mutex
	makingOffer   bool
	ignoringOffer bool
}

func NewLink(selfID, peerID string, conn Conn, send Sender, logger *slog.Logger) *Link {
	return &Link{
		selfID: selfID,
		peerID: peerID,
		polite: Polite(selfID, peerID),
		conn:   conn,
		send:   send,
		logger: logger,
	}
}

func (l *Link) PeerID() string { return l.peerID }

// Polite reports the link's fixed role.
func (l *Link) Polite() bool { return l.polite }

// Negotiate creates and sends an offer. It runs whenever the connection
// reports negotiation is needed; makingOffer stays true until the local
// description is set and the offer is on the wire.
func (l *Link) Negotiate() error {
	l.mu.Lock()
	l.makingOffer = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.makingOffer = false
		l.mu.Unlock()
	}()

	offer, err := l.conn.CreateOffer()
	if err != nil {
		return err
	}
	return l.send(l.peerID, SignalPayload{Description: &offer})
}

// HandleDescription applies a remote offer or answer. An offer that arrives
// while this side is mid-offer or not stable is a collision: the impolite
// side ignores it, the polite side rolls back and answers.
func (l *Link) HandleDescription(desc webrtc.SessionDescription) error {
	l.mu.Lock()
	offer := desc.Type == webrtc.SDPTypeOffer
	collision := offer && (l.makingOffer || !l.conn.SignalingStable())
	l.ignoringOffer = !l.polite && collision
	ignoring := l.ignoringOffer
	l.mu.Unlock()

	if ignoring {
		l.logger.Debug("ignoring colliding offer", "peer_id", l.peerID)
		return nil
	}

	if err := l.conn.SetRemoteDescription(desc); err != nil {
		return err
	}
	if !offer {
		return nil
	}

	answer, err := l.conn.CreateAnswer()
	if err != nil {
		return err
	}
	return l.send(l.peerID, SignalPayload{Description: &answer})
}

// HandleCandidate applies a remote ICE candidate. Candidates that belong to
// an offer this side is ignoring fail harmlessly; any other failure is real.
func (l *Link) HandleCandidate(candidate webrtc.ICECandidateInit) error {
	if err := l.conn.AddICECandidate(candidate); err != nil {
		l.mu.Lock()
		ignoring := l.ignoringOffer
		l.mu.Unlock()
		if ignoring {
			return nil
		}
		return err
	}
	return nil
}

// Handle dispatches one relayed payload to the description or candidate path.
func (l *Link) Handle(payload SignalPayload) error {
	if payload.Description != nil {
		return l.HandleDescription(*payload.Description)
	}
	if payload.Candidate != nil {
		return l.HandleCandidate(*payload.Candidate)
	}
	return nil
}

func (l *Link) Close() error {
	return l.conn.Close()
}
