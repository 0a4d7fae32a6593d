package mesh

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// PionConn adapts a pion PeerConnection to the Conn interface. It folds the
// set-local-description step into offer and answer creation and performs
// the implicit rollback a polite peer needs when accepting a colliding
// offer on top of its own.
type PionConn struct {
	pc *webrtc.PeerConnection
}

// NewPionConn builds a peer connection with the given ICE servers and
// attaches the local tracks. onTrack fires for each inbound remote track.
func NewPionConn(iceServers []webrtc.ICEServer, tracks []webrtc.TrackLocal, onTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) (*PionConn, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	for _, track := range tracks {
		if _, err := pc.AddTrack(track); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add track: %w", err)
		}
	}
	if onTrack != nil {
		pc.OnTrack(onTrack)
	}

	return &PionConn{pc: pc}, nil
}

func (c *PionConn) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return *c.pc.LocalDescription(), nil
}

func (c *PionConn) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return *c.pc.LocalDescription(), nil
}

func (c *PionConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	// A polite peer accepting a colliding offer still holds its own local
	// offer; roll it back first.
	if desc.Type == webrtc.SDPTypeOffer && c.pc.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		rollback := webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}
		if err := c.pc.SetLocalDescription(rollback); err != nil {
			return fmt.Errorf("rollback local offer: %w", err)
		}
	}
	return c.pc.SetRemoteDescription(desc)
}

func (c *PionConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

func (c *PionConn) SignalingStable() bool {
	return c.pc.SignalingState() == webrtc.SignalingStateStable
}

func (c *PionConn) OnNegotiationNeeded(f func()) {
	c.pc.OnNegotiationNeeded(f)
}

func (c *PionConn) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		// nil marks the end of gathering; nothing to relay.
		if candidate == nil {
			return
		}
		f(candidate.ToJSON())
	})
}

// OnConnectionStateChange exposes connection state transitions for logging.
func (c *PionConn) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(f)
}

func (c *PionConn) Close() error {
	return c.pc.Close()
}
