package mesh

import (
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/meshmeet/meshmeet/internal/rooms"
)

// ConnFactory builds the peer connection for one remote participant.
type ConnFactory func(peerID string, polite bool) (Conn, error)

// ReconcileStats reports what one reconciliation pass changed.
type ReconcileStats struct {
	Created int
	Removed int
}

// Synchronizer converges the set of peer links onto the approved roster:
// one link per approved participant other than self, nothing else. Links
// are created on snapshot arrival or on the first signal from a peer,
// whichever comes first.
type Synchronizer struct {
	selfID  string
	factory ConnFactory
	send    Sender
	logger  *slog.Logger

	mu    sync.Mutex
	links map[string]*Link
}

func NewSynchronizer(selfID string, factory ConnFactory, send Sender, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		selfID:  selfID,
		factory: factory,
		send:    send,
		logger:  logger,
		links:   make(map[string]*Link),
	}
}

// Reconcile drops links to peers no longer approved and creates links to
// new ones. Applying the same snapshot twice is a no-op; the result does
// not depend on the order snapshots arrive in.
func (s *Synchronizer) Reconcile(snap *rooms.RoomSnapshot) (ReconcileStats, error) {
	desired := make(map[string]bool, len(snap.Approved))
	for _, p := range snap.Approved {
		if p.ID != s.selfID {
			desired[p.ID] = true
		}
	}

	s.mu.Lock()
	var stale []*Link
	for peerID, link := range s.links {
		if !desired[peerID] {
			delete(s.links, peerID)
			stale = append(stale, link)
		}
	}
	s.mu.Unlock()

	var stats ReconcileStats
	for _, link := range stale {
		if err := link.Close(); err != nil {
			s.logger.Debug("link close failed", "peer_id", link.PeerID(), "error", err)
		}
		stats.Removed++
	}

	var firstErr error
	for peerID := range desired {
		_, created, err := s.ensureLink(peerID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if created {
			stats.Created++
		}
	}
	return stats, firstErr
}

// EnsureLink returns the link to the peer, building it if missing. Signals
// can outrun snapshots, so the receive path calls this too.
func (s *Synchronizer) EnsureLink(peerID string) (*Link, error) {
	link, _, err := s.ensureLink(peerID)
	return link, err
}

func (s *Synchronizer) ensureLink(peerID string) (*Link, bool, error) {
	s.mu.Lock()
	if link, ok := s.links[peerID]; ok {
		s.mu.Unlock()
		return link, false, nil
	}
	s.mu.Unlock()

	// The factory may block on media setup; build outside the lock and
	// discard the loser if two paths raced.
	conn, err := s.factory(peerID, Polite(s.selfID, peerID))
	if err != nil {
		return nil, false, err
	}
	link := NewLink(s.selfID, peerID, conn, s.send, s.logger)

	s.mu.Lock()
	if existing, ok := s.links[peerID]; ok {
		s.mu.Unlock()
		conn.Close()
		return existing, false, nil
	}
	s.links[peerID] = link
	s.mu.Unlock()

	conn.OnNegotiationNeeded(func() {
		if err := link.Negotiate(); err != nil {
			s.logger.Warn("negotiation failed", "peer_id", peerID, "error", err)
		}
	})
	conn.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		if err := s.send(peerID, SignalPayload{Candidate: &candidate}); err != nil {
			s.logger.Debug("candidate send failed", "peer_id", peerID, "error", err)
		}
	})

	s.logger.Debug("peer link created", "peer_id", peerID, "polite", link.Polite())
	return link, true, nil
}

// HandleSignal routes one relayed payload to its peer's link.
func (s *Synchronizer) HandleSignal(fromID string, payload SignalPayload) error {
	link, err := s.EnsureLink(fromID)
	if err != nil {
		return err
	}
	return link.Handle(payload)
}

// Link returns the existing link to a peer, if any.
func (s *Synchronizer) Link(peerID string) (*Link, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[peerID]
	return link, ok
}

// Peers lists the peers a link currently exists for.
func (s *Synchronizer) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.links))
	for id := range s.links {
		out = append(out, id)
	}
	return out
}

// Close tears down every link. Used on leave and on shutdown.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	links := s.links
	s.links = make(map[string]*Link)
	s.mu.Unlock()

	for _, link := range links {
		link.Close()
	}
}
