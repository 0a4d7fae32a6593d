// Package client runs a headless meeting participant: it joins a room over
// the signal channel, keeps the peer mesh converged on the roster, and
// publishes a silent audio track so every link carries media.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/meshmeet/meshmeet/internal/client/media"
	"github.com/meshmeet/meshmeet/internal/client/mesh"
	"github.com/meshmeet/meshmeet/internal/client/signal"
	"github.com/meshmeet/meshmeet/internal/rooms"
	"github.com/meshmeet/meshmeet/internal/signaling"
)

// Options configures one meeting session.
type Options struct {
	ServerURL string
	RoomID    string
	Name      string
	Mic       bool
	Cam       bool
	// AutoApprove lets a hosting client admit everyone who asks. Without it
	// a headless host would strand guests in the waiting room.
	AutoApprove bool
}

// Session is one participant's connection to one room.
type Session struct {
	opts   Options
	logger *slog.Logger

	client *signal.Client
	mesh   *mesh.Synchronizer
	source *media.Source

	selfID string
	host   bool
}

func NewSession(opts Options, logger *slog.Logger) *Session {
	return &Session{opts: opts, logger: logger}
}

// SelfID returns the server-assigned participant id, once approved.
func (s *Session) SelfID() string { return s.selfID }

// Host reports whether this participant currently believes it is the host.
func (s *Session) Host() bool { return s.host }

// Run joins the room and processes server messages until the context ends,
// the connection drops, or the join is rejected.
func (s *Session) Run(ctx context.Context) error {
	iceServers, err := FetchICEServers(ctx, s.opts.ServerURL)
	if err != nil {
		return fmt.Errorf("fetch ICE servers: %w", err)
	}

	source, err := media.NewSilentAudio()
	if err != nil {
		return fmt.Errorf("create audio source: %w", err)
	}
	s.source = source

	client, err := signal.Dial(s.opts.ServerURL)
	if err != nil {
		return fmt.Errorf("dial signaling server: %w", err)
	}
	s.client = client
	defer client.Close()

	if err := client.JoinRequest(s.opts.RoomID, s.opts.Name); err != nil {
		return fmt.Errorf("send join request: %w", err)
	}
	s.logger.Info("join requested", "room_id", s.opts.RoomID, "name", s.opts.Name)

	for {
		select {
		case <-ctx.Done():
			s.teardown()
			return ctx.Err()
		case env, ok := <-client.Incoming():
			if !ok {
				s.teardown()
				return fmt.Errorf("signaling connection lost")
			}
			if err := s.handle(env, iceServers); err != nil {
				s.teardown()
				return err
			}
		}
	}
}

func (s *Session) teardown() {
	if s.selfID != "" {
		s.client.LeaveRoom(s.opts.RoomID)
	}
	if s.mesh != nil {
		s.mesh.Close()
	}
	if s.source != nil {
		s.source.Stop()
	}
}

func (s *Session) handle(env *signaling.Envelope, iceServers []webrtc.ICEServer) error {
	switch env.Type {
	case signaling.TypeWaiting:
		s.logger.Info("waiting for host approval", "room_id", s.opts.RoomID)

	case signaling.TypeJoinRejected:
		return fmt.Errorf("join rejected by host")

	case signaling.TypeJoinApproved:
		var payload signaling.JoinApprovedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return err
		}
		s.selfID = payload.MyID
		s.host = payload.Host
		s.logger.Info("joined meeting", "participant_id", s.selfID, "host", s.host)

		s.mesh = mesh.NewSynchronizer(s.selfID, s.connFactory(iceServers), s.sendSignal, s.logger)
		s.source.Start()
		if err := s.client.MediaState(s.opts.RoomID, s.opts.Mic, s.opts.Cam); err != nil {
			return err
		}

	case signaling.TypeRoomState:
		var snap rooms.RoomSnapshot
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			return err
		}
		s.applySnapshot(&snap)

	case signaling.TypeWaitingUpdate:
		var snap rooms.RoomSnapshot
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			return err
		}
		s.approveWaiting(&snap)

	case signaling.TypeSignal:
		if s.mesh == nil {
			return nil
		}
		var payload mesh.SignalPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return err
		}
		if err := s.mesh.HandleSignal(env.From, payload); err != nil {
			s.logger.Warn("signal handling failed", "peer_id", env.From, "error", err)
		}

	case signaling.TypeSystem:
		var payload signaling.SystemPayload
		if err := json.Unmarshal(env.Data, &payload); err == nil {
			s.logger.Info("system message", "msg", payload.Msg)
		}

	case signaling.TypeChatAll, signaling.TypeChatDM:
		var payload signaling.ChatPayload
		if err := json.Unmarshal(env.Data, &payload); err == nil {
			s.logger.Info("chat", "kind", env.Type, "from", payload.Name, "msg", payload.Msg, "echo", payload.Echo)
		}

	case signaling.TypeParticipantLeft, signaling.TypeRosterChanged, signaling.TypeMediaState, signaling.TypePeerList:
		// Hints only; the room-state snapshot drives the mesh.
		s.logger.Debug("roster hint", "type", env.Type)
	}
	return nil
}

// applySnapshot converges the mesh and updates the host flag from the only
// authoritative source.
func (s *Session) applySnapshot(snap *rooms.RoomSnapshot) {
	if s.mesh == nil || s.selfID == "" {
		return
	}
	s.host = snap.HostID == s.selfID

	approved := false
	for _, p := range snap.Approved {
		if p.ID == s.selfID {
			approved = true
			break
		}
	}
	if !approved {
		return
	}

	stats, err := s.mesh.Reconcile(snap)
	if err != nil {
		s.logger.Warn("mesh reconcile incomplete", "error", err)
	}
	if stats.Created > 0 || stats.Removed > 0 {
		s.logger.Info("mesh updated", "created", stats.Created, "removed", stats.Removed, "peers", len(s.mesh.Peers()))
	}

	s.approveWaiting(snap)
}

func (s *Session) approveWaiting(snap *rooms.RoomSnapshot) {
	if !s.opts.AutoApprove || !s.host {
		return
	}
	for _, w := range snap.Waiting {
		s.logger.Info("auto-approving", "participant_id", w.ID, "name", w.Name)
		if err := s.client.ApproveUser(s.opts.RoomID, w.ID); err != nil {
			s.logger.Warn("approve failed", "participant_id", w.ID, "error", err)
		}
	}
}

func (s *Session) sendSignal(peerID string, payload mesh.SignalPayload) error {
	return s.client.Signal(s.opts.RoomID, peerID, payload)
}

func (s *Session) connFactory(iceServers []webrtc.ICEServer) mesh.ConnFactory {
	return func(peerID string, polite bool) (mesh.Conn, error) {
		conn, err := mesh.NewPionConn(iceServers, s.source.Tracks(), func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			s.logger.Info("remote track", "peer_id", peerID, "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		})
		if err != nil {
			return nil, err
		}
		conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
			s.logger.Info("peer connection state", "peer_id", peerID, "state", state.String())
		})
		return conn, nil
	}
}

type iceServerEntry struct {
	URLs       json.RawMessage `json:"urls"`
	Username   string          `json:"username"`
	Credential string          `json:"credential"`
}

// FetchICEServers pulls the STUN/TURN list from the server's REST surface.
func FetchICEServers(ctx context.Context, serverURL string) ([]webrtc.ICEServer, error) {
	url := strings.TrimRight(serverURL, "/") + "/api/turn-config"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("turn-config returned %d", resp.StatusCode)
	}

	var body struct {
		ICEServers []iceServerEntry `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(body.ICEServers))
	for _, entry := range body.ICEServers {
		server := webrtc.ICEServer{Username: entry.Username, Credential: entry.Credential}

		// "urls" is either a string or a list of strings.
		var single string
		var many []string
		if err := json.Unmarshal(entry.URLs, &single); err == nil {
			server.URLs = []string{single}
		} else if err := json.Unmarshal(entry.URLs, &many); err == nil {
			server.URLs = many
		} else {
			continue
		}
		out = append(out, server)
	}
	return out, nil
}
