package signaling

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/meshmeet/meshmeet/internal/push"
	"github.com/meshmeet/meshmeet/internal/rooms"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 70 * time.Second
	wsPingPeriod     = 30 * time.Second
	wsMaxMessageSize = 256 * 1024
)

// Server is the websocket side of the meeting service: it accepts
// connections, dispatches control messages into the rooms registry, relays
// negotiation payloads between approved participants, and broadcasts a
// fresh room snapshot after every state change.
type Server struct {
	registry *rooms.Registry
	hub      *Hub
	notifier *push.Notifier
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewServer(registry *rooms.Registry, notifier *push.Notifier, logger *slog.Logger) *Server {
	return &Server{
		registry: registry,
		hub:      NewHub(),
		notifier: notifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Hub exposes the connection table, mostly for tests.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) HandleWebSocket(c *gin.Context) {
	id, err := gonanoid.New()
	if err != nil {
		s.logger.Error("session id generation failed", "error", err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err, "ip", c.ClientIP())
		return
	}

	client := NewClient(id, conn)
	s.hub.Register(client)
	s.logger.Debug("ws connected", "participant_id", id, "ip", c.ClientIP())

	go s.writePump(client)
	s.readPump(client)
}

func (s *Server) readPump(client *Client) {
	defer func() {
		client.CloseConn()
		s.disconnect(client.ID)
	}()

	client.conn.SetReadLimit(wsMaxMessageSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			s.logger.Debug("ws read error", "participant_id", client.ID, "error", err)
			return
		}

		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			s.logger.Debug("ws bad json", "participant_id", client.ID, "error", err)
			continue
		}

		// Negotiation payloads may carry SDP with addresses; log type and size only.
		s.logger.Debug("ws recv", "participant_id", client.ID, "type", env.Type, "room_id", env.RoomID, "data_bytes", len(env.Data))
		s.Dispatch(client, env)
	}
}

func (s *Server) writePump(client *Client) {
	defer client.CloseConn()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.send:
			if !ok {
				// Queue closed and fully drained; say goodbye before the
				// deferred close tears the connection down.
				_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Dispatch routes one decoded message. Unauthorized and malformed messages
// are dropped without feedback; the sender learns nothing about rooms it is
// not approved in.
func (s *Server) Dispatch(client *Client, env Envelope) {
	switch env.Type {
	case TypeJoinRequest:
		s.handleJoinRequest(client, env)
	case TypeApproveUser:
		s.handleApprove(client, env)
	case TypeRejectUser:
		s.handleReject(client, env)
	case TypeRename:
		s.handleRename(client, env)
	case TypeMediaState:
		s.handleMediaState(client, env)
	case TypeTransferHost:
		s.handleTransferHost(client, env)
	case TypeSignal:
		s.handleSignal(client, env)
	case TypeChatAll:
		s.handleChatAll(client, env)
	case TypeChatDM:
		s.handleChatDM(client, env)
	case TypeLeaveRoom:
		s.handleLeaveRoom(client, env)
	case TypePushSubscribe:
		s.handlePushSubscribe(client, env)
	default:
		s.logger.Debug("ws unknown type", "participant_id", client.ID, "type", env.Type)
	}
}

func (s *Server) handleJoinRequest(client *Client, env Envelope) {
	var req JoinRequestPayload
	if len(env.Data) > 0 {
		_ = json.Unmarshal(env.Data, &req)
	}
	roomID := strings.TrimSpace(env.RoomID)

	role, ok := s.registry.RequestJoin(roomID, client.ID, req.Name)
	if !ok {
		return
	}
	// Waiting participants join the fanout room too; they receive chat and
	// snapshots while queued, which is what lets their lobby screen update.
	s.hub.JoinRoom(roomID, client.ID)

	if role == rooms.RoleHost {
		s.sendTo(client.ID, TypeJoinApproved, roomID, "", JoinApprovedPayload{RoomID: roomID, MyID: client.ID, Host: true})
		name, _ := s.registry.ApprovedName(roomID, client.ID)
		s.systemMessage(roomID, name+" became host.")
		s.sendPeerList(roomID, client.ID)
		s.broadcastRoom(roomID)
		return
	}

	s.sendTo(client.ID, TypeWaiting, roomID, "", RoomRefPayload{RoomID: roomID})
	if hostID, ok := s.registry.HostID(roomID); ok {
		if snap, ok := s.registry.Snapshot(roomID); ok {
			s.sendTo(hostID, TypeWaitingUpdate, roomID, "", snap)
		}
		s.notifier.NotifyJoinRequest(hostID, roomID, req.Name)
	}
	s.broadcastRoom(roomID)
}

func (s *Server) handleApprove(client *Client, env Envelope) {
	var target UserTargetPayload
	if err := json.Unmarshal(env.Data, &target); err != nil {
		return
	}

	name, ok := s.registry.Approve(env.RoomID, client.ID, target.UserID)
	if !ok {
		return
	}

	s.sendTo(target.UserID, TypeJoinApproved, env.RoomID, "", JoinApprovedPayload{RoomID: env.RoomID, MyID: target.UserID, Host: false})
	s.sendPeerList(env.RoomID, target.UserID)
	s.systemMessage(env.RoomID, name+" joined the meeting.")
	s.broadcastRoom(env.RoomID)
	s.rosterChanged(env.RoomID)
}

func (s *Server) handleReject(client *Client, env Envelope) {
	var target UserTargetPayload
	if err := json.Unmarshal(env.Data, &target); err != nil {
		return
	}

	if !s.registry.Reject(env.RoomID, client.ID, target.UserID) {
		return
	}

	s.sendTo(target.UserID, TypeJoinRejected, env.RoomID, "", RoomRefPayload{RoomID: env.RoomID})
	s.hub.Kick(target.UserID)
	s.broadcastRoom(env.RoomID)
}

func (s *Server) handleRename(client *Client, env Envelope) {
	var req RenamePayload
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return
	}

	approvedChanged, ok := s.registry.Rename(env.RoomID, client.ID, req.Name)
	if !ok {
		return
	}
	s.broadcastRoom(env.RoomID)
	if approvedChanged {
		s.rosterChanged(env.RoomID)
	}
}

func (s *Server) handleMediaState(client *Client, env Envelope) {
	var req MediaStatePayload
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return
	}

	if !s.registry.SetMediaState(env.RoomID, client.ID, req.Mic, req.Cam) {
		return
	}

	payload, err := MarshalEnvelope(TypeMediaState, env.RoomID, "", "", MediaStatePayload{ID: client.ID, Mic: req.Mic, Cam: req.Cam})
	if err == nil {
		s.hub.Broadcast(env.RoomID, payload)
	}
	s.broadcastRoom(env.RoomID)
}

func (s *Server) handleTransferHost(client *Client, env Envelope) {
	var req TransferHostPayload
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return
	}

	if !s.registry.TransferHost(env.RoomID, client.ID, req.NewHostID) {
		return
	}
	s.systemMessage(env.RoomID, "Host transferred.")
	s.broadcastRoom(env.RoomID)
}

// handleSignal relays an opaque negotiation payload. Both endpoints must be
// approved members of the room at the moment of forwarding.
func (s *Server) handleSignal(client *Client, env Envelope) {
	if !s.registry.IsApproved(env.RoomID, client.ID) {
		return
	}
	if !s.registry.IsApproved(env.RoomID, env.To) {
		return
	}

	forward, err := json.Marshal(Envelope{Type: TypeSignal, RoomID: env.RoomID, From: client.ID, Data: env.Data})
	if err != nil {
		return
	}
	if !s.hub.SendTo(env.To, forward) {
		s.logger.Debug("signal not delivered", "room_id", env.RoomID, "from", client.ID, "to", env.To)
	}
}

func (s *Server) handleChatAll(client *Client, env Envelope) {
	var req ChatPayload
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return
	}

	name, ok := s.registry.ApprovedName(env.RoomID, client.ID)
	if !ok {
		return
	}

	payload, err := MarshalEnvelope(TypeChatAll, env.RoomID, "", client.ID, ChatPayload{Name: name, Msg: req.Msg})
	if err == nil {
		s.hub.Broadcast(env.RoomID, payload)
	}
}

func (s *Server) handleChatDM(client *Client, env Envelope) {
	var req ChatPayload
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return
	}

	name, ok := s.registry.ApprovedName(env.RoomID, client.ID)
	if !ok {
		return
	}
	if !s.registry.IsApproved(env.RoomID, env.To) {
		return
	}

	direct, err := MarshalEnvelope(TypeChatDM, env.RoomID, "", client.ID, ChatPayload{Name: name, Msg: req.Msg})
	if err != nil {
		return
	}
	s.hub.SendTo(env.To, direct)

	// Echo back to the sender so both transcripts agree.
	echo, err := MarshalEnvelope(TypeChatDM, env.RoomID, env.To, client.ID, ChatPayload{Name: name, Msg: req.Msg, Echo: true})
	if err == nil {
		s.hub.SendTo(client.ID, echo)
	}
}

func (s *Server) handleLeaveRoom(client *Client, env Envelope) {
	res, ok := s.registry.Leave(env.RoomID, client.ID)
	if !ok {
		return
	}
	// Detach from the fanout first so the departure traffic does not come
	// back to the participant who just left.
	s.hub.LeaveRoom(env.RoomID, client.ID)
	s.announceDeparture(env.RoomID, client.ID, res)
}

func (s *Server) handlePushSubscribe(client *Client, env Envelope) {
	if err := s.notifier.Subscribe(client.ID, env.Data); err != nil {
		s.logger.Debug("push subscribe rejected", "participant_id", client.ID, "error", err)
	}
}

// disconnect runs the dropped-connection path: the participant leaves every
// room exactly as if it had sent leave-room to each.
func (s *Server) disconnect(id string) {
	departures := s.registry.LeaveAll(id)
	for _, d := range departures {
		s.announceDeparture(d.RoomID, id, d.LeaveResult)
	}
	s.hub.Unregister(id)
	s.notifier.Forget(id)
	s.logger.Debug("ws disconnect", "participant_id", id, "rooms_left", len(departures))
}

func (s *Server) announceDeparture(roomID, id string, res rooms.LeaveResult) {
	if res.WasApproved {
		payload, err := MarshalEnvelope(TypeParticipantLeft, roomID, "", "", ParticipantLeftPayload{ID: id})
		if err == nil {
			s.hub.Broadcast(roomID, payload)
		}
	}
	if res.HostChanged && res.NewHostID != "" {
		s.systemMessage(roomID, "Host changed automatically.")
	}
	if !res.RoomDeleted {
		s.broadcastRoom(roomID)
		s.rosterChanged(roomID)
	}
}

// broadcastRoom pushes the authoritative snapshot to every connection in
// the room. Everything else the room emits is a hint; this is the truth.
func (s *Server) broadcastRoom(roomID string) {
	snap, ok := s.registry.Snapshot(roomID)
	if !ok {
		return
	}
	payload, err := MarshalEnvelope(TypeRoomState, roomID, "", "", snap)
	if err != nil {
		return
	}
	s.hub.Broadcast(roomID, payload)
}

func (s *Server) rosterChanged(roomID string) {
	payload, err := MarshalEnvelope(TypeRosterChanged, roomID, "", "", nil)
	if err != nil {
		return
	}
	s.hub.Broadcast(roomID, payload)
}

func (s *Server) systemMessage(roomID, msg string) {
	payload, err := MarshalEnvelope(TypeSystem, roomID, "", "", SystemPayload{Msg: msg})
	if err != nil {
		return
	}
	s.hub.Broadcast(roomID, payload)
}

func (s *Server) sendPeerList(roomID, to string) {
	snap, ok := s.registry.Snapshot(roomID)
	if !ok {
		return
	}
	s.sendTo(to, TypePeerList, roomID, "", PeerListPayload{Peers: snap.Approved})
}

func (s *Server) sendTo(id, typ, roomID, from string, payload any) {
	msg, err := MarshalEnvelope(typ, roomID, "", from, payload)
	if err != nil {
		return
	}
	s.hub.SendTo(id, msg)
}
