package signaling

import (
	"encoding/json"

	"github.com/meshmeet/meshmeet/internal/rooms"
)

// Message types, client → server.
const (
	TypeJoinRequest   = "join-request"
	TypeApproveUser   = "approve-user"
	TypeRejectUser    = "reject-user"
	TypeRename        = "rename"
	TypeTransferHost  = "transfer-host"
	TypeLeaveRoom     = "leave-room"
	TypePushSubscribe = "push-subscribe"
)

// Message types used in both directions.
const (
	TypeMediaState = "media-state"
	TypeSignal     = "signal"
	TypeChatAll    = "chat-all"
	TypeChatDM     = "chat-dm"
)

// Message types, server → client.
const (
	TypeJoinApproved    = "join-approved"
	TypeWaiting         = "waiting"
	TypeJoinRejected    = "join-rejected"
	TypeRoomState       = "room-state"
	TypeWaitingUpdate   = "waiting-update"
	TypeParticipantLeft = "participant-left"
	TypeRosterChanged   = "roster-changed"
	TypeSystem          = "system"
	TypePeerList        = "peer-list"
)

// Envelope frames every websocket message. Data carries the per-type
// payload; for "signal" it is the opaque negotiation blob the relay
// forwards without parsing.
type Envelope struct {
	Type   string          `json:"type"`
	RoomID string          `json:"roomId,omitempty"`
	To     string          `json:"to,omitempty"`
	From   string          `json:"from,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type JoinRequestPayload struct {
	Name string `json:"name"`
}

type UserTargetPayload struct {
	UserID string `json:"userId"`
}

type RenamePayload struct {
	Name string `json:"name"`
}

type TransferHostPayload struct {
	NewHostID string `json:"newHostId"`
}

type MediaStatePayload struct {
	ID  string `json:"id,omitempty"`
	Mic bool   `json:"mic"`
	Cam bool   `json:"cam"`
}

type ChatPayload struct {
	Name string `json:"name,omitempty"`
	Msg  string `json:"msg"`
	Echo bool   `json:"echo,omitempty"`
}

type JoinApprovedPayload struct {
	RoomID string `json:"roomId"`
	MyID   string `json:"myId"`
	Host   bool   `json:"host"`
}

type RoomRefPayload struct {
	RoomID string `json:"roomId"`
}

type SystemPayload struct {
	Msg string `json:"msg"`
}

type ParticipantLeftPayload struct {
	ID string `json:"id"`
}

type PeerListPayload struct {
	Peers []rooms.ApprovedEntry `json:"peers"`
}

// MarshalEnvelope builds a wire frame with the payload marshaled into Data.
// A nil payload produces a data-less frame (hints like roster-changed).
func MarshalEnvelope(typ, roomID, to, from string, payload any) ([]byte, error) {
	env := Envelope{Type: typ, RoomID: roomID, To: to, From: from}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Data = data
	}
	return json.Marshal(env)
}
