package signaling

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/meshmeet/meshmeet/internal/push"
	"github.com/meshmeet/meshmeet/internal/rooms"
)

func newTestServer() *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(rooms.NewRegistry(), push.NewNotifier(nil, logger), logger)
}

// connect registers a conn-less client; Dispatch and the hub work the same
// as with a live websocket, messages just pile up in the send queue.
func connect(s *Server, id string) *Client {
	c := NewClient(id, nil)
	s.hub.Register(c)
	return c
}

func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func send(s *Server, c *Client, typ, roomID, to string, payload any) {
	var data json.RawMessage
	if payload != nil {
		data, _ = json.Marshal(payload)
	}
	s.Dispatch(c, Envelope{Type: typ, RoomID: roomID, To: to, Data: data})
}

func drainEnvelopes(t *testing.T, c *Client) []Envelope {
	t.Helper()
	var out []Envelope
	for _, raw := range drain(c) {
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("malformed frame %q: %v", raw, err)
		}
		out = append(out, env)
	}
	return out
}

func envelopeOfType(envs []Envelope, typ string) (Envelope, bool) {
	for _, e := range envs {
		if e.Type == typ {
			return e, true
		}
	}
	return Envelope{}, false
}

func TestFirstJoinApprovedAsHost(t *testing.T) {
	s := newTestServer()
	host := connect(s, "h1")

	send(s, host, TypeJoinRequest, "r1", "", JoinRequestPayload{Name: "Alice"})

	envs := drainEnvelopes(t, host)
	approved, ok := envelopeOfType(envs, TypeJoinApproved)
	if !ok {
		t.Fatalf("host did not receive join-approved, got %+v", envs)
	}
	var ja JoinApprovedPayload
	if err := json.Unmarshal(approved.Data, &ja); err != nil {
		t.Fatal(err)
	}
	if !ja.Host || ja.MyID != "h1" || ja.RoomID != "r1" {
		t.Fatalf("unexpected join-approved payload %+v", ja)
	}
	if _, ok := envelopeOfType(envs, TypePeerList); !ok {
		t.Fatalf("host did not receive peer-list")
	}
	if _, ok := envelopeOfType(envs, TypeRoomState); !ok {
		t.Fatalf("host did not receive room snapshot")
	}
}

func TestSecondJoinWaitsAndHostSeesUpdate(t *testing.T) {
	s := newTestServer()
	host := connect(s, "h1")
	guest := connect(s, "g1")

	send(s, host, TypeJoinRequest, "r1", "", JoinRequestPayload{Name: "Alice"})
	drain(host)

	send(s, guest, TypeJoinRequest, "r1", "", JoinRequestPayload{Name: "Bob"})

	guestEnvs := drainEnvelopes(t, guest)
	if _, ok := envelopeOfType(guestEnvs, TypeWaiting); !ok {
		t.Fatalf("guest did not receive waiting, got %+v", guestEnvs)
	}
	if _, ok := envelopeOfType(guestEnvs, TypeJoinApproved); ok {
		t.Fatalf("guest must not be approved yet")
	}

	hostEnvs := drainEnvelopes(t, host)
	upd, ok := envelopeOfType(hostEnvs, TypeWaitingUpdate)
	if !ok {
		t.Fatalf("host did not receive waiting-update, got %+v", hostEnvs)
	}
	var snap rooms.RoomSnapshot
	if err := json.Unmarshal(upd.Data, &snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Waiting) != 1 || snap.Waiting[0].ID != "g1" {
		t.Fatalf("unexpected waiting list %+v", snap.Waiting)
	}
}

func TestApproveDeliversRosterToNewcomer(t *testing.T) {
	s := newTestServer()
	host := connect(s, "h1")
	guest := connect(s, "g1")

	send(s, host, TypeJoinRequest, "r1", "", JoinRequestPayload{Name: "Alice"})
	send(s, guest, TypeJoinRequest, "r1", "", JoinRequestPayload{Name: "Bob"})
	drain(host)
	drain(guest)

	send(s, host, TypeApproveUser, "r1", "", UserTargetPayload{UserID: "g1"})

	envs := drainEnvelopes(t, guest)
	approved, ok := envelopeOfType(envs, TypeJoinApproved)
	if !ok {
		t.Fatalf("guest did not receive join-approved, got %+v", envs)
	}
	var ja JoinApprovedPayload
	json.Unmarshal(approved.Data, &ja)
	if ja.Host || ja.MyID != "g1" {
		t.Fatalf("unexpected join-approved payload %+v", ja)
	}

	pl, ok := envelopeOfType(envs, TypePeerList)
	if !ok {
		t.Fatalf("guest did not receive peer-list")
	}
	var peers PeerListPayload
	json.Unmarshal(pl.Data, &peers)
	if len(peers.Peers) != 2 {
		t.Fatalf("expected 2 peers in roster, got %+v", peers.Peers)
	}

	hostEnvs := drainEnvelopes(t, host)
	if _, ok := envelopeOfType(hostEnvs, TypeRosterChanged); !ok {
		t.Fatalf("host did not receive roster-changed hint")
	}
}

func TestNonHostApproveIsSilent(t *testing.T) {
	s := newTestServer()
	host := connect(s, "h1")
	g1 := connect(s, "g1")
	g2 := connect(s, "g2")

	send(s, host, TypeJoinRequest, "r1", "", JoinRequestPayload{Name: "Alice"})
	send(s, g1, TypeJoinRequest, "r1", "", JoinRequestPayload{Name: "Bob"})
	send(s, g2, TypeJoinRequest, "r1", "", JoinRequestPayload{Name: "Cleo"})
	drain(host)
	drain(g1)
	drain(g2)

	send(s, g1, TypeApproveUser, "r1", "", UserTargetPayload{UserID: "g2"})

	if envs := drainEnvelopes(t, g2); len(envs) != 0 {
		t.Fatalf("waiting participant saw traffic after unauthorized approve: %+v", envs)
	}
	if envs := drainEnvelopes(t, g1); len(envs) != 0 {
		t.Fatalf("unauthorized caller received feedback: %+v", envs)
	}
}

func TestRejectNotifiesTarget(t *testing.T) {
	s := newTestServer()
	host := connect(s, "h1")
	guest := connect(s, "g1")

	send(s, host, TypeJoinRequest, "r1", "", JoinRequestPayload{Name: "Alice"})
	send(s, guest, TypeJoinRequest, "r1", "", JoinRequestPayload{Name: "Bob"})
	drain(guest)

	send(s, host, TypeRejectUser, "r1", "", UserTargetPayload{UserID: "g1"})

	envs := drainEnvelopes(t, guest)
	if _, ok := envelopeOfType(envs, TypeJoinRejected); !ok {
		t.Fatalf("rejected participant not told, got %+v", envs)
	}
}

func TestSignalRelayGatedOnBothEnds(t *testing.T) {
	s := newTestServer()
	host := connect(s, "h1")
	guest := connect(s, "g1")

	send(s, host, TypeJoinRequest, "r1", "", JoinRequestPayload{Name: "Alice"})
	send(s, guest, TypeJoinRequest, "r1", "", JoinRequestPayload{Name: "Bob"})
	drain(host)
	drain(guest)

	blob := json.RawMessage(`{"description":{"type":"offer","sdp":"v=0"}}`)

	// Waiting sender: dropped.
	s.Dispatch(guest, Envelope{Type: TypeSignal, RoomID: "r1", To: "h1", Data: blob})
	if envs := drainEnvelopes(t, host); len(envs) != 0 {
		t.Fatalf("signal from waiting participant leaked: %+v", envs)
	}

	// Waiting recipient: dropped.
	s.Dispatch(host, Envelope{Type: TypeSignal, RoomID: "r1", To: "g1", Data: blob})
	if envs := drainEnvelopes(t, guest); len(envs) != 0 {
		t.Fatalf("signal to waiting participant leaked: %+v", envs)
	}

	send(s, host, TypeApproveUser, "r1", "", UserTargetPayload{UserID: "g1"})
	drain(host)
	drain(guest)

	s.Dispatch(host, Envelope{Type: TypeSignal, RoomID: "r1", To: "g1", Data: blob})
	envs := drainEnvelopes(t, guest)
	sig, ok := envelopeOfType(envs, TypeSignal)
	if !ok {
		t.Fatalf("approved signal not relayed, got %+v", envs)
	}
	if sig.From != "h1" {
		t.Fatalf("relay must stamp sender id, got %q", sig.From)
	}
	if string(sig.Data) != string(blob) {
		t.Fatalf("relay must forward payload untouched, got %s", sig.Data)
	}
}

func TestChatDMEcho(t *testing.T) {
	s := newTestServer()
	host := connect(s, "h1")
	guest := connect(s, "g1")

	send(s, host, TypeJoinRequest, "r1", "", JoinRequestPayload{Name: "Alice"})
	send(s, guest, TypeJoinRequest, "r1", "", JoinRequestPayload{Name: "Bob"})
	send(s, host, TypeApproveUser, "r1", "", UserTargetPayload{UserID: "g1"})
	drain(host)
	drain(guest)

	send(s, host, TypeChatDM, "r1", "g1", ChatPayload{Msg: "hi"})

	guestEnvs := drainEnvelopes(t, guest)
	dm, ok := envelopeOfType(guestEnvs, TypeChatDM)
	if !ok {
		t.Fatalf("dm not delivered, got %+v", guestEnvs)
	}
	var body ChatPayload
	json.Unmarshal(dm.Data, &body)
	if body.Msg != "hi" || body.Name != "Alice" || body.Echo {
		t.Fatalf("unexpected dm payload %+v", body)
	}

	hostEnvs := drainEnvelopes(t, host)
	echo, ok := envelopeOfType(hostEnvs, TypeChatDM)
	if !ok {
		t.Fatalf("sender echo missing, got %+v", hostEnvs)
	}
	json.Unmarshal(echo.Data, &body)
	if !body.Echo || echo.To != "g1" {
		t.Fatalf("echo must carry echo flag and recipient, got %+v to=%q", body, echo.To)
	}
}

func TestMediaStateBroadcast(t *testing.T) {
	s := newTestServer()
	host := connect(s, "h1")
	guest := connect(s, "g1")

	send(s, host, TypeJoinRequest, "r1", "", JoinRequestPayload{Name: "Alice"})
	send(s, guest, TypeJoinRequest, "r1", "", JoinRequestPayload{Name: "Bob"})
	send(s, host, TypeApproveUser, "r1", "", UserTargetPayload{UserID: "g1"})
	drain(host)
	drain(guest)

	send(s, host, TypeMediaState, "r1", "", MediaStatePayload{Mic: true, Cam: false})

	envs := drainEnvelopes(t, guest)
	ms, ok := envelopeOfType(envs, TypeMediaState)
	if !ok {
		t.Fatalf("media-state not broadcast, got %+v", envs)
	}
	var body MediaStatePayload
	json.Unmarshal(ms.Data, &body)
	if body.ID != "h1" || !body.Mic || body.Cam {
		t.Fatalf("unexpected media-state payload %+v", body)
	}

	snapEnv, ok := envelopeOfType(envs, TypeRoomState)
	if !ok {
		t.Fatalf("media-state must be followed by a snapshot")
	}
	var snap rooms.RoomSnapshot
	json.Unmarshal(snapEnv.Data, &snap)
	if !snap.Approved[0].Mic {
		t.Fatalf("snapshot does not reflect media change: %+v", snap.Approved)
	}
}

func TestDisconnectRunsLeaveEverywhere(t *testing.T) {
	s := newTestServer()
	host := connect(s, "h1")
	guest := connect(s, "g1")

	send(s, host, TypeJoinRequest, "r1", "", JoinRequestPayload{Name: "Alice"})
	send(s, guest, TypeJoinRequest, "r1", "", JoinRequestPayload{Name: "Bob"})
	send(s, host, TypeApproveUser, "r1", "", UserTargetPayload{UserID: "g1"})
	drain(host)
	drain(guest)

	s.disconnect("h1")

	envs := drainEnvelopes(t, guest)
	left, ok := envelopeOfType(envs, TypeParticipantLeft)
	if !ok {
		t.Fatalf("participant-left not broadcast, got %+v", envs)
	}
	var body ParticipantLeftPayload
	json.Unmarshal(left.Data, &body)
	if body.ID != "h1" {
		t.Fatalf("unexpected participant-left payload %+v", body)
	}

	snapEnv, ok := envelopeOfType(envs, TypeRoomState)
	if !ok {
		t.Fatalf("departure must be followed by a snapshot")
	}
	var snap rooms.RoomSnapshot
	json.Unmarshal(snapEnv.Data, &snap)
	if snap.HostID != "g1" {
		t.Fatalf("host succession not reflected, snapshot %+v", snap)
	}

	sys, ok := envelopeOfType(envs, TypeSystem)
	if !ok {
		t.Fatalf("host change must be announced")
	}
	var sysBody SystemPayload
	json.Unmarshal(sys.Data, &sysBody)
	if sysBody.Msg != "Host changed automatically." {
		t.Fatalf("unexpected system message %q", sysBody.Msg)
	}
}

func TestLeaverStopsReceivingRoomTraffic(t *testing.T) {
	s := newTestServer()
	host := connect(s, "h1")
	guest := connect(s, "g1")

	send(s, host, TypeJoinRequest, "r1", "", JoinRequestPayload{Name: "Alice"})
	send(s, guest, TypeJoinRequest, "r1", "", JoinRequestPayload{Name: "Bob"})
	send(s, host, TypeApproveUser, "r1", "", UserTargetPayload{UserID: "g1"})
	drain(host)
	drain(guest)

	send(s, guest, TypeLeaveRoom, "r1", "", nil)

	if envs := drainEnvelopes(t, guest); len(envs) != 0 {
		t.Fatalf("leaver received room traffic after leaving: %+v", envs)
	}

	hostEnvs := drainEnvelopes(t, host)
	if _, ok := envelopeOfType(hostEnvs, TypeParticipantLeft); !ok {
		t.Fatalf("remaining participant not told about departure, got %+v", hostEnvs)
	}
	if _, ok := envelopeOfType(hostEnvs, TypeRoomState); !ok {
		t.Fatalf("departure must be followed by a snapshot")
	}
}

func TestLastLeaveIsSilent(t *testing.T) {
	s := newTestServer()
	host := connect(s, "h1")

	send(s, host, TypeJoinRequest, "r1", "", JoinRequestPayload{Name: "Alice"})
	drain(host)

	send(s, host, TypeLeaveRoom, "r1", "", nil)

	// The room is gone; no snapshot of a deleted room goes out.
	for _, env := range drainEnvelopes(t, host) {
		if env.Type == TypeRoomState {
			t.Fatalf("snapshot broadcast for a deleted room")
		}
	}
}
