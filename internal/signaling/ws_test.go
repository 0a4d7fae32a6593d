package signaling

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/meshmeet/meshmeet/internal/rooms"
)

const wsTestTimeout = 5 * time.Second

func newWSTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s := newTestServer()
	router := gin.New()
	router.GET("/ws", s.HandleWebSocket)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, typ, roomID string, payload any) {
	t.Helper()
	env := Envelope{Type: typ, RoomID: roomID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		env.Data = data
	}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// readUntil consumes frames until one of the wanted type arrives. A read
// error before that is fatal; anything else on the wire is skipped.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) Envelope {
	t.Helper()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(wsTestTimeout))
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("connection failed while waiting for %s: %v", typ, err)
		}
		if env.Type == typ {
			return env
		}
	}
}

// A rejected participant must read the join-rejected frame off the wire
// before the server tears the connection down.
func TestRejectedGuestReceivesNoticeBeforeClose(t *testing.T) {
	srv := newWSTestServer(t)

	host := dialWS(t, srv)
	writeEnvelope(t, host, TypeJoinRequest, "r1", JoinRequestPayload{Name: "Alice"})
	readUntil(t, host, TypeJoinApproved)

	guest := dialWS(t, srv)
	writeEnvelope(t, guest, TypeJoinRequest, "r1", JoinRequestPayload{Name: "Bob"})
	readUntil(t, guest, TypeWaiting)

	upd := readUntil(t, host, TypeWaitingUpdate)
	var snap rooms.RoomSnapshot
	if err := json.Unmarshal(upd.Data, &snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Waiting) != 1 {
		t.Fatalf("unexpected waiting list %+v", snap.Waiting)
	}
	guestID := snap.Waiting[0].ID

	writeEnvelope(t, host, TypeRejectUser, "r1", UserTargetPayload{UserID: guestID})

	readUntil(t, guest, TypeJoinRejected)

	// After the notice the server closes the connection cleanly.
	_ = guest.SetReadDeadline(time.Now().Add(wsTestTimeout))
	var env Envelope
	err := guest.ReadJSON(&env)
	if err == nil {
		t.Fatalf("expected connection close after rejection, got %+v", env)
	}
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal closure, got %v", err)
	}
}
