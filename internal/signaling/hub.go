package signaling

import (
	"sync"

	"github.com/gorilla/websocket"
)

const sendBufferSize = 64

// Client is one websocket connection with its outbound queue. The queue is
// drained by writePump; TrySend never blocks the caller.
type Client struct {
	ID   string
	conn *websocket.Conn

	send      chan []byte
	closeOnce sync.Once
}

func NewClient(id string, conn *websocket.Conn) *Client {
	return &Client{
		ID:   id,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

// TrySend queues a payload for delivery. A full queue means the reader on
// the other side stalled; the message is dropped and false returned.
func (c *Client) TrySend(payload []byte) bool {
	defer func() {
		// Losing a race with closeSend turns the send into a drop.
		recover()
	}()
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// CloseConn tears down the underlying connection, which unblocks readPump.
func (c *Client) CloseConn() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// Hub tracks which connection belongs to which participant and which room
// each participant is attached to. It moves bytes only; membership decisions
// belong to the rooms registry.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
}

// Unregister drops the client from the table and every room, and closes its
// send queue so writePump terminates.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	for roomID, members := range h.rooms {
		delete(members, id)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()

	if ok {
		c.closeSend()
	}
}

func (h *Hub) JoinRoom(roomID, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[id]
	if !ok {
		return
	}
	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[roomID] = members
	}
	members[id] = c
}

func (h *Hub) LeaveRoom(roomID, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
}

// SendTo queues a payload for one participant. false means the participant
// is gone or its queue overflowed; overflowed connections are closed so the
// read loop runs the disconnect path.
func (h *Hub) SendTo(id string, payload []byte) bool {
	h.mu.Lock()
	c, ok := h.clients[id]
	h.mu.Unlock()

	if !ok {
		return false
	}
	if !c.TrySend(payload) {
		c.CloseConn()
		return false
	}
	return true
}

// Broadcast queues a payload for every participant attached to the room.
func (h *Hub) Broadcast(roomID string, payload []byte) {
	h.mu.Lock()
	members := make([]*Client, 0, len(h.rooms[roomID]))
	for _, c := range h.rooms[roomID] {
		members = append(members, c)
	}
	h.mu.Unlock()

	for _, c := range members {
		if !c.TrySend(payload) {
			c.CloseConn()
		}
	}
}

// Kick disconnects the participant after flushing its queue: the send
// channel is closed, writePump drains what is buffered (a just-queued
// join-rejected included) and then closes the connection. Cleanup happens
// on the read loop's way out, same as any other disconnect.
func (h *Hub) Kick(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	h.mu.Unlock()

	if ok {
		c.closeSend()
	}
}
