// Package signal is the client side of the websocket channel: it keeps the
// connection alive, decodes inbound envelopes onto a channel, and offers
// typed helpers for everything a participant can send.
package signal

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meshmeet/meshmeet/internal/signaling"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 256 * 1024
)

// Client is one connection to the signaling server.
type Client struct {
	conn      *websocket.Conn
	incoming  chan *signaling.Envelope
	outgoing  chan *signaling.Envelope
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the server's /ws endpoint. serverURL is the http(s) base
// address; the scheme is rewritten for websockets.
func Dial(serverURL string) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	c := &Client{
		conn:     conn,
		incoming: make(chan *signaling.Envelope, 16),
		outgoing: make(chan *signaling.Envelope, 16),
		done:     make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return c, nil
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var env signaling.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		c.incoming <- &env
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Incoming is the stream of decoded server messages. It closes when the
// connection drops.
func (c *Client) Incoming() <-chan *signaling.Envelope {
	return c.incoming
}

func (c *Client) send(typ, roomID, to string, payload any) error {
	env := &signaling.Envelope{Type: typ, RoomID: roomID, To: to}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		env.Data = data
	}
	select {
	case c.outgoing <- env:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed")
	}
}

func (c *Client) JoinRequest(roomID, name string) error {
	return c.send(signaling.TypeJoinRequest, roomID, "", signaling.JoinRequestPayload{Name: name})
}

func (c *Client) ApproveUser(roomID, userID string) error {
	return c.send(signaling.TypeApproveUser, roomID, "", signaling.UserTargetPayload{UserID: userID})
}

func (c *Client) RejectUser(roomID, userID string) error {
	return c.send(signaling.TypeRejectUser, roomID, "", signaling.UserTargetPayload{UserID: userID})
}

func (c *Client) Rename(roomID, name string) error {
	return c.send(signaling.TypeRename, roomID, "", signaling.RenamePayload{Name: name})
}

func (c *Client) TransferHost(roomID, newHostID string) error {
	return c.send(signaling.TypeTransferHost, roomID, "", signaling.TransferHostPayload{NewHostID: newHostID})
}

func (c *Client) MediaState(roomID string, mic, cam bool) error {
	return c.send(signaling.TypeMediaState, roomID, "", signaling.MediaStatePayload{Mic: mic, Cam: cam})
}

// Signal relays an opaque negotiation payload to one approved peer.
func (c *Client) Signal(roomID, to string, payload any) error {
	return c.send(signaling.TypeSignal, roomID, to, payload)
}

func (c *Client) ChatAll(roomID, msg string) error {
	return c.send(signaling.TypeChatAll, roomID, "", signaling.ChatPayload{Msg: msg})
}

func (c *Client) ChatDM(roomID, to, msg string) error {
	return c.send(signaling.TypeChatDM, roomID, to, signaling.ChatPayload{Msg: msg})
}

func (c *Client) LeaveRoom(roomID string) error {
	return c.send(signaling.TypeLeaveRoom, roomID, "", nil)
}

// Close shuts the connection down cleanly. Safe to call more than once
// and from any goroutine.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
