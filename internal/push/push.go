// Package push delivers web-push notifications to hosts whose rooms have
// someone waiting for approval. Subscriptions live only as long as the
// participant's websocket session.
package push

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/meshmeet/meshmeet/internal/config"
)

const notificationTTL = 60

// Notifier holds per-session push subscriptions keyed by participant id.
// With no VAPID keys configured every method is a no-op; the meeting flow
// never depends on push being available.
type Notifier struct {
	keys   *config.VAPIDKeys
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]*webpush.Subscription
}

func NewNotifier(keys *config.VAPIDKeys, logger *slog.Logger) *Notifier {
	return &Notifier{
		keys:   keys,
		logger: logger,
		subs:   make(map[string]*webpush.Subscription),
	}
}

// Enabled reports whether a VAPID key pair is configured.
func (n *Notifier) Enabled() bool {
	return n.keys != nil
}

// PublicKey returns the VAPID public key clients subscribe with.
func (n *Notifier) PublicKey() string {
	if n.keys == nil {
		return ""
	}
	return n.keys.PublicKey
}

// Subscribe records the participant's push subscription, replacing any
// previous one for the same session.
func (n *Notifier) Subscribe(participantID string, raw json.RawMessage) error {
	if !n.Enabled() {
		return errors.New("push disabled: no VAPID keys")
	}

	var sub webpush.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return err
	}
	if sub.Endpoint == "" {
		return errors.New("subscription missing endpoint")
	}

	n.mu.Lock()
	n.subs[participantID] = &sub
	n.mu.Unlock()

	n.logger.Debug("push subscription stored", "participant_id", participantID)
	return nil
}

// Forget drops the participant's subscription. Called on disconnect.
func (n *Notifier) Forget(participantID string) {
	n.mu.Lock()
	delete(n.subs, participantID)
	n.mu.Unlock()
}

type joinRequestNotification struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	RoomID string `json:"roomId"`
}

// NotifyJoinRequest tells the host that someone is waiting. Delivery is
// fire-and-forget on a separate goroutine; the signaling path never blocks
// on a push endpoint.
func (n *Notifier) NotifyJoinRequest(hostID, roomID, requesterName string) {
	if !n.Enabled() {
		return
	}

	n.mu.Lock()
	sub := n.subs[hostID]
	n.mu.Unlock()
	if sub == nil {
		return
	}

	body, err := json.Marshal(joinRequestNotification{
		Title:  "Join request",
		Body:   requesterName + " is waiting to join your meeting",
		RoomID: roomID,
	})
	if err != nil {
		return
	}

	go func() {
		resp, err := webpush.SendNotification(body, sub, &webpush.Options{
			Subscriber:      n.keys.Subject,
			VAPIDPublicKey:  n.keys.PublicKey,
			VAPIDPrivateKey: n.keys.PrivateKey,
			TTL:             notificationTTL,
		})
		if err != nil {
			n.logger.Warn("push delivery failed", "host_id", hostID, "error", err)
			return
		}
		resp.Body.Close()
		if resp.StatusCode == 404 || resp.StatusCode == 410 {
			// Endpoint expired; drop the subscription.
			n.Forget(hostID)
		}
	}()
}
