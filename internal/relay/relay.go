// Package relay pushes session events to connected observers: new
// messages from the Telegram update stream and session status changes.
package relay

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/danhigham/telecharm-web/internal/domain"
	"github.com/danhigham/telecharm-web/internal/state"
	"github.com/danhigham/telecharm-web/internal/telegram"
)

const (
	EventStatus     = "status"
	EventNewMessage = "new_message"
)

// NotificationPayload is the JSON body of a new_message event.
type NotificationPayload struct {
	ChatName   string `json:"chat_name"`
	SenderName string `json:"sender_name"`
	Message    string `json:"message"`
	Timestamp  string `json:"timestamp"`
	ChatID     int64  `json:"chat_id"`
}

// Relay binds the session's update stream to the hub.
type Relay struct {
	hub   *Hub
	store *state.Store
	log   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	gen    int
}

func New(hub *Hub, store *state.Store, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{hub: hub, store: store, log: logger}
}

// Activate starts the session's update subscription unless one is already
// running. The subscription lives on ctx, the session context, and ends
// with it or with Deactivate.
func (r *Relay) Activate(ctx context.Context, s telegram.Session, selfID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	subCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.gen++
	gen := r.gen

	go func() {
		err := s.Subscribe(subCtx, selfID, r.HandleIncoming)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.log.Warn("update subscription ended", zap.Error(err))
		}

		r.mu.Lock()
		if r.gen == gen {
			r.cancel = nil
		}
		r.mu.Unlock()
		cancel()
	}()
	r.log.Info("update subscription started", zap.Int64("self_id", selfID))
}

// Deactivate stops the running subscription, if any.
func (r *Relay) Deactivate() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.gen++
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		r.log.Info("update subscription stopped")
	}
}

// Active reports whether a subscription is running.
func (r *Relay) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

// HandleIncoming publishes a new_message event for in. Messages arriving
// while the session is not authenticated are ignored.
func (r *Relay) HandleIncoming(in telegram.Incoming) {
	if !r.store.Authenticated() {
		return
	}
	n := Notify(in)
	r.hub.Publish(Event{
		Name: EventNewMessage,
		Data: NotificationPayload{
			ChatName:   n.ChatName,
			SenderName: n.SenderName,
			Message:    n.Text,
			Timestamp:  n.Time,
			ChatID:     n.ChatID,
		},
	})
}

// Notify projects an incoming message using only the entities delivered
// with it.
func Notify(in telegram.Incoming) domain.Notification {
	text := in.Text
	if text == "" {
		text = domain.MediaPlaceholder
	}
	return domain.Notification{
		ChatName:   domain.ChatName(in.Chat),
		SenderName: domain.SenderName(in.Sender, in.SenderID),
		Text:       text,
		Time:       in.Date.UTC().Format("15:04:05"),
		ChatID:     in.ChatID,
	}
}
