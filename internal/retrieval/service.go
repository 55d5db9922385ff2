// Package retrieval reads dialogs, messages, search results and profile
// photos from the session and projects them into bounded domain records.
package retrieval

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"github.com/danhigham/telecharm-web/internal/bridge"
	"github.com/danhigham/telecharm-web/internal/domain"
	"github.com/danhigham/telecharm-web/internal/state"
	"github.com/danhigham/telecharm-web/internal/telegram"
)

const (
	DefaultDialogLimit  = 100
	DefaultMessageLimit = 50
	DefaultSearchLimit  = 50

	SentMessage = "Message sent successfully"
)

type Options struct {
	Logger *zap.Logger

	DefaultTimeout  time.Duration
	MessagesTimeout time.Duration
	SearchTimeout   time.Duration
	PhotoTimeout    time.Duration

	// MaxInlineBytes caps photos and images inlined into messages.
	MaxInlineBytes int64
	// MaxPhotoBytes caps profile photos.
	MaxPhotoBytes int64
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 30 * time.Second
	}
	if o.MessagesTimeout <= 0 {
		o.MessagesTimeout = 120 * time.Second
	}
	if o.SearchTimeout <= 0 {
		o.SearchTimeout = 60 * time.Second
	}
	if o.PhotoTimeout <= 0 {
		o.PhotoTimeout = 30 * time.Second
	}
	if o.MaxInlineBytes <= 0 {
		o.MaxInlineBytes = 5 << 20
	}
	if o.MaxPhotoBytes <= 0 {
		o.MaxPhotoBytes = 2 << 20
	}
}

// Service runs read and send operations through the bridge. Every method
// requires an authenticated session.
type Service struct {
	bridge *bridge.Bridge[telegram.Session]
	store  *state.Store
	opts   Options
	log    *zap.Logger
	md     goldmark.Markdown
}

func New(b *bridge.Bridge[telegram.Session], store *state.Store, opts Options) *Service {
	opts.setDefaults()
	return &Service{
		bridge: b,
		store:  store,
		opts:   opts,
		log:    opts.Logger,
		md:     newMarkdown(),
	}
}

func (s *Service) requireAuth() error {
	if !s.store.Authenticated() {
		return domain.ErrNotAuthenticated
	}
	return nil
}

// ListDialogs returns up to limit dialogs in the backend's order.
func (s *Service) ListDialogs(ctx context.Context, limit int) ([]domain.Dialog, error) {
	if err := s.requireAuth(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultDialogLimit
	}

	native, err := bridge.Submit(ctx, s.bridge, "dialogs", s.opts.DefaultTimeout, func(ctx context.Context, sess telegram.Session) ([]telegram.Dialog, error) {
		return sess.Dialogs(ctx, limit)
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.Dialog, 0, len(native))
	for _, d := range native {
		out = append(out, projectDialog(d))
	}
	s.log.Info("Loaded dialogs", zap.Int("count", len(out)))
	return out, nil
}

func projectDialog(d telegram.Dialog) domain.Dialog {
	preview := domain.NoMessagesPlaceholder
	if d.HasLast {
		preview = d.LastText
		if preview == "" {
			preview = domain.MediaPlaceholder
		}
		preview = domain.Ellipsize(preview, domain.PreviewMaxRunes)
	}
	return domain.Dialog{
		ID:           d.ChatID,
		Name:         domain.ChatName(d.Entity),
		UnreadCount:  d.UnreadCount,
		Preview:      preview,
		LastActivity: d.LastDate,
		Kind:         d.Kind,
	}
}

// ListMessages returns up to limit messages older than beforeID (0 for the
// latest), oldest first, with photos and images inlined.
func (s *Service) ListMessages(ctx context.Context, chatID int64, limit, beforeID int) ([]domain.Message, error) {
	if err := s.requireAuth(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultMessageLimit
	}

	msgs, err := bridge.Submit(ctx, s.bridge, "messages", s.opts.MessagesTimeout, func(ctx context.Context, sess telegram.Session) ([]domain.Message, error) {
		native, err := sess.History(ctx, chatID, limit, beforeID)
		if err != nil {
			return nil, err
		}

		out := make([]domain.Message, 0, len(native))
		for i := range native {
			m := &native[i]
			if m.Text == "" && m.Media == nil {
				continue
			}
			out = append(out, s.projectMessage(ctx, sess, m))
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	s.log.Info("Loaded messages", zap.Int64("chat_id", chatID), zap.Int("count", len(msgs)))
	return msgs, nil
}

func (s *Service) projectMessage(ctx context.Context, sess telegram.Session, m *telegram.Message) domain.Message {
	text := m.Text
	if text == "" {
		text = domain.MediaPlaceholder
	}
	return domain.Message{
		ID:         m.ID,
		Text:       text,
		HTML:       renderHTML(s.md, m.Markdown),
		SenderName: domain.SenderName(m.Sender, m.SenderID),
		Timestamp:  m.Date,
		Outgoing:   m.Out,
		Media:      s.resolveMedia(ctx, sess, m.Media),
	}
}

// SendMessage sends text to chatID after trimming surrounding whitespace.
func (s *Service) SendMessage(ctx context.Context, chatID int64, text string) (string, error) {
	if err := s.requireAuth(); err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.ErrEmptyMessage
	}

	_, err := bridge.Submit(ctx, s.bridge, "send_message", s.opts.DefaultTimeout, func(ctx context.Context, sess telegram.Session) (struct{}, error) {
		return struct{}{}, sess.SendText(ctx, chatID, text)
	})
	if err != nil {
		return "", err
	}
	s.log.Info("Message sent", zap.Int64("chat_id", chatID))
	return SentMessage, nil
}

// Search runs a global message search. Hits without text are skipped.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	if err := s.requireAuth(); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.ErrEmptyQuery
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	native, err := bridge.Submit(ctx, s.bridge, "search", s.opts.SearchTimeout, func(ctx context.Context, sess telegram.Session) ([]telegram.Message, error) {
		return sess.Search(ctx, query, limit)
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.SearchResult, 0, len(native))
	for _, m := range native {
		if m.Text == "" {
			continue
		}
		out = append(out, domain.SearchResult{
			Text:       domain.Truncate(m.Text, domain.SearchTextMaxRunes),
			ChatName:   domain.ChatName(m.Chat),
			SenderName: domain.SenderName(m.Sender, m.SenderID),
			Timestamp:  m.Date,
			ChatID:     m.ChatID,
		})
	}
	s.log.Info("Search finished", zap.Int("results", len(out)))
	return out, nil
}

// ProfilePhoto returns the chat's profile photo as a data URI. ok is false
// when the chat has no photo or it exceeds the photo cap.
func (s *Service) ProfilePhoto(ctx context.Context, chatID int64) (uri string, ok bool, err error) {
	if err := s.requireAuth(); err != nil {
		return "", false, err
	}

	data, err := bridge.Submit(ctx, s.bridge, "profile_photo", s.opts.PhotoTimeout, func(ctx context.Context, sess telegram.Session) ([]byte, error) {
		return sess.ProfilePhoto(ctx, chatID, s.opts.MaxPhotoBytes)
	})
	switch {
	case errors.Is(err, telegram.ErrNoPhoto):
		return "", false, nil
	case errors.Is(err, telegram.ErrTooLarge):
		s.log.Warn("Profile photo over cap", zap.Int64("chat_id", chatID))
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	return dataURI("image/jpeg", data), true, nil
}
