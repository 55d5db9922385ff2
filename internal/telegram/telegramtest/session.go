// Package telegramtest provides an in-memory telegram.Session and
// telegram.Runner for tests.
package telegramtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/danhigham/telecharm-web/internal/domain"
	"github.com/danhigham/telecharm-web/internal/telegram"
)

var _ telegram.Session = (*Session)(nil)

// Sent records a SendText call.
type Sent struct {
	ChatID int64
	Text   string
}

// Session is a scripted telegram.Session. Configure the exported fields
// before handing it to the code under test; inspect results with the
// accessor methods.
type Session struct {
	// Account is the identity returned once signed in.
	Account domain.Self
	// Code is the login code SignIn accepts.
	Code string
	// TwoFactor makes SignIn demand a password.
	TwoFactor bool
	// CloudPassword is the password Password accepts.
	CloudPassword string

	DialogList []telegram.Dialog
	// Histories holds each chat's messages newest first.
	Histories  map[int64][]telegram.Message
	SearchHits []telegram.Message
	// Blobs holds media bytes keyed by Media.ID.
	Blobs map[int64][]byte
	// Photos holds profile photos keyed by chat ID.
	Photos map[int64][]byte

	mu         sync.Mutex
	authorized bool
	codeSeq    int
	failures   map[string]error
	calls      map[string]int
	sent       []Sent
	subscriber func(telegram.Incoming)
	subscribed chan struct{}
	hold       map[string]chan struct{}
}

func NewSession() *Session {
	return &Session{
		Code:       "12345",
		Histories:  make(map[int64][]telegram.Message),
		Blobs:      make(map[int64][]byte),
		Photos:     make(map[int64][]byte),
		failures:   make(map[string]error),
		calls:      make(map[string]int),
		subscribed: make(chan struct{}),
		hold:       make(map[string]chan struct{}),
	}
}

// Authorize marks the stored session as signed in as self.
func (s *Session) Authorize(self domain.Self) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Account = self
	s.authorized = true
}

func (s *Session) Authorized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authorized
}

// Fail makes every later call of op return err. A nil err clears it.
func (s *Session) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Hold blocks calls of op until the returned function is called.
func (s *Session) Hold(op string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.hold[op] = ch
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.hold, op)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Calls reports how many times op was invoked.
func (s *Session) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Session) SentMessages() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

// enter records a call of op, waits on any hold and returns the scripted
// failure, if any.
func (s *Session) enter(ctx context.Context, op string) error {
	s.mu.Lock()
	s.calls[op]++
	hold := s.hold[op]
	err := s.failures[op]
	s.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *Session) Status(ctx context.Context) (domain.Self, bool, error) {
	if err := s.enter(ctx, "status"); err != nil {
		return domain.Self{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.authorized {
		return domain.Self{}, false, nil
	}
	return s.Account, true, nil
}

func (s *Session) SendCode(ctx context.Context, phone string) (string, error) {
	if err := s.enter(ctx, "send_code"); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codeSeq++
	return fmt.Sprintf("hash-%d", s.codeSeq), nil
}

func (s *Session) SignIn(ctx context.Context, phone, code, codeHash string) (domain.Self, error) {
	if err := s.enter(ctx, "sign_in"); err != nil {
		return domain.Self{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if codeHash != fmt.Sprintf("hash-%d", s.codeSeq) || code != s.Code {
		return domain.Self{}, domain.ErrInvalidCode
	}
	if s.TwoFactor {
		return domain.Self{}, domain.ErrSecondFactorRequired
	}
	s.authorized = true
	self := s.Account
	if self.Phone == "" {
		self.Phone = phone
	}
	return self, nil
}

func (s *Session) Password(ctx context.Context, password string) (domain.Self, error) {
	if err := s.enter(ctx, "password"); err != nil {
		return domain.Self{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if password != s.CloudPassword {
		return domain.Self{}, domain.ErrInvalidPassword
	}
	s.authorized = true
	return s.Account, nil
}

func (s *Session) LogOut(ctx context.Context) error {
	if err := s.enter(ctx, "log_out"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized = false
	return nil
}

func (s *Session) Dialogs(ctx context.Context, limit int) ([]telegram.Dialog, error) {
	if err := s.enter(ctx, "dialogs"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.DialogList
	if len(out) > limit {
		out = out[:limit]
	}
	return append([]telegram.Dialog(nil), out...), nil
}

func (s *Session) History(ctx context.Context, chatID int64, limit, beforeID int) ([]telegram.Message, error) {
	if err := s.enter(ctx, "history"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs, ok := s.Histories[chatID]
	if !ok {
		return nil, telegram.ErrUnknownPeer
	}
	var out []telegram.Message
	for _, m := range msgs {
		if beforeID != 0 && m.ID >= beforeID {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Session) Search(ctx context.Context, query string, limit int) ([]telegram.Message, error) {
	if err := s.enter(ctx, "search"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.SearchHits
	if len(out) > limit {
		out = out[:limit]
	}
	return append([]telegram.Message(nil), out...), nil
}

func (s *Session) SendText(ctx context.Context, chatID int64, text string) error {
	if err := s.enter(ctx, "send_text"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, Sent{ChatID: chatID, Text: text})
	return nil
}

func (s *Session) Download(ctx context.Context, m *telegram.Media, max int64) ([]byte, error) {
	if err := s.enter(ctx, "download"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.Blobs[m.ID]
	if !ok {
		return nil, fmt.Errorf("no blob for media %d", m.ID)
	}
	if int64(len(b)) > max {
		return nil, telegram.ErrTooLarge
	}
	return b, nil
}

func (s *Session) ProfilePhoto(ctx context.Context, chatID int64, max int64) ([]byte, error) {
	if err := s.enter(ctx, "profile_photo"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.Photos[chatID]
	if !ok {
		return nil, telegram.ErrNoPhoto
	}
	if int64(len(b)) > max {
		return nil, telegram.ErrTooLarge
	}
	return b, nil
}

// Subscribe registers fn as the receiver of Push and blocks until ctx is
// done.
func (s *Session) Subscribe(ctx context.Context, selfID int64, fn func(telegram.Incoming)) error {
	if err := s.enter(ctx, "subscribe"); err != nil {
		return err
	}
	s.mu.Lock()
	s.subscriber = fn
	select {
	case <-s.subscribed:
	default:
		close(s.subscribed)
	}
	s.mu.Unlock()

	<-ctx.Done()

	s.mu.Lock()
	s.subscriber = nil
	s.mu.Unlock()
	return ctx.Err()
}

// Subscribed is closed once the first subscription is registered.
func (s *Session) Subscribed() <-chan struct{} {
	return s.subscribed
}

// Push delivers in to the current subscriber and reports whether one was
// registered.
func (s *Session) Push(in telegram.Incoming) bool {
	s.mu.Lock()
	fn := s.subscriber
	s.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(in)
	return true
}
