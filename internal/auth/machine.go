// Package auth drives the phone-code login of the Telegram session:
// Unauthenticated → CodeRequested → (PasswordRequired) → Authenticated.
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/danhigham/telecharm-web/internal/bridge"
	"github.com/danhigham/telecharm-web/internal/domain"
	"github.com/danhigham/telecharm-web/internal/state"
	"github.com/danhigham/telecharm-web/internal/telegram"
)

// Activator starts the real-time relay for a freshly authenticated session.
type Activator interface {
	Activate(ctx context.Context, s telegram.Session, selfID int64)
}

type pendingLogin struct {
	phone    string
	codeHash string
}

// Machine serializes login steps. Transitions are applied on the session
// context by the bridged operation itself, so a step that outlives its
// caller's timeout still takes effect.
type Machine struct {
	bridge    *bridge.Bridge[telegram.Session]
	store     *state.Store
	activator Activator
	log       *zap.Logger
	timeout   time.Duration

	seq sync.Mutex // one login step at a time

	mu      sync.Mutex
	state   domain.AuthState
	pending *pendingLogin
}

func New(b *bridge.Bridge[telegram.Session], store *state.Store, activator Activator, logger *zap.Logger, timeout time.Duration) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		bridge:    b,
		store:     store,
		activator: activator,
		log:       logger,
		timeout:   timeout,
	}
}

// State reports the login state. An authenticated status record always
// means Authenticated, including sessions resumed from storage.
func (m *Machine) State() domain.AuthState {
	if m.store.Authenticated() {
		return domain.AuthStateAuthenticated
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == domain.AuthStateAuthenticated {
		return domain.AuthStateUnauthenticated
	}
	return m.state
}

// Reset discards any login in progress.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = domain.AuthStateUnauthenticated
	m.pending = nil
}

func (m *Machine) transition(st domain.AuthState, pending *pendingLogin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = st
	m.pending = pending
}

func (m *Machine) snapshot() (domain.AuthState, *pendingLogin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.pending
}

// RequestCode asks Telegram to send a login code to phone. A new request
// replaces any pending one.
func (m *Machine) RequestCode(ctx context.Context, phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return &domain.ValidationError{Field: "phone", Message: "Phone number is required"}
	}

	m.seq.Lock()
	defer m.seq.Unlock()

	switch m.State() {
	case domain.AuthStateAuthenticated, domain.AuthStatePasswordRequired:
		return domain.ErrInvalidState
	case domain.AuthStateUnauthenticated, domain.AuthStateCodeRequested:
	}

	_, err := bridge.Submit(ctx, m.bridge, "send_code", m.timeout, func(ctx context.Context, s telegram.Session) (struct{}, error) {
		hash, err := s.SendCode(ctx, phone)
		switch {
		case err == nil:
			m.transition(domain.AuthStateCodeRequested, &pendingLogin{phone: phone, codeHash: hash})
		case errors.Is(err, domain.ErrInvalidPhone):
			m.transition(domain.AuthStateUnauthenticated, nil)
		}
		return struct{}{}, err
	})
	if err != nil {
		m.log.Info("Send code failed", zap.Error(err))
		return err
	}

	m.log.Info("Login code sent")
	return nil
}

// Verify completes the login with either the code or, when the account has
// two-step verification enabled, the cloud password.
func (m *Machine) Verify(ctx context.Context, code, password string) error {
	code = strings.TrimSpace(code)

	m.seq.Lock()
	defer m.seq.Unlock()

	st, pending := m.snapshot()
	if pending == nil {
		return domain.ErrPhoneNotSet
	}
	switch {
	case code == "" && password == "":
		return domain.ErrMissingCredential
	case code != "" && password != "":
		return &domain.ValidationError{Field: "code", Message: "Send either code or password, not both"}
	}

	name, op := "sign_in", func(ctx context.Context, s telegram.Session) (domain.Self, error) {
		return s.SignIn(ctx, pending.phone, code, pending.codeHash)
	}
	if password != "" {
		name, op = "check_password", func(ctx context.Context, s telegram.Session) (domain.Self, error) {
			return s.Password(ctx, password)
		}
	}

	self, err := bridge.Submit(ctx, m.bridge, name, m.timeout, func(ctx context.Context, s telegram.Session) (domain.Self, error) {
		self, err := op(ctx, s)
		switch {
		case err == nil:
			m.complete(ctx, s, self, pending.phone)
		case errors.Is(err, domain.ErrSecondFactorRequired):
			m.transition(domain.AuthStatePasswordRequired, pending)
		case errors.Is(err, domain.ErrCodeExpired):
			m.transition(domain.AuthStateUnauthenticated, nil)
		}
		return self, err
	})
	if err != nil {
		m.log.Info("Verification failed", zap.String("state", st.String()), zap.Error(err))
		return err
	}

	m.log.Info("Signed in", zap.Int64("user_id", self.ID))
	return nil
}

// complete records the signed-in identity and starts the relay. It runs on
// the session context.
func (m *Machine) complete(ctx context.Context, s telegram.Session, self domain.Self, phone string) {
	if self.Phone == "" {
		self.Phone = phone
	}
	m.transition(domain.AuthStateAuthenticated, nil)
	m.store.Replace(domain.AuthenticatedStatus(self))
	if m.activator != nil {
		m.activator.Activate(ctx, s, self.ID)
	}
}
