// Package supervisor owns the lifetime of the Telegram session: it connects,
// resumes a stored login, serves the bridge while the connection lives and
// reconnects with exponential backoff when it drops.
package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/danhigham/telecharm-web/internal/auth"
	"github.com/danhigham/telecharm-web/internal/bridge"
	"github.com/danhigham/telecharm-web/internal/domain"
	"github.com/danhigham/telecharm-web/internal/relay"
	"github.com/danhigham/telecharm-web/internal/state"
	"github.com/danhigham/telecharm-web/internal/telegram"
)

type Options struct {
	Logger *zap.Logger

	// StatusTimeout bounds the resume check made on every connect.
	StatusTimeout time.Duration
	LogoutTimeout time.Duration

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.StatusTimeout <= 0 {
		o.StatusTimeout = 30 * time.Second
	}
	if o.LogoutTimeout <= 0 {
		o.LogoutTimeout = 30 * time.Second
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = time.Minute
	}
}

type Supervisor struct {
	runner telegram.Runner
	bridge *bridge.Bridge[telegram.Session]
	store  *state.Store
	relay  *relay.Relay
	auth   *auth.Machine
	log    *zap.Logger
	opts   Options

	connected atomic.Bool
}

func New(runner telegram.Runner, b *bridge.Bridge[telegram.Session], store *state.Store, rl *relay.Relay, am *auth.Machine, opts Options) *Supervisor {
	opts.setDefaults()
	return &Supervisor{
		runner: runner,
		bridge: b,
		store:  store,
		relay:  rl,
		auth:   am,
		log:    opts.Logger,
		opts:   opts,
	}
}

func (s *Supervisor) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.InitialBackoff
	bo.MaxInterval = s.opts.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// Run keeps a session alive until ctx is cancelled. Connection failures are
// recorded in the status store and retried; Run itself only returns once ctx
// is done.
func (s *Supervisor) Run(ctx context.Context) error {
	bo := s.newBackOff()

	for {
		s.connected.Store(false)
		err := s.runner.Run(ctx, s.session)
		if ctx.Err() != nil {
			s.relay.Deactivate()
			return nil
		}

		s.relay.Deactivate()
		s.store.Replace(domain.SessionStatus{})
		if s.connected.Load() {
			bo.Reset()
		}

		wait := bo.NextBackOff()
		if err != nil {
			s.log.Error("Session ended", zap.Error(err), zap.Duration("retry_in", wait))
		} else {
			s.log.Warn("Session closed", zap.Duration("retry_in", wait))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// session runs on the connected session's context: it resumes the stored
// login, then serves the bridge until the connection ends.
func (s *Supervisor) session(ctx context.Context, sess telegram.Session) error {
	s.connected.Store(true)
	s.start(ctx, sess)

	err := s.bridge.Serve(ctx, sess)
	if errors.Is(err, bridge.ErrAlreadyServing) {
		return err
	}
	return ctx.Err()
}

func (s *Supervisor) start(ctx context.Context, sess telegram.Session) {
	checkCtx, cancel := context.WithTimeout(ctx, s.opts.StatusTimeout)
	defer cancel()

	self, authorized, err := sess.Status(checkCtx)
	switch {
	case err != nil:
		s.log.Error("Session status check failed", zap.Error(err))
		s.store.Replace(domain.SessionStatus{})
	case authorized:
		s.log.Info("Resumed session", zap.Int64("user_id", self.ID))
		s.store.Replace(domain.AuthenticatedStatus(self))
		s.relay.Activate(ctx, sess, self.ID)
	default:
		s.log.Info("Connected, not signed in")
		s.store.Replace(domain.SessionStatus{Connected: true})
	}
}

// Logout signs the account out, stops the relay and clears the login state.
// Backend failures are logged and otherwise ignored.
func (s *Supervisor) Logout(ctx context.Context) {
	if s.bridge.Ready() && s.store.Authenticated() {
		_, err := bridge.Submit(ctx, s.bridge, "log_out", s.opts.LogoutTimeout, func(ctx context.Context, sess telegram.Session) (struct{}, error) {
			return struct{}{}, sess.LogOut(ctx)
		})
		if err != nil {
			s.log.Warn("Log out failed", zap.Error(err))
		}
	}

	s.relay.Deactivate()
	s.auth.Reset()
	s.store.Reset()
	s.log.Info("Logged out")
}
