package telegramtest

import (
	"context"
	"sync"

	"github.com/danhigham/telecharm-web/internal/telegram"
)

// Runner hands the same Session to every Run. Failures queued with
// FailNext make the next connection attempts fail before fn is called.
type Runner struct {
	Session *Session

	mu       sync.Mutex
	runs     int
	failures []error
	started  chan struct{}
}

func NewRunner(s *Session) *Runner {
	return &Runner{Session: s, started: make(chan struct{}, 16)}
}

// FailNext makes the next connection attempt return err.
func (r *Runner) FailNext(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
}

func (r *Runner) Runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

// Started receives a value each time fn is entered.
func (r *Runner) Started() <-chan struct{} {
	return r.started
}

func (r *Runner) Run(ctx context.Context, fn func(ctx context.Context, s telegram.Session) error) error {
	r.mu.Lock()
	r.runs++
	var err error
	if len(r.failures) > 0 {
		err, r.failures = r.failures[0], r.failures[1:]
	}
	r.mu.Unlock()
	if err != nil {
		return err
	}

	select {
	case r.started <- struct{}{}:
	default:
	}
	return fn(ctx, r.Session)
}
