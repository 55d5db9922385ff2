package bridge_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/danhigham/telecharm-web/internal/bridge"
	"github.com/danhigham/telecharm-web/internal/metrics"
)

type session struct {
	name string
}

// serve starts b on a background goroutine and waits until it is ready.
func serve(t *testing.T, b *bridge.Bridge[*session], s *session) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if err := b.Serve(ctx, s); err != nil {
			t.Errorf("Serve() error: %v", err)
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !b.Ready() {
		if time.Now().After(deadline) {
			t.Fatal("bridge never became ready")
		}
		time.Sleep(time.Millisecond)
	}

	return func() {
		cancel()
		<-stopped
	}
}

func TestSubmit_NotReady(t *testing.T) {
	b := bridge.New[*session](bridge.Options{})

	_, err := bridge.Submit(context.Background(), b, "noop", time.Second,
		func(ctx context.Context, s *session) (int, error) { return 1, nil })
	if !errors.Is(err, bridge.ErrNotReady) {
		t.Errorf("err = %v, want ErrNotReady", err)
	}
}

func TestSubmit_RunsOnSession(t *testing.T) {
	b := bridge.New[*session](bridge.Options{})
	stop := serve(t, b, &session{name: "main"})
	defer stop()

	got, err := bridge.Submit(context.Background(), b, "name", time.Second,
		func(ctx context.Context, s *session) (string, error) { return s.name, nil })
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if got != "main" {
		t.Errorf("result = %q, want %q", got, "main")
	}
}

func TestSubmit_PropagatesError(t *testing.T) {
	b := bridge.New[*session](bridge.Options{})
	stop := serve(t, b, &session{})
	defer stop()

	want := errors.New("boom")
	_, err := bridge.Submit(context.Background(), b, "fail", time.Second,
		func(ctx context.Context, s *session) (struct{}, error) { return struct{}{}, want })
	if !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}

func TestSubmit_RecoversPanic(t *testing.T) {
	b := bridge.New[*session](bridge.Options{})
	stop := serve(t, b, &session{})
	defer stop()

	_, err := bridge.Submit(context.Background(), b, "panic", time.Second,
		func(ctx context.Context, s *session) (int, error) { panic("bad") })
	if err == nil {
		t.Fatal("expected error from panicking operation")
	}

	// The execution context must survive.
	v, err := bridge.Submit(context.Background(), b, "after", time.Second,
		func(ctx context.Context, s *session) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Errorf("Submit() after panic = %d, %v", v, err)
	}
}

func TestSubmit_TimeoutLeavesOperationRunning(t *testing.T) {
	b := bridge.New[*session](bridge.Options{})
	stop := serve(t, b, &session{})
	defer stop()

	release := make(chan struct{})
	finished := make(chan struct{})

	_, err := bridge.Submit(context.Background(), b, "slow", 20*time.Millisecond,
		func(ctx context.Context, s *session) (int, error) {
			<-release
			close(finished)
			return 0, nil
		})
	if !errors.Is(err, bridge.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}

	close(release)
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out operation was not left running")
	}
}

func TestSubmit_CallerCancelDoesNotCancelOperation(t *testing.T) {
	b := bridge.New[*session](bridge.Options{})
	stop := serve(t, b, &session{})
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	opErr := make(chan error, 1)

	go func() {
		<-started
		cancel()
	}()

	_, err := bridge.Submit(ctx, b, "observe", time.Second,
		func(opCtx context.Context, s *session) (int, error) {
			close(started)
			time.Sleep(30 * time.Millisecond)
			opErr <- opCtx.Err()
			return 0, nil
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	select {
	case e := <-opErr:
		if e != nil {
			t.Errorf("operation context err = %v, want nil", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("operation did not finish")
	}
}

func TestSubmit_ConcurrentOperationsInFlight(t *testing.T) {
	b := bridge.New[*session](bridge.Options{MaxInFlight: 4})
	stop := serve(t, b, &session{})
	defer stop()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := bridge.Submit(context.Background(), b, "overlap", 2*time.Second,
				func(ctx context.Context, s *session) (int, error) {
					n := running.Add(1)
					for {
						p := peak.Load()
						if n <= p || peak.CompareAndSwap(p, n) {
							break
						}
					}
					time.Sleep(50 * time.Millisecond)
					running.Add(-1)
					return 0, nil
				})
			if err != nil {
				t.Errorf("Submit() error: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak.Load() < 2 {
		t.Errorf("peak in-flight = %d, want >= 2", peak.Load())
	}
}

func TestServe_StopMakesBridgeNotReady(t *testing.T) {
	b := bridge.New[*session](bridge.Options{})
	stop := serve(t, b, &session{})
	stop()

	if b.Ready() {
		t.Error("Ready() = true after stop")
	}
	_, err := bridge.Submit(context.Background(), b, "late", time.Second,
		func(ctx context.Context, s *session) (int, error) { return 0, nil })
	if !errors.Is(err, bridge.ErrNotReady) {
		t.Errorf("err = %v, want ErrNotReady", err)
	}
}

func TestServe_RejectsSecondExecutionContext(t *testing.T) {
	b := bridge.New[*session](bridge.Options{})
	stop := serve(t, b, &session{})
	defer stop()

	if err := b.Serve(context.Background(), &session{}); !errors.Is(err, bridge.ErrAlreadyServing) {
		t.Errorf("second Serve() err = %v, want ErrAlreadyServing", err)
	}
}

func TestSubmit_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	b := bridge.New[*session](bridge.Options{Metrics: m})

	_, _ = bridge.Submit(context.Background(), b, "dialogs", time.Second,
		func(ctx context.Context, s *session) (int, error) { return 0, nil })

	stop := serve(t, b, &session{})
	defer stop()
	_, _ = bridge.Submit(context.Background(), b, "dialogs", time.Second,
		func(ctx context.Context, s *session) (int, error) { return 0, nil })

	n, err := testutil.GatherAndCount(reg, "telecharm_bridge_operations_total")
	if err != nil {
		t.Fatalf("GatherAndCount() error: %v", err)
	}
	if n != 2 {
		t.Errorf("series = %d, want 2 (not_ready and ok)", n)
	}
}
