package scheduler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newCounting(t *testing.T, interval time.Duration, calls *atomic.Int64) *Scheduler {
	t.Helper()

	s, err := New(interval, func(context.Context) {
		calls.Add(1)
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return s.WithName("test").WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNew_InvalidArgs(t *testing.T) {
	t.Parallel()

	t.Run("interval must be > 0", func(t *testing.T) {
		t.Parallel()

		s, err := New(0, func(context.Context) {})
		if err == nil {
			t.Fatalf("expected error, got nil")
		}
		if s != nil {
			t.Fatalf("expected nil scheduler, got %#v", s)
		}
	})

	t.Run("tickFn must not be nil", func(t *testing.T) {
		t.Parallel()

		s, err := New(100*time.Millisecond, nil)
		if err == nil {
			t.Fatalf("expected error, got nil")
		}
		if s != nil {
			t.Fatalf("expected nil scheduler, got %#v", s)
		}
	})
}

func TestScheduler_StartStop(t *testing.T) {
	var calls atomic.Int64
	s := newCounting(t, 10*time.Millisecond, &calls)

	if s.IsRunning() {
		t.Fatalf("expected scheduler not running initially")
	}
	if ok := s.Start(); !ok {
		t.Fatalf("expected Start() true on first call")
	}
	if ok := s.Start(); ok {
		t.Fatalf("expected Start() false when already running")
	}

	waitForAtLeast(t, &calls, 1, 500*time.Millisecond)

	if ok := s.Stop(); !ok {
		t.Fatalf("expected Stop() true on first call")
	}
	if s.IsRunning() {
		t.Fatalf("expected scheduler not running after Stop()")
	}
	if ok := s.Stop(); ok {
		t.Fatalf("expected Stop() false when already stopped")
	}
}

func TestScheduler_DoesNotTickAfterStop(t *testing.T) {
	var calls atomic.Int64
	s := newCounting(t, 10*time.Millisecond, &calls)

	s.Start()
	waitForAtLeast(t, &calls, 2, 750*time.Millisecond)
	s.Stop()
	before := calls.Load()

	time.Sleep(100 * time.Millisecond)
	if after := calls.Load(); after != before {
		t.Fatalf("expected no ticks after Stop; before=%d after=%d", before, after)
	}
}

func TestScheduler_ImmediateTickOnStart(t *testing.T) {
	var calls atomic.Int64
	s := newCounting(t, 10*time.Second, &calls)

	s.Start()
	defer s.Stop()

	waitForAtLeast(t, &calls, 1, 500*time.Millisecond)
}

func TestScheduler_PanicInTickIsRecovered(t *testing.T) {
	var calls atomic.Int64
	var panicked atomic.Bool
	var buf bytes.Buffer
	var bufMu sync.Mutex

	s, err := New(10*time.Millisecond, func(context.Context) {
		if panicked.CompareAndSwap(false, true) {
			panic("boom")
		}
		calls.Add(1)
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	s.WithLogger(slog.New(slog.NewJSONHandler(lockedWriter{&bufMu, &buf}, nil)))

	s.Start()
	waitForAtLeast(t, &calls, 1, 750*time.Millisecond)
	s.Stop()

	bufMu.Lock()
	out := buf.String()
	bufMu.Unlock()
	if !strings.Contains(out, "panic recovered") {
		t.Fatalf("expected panic to be logged, got %q", out)
	}
}

func TestScheduler_StatusReportsTicks(t *testing.T) {
	var calls atomic.Int64
	s := newCounting(t, 10*time.Millisecond, &calls)

	st := s.Status()
	if st.Running || st.Ticks != 0 || st.LastTick != nil {
		t.Fatalf("unexpected initial status: %+v", st)
	}
	if st.Name != "test" || st.Interval != 10*time.Millisecond {
		t.Fatalf("unexpected name/interval: %+v", st)
	}

	s.Start()
	waitForAtLeast(t, &calls, 2, 750*time.Millisecond)
	s.Stop()

	st = s.Status()
	if st.Running {
		t.Fatalf("expected stopped status")
	}
	if st.Ticks < 2 {
		t.Fatalf("expected at least 2 ticks, got %d", st.Ticks)
	}
	if st.LastTick == nil {
		t.Fatalf("expected last tick time")
	}
}

func TestScheduler_RestartAfterStop(t *testing.T) {
	var calls atomic.Int64
	s := newCounting(t, 10*time.Millisecond, &calls)

	for i := 0; i < 3; i++ {
		if ok := s.Start(); !ok {
			t.Fatalf("iteration %d: expected Start() true", i)
		}
		waitForAtLeast(t, &calls, 1, 750*time.Millisecond)
		if ok := s.Stop(); !ok {
			t.Fatalf("iteration %d: expected Stop() true", i)
		}
		calls.Store(0)
	}
}

func TestScheduler_TickContextCanceledOnStop(t *testing.T) {
	captured := make(chan context.Context, 1)

	s, err := New(10*time.Millisecond, func(ctx context.Context) {
		select {
		case captured <- ctx:
		default:
		}
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	s.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	s.Start()

	var ctx context.Context
	select {
	case ctx = <-captured:
	case <-time.After(500 * time.Millisecond):
		s.Stop()
		t.Fatalf("did not capture tick context in time")
	}

	s.Stop()

	select {
	case <-ctx.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("expected tick context to be canceled after Stop()")
	}
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (l lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// waitForAtLeast polls until calls >= n or fails after timeout.
func waitForAtLeast(t *testing.T, calls *atomic.Int64, n int64, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		if calls.Load() >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for calls >= %d (got %d)", n, calls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
