package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler runs tickFn once on Start and then every interval until Stop.
// A panicking tick is logged and does not stop the loop.
type Scheduler struct {
	name     string
	interval time.Duration
	tickFn   func(context.Context)
	logger   *slog.Logger

	running  atomic.Bool
	ticks    atomic.Int64
	lastTick atomic.Int64 // unix nanos

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Status struct {
	Name     string        `json:"name"`
	Running  bool          `json:"running"`
	Interval time.Duration `json:"interval_ns"`
	Ticks    int64         `json:"ticks"`
	LastTick *time.Time    `json:"last_tick,omitempty"`
}

func New(interval time.Duration, tickFn func(context.Context)) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	return &Scheduler{
		name:     "scheduler",
		interval: interval,
		tickFn:   tickFn,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}, nil
}

func (s *Scheduler) WithName(name string) *Scheduler {
	if name != "" {
		s.name = name
	}
	return s
}

func (s *Scheduler) WithLogger(l *slog.Logger) *Scheduler {
	if l != nil {
		s.logger = l
	}
	return s
}

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("scheduler started", "scheduler", s.name, "interval", s.interval.String())

		s.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("scheduler stopping", "scheduler", s.name)
				return
			case <-ticker.C:
				s.safeTick(ctx)
			}
		}
	}()

	return true
}

func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	s.logger.Info("scheduler stopped", "scheduler", s.name)
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) Status() Status {
	st := Status{
		Name:     s.name,
		Running:  s.running.Load(),
		Interval: s.interval,
		Ticks:    s.ticks.Load(),
	}
	if n := s.lastTick.Load(); n != 0 {
		t := time.Unix(0, n).UTC()
		st.LastTick = &t
	}
	return st
}

func (s *Scheduler) safeTick(ctx context.Context) {
	start := time.Now()
	defer func() {
		s.ticks.Add(1)
		s.lastTick.Store(start.UnixNano())
		if r := recover(); r != nil {
			s.logger.Error("scheduler tick panic recovered", "scheduler", s.name, "panic", r)
		}
	}()

	s.tickFn(ctx)
	s.logger.Debug("scheduler tick completed", "scheduler", s.name, "duration_ms", time.Since(start).Milliseconds())
}
