package aggregate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alecgard/usagedash/internal/calendar"
)

// Runner is the part of Pipeline the Scheduler drives.
type Runner interface {
	RunDaily(ctx context.Context, date calendar.Date) (*Result, error)
}

// Scheduler periodically aggregates the current day. When the date rolls over
// between ticks it re-runs the previous day first, so a finished day ends up
// with its complete figures.
type Scheduler struct {
	runner   Runner
	clock    *calendar.Clock
	interval time.Duration
	timeout  time.Duration

	mu       sync.Mutex
	lastDate calendar.Date

	done     chan struct{}
	stopOnce sync.Once
}

// NewScheduler creates a Scheduler that ticks every interval. Each run is
// bounded by timeout.
func NewScheduler(runner Runner, clock *calendar.Clock, interval, timeout time.Duration) *Scheduler {
	return &Scheduler{
		runner:   runner,
		clock:    clock,
		interval: interval,
		timeout:  timeout,
		done:     make(chan struct{}),
	}
}

// Start runs an aggregation immediately and then on every tick. It blocks
// until Stop is called or the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

// Stop signals the scheduler loop to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// tick aggregates today, finalizing the previously seen date first if the
// calendar has moved on.
func (s *Scheduler) tick(ctx context.Context) {
	today := s.clock.Today()

	s.mu.Lock()
	prev := s.lastDate
	s.mu.Unlock()

	// lastDate only advances once the previous date is final, so a failed
	// finalization is retried on the next tick.
	finalized := true
	if !prev.IsZero() && prev.Before(today) {
		finalized = s.runOnce(ctx, prev)
	}
	if s.runOnce(ctx, today) && finalized {
		s.mu.Lock()
		s.lastDate = today
		s.mu.Unlock()
	}
}

func (s *Scheduler) runOnce(ctx context.Context, date calendar.Date) bool {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.runner.RunDaily(runCtx, date)
	if err != nil {
		slog.Error("scheduled aggregation failed", "date", date.String(), "error", err)
		return false
	}
	if res.NoData {
		slog.Info("scheduled aggregation found no logs", "date", date.String())
	}
	return true
}
