package aggregate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alecgard/usagedash/internal/calendar"
)

type fakeRunner struct {
	mu    sync.Mutex
	dates []calendar.Date
	fail  map[calendar.Date]bool
}

func (f *fakeRunner) RunDaily(_ context.Context, date calendar.Date) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dates = append(f.dates, date)
	if f.fail[date] {
		return nil, errors.New("boom")
	}
	return &Result{Date: date}, nil
}

func (f *fakeRunner) runs() []calendar.Date {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]calendar.Date, len(f.dates))
	copy(out, f.dates)
	return out
}

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) set(t time.Time) {
	f.mu.Lock()
	f.t = t
	f.mu.Unlock()
}

func TestScheduler_TickRunsToday(t *testing.T) {
	now := &fakeNow{t: time.Date(2024, time.October, 14, 10, 0, 0, 0, time.UTC)}
	runner := &fakeRunner{}
	s := NewScheduler(runner, calendar.NewClock(time.UTC).WithNow(now.now), time.Hour, time.Minute)

	s.tick(context.Background())
	s.tick(context.Background())

	runs := runner.runs()
	if len(runs) != 2 || runs[0] != day || runs[1] != day {
		t.Errorf("expected two runs for %v, got %v", day, runs)
	}
}

func TestScheduler_FinalizesPreviousDayOnRollover(t *testing.T) {
	now := &fakeNow{t: time.Date(2024, time.October, 14, 23, 30, 0, 0, time.UTC)}
	runner := &fakeRunner{}
	s := NewScheduler(runner, calendar.NewClock(time.UTC).WithNow(now.now), time.Hour, time.Minute)

	s.tick(context.Background())
	now.set(time.Date(2024, time.October, 15, 0, 30, 0, 0, time.UTC))
	s.tick(context.Background())

	next := day.AddDays(1)
	want := []calendar.Date{day, day, next}
	runs := runner.runs()
	if len(runs) != len(want) {
		t.Fatalf("expected runs %v, got %v", want, runs)
	}
	for i := range want {
		if runs[i] != want[i] {
			t.Errorf("run %d: got %v, want %v", i, runs[i], want[i])
		}
	}
}

func TestScheduler_FailedRunIsRetriedAsPrevious(t *testing.T) {
	now := &fakeNow{t: time.Date(2024, time.October, 14, 12, 0, 0, 0, time.UTC)}
	runner := &fakeRunner{}
	s := NewScheduler(runner, calendar.NewClock(time.UTC).WithNow(now.now), time.Hour, time.Minute)

	s.tick(context.Background())

	// Tomorrow's first run fails, so the scheduler keeps the 14th as the
	// last finished date and finalizes it again on the next tick.
	next := day.AddDays(1)
	runner.fail = map[calendar.Date]bool{next: true}
	now.set(time.Date(2024, time.October, 15, 1, 0, 0, 0, time.UTC))
	s.tick(context.Background())
	runner.fail = nil
	s.tick(context.Background())

	want := []calendar.Date{day, day, next, day, next}
	runs := runner.runs()
	if len(runs) != len(want) {
		t.Fatalf("expected runs %v, got %v", want, runs)
	}
	for i := range want {
		if runs[i] != want[i] {
			t.Errorf("run %d: got %v, want %v", i, runs[i], want[i])
		}
	}
}

func TestScheduler_FailedFinalizationIsRetried(t *testing.T) {
	now := &fakeNow{t: time.Date(2024, time.October, 14, 23, 0, 0, 0, time.UTC)}
	runner := &fakeRunner{}
	s := NewScheduler(runner, calendar.NewClock(time.UTC).WithNow(now.now), time.Hour, time.Minute)

	s.tick(context.Background())

	// The 14th's final run fails on the first tick of the 15th. Today's run
	// succeeds, but the 14th must still be finalized on the following tick.
	next := day.AddDays(1)
	runner.fail = map[calendar.Date]bool{day: true}
	now.set(time.Date(2024, time.October, 15, 0, 30, 0, 0, time.UTC))
	s.tick(context.Background())
	runner.fail = nil
	s.tick(context.Background())
	s.tick(context.Background())

	want := []calendar.Date{day, day, next, day, next, next}
	runs := runner.runs()
	if len(runs) != len(want) {
		t.Fatalf("expected runs %v, got %v", want, runs)
	}
	for i := range want {
		if runs[i] != want[i] {
			t.Errorf("run %d: got %v, want %v", i, runs[i], want[i])
		}
	}
}

func TestScheduler_StartAndStop(t *testing.T) {
	now := &fakeNow{t: time.Date(2024, time.October, 14, 12, 0, 0, 0, time.UTC)}
	runner := &fakeRunner{}
	s := NewScheduler(runner, calendar.NewClock(time.UTC).WithNow(now.now), 20*time.Millisecond, time.Second)

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	time.Sleep(70 * time.Millisecond)
	s.Stop()
	s.Stop() // second Stop must not panic

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}

	if n := len(runner.runs()); n < 2 {
		t.Errorf("expected an immediate run plus at least one tick, got %d runs", n)
	}
}

func TestScheduler_StopsOnContextCancel(t *testing.T) {
	runner := &fakeRunner{}
	s := NewScheduler(runner, calendar.NewClock(time.UTC), time.Hour, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}
