package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew_Interval(t *testing.T) {
	s, err := New(300, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.Next(time.Now()); got != 5*time.Minute {
		t.Errorf("Next = %v, want 5m", got)
	}
	if s.String() != "every 5m0s" {
		t.Errorf("String = %q", s.String())
	}
}

func TestNew_InvalidInterval(t *testing.T) {
	if _, err := New(0, ""); err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func TestNew_CronOverridesInterval(t *testing.T) {
	s, err := New(10, "0 9 * * *")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	now := time.Date(2025, 3, 1, 8, 30, 0, 0, time.Local)
	if got := s.Next(now); got != 30*time.Minute {
		t.Errorf("Next = %v, want 30m", got)
	}
}

func TestNew_CronEveryMinute(t *testing.T) {
	s, err := New(0, "* * * * *")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d := s.Next(time.Now())
	if d <= 0 || d > 61*time.Second {
		t.Errorf("Next = %v, want within a minute", d)
	}
}

func TestNew_InvalidCron(t *testing.T) {
	if _, err := New(10, "not a cron expr"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEvery_RunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32
	done := make(chan struct{})

	go func() {
		Every(ctx, Schedule{Interval: 5 * time.Millisecond}, func(context.Context) {
			if runs.Add(1) == 3 {
				cancel()
			}
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Every did not return after cancel")
	}
	if got := runs.Load(); got != 3 {
		t.Errorf("runs = %d, want 3", got)
	}
}

func TestEvery_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	Every(ctx, Schedule{Interval: time.Hour}, func(context.Context) { called = true })
	if called {
		t.Error("fn should not run on a cancelled context")
	}
}

func TestSleep_ReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if Sleep(ctx, 10*time.Second) {
		t.Error("Sleep should report cancellation")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Sleep should return immediately on cancelled ctx, took %v", elapsed)
	}
}
