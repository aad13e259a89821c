// Package schedule runs periodic work on a fixed interval or a cron
// expression until its context is cancelled.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule decides how long to wait between runs.
type Schedule struct {
	Interval time.Duration
	cron     cron.Schedule
	expr     string
}

// New builds a schedule. A non-empty expr takes precedence over the
// interval.
func New(intervalSec int, expr string) (Schedule, error) {
	if expr != "" {
		sched, err := cronParser.Parse(expr)
		if err != nil {
			return Schedule{}, fmt.Errorf("schedule: parse %q: %w", expr, err)
		}
		return Schedule{cron: sched, expr: expr}, nil
	}
	if intervalSec <= 0 {
		return Schedule{}, fmt.Errorf("schedule: interval must be positive, got %d", intervalSec)
	}
	return Schedule{Interval: time.Duration(intervalSec) * time.Second}, nil
}

// Next returns the wait after a run finishing at now.
func (s Schedule) Next(now time.Time) time.Duration {
	if s.cron == nil {
		return s.Interval
	}
	d := s.cron.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (s Schedule) String() string {
	if s.cron != nil {
		return "cron " + s.expr
	}
	return "every " + s.Interval.String()
}

// Every runs fn immediately and then after each wait from s, returning when
// ctx is cancelled. fn is never interrupted mid-run by Every itself.
func Every(ctx context.Context, s Schedule, fn func(context.Context)) {
	for {
		if ctx.Err() != nil {
			return
		}
		fn(ctx)
		if !Sleep(ctx, s.Next(time.Now())) {
			return
		}
	}
}

// Sleep waits for d, returning false early if ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
