// Package trigger starts plan runs without a human: on a cron schedule or
// when the plan file changes.
package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule is a parsed cron expression bound to a time zone.
type Schedule struct {
	Expr string
	TZ   string

	sched cron.Schedule
	loc   *time.Location
	now   func() time.Time
}

// ParseSchedule parses a five-field cron expression or a descriptor such as
// "@hourly" or "@every 10m". An empty tz means local time.
func ParseSchedule(expr, tz string) (*Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("cron expression is required")
	}

	sched, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	loc := time.Local
	if tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone: %w", err)
		}
	}

	return &Schedule{
		Expr:  expr,
		TZ:    tz,
		sched: sched,
		loc:   loc,
		now:   time.Now,
	}, nil
}

// Next returns the first activation strictly after t.
func (s *Schedule) Next(t time.Time) time.Time {
	return s.sched.Next(t.In(s.loc))
}

// Run calls fn at every activation until ctx ends. fn runs on the calling
// goroutine, so firings never overlap; activations missed while fn was
// running are skipped. Returns ctx.Err().
func (s *Schedule) Run(ctx context.Context, fn func(ctx context.Context, fired time.Time)) error {
	for {
		next := s.Next(s.now())
		if next.IsZero() {
			return fmt.Errorf("schedule %q has no future activation", s.Expr)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case fired := <-timer.C:
			fn(ctx, fired)
		}
	}
}
