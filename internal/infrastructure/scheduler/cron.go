package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ══════════════════════════════════════════════════════════════════════════════
// CRON SCHEDULE
// Standard five-field expressions plus descriptors (@daily, @every 5m) and an
// optional CRON_TZ= prefix.
// ══════════════════════════════════════════════════════════════════════════════

// CronSchedule adapts a parsed cron expression to Schedule.
type CronSchedule struct {
	expr  string
	sched cron.Schedule
}

// ParseCron parses a standard cron expression.
func ParseCron(expr string) (*CronSchedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidCronExpression, expr, err)
	}
	return &CronSchedule{expr: expr, sched: sched}, nil
}

// MustParseCron is ParseCron for expressions known at compile time.
func MustParseCron(expr string) *CronSchedule {
	s, err := ParseCron(expr)
	if err != nil {
		panic(err)
	}
	return s
}

// Next returns the next activation after t.
func (c *CronSchedule) Next(t time.Time) time.Time {
	return c.sched.Next(t)
}

func (c *CronSchedule) String() string {
	return c.expr
}

// IntervalSchedule runs a job at a fixed interval from the previous
// activation.
type IntervalSchedule struct {
	Interval time.Duration
}

// Every returns an IntervalSchedule.
func Every(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

// Next returns t plus the interval.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

func (s *IntervalSchedule) String() string {
	return "@every " + s.Interval.String()
}
