package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts five-field expressions with an optional leading
// seconds field, plus descriptors (@daily, @every 6h).
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// CronSchedule runs a job on a cron expression evaluated in a fixed location.
type CronSchedule struct {
	expr     string
	location *time.Location
	schedule cron.Schedule
}

// ParseCron parses expr. loc nil → UTC.
//
// Examples: "0 3 * * *" (daily 03:00), "0 */6 * * *", "@every 30m".
func ParseCron(expr string, loc *time.Location) (*CronSchedule, error) {
	if loc == nil {
		loc = time.UTC
	}
	s, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCron, expr, err)
	}
	return &CronSchedule{expr: expr, location: loc, schedule: s}, nil
}

// MustParseCron is ParseCron for constant expressions.
func MustParseCron(expr string, loc *time.Location) *CronSchedule {
	s, err := ParseCron(expr, loc)
	if err != nil {
		panic(err)
	}
	return s
}

// Next returns the first activation strictly after t.
func (s *CronSchedule) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.location))
}

// String returns the expression and its location.
func (s *CronSchedule) String() string {
	return fmt.Sprintf("%s (%s)", s.expr, s.location)
}
