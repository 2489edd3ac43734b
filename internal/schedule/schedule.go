package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Domain errors for the schedule package.
var (
	// ErrInvalidExpr is returned when a cron expression cannot be parsed.
	ErrInvalidExpr = errors.New("schedule: invalid cron expression")
)

// parser accepts standard five-field cron expressions (minute, hour,
// day-of-month, month, day-of-week). Seconds-resolution schedules are
// deliberately not supported: the engine evaluates on a coarse tick and
// watering schedules are minute-granular by nature.
var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Schedule is a parsed cron expression that can compute fire times.
//
// Parsing happens once, at configuration time; evaluation is a pure
// computation with no shared state, so a Schedule is safe for concurrent
// use from multiple goroutines.
type Schedule struct {
	expr string
	spec cron.Schedule
}

// Parse validates and compiles a five-field cron expression.
//
// Returns ErrInvalidExpr (wrapped with the parser detail) if the
// expression is malformed, so configuration errors surface at save time
// rather than at the next tick.
func Parse(expr string) (*Schedule, error) {
	spec, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidExpr, expr, err)
	}
	return &Schedule{expr: expr, spec: spec}, nil
}

// Validate reports whether a cron expression is parseable without
// retaining the compiled schedule.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// Expr returns the original cron expression.
func (s *Schedule) Expr() string {
	return s.expr
}

// Next returns the first fire time strictly after the given instant.
//
// The computation honours the location of the passed time, so callers
// must pass instants in the site's configured timezone for schedules to
// track local wall-clock time across DST transitions.
func (s *Schedule) Next(after time.Time) time.Time {
	return s.spec.Next(after)
}

// NextFrom is a convenience for computing the next fire time after now
// in the given location.
func (s *Schedule) NextFrom(now time.Time, loc *time.Location) time.Time {
	return s.spec.Next(now.In(loc))
}
