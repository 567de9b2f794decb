package rules

import (
	"fmt"
	"time"

	"caseflow/internal/domain"
)

// DefaultCatchUpDays is how far back a missed target date still fires.
const DefaultCatchUpDays = 7

const (
	DirectionBefore = "before"
	DirectionAfter  = "after"
)

// Trigger is a compiled date-offset trigger.
type Trigger struct {
	Field       Field
	Offset      int
	Direction   string
	CatchUpDays int
}

// CompileTrigger resolves the trigger field, which must be a date field.
func CompileTrigger(field string, offset int, direction string, catchUpDays int) (Trigger, error) {
	f, ok := Lookup(field)
	if !ok {
		return Trigger{}, &ConfigError{Field: field, Reason: "unknown trigger field"}
	}
	if f.Kind != KindDate {
		return Trigger{}, &ConfigError{Field: field, Reason: fmt.Sprintf("trigger field must be a date, got %s", f.Kind)}
	}
	if direction != DirectionBefore && direction != DirectionAfter {
		return Trigger{}, &ConfigError{Field: field, Reason: fmt.Sprintf("invalid trigger direction %q", direction)}
	}
	if catchUpDays <= 0 {
		catchUpDays = DefaultCatchUpDays
	}
	return Trigger{Field: f, Offset: offset, Direction: direction, CatchUpDays: catchUpDays}, nil
}

// Target shifts anchor by the trigger offset.
func (t Trigger) Target(anchor time.Time) time.Time {
	if t.Direction == DirectionBefore {
		return anchor.AddDate(0, 0, -t.Offset)
	}
	return anchor.AddDate(0, 0, t.Offset)
}

// Evaluate reports whether the trigger fires for c on today, and the target
// date it resolved. Absent or unparsable dates never fire.
func (t Trigger) Evaluate(c domain.Case, today time.Time) (bool, time.Time) {
	raw, ok := t.Field.Value(c)
	if !ok {
		return false, time.Time{}
	}
	anchor, err := ParseDate(raw)
	if err != nil {
		return false, time.Time{}
	}
	target := t.Target(anchor)
	return InWindow(target, Day(today), t.CatchUpDays), target
}

// InWindow reports whether target lies in [today-days, today].
func InWindow(target, today time.Time, days int) bool {
	start := today.AddDate(0, 0, -days)
	return !target.Before(start) && !target.After(today)
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
