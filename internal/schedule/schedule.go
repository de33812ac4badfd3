// Package schedule computes next-run times for scheduled tasks.
//
// Three schedule types are supported:
//   - "cron":     standard cron expression (5/6-field, parsed by gronx)
//   - "interval": recurring fixed delay (in milliseconds)
//   - "once":     one-time execution at an absolute RFC3339 timestamp
package schedule

import (
	"fmt"
	"strconv"
	"time"

	"github.com/adhocore/gronx"
)

// Type identifies how a schedule value is interpreted.
type Type string

const (
	TypeCron     Type = "cron"
	TypeInterval Type = "interval"
	TypeOnce     Type = "once"
)

// ParseType validates a schedule type string.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeCron, TypeInterval, TypeOnce:
		return Type(s), nil
	}
	return "", &Error{Kind: KindInvalidValue, Detail: fmt.Sprintf("unknown schedule type %q", s)}
}

// ErrorKind classifies schedule validation failures.
type ErrorKind string

const (
	KindInvalidExpression ErrorKind = "invalid-expression"
	KindInvalidValue      ErrorKind = "invalid-value"
)

// Error reports a malformed schedule value.
type Error struct {
	Kind   ErrorKind
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("schedule: %s: %s", e.Kind, e.Detail)
}

// NextRun returns the next fire time for a schedule, strictly after now.
//
// A nil time with a nil error means the schedule will never fire again; this
// is only produced for "once" schedules whose timestamp has already passed.
// Callers creating a task must treat nil as a rejection, while the scheduler
// recomputing after a run treats it as normal completion.
func NextRun(typ Type, value string, now time.Time) (*time.Time, error) {
	switch typ {
	case TypeCron:
		next, err := gronx.NextTickAfter(value, now, false)
		if err != nil {
			return nil, &Error{Kind: KindInvalidExpression, Detail: err.Error()}
		}
		return &next, nil

	case TypeInterval:
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, &Error{Kind: KindInvalidValue, Detail: fmt.Sprintf("interval %q is not an integer", value)}
		}
		if ms <= 0 {
			return nil, &Error{Kind: KindInvalidValue, Detail: fmt.Sprintf("interval must be positive, got %d", ms)}
		}
		next := now.Add(time.Duration(ms) * time.Millisecond)
		return &next, nil

	case TypeOnce:
		at, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return nil, &Error{Kind: KindInvalidValue, Detail: fmt.Sprintf("timestamp %q is not RFC3339", value)}
		}
		if !at.After(now) {
			return nil, nil
		}
		return &at, nil

	default:
		return nil, &Error{Kind: KindInvalidValue, Detail: fmt.Sprintf("unknown schedule type %q", typ)}
	}
}
