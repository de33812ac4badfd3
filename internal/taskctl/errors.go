package taskctl

import "errors"

// Sentinel errors recovered at the surface boundary and rendered as
// user-facing text, never as process-fatal faults.
var (
	// ErrNotFound is returned for an unknown task id.
	ErrNotFound = errors.New("task not found")

	// ErrAccessDenied is returned when a restricted caller touches a task
	// owned by another group.
	ErrAccessDenied = errors.New("access denied: task belongs to another group")

	// ErrInvalidSchedule is returned for a schedule that is malformed or
	// would never fire.
	ErrInvalidSchedule = errors.New("invalid schedule: task would never run")
)
