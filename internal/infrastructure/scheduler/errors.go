package scheduler

import "errors"

var (
	// ErrInvalidSchedule is returned by Start when the cron expression does not parse
	ErrInvalidSchedule = errors.New("invalid cleanup schedule")

	// ErrNoTask is returned by Start when the scheduler was built without a task
	ErrNoTask = errors.New("cleanup scheduler has no task")
)
