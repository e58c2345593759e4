package scheduler

import "errors"

var (
	// ErrInvalidJob is returned by Submit for an empty target URL or a
	// non-positive attempt budget.
	ErrInvalidJob = errors.New("invalid job")

	// ErrUnknownJob is returned by Status for a job ID never submitted.
	ErrUnknownJob = errors.New("unknown job")

	// ErrSchedulerClosed is returned by Submit after shutdown.
	ErrSchedulerClosed = errors.New("scheduler closed")
)
