package sched

import "errors"

var (
	// ErrQueueFull means the namespace's submission queue is at capacity.
	// Returned synchronously; the caller may retry after draining.
	ErrQueueFull = errors.New("sched: queue full")

	// ErrTaskNotFound means the task ID does not name a live task. On
	// cancellation this is a reported no-op, not a failure.
	ErrTaskNotFound = errors.New("sched: task not found")
)
