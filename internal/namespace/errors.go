package namespace

import "errors"

var (
	// ErrNotFound means the namespace does not exist or is no longer live.
	ErrNotFound = errors.New("namespace: not found")

	// ErrCycleRejected means a mutation would break the tree shape. The
	// tree is acyclic by construction, so observing this post-hoc marks
	// internal corruption and halts the subsystem.
	ErrCycleRejected = errors.New("namespace: cycle rejected")

	// ErrActiveChildren means a non-forced delete hit live children or
	// running tasks.
	ErrActiveChildren = errors.New("namespace: active children")
)
