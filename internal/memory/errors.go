package memory

import "errors"

var (
	// ErrOverlap means the requested range intersects a live region.
	// Allocation fails rather than relocating silently.
	ErrOverlap = errors.New("memory: region overlap")

	// ErrOutOfMemory means no free range of the requested size exists.
	ErrOutOfMemory = errors.New("memory: out of memory")

	// ErrProtectionViolation means the presented capability does not
	// authorize the operation.
	ErrProtectionViolation = errors.New("memory: protection violation")

	// ErrRegionNotFound means the region ID does not name a live region.
	ErrRegionNotFound = errors.New("memory: region not found")
)
