// Package api defines the contracts shared by shmarc and its adapters.
package api

import (
	"context"
	"time"
)

// Segment is one attachment to a named shared segment.
type Segment interface {
	// Name returns the segment name.
	Name() string
	// ReadCounter returns the number of live attachments across all processes.
	ReadCounter() uint64
	// LockOwner returns the pid holding the segment's lock, 0 when free.
	LockOwner() int
	// Attached reports whether this handle has not detached yet.
	Attached() bool
	// Unlink detaches; the last attachment destroys the segment.
	Unlink(ctx context.Context) error
	// ForceUnlink destroys the segment regardless of other attachments.
	ForceUnlink(ctx context.Context) error
}

// Observer receives lifecycle events of segments in this process.
type Observer interface {
	// Attached is called after a handle attached; created reports whether the call
	// created the segment.
	Attached(name string, created bool)
	// Detached is called after a handle detached; destroyed reports whether it
	// removed the segment.
	Detached(name string, destroyed bool)
	// LockAcquired is called after a lock was acquired with the time spent waiting.
	LockAcquired(name string, wait time.Duration)
}
