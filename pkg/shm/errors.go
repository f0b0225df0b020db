package shm

import (
	"errors"

	internalshm "github.com/srediag/shmarc/internal/shm"
)

// Platform failures on create, open, map or destroy. They are returned wrapped in a
// *PlatformError carrying the failed call and the raw errno.
var (
	ErrNotFound          = internalshm.ErrNotFound
	ErrPermissionDenied  = internalshm.ErrPermissionDenied
	ErrResourceExhausted = internalshm.ErrResourceExhausted
	ErrNameTooLong       = internalshm.ErrNameTooLong
	ErrInvalidName       = internalshm.ErrInvalidName
	ErrUnsupported       = internalshm.ErrUnsupported
)

var (
	// ErrLayoutMismatch means the segment was created for a payload with a different
	// size or alignment, or is not a segment of this package at all.
	ErrLayoutMismatch = errors.New("shared segment layout mismatch")
	// ErrUnsupportedPayload means the payload type holds pointers or other
	// process-local data and cannot live in shared memory.
	ErrUnsupportedPayload = errors.New("payload type is not plain data")
	// ErrNotInitialized means the creator never finished publishing the segment.
	ErrNotInitialized = errors.New("shared segment not initialized")
	// ErrDetached means the handle already detached from its segment.
	ErrDetached = errors.New("handle already detached")
	// ErrInvalidConfig is returned by VerifyConfig.
	ErrInvalidConfig = errors.New("invalid config")
)

// PlatformError records a failed OS call on a named segment.
type PlatformError = internalshm.PlatformError
