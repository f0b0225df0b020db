//go:build !unix

package shm

import (
	"os"
	"unsafe"
)

// DefaultDir is where segment names would be resolved.
func DefaultDir() string { return os.TempDir() }

// Object is unavailable on this platform.
type Object struct{ name string }

// Name returns the segment name.
func (o *Object) Name() string { return o.name }

// Path returns an empty path.
func (o *Object) Path() string { return "" }

// Size always fails.
func (o *Object) Size() (int64, error) { return 0, ErrUnsupported }

// Close is a no-op.
func (o *Object) Close() error { return nil }

// TryCreate always fails with ErrUnsupported.
func (ns Namespace) TryCreate(name string, size int64) (*Object, error) {
	return nil, ErrUnsupported
}

// OpenExisting always fails with ErrUnsupported.
func (ns Namespace) OpenExisting(name string) (*Object, error) { return nil, ErrUnsupported }

// Unlink always fails with ErrUnsupported.
func (ns Namespace) Unlink(name string) error { return ErrUnsupported }

// Exists always fails with ErrUnsupported.
func (ns Namespace) Exists(name string) (bool, error) { return false, ErrUnsupported }

// UnlinkIfSame always fails with ErrUnsupported.
func (ns Namespace) UnlinkIfSame(o *Object) (bool, error) { return false, ErrUnsupported }

// Mapping is unavailable on this platform.
type Mapping struct{}

// Map always fails with ErrUnsupported.
func Map(o *Object, size int) (*Mapping, error) { return nil, ErrUnsupported }

// Pointer returns nil.
func (m *Mapping) Pointer() unsafe.Pointer { return nil }

// Len returns 0.
func (m *Mapping) Len() int { return 0 }

// Unmap is a no-op.
func (m *Mapping) Unmap() error { return nil }
