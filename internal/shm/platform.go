// Package shm contains platform-specific helpers for named shared memory segments:
// creation and lookup in the OS namespace, mapping, and the futex words used by the
// process-shared mutex.
package shm

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Maximum length of a segment name, excluding the leading slash.
const maxNameLen = 255

var (
	ErrNotFound          = errors.New("shared memory segment not found")
	ErrAlreadyExists     = errors.New("shared memory segment already exists")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrNameTooLong       = errors.New("shared memory name too long")
	ErrInvalidName       = errors.New("invalid shared memory name")
	ErrUnsupported       = errors.New("shared memory is not supported on this platform")
)

// PlatformError records a failed platform call on a named segment.
// It unwraps to both the classified sentinel (Kind) and the raw errno (Err).
type PlatformError struct {
	Op   string
	Name string
	Kind error
	Err  error
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Err)
}

func (e *PlatformError) Unwrap() []error {
	if e.Kind == nil {
		return []error{e.Err}
	}
	return []error{e.Kind, e.Err}
}

// Namespace is the OS registry of named segments. Every segment lives as an entry
// under Dir; two handles using the same name and Dir refer to the same segment.
type Namespace struct {
	Dir  string
	Perm os.FileMode
}

// NewNamespace returns a namespace rooted at dir, or at DefaultDir when dir is empty.
func NewNamespace(dir string, perm os.FileMode) Namespace {
	if dir == "" {
		dir = DefaultDir()
	}
	if perm == 0 {
		perm = 0600
	}
	return Namespace{Dir: dir, Perm: perm}
}

// CleanName strips the conventional leading slash and validates the rest.
func CleanName(name string) (string, error) {
	n := strings.TrimPrefix(name, "/")
	if n == "" || strings.ContainsRune(n, '/') || n == "." || n == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if len(n) > maxNameLen {
		return "", fmt.Errorf("%w: %d bytes", ErrNameTooLong, len(n))
	}
	return n, nil
}
