//go:build unix

package shm

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"
)

// DefaultDir is where segment names are resolved: the tmpfs behind shm_open on Linux,
// the temp directory elsewhere.
func DefaultDir() string {
	if runtime.GOOS == "linux" {
		return "/dev/shm"
	}
	return os.TempDir()
}

// Object is one process's descriptor on a named segment.
type Object struct {
	name string
	path string

	mu sync.Mutex
	fd int
}

// Name returns the cleaned segment name.
func (o *Object) Name() string { return o.name }

// Path returns the namespace entry backing the segment.
func (o *Object) Path() string { return o.path }

func (ns Namespace) path(name string) (string, string, error) {
	n, err := CleanName(name)
	if err != nil {
		return "", "", err
	}
	return n, filepath.Join(ns.Dir, n), nil
}

// TryCreate exclusively creates the segment and resizes it to size bytes.
// It returns ErrAlreadyExists when another process created the name first.
func (ns Namespace) TryCreate(name string, size int64) (*Object, error) {
	n, p, err := ns.path(name)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Open(p, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, uint32(ns.Perm.Perm()))
	if err != nil {
		if errors.Is(err, unix.EEXIST) {
			return nil, ErrAlreadyExists
		}
		return nil, newPlatformError("shm_open", n, err)
	}
	obj := &Object{name: n, path: p, fd: fd}
	if err := obj.resize(ns.Dir, size); err != nil {
		_ = unix.Unlink(p)
		_ = obj.Close()
		return nil, err
	}
	return obj, nil
}

// OpenExisting opens a segment that must already exist. It never creates one.
func (ns Namespace) OpenExisting(name string) (*Object, error) {
	n, p, err := ns.path(name)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Open(p, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, newPlatformError("shm_open", n, err)
	}
	return &Object{name: n, path: p, fd: fd}, nil
}

// Unlink removes the name from the namespace. Existing mappings stay valid.
func (ns Namespace) Unlink(name string) error {
	n, p, err := ns.path(name)
	if err != nil {
		return err
	}
	if err := unix.Unlink(p); err != nil {
		return newPlatformError("shm_unlink", n, err)
	}
	return nil
}

// Exists reports whether the name is currently present in the namespace.
func (ns Namespace) Exists(name string) (bool, error) {
	n, p, err := ns.path(name)
	if err != nil {
		return false, err
	}
	var st unix.Stat_t
	if err := unix.Stat(p, &st); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return false, nil
		}
		return false, newPlatformError("stat", n, err)
	}
	return true, nil
}

// UnlinkIfSame removes the object's name only while it still resolves to the
// segment behind the object's descriptor. It reports whether the name was removed.
func (ns Namespace) UnlinkIfSame(o *Object) (bool, error) {
	fd, err := o.descriptor()
	if err != nil {
		return false, err
	}
	var mine, named unix.Stat_t
	if err := unix.Fstat(fd, &mine); err != nil {
		return false, newPlatformError("fstat", o.name, err)
	}
	if err := unix.Stat(o.path, &named); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return false, nil
		}
		return false, newPlatformError("stat", o.name, err)
	}
	if mine.Dev != named.Dev || mine.Ino != named.Ino {
		return false, nil
	}
	if err := unix.Unlink(o.path); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return false, nil
		}
		return false, newPlatformError("shm_unlink", o.name, err)
	}
	return true, nil
}

func (o *Object) resize(dir string, size int64) error {
	if size <= 0 {
		return newPlatformError("ftruncate", o.name, unix.EINVAL)
	}
	if !canCreateOnDevShm(uint64(size), dir) {
		return &PlatformError{Op: "ftruncate", Name: o.name, Kind: ErrResourceExhausted, Err: unix.ENOSPC}
	}
	if err := unix.Ftruncate(o.fd, size); err != nil {
		return newPlatformError("ftruncate", o.name, err)
	}
	return nil
}

// Size returns the current byte size of the segment.
func (o *Object) Size() (int64, error) {
	fd, err := o.descriptor()
	if err != nil {
		return 0, err
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return 0, newPlatformError("fstat", o.name, err)
	}
	return st.Size, nil
}

func (o *Object) descriptor() (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fd < 0 {
		return -1, newPlatformError("fd", o.name, unix.EBADF)
	}
	return o.fd, nil
}

// Close releases the local descriptor. Mappings made from it stay valid.
// Calling Close more than once is a no-op.
func (o *Object) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fd < 0 {
		return nil
	}
	fd := o.fd
	o.fd = -1
	if err := unix.Close(fd); err != nil {
		return newPlatformError("close", o.name, err)
	}
	return nil
}

func newPlatformError(op, name string, err error) *PlatformError {
	return &PlatformError{Op: op, Name: name, Kind: classify(err), Err: err}
}

func classify(err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return nil
	}
	switch errno {
	case unix.ENOENT:
		return ErrNotFound
	case unix.EEXIST:
		return ErrAlreadyExists
	case unix.EACCES, unix.EPERM:
		return ErrPermissionDenied
	case unix.ENOMEM, unix.ENOSPC, unix.EMFILE, unix.ENFILE, unix.EFBIG:
		return ErrResourceExhausted
	case unix.ENAMETOOLONG:
		return ErrNameTooLong
	}
	return nil
}
