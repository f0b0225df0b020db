//go:build linux

package shm

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Shared (not FUTEX_PRIVATE_FLAG) operations: the kernel keys the wait queue on the
// backing page, so waiters in different processes meet on the same word.
const (
	futexWait = 0
	futexWake = 1
)

// Waiter parks the calling thread on a 32-bit word in shared memory.
type Waiter struct{}

// NewWaiter returns a waiter for one acquisition attempt.
func NewWaiter() *Waiter { return &Waiter{} }

// Wait blocks while *addr == val. It may return spuriously; callers re-check.
func (w *Waiter) Wait(addr *uint32, val uint32) error {
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(addr)), futexWait, uintptr(val), 0, 0, 0)
	switch errno {
	case 0, unix.EAGAIN, unix.EINTR:
		return nil
	}
	return &PlatformError{Op: "futex_wait", Err: errno}
}

// Wake wakes up to n threads parked on addr in any process.
func Wake(addr *uint32, n int) error {
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(addr)), futexWake, uintptr(n), 0, 0, 0)
	if errno != 0 {
		return &PlatformError{Op: "futex_wake", Err: errno}
	}
	return nil
}
