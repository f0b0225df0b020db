//go:build !linux

package shm

import (
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Waiter polls a 32-bit word in shared memory with exponential backoff. There is no
// portable cross-process futex outside Linux.
type Waiter struct {
	b *backoff.ExponentialBackOff
}

// NewWaiter returns a waiter for one acquisition attempt.
func NewWaiter() *Waiter {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Microsecond
	b.MaxInterval = 5 * time.Millisecond
	b.MaxElapsedTime = 0
	b.Reset()
	return &Waiter{b: b}
}

// Wait sleeps while *addr == val, for at most one backoff step.
func (w *Waiter) Wait(addr *uint32, val uint32) error {
	if atomic.LoadUint32(addr) != val {
		return nil
	}
	time.Sleep(w.b.NextBackOff())
	return nil
}

// Wake is a no-op: pollers notice the change on their next step.
func Wake(addr *uint32, n int) error { return nil }
