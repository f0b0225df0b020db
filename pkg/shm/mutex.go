package shm

import (
	"os"
	"sync/atomic"
	"unsafe"

	internalshm "github.com/srediag/shmarc/internal/shm"
)

const (
	mutexUnlocked  uint32 = 0
	mutexLocked    uint32 = 1
	mutexContended uint32 = 2

	mutexMagic uint32 = 0x4d555458 // "MUTX"
)

// mutexWord is the lock storage inside a region. state is the futex word.
type mutexWord struct {
	state uint32
	owner uint32
	magic uint32
	_     uint32
}

var selfPID = uint32(os.Getpid())

// Mutex is a mutual exclusion lock whose state lives in a shared region, so every
// process mapping the region synchronizes on the same word. It is a three-state
// futex lock: 0 free, 1 held, 2 held with possible waiters.
//
// Unlocking a Mutex that is not held by the calling process terminates the process.
type Mutex struct {
	w    *mutexWord
	name string
}

// initializeMutexAt constructs a process-shared mutex at p. It must run exactly once
// per segment lifetime; a second initialization is fatal.
func initializeMutexAt(p unsafe.Pointer, name string) *Mutex {
	w := (*mutexWord)(p)
	if !atomic.CompareAndSwapUint32(&w.magic, 0, mutexMagic) {
		fatalf("mutex of segment %s initialized twice", name)
		return nil
	}
	atomic.StoreUint32(&w.owner, 0)
	atomic.StoreUint32(&w.state, mutexUnlocked)
	return &Mutex{w: w, name: name}
}

// mutexAt attaches to a mutex some other process already initialized at p.
func mutexAt(p unsafe.Pointer, name string) *Mutex {
	w := (*mutexWord)(p)
	if atomic.LoadUint32(&w.magic) != mutexMagic {
		fatalf("mutex of segment %s used before initialization", name)
		return nil
	}
	return &Mutex{w: w, name: name}
}

// Lock blocks until the mutex is acquired. There is no timeout or cancellation.
func (m *Mutex) Lock() {
	if atomic.CompareAndSwapUint32(&m.w.state, mutexUnlocked, mutexLocked) {
		atomic.StoreUint32(&m.w.owner, selfPID)
		return
	}
	internalLogger.tracef("segment %s: lock contended, owner pid %d", m.name, atomic.LoadUint32(&m.w.owner))
	waiter := internalshm.NewWaiter()
	c := atomic.LoadUint32(&m.w.state)
	if c != mutexContended {
		c = atomic.SwapUint32(&m.w.state, mutexContended)
	}
	for c != mutexUnlocked {
		if err := waiter.Wait(&m.w.state, mutexContended); err != nil {
			fatalf("segment %s: lock wait: %v", m.name, err)
			return
		}
		c = atomic.SwapUint32(&m.w.state, mutexContended)
	}
	atomic.StoreUint32(&m.w.owner, selfPID)
}

// Unlock releases the mutex. Unlocking a free mutex, or one held by another
// process, is fatal.
func (m *Mutex) Unlock() {
	if owner := atomic.LoadUint32(&m.w.owner); owner != selfPID {
		fatalf("segment %s: unlock by pid %d of a mutex held by pid %d", m.name, selfPID, owner)
		return
	}
	atomic.StoreUint32(&m.w.owner, 0)
	switch atomic.SwapUint32(&m.w.state, mutexUnlocked) {
	case mutexUnlocked:
		fatalf("segment %s: unlock of an unlocked mutex", m.name)
	case mutexContended:
		if err := internalshm.Wake(&m.w.state, 1); err != nil {
			fatalf("segment %s: lock wake: %v", m.name, err)
		}
	}
}

// Owner returns the pid of the process holding the mutex, or 0 when it is free.
func (m *Mutex) Owner() int {
	return int(atomic.LoadUint32(&m.w.owner))
}

// Guard grants exclusive access to the payload until Unlock. Pair every Lock with
// `defer g.Unlock()`, or use Container.WithLock.
type Guard[T any] struct {
	m        *Mutex
	value    *T
	released atomic.Bool
	done     func()
}

// Value returns the payload. The pointer must not be used after Unlock.
func (g *Guard[T]) Value() *T {
	if g.released.Load() {
		fatalf("segment %s: payload accessed through a released guard", g.m.name)
		return nil
	}
	return g.value
}

// Get copies the payload out.
func (g *Guard[T]) Get() T {
	return *g.Value()
}

// Set overwrites the payload.
func (g *Guard[T]) Set(v T) {
	*g.Value() = v
}

// Unlock releases the mutex. A second Unlock of the same guard is fatal.
func (g *Guard[T]) Unlock() {
	if !g.released.CompareAndSwap(false, true) {
		fatalf("segment %s: guard unlocked twice", g.m.name)
		return
	}
	g.m.Unlock()
	if g.done != nil {
		g.done()
	}
}
