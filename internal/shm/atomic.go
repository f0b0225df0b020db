package shm

import (
	"sync/atomic"
	"unsafe"
)

// AtomicLoadUint64 loads a uint64 from shared memory atomically.
func AtomicLoadUint64(addr unsafe.Pointer) uint64 {
	return atomic.LoadUint64((*uint64)(addr))
}

// AtomicStoreUint64 stores a uint64 to shared memory atomically.
func AtomicStoreUint64(addr unsafe.Pointer, val uint64) {
	atomic.StoreUint64((*uint64)(addr), val)
}

// AtomicCompareAndSwapUint64 atomically compares and swaps a uint64 in shared memory.
func AtomicCompareAndSwapUint64(addr unsafe.Pointer, old, new uint64) bool {
	return atomic.CompareAndSwapUint64((*uint64)(addr), old, new)
}

// IncrementIfNonZero adds one to the word unless it is zero. A zero count marks a
// segment being torn down, which must not be revived. It reports whether it added.
func IncrementIfNonZero(addr unsafe.Pointer) bool {
	for {
		n := AtomicLoadUint64(addr)
		if n == 0 {
			return false
		}
		if AtomicCompareAndSwapUint64(addr, n, n+1) {
			return true
		}
	}
}

// DecrementIfNonZero subtracts one from the word unless it is already zero.
// It returns the value observed before the subtraction; only the caller that
// observed 1 performed the 1->0 transition.
func DecrementIfNonZero(addr unsafe.Pointer) uint64 {
	for {
		n := AtomicLoadUint64(addr)
		if n == 0 {
			return 0
		}
		if AtomicCompareAndSwapUint64(addr, n, n-1) {
			return n
		}
	}
}
