//go:build unix

package shm

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Mapping is one process's read/write view of a segment. Its base address is only
// meaningful inside this process and is never handed to another one.
type Mapping struct {
	name string

	mu   sync.Mutex
	data []byte
}

// Map maps size bytes of the object, shared with every other mapper of the segment.
func Map(o *Object, size int) (*Mapping, error) {
	fd, err := o.descriptor()
	if err != nil {
		return nil, err
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, newPlatformError("mmap", o.name, err)
	}
	return &Mapping{name: o.name, data: data}, nil
}

// Pointer returns the local base address, or nil once unmapped.
func (m *Mapping) Pointer() unsafe.Pointer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.data) == 0 {
		return nil
	}
	return unsafe.Pointer(&m.data[0])
}

// Len returns the mapped length, 0 once unmapped.
func (m *Mapping) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// Unmap releases the local view. Later calls are no-ops.
func (m *Mapping) Unmap() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	if err := unix.Munmap(data); err != nil {
		return newPlatformError("munmap", m.name, err)
	}
	return nil
}
