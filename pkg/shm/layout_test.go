package shm

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	X, Y int32
	Tag  [3]byte
	Ok   bool
}

type withPointer struct {
	N    uint64
	Next *withPointer
}

func TestHeaderSize(t *testing.T) {
	assert.Equal(t, uintptr(64), headerSize)
	var h regionHeader
	assert.Equal(t, uintptr(0), unsafe.Offsetof(h.mu))
	assert.Equal(t, uintptr(0), unsafe.Offsetof(h.mu.state)%4)
	assert.Equal(t, uintptr(0), unsafe.Offsetof(h.refs)%8)
}

func TestLayoutFor(t *testing.T) {
	l, err := LayoutFor[uint64]()
	require.NoError(t, err)
	assert.Equal(t, Layout{HeaderSize: 64, PayloadOffset: 64, PayloadSize: 8, PayloadAlign: 8, Size: 72}, l)

	l, err = LayoutFor[point]()
	require.NoError(t, err)
	assert.Equal(t, uintptr(64), l.PayloadOffset)
	assert.Equal(t, unsafe.Sizeof(point{}), l.PayloadSize)
	assert.Equal(t, uintptr(4), l.PayloadAlign)
	assert.Equal(t, uintptr(0), l.Size%8)
	assert.GreaterOrEqual(t, l.Size, l.PayloadOffset+l.PayloadSize)
}

func TestLayoutForRejectsProcessLocalData(t *testing.T) {
	for name, f := range map[string]func() error{
		"pointer":   func() error { _, err := LayoutFor[*int](); return err },
		"string":    func() error { _, err := LayoutFor[string](); return err },
		"slice":     func() error { _, err := LayoutFor[[]byte](); return err },
		"map":       func() error { _, err := LayoutFor[map[int]int](); return err },
		"chan":      func() error { _, err := LayoutFor[chan int](); return err },
		"interface": func() error { _, err := LayoutFor[any](); return err },
		"field":     func() error { _, err := LayoutFor[withPointer](); return err },
		"element":   func() error { _, err := LayoutFor[[2]*int](); return err },
	} {
		assert.ErrorIs(t, f(), ErrUnsupportedPayload, name)
	}
}

func TestLayoutCheck(t *testing.T) {
	l, err := LayoutFor[uint64]()
	require.NoError(t, err)

	var h regionHeader
	assert.ErrorIs(t, l.check(&h), ErrLayoutMismatch, "zero header")

	l.describe(&h)
	assert.NoError(t, l.check(&h))

	other, err := LayoutFor[uint32]()
	require.NoError(t, err)
	assert.ErrorIs(t, other.check(&h), ErrLayoutMismatch)
}

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uintptr(64), alignUp(64, 8))
	assert.Equal(t, uintptr(72), alignUp(65, 8))
	assert.Equal(t, uintptr(65), alignUp(65, 1))
	assert.Equal(t, uintptr(65), alignUp(65, 0))
}
