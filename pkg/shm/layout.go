package shm

import (
	"fmt"
	"reflect"
	"unsafe"
)

const (
	regionMagic uint32 = 0x53484d41 // "SHMA"
	readyMagic  uint32 = 0x52454459 // "REDY"
)

// regionHeader sits at offset 0 of every mapped region. The first two fields are the
// process-shared mutex and the attachment counter; the rest describes the layout so
// every attacher can check it agrees with the creator.
type regionHeader struct {
	mu            mutexWord
	refs          uint64
	magic         uint32
	ready         uint32
	size          uint64
	payloadOffset uint64
	payloadSize   uint64
	payloadAlign  uint64
}

const headerSize = unsafe.Sizeof(regionHeader{})

type region[T any] struct {
	hdr     regionHeader
	payload T
}

// Layout describes where the header and a payload of a given type live in a region.
// It depends only on the payload's size and alignment, so every process running the
// same binary layout computes the same one.
type Layout struct {
	HeaderSize    uintptr
	PayloadOffset uintptr
	PayloadSize   uintptr
	PayloadAlign  uintptr
	Size          uintptr
}

// LayoutFor computes the region layout for payload type T. T must be plain data:
// booleans, numbers, and arrays or structs made of them.
func LayoutFor[T any]() (Layout, error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if err := checkPlainData(t); err != nil {
		return Layout{}, err
	}
	l := Layout{
		HeaderSize:   headerSize,
		PayloadSize:  t.Size(),
		PayloadAlign: uintptr(t.Align()),
	}
	l.PayloadOffset = alignUp(l.HeaderSize, l.PayloadAlign)
	l.Size = alignUp(l.PayloadOffset+l.PayloadSize, max(l.PayloadAlign, unsafe.Alignof(uint64(0))))

	r := (*region[T])(nil)
	if got := unsafe.Offsetof(r.payload); got != l.PayloadOffset {
		return Layout{}, fmt.Errorf("%w: payload offset %d, computed %d", ErrLayoutMismatch, got, l.PayloadOffset)
	}
	return l, nil
}

func (l Layout) describe(h *regionHeader) {
	h.size = uint64(l.Size)
	h.payloadOffset = uint64(l.PayloadOffset)
	h.payloadSize = uint64(l.PayloadSize)
	h.payloadAlign = uint64(l.PayloadAlign)
	h.magic = regionMagic
}

func (l Layout) check(h *regionHeader) error {
	if h.magic != regionMagic {
		return fmt.Errorf("%w: bad magic %#x", ErrLayoutMismatch, h.magic)
	}
	if h.size != uint64(l.Size) || h.payloadOffset != uint64(l.PayloadOffset) ||
		h.payloadSize != uint64(l.PayloadSize) || h.payloadAlign != uint64(l.PayloadAlign) {
		return fmt.Errorf("%w: segment {size:%d offset:%d payload:%d align:%d}, want {size:%d offset:%d payload:%d align:%d}",
			ErrLayoutMismatch, h.size, h.payloadOffset, h.payloadSize, h.payloadAlign,
			l.Size, l.PayloadOffset, l.PayloadSize, l.PayloadAlign)
	}
	return nil
}

func checkPlainData(t reflect.Type) error {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return nil
	case reflect.Array:
		if err := checkPlainData(t.Elem()); err != nil {
			return fmt.Errorf("%v: %w", t, err)
		}
		return nil
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if err := checkPlainData(f.Type); err != nil {
				return fmt.Errorf("%v.%s: %w", t, f.Name, err)
			}
		}
		return nil
	}
	return fmt.Errorf("%w: %v holds a %s", ErrUnsupportedPayload, t, t.Kind())
}

func alignUp(n, align uintptr) uintptr {
	if align <= 1 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}
