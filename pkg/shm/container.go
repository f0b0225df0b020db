package shm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/cenkalti/backoff/v4"

	"github.com/srediag/shmarc/api"
	internalshm "github.com/srediag/shmarc/internal/shm"
)

var _ api.Segment = (*Container[uint64])(nil)

// errNotPublished: the creator has not finished initializing the segment yet.
var errNotPublished = errors.New("segment not published yet")

// Container is one process-local attachment to a named segment holding a T, shared
// with every other attachment of the same name on the host. The segment is destroyed
// when the last attachment detaches.
type Container[T any] struct {
	name    string
	ns      internalshm.Namespace
	layout  Layout
	created bool
	tel     *telemetry

	obj     *internalshm.Object
	mapping *internalshm.Mapping
	hdr     *regionHeader
	payload *T
	mu      *Mutex

	detachMu  sync.Mutex
	detached  atomic.Bool
	lastCount uint64
	guards    int // live or pending guards, guarded by detachMu
}

// CreateOrOpen attaches to the segment `name`, creating it when it does not exist.
// The creator zeroes the region, initializes the lock and writes initial; whether
// later callers overwrite the payload is decided by cfg.Init. A nil cfg means
// DefaultConfig().
func CreateOrOpen[T any](ctx context.Context, name string, initial T, cfg *Config) (c *Container[T], err error) {
	cfg, layout, err := prepare[T](cfg)
	if err != nil {
		return nil, err
	}
	tel := newTelemetry(cfg)
	ctx, span := tel.start(ctx, "CreateOrOpen", name)
	defer func() { tel.end(span, err) }()

	ns := internalshm.NewNamespace(cfg.NamespaceDir, cfg.Perm)
	op := func() error {
		var opErr error
		c, opErr = create(ns, name, layout, initial, tel)
		if opErr == nil {
			return nil
		}
		if !errors.Is(opErr, internalshm.ErrAlreadyExists) {
			return backoff.Permanent(opErr)
		}
		c, opErr = attach[T](ctx, ns, name, layout, cfg, tel)
		if errors.Is(opErr, ErrNotFound) {
			// the segment vanished or is being destroyed; race for a fresh one
			internalLogger.debugf("segment %s: lost create race to a dying segment, retrying", name)
			return opErr
		}
		if opErr != nil {
			return backoff.Permanent(opErr)
		}
		return nil
	}
	if err = backoff.Retry(op, backoff.WithContext(newInitBackOff(cfg.InitTimeout), ctx)); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: segment %s stuck being destroyed: %v", ErrNotInitialized, name, err)
		}
		return nil, err
	}

	if !c.created && cfg.Init == InitAlways {
		c.WithLock(func(v *T) { *v = initial })
	}
	tel.attached(ctx, c.name, c.created)
	internalLogger.infof("segment %s: attached, created=%t counter=%d", c.name, c.created, c.ReadCounter())
	return c, nil
}

// Open attaches to an existing segment without touching its payload. It fails with
// ErrNotFound, and creates nothing, when the segment does not exist.
func Open[T any](ctx context.Context, name string, cfg *Config) (c *Container[T], err error) {
	cfg, layout, err := prepare[T](cfg)
	if err != nil {
		return nil, err
	}
	tel := newTelemetry(cfg)
	ctx, span := tel.start(ctx, "Open", name)
	defer func() { tel.end(span, err) }()

	ns := internalshm.NewNamespace(cfg.NamespaceDir, cfg.Perm)
	if c, err = attach[T](ctx, ns, name, layout, cfg, tel); err != nil {
		return nil, err
	}
	tel.attached(ctx, c.name, false)
	internalLogger.infof("segment %s: opened, counter=%d", c.name, c.ReadCounter())
	return c, nil
}

func prepare[T any](cfg *Config) (*Config, Layout, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := VerifyConfig(cfg); err != nil {
		return nil, Layout{}, err
	}
	layout, err := LayoutFor[T]()
	if err != nil {
		return nil, Layout{}, err
	}
	return cfg, layout, nil
}

func newInitBackOff(timeout time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	b.MaxElapsedTime = timeout
	b.Reset()
	return b
}

// create makes this call the initializer of a fresh segment. The segment counts its
// creator as the first attachment before it is marked ready.
func create[T any](ns internalshm.Namespace, name string, layout Layout, initial T, tel *telemetry) (*Container[T], error) {
	obj, err := ns.TryCreate(name, int64(layout.Size))
	if err != nil {
		return nil, err
	}
	m, err := internalshm.Map(obj, int(layout.Size))
	if err != nil {
		_, _ = ns.UnlinkIfSame(obj)
		_ = obj.Close()
		return nil, err
	}
	base := m.Pointer()
	clear(unsafe.Slice((*byte)(base), layout.Size))

	hdr := (*regionHeader)(base)
	layout.describe(hdr)
	mu := initializeMutexAt(unsafe.Pointer(&hdr.mu), obj.Name())
	internalshm.AtomicStoreUint64(unsafe.Pointer(&hdr.refs), 1)
	payload := (*T)(unsafe.Add(base, layout.PayloadOffset))
	*payload = initial
	atomic.StoreUint32(&hdr.ready, readyMagic)

	internalLogger.debugf("segment %s: created, %d bytes", obj.Name(), layout.Size)
	return &Container[T]{
		name:    obj.Name(),
		ns:      ns,
		layout:  layout,
		created: true,
		tel:     tel,
		obj:     obj,
		mapping: m,
		hdr:     hdr,
		payload: payload,
		mu:      mu,
	}, nil
}

// attach opens an existing segment, waits until its creator published it, checks
// its layout and counts one more attachment.
func attach[T any](ctx context.Context, ns internalshm.Namespace, name string, layout Layout, cfg *Config, tel *telemetry) (*Container[T], error) {
	obj, err := ns.OpenExisting(name)
	if err != nil {
		return nil, err
	}
	m, err := mapPublished(ctx, obj, layout, cfg.InitTimeout)
	if err != nil {
		_ = obj.Close()
		return nil, err
	}
	base := m.Pointer()
	hdr := (*regionHeader)(base)
	if err := layout.check(hdr); err != nil {
		_ = m.Unmap()
		_ = obj.Close()
		return nil, fmt.Errorf("segment %s: %w", obj.Name(), err)
	}
	if !internalshm.IncrementIfNonZero(unsafe.Pointer(&hdr.refs)) {
		_ = m.Unmap()
		_ = obj.Close()
		return nil, fmt.Errorf("%w: segment %s is being destroyed", ErrNotFound, obj.Name())
	}
	return &Container[T]{
		name:    obj.Name(),
		ns:      ns,
		layout:  layout,
		tel:     tel,
		obj:     obj,
		mapping: m,
		hdr:     hdr,
		payload: (*T)(unsafe.Add(base, layout.PayloadOffset)),
		mu:      mutexAt(unsafe.Pointer(&hdr.mu), obj.Name()),
	}, nil
}

// mapPublished maps the segment once it has its full size and waits for the ready mark.
func mapPublished(ctx context.Context, obj *internalshm.Object, layout Layout, timeout time.Duration) (*internalshm.Mapping, error) {
	var m *internalshm.Mapping
	op := func() error {
		if m == nil {
			size, err := obj.Size()
			if err != nil {
				return backoff.Permanent(err)
			}
			if size == 0 {
				return errNotPublished
			}
			if size != int64(layout.Size) {
				return backoff.Permanent(fmt.Errorf("segment %s: %w: %d bytes, want %d",
					obj.Name(), ErrLayoutMismatch, size, layout.Size))
			}
			if m, err = internalshm.Map(obj, int(layout.Size)); err != nil {
				return backoff.Permanent(err)
			}
		}
		hdr := (*regionHeader)(m.Pointer())
		if atomic.LoadUint32(&hdr.ready) != readyMagic {
			return errNotPublished
		}
		return nil
	}
	err := backoff.Retry(op, backoff.WithContext(newInitBackOff(timeout), ctx))
	if err == nil {
		return m, nil
	}
	if m != nil {
		_ = m.Unmap()
	}
	if errors.Is(err, errNotPublished) {
		return nil, fmt.Errorf("%w: segment %s", ErrNotInitialized, obj.Name())
	}
	return nil, err
}

// Name returns the segment name without its leading slash.
func (c *Container[T]) Name() string { return c.name }

// Layout returns the region layout of the segment.
func (c *Container[T]) Layout() Layout { return c.layout }

// Created reports whether the call that returned c created the segment.
func (c *Container[T]) Created() bool { return c.created }

// Attached reports whether c has not detached yet.
func (c *Container[T]) Attached() bool { return !c.detached.Load() }

// ReadCounter returns the number of live attachments. It is a single atomic load and
// is not ordered with concurrent attaches or detaches. Once c detached, it returns
// the count c observed when detaching.
func (c *Container[T]) ReadCounter() uint64 {
	c.detachMu.Lock()
	defer c.detachMu.Unlock()
	if c.detached.Load() {
		return c.lastCount
	}
	return internalshm.AtomicLoadUint64(unsafe.Pointer(&c.hdr.refs))
}

// LockOwner returns the pid holding the segment lock, 0 when it is free or c detached.
func (c *Container[T]) LockOwner() int {
	c.detachMu.Lock()
	defer c.detachMu.Unlock()
	if c.detached.Load() {
		return 0
	}
	return c.mu.Owner()
}

// Lock blocks until c holds the segment lock and returns a guard over the payload.
// Locking a detached handle is fatal. c stays mapped until the guard is unlocked.
func (c *Container[T]) Lock() *Guard[T] {
	c.detachMu.Lock()
	if c.detached.Load() {
		c.detachMu.Unlock()
		fatalf("segment %s: lock on a detached handle", c.name)
		return nil
	}
	c.guards++
	mu, payload := c.mu, c.payload
	c.detachMu.Unlock()

	start := time.Now()
	mu.Lock()
	c.tel.lockAcquired(c.name, time.Since(start))
	return &Guard[T]{m: mu, value: payload, done: c.guardDone}
}

func (c *Container[T]) guardDone() {
	c.detachMu.Lock()
	c.guards--
	c.detachMu.Unlock()
}

// checkNoGuards must run with detachMu held.
func (c *Container[T]) checkNoGuards() error {
	if c.guards > 0 {
		fatalf("segment %s: detach while a guard is held", c.name)
		return fmt.Errorf("segment %s: %d guards still held", c.name, c.guards)
	}
	return nil
}

// WithLock runs fn with exclusive access to the payload. The lock is released on
// every exit path of fn, panics included.
func (c *Container[T]) WithLock(fn func(v *T)) {
	g := c.Lock()
	defer g.Unlock()
	fn(g.Value())
}

// Unlink detaches c. The detach that takes the counter from one to zero destroys
// the segment: its name is removed, then the mapping and descriptor are released.
// Every other detach only releases its own mapping and descriptor. Detaching while
// a guard from c.Lock is still held is fatal.
func (c *Container[T]) Unlink(ctx context.Context) (err error) {
	ctx, span := c.tel.start(ctx, "Unlink", c.name)
	defer func() { c.tel.end(span, err) }()

	c.detachMu.Lock()
	defer c.detachMu.Unlock()
	if c.detached.Load() {
		return fmt.Errorf("%w: %s", ErrDetached, c.name)
	}
	if err = c.checkNoGuards(); err != nil {
		return err
	}
	prev := internalshm.DecrementIfNonZero(unsafe.Pointer(&c.hdr.refs))
	destroy := prev == 1
	if prev > 0 {
		c.lastCount = prev - 1
	}
	c.detached.Store(true)
	err = c.release(destroy)
	c.tel.detached(ctx, c.name, destroy)
	internalLogger.infof("segment %s: detached, counter=%d destroyed=%t", c.name, c.lastCount, destroy)
	return err
}

// ForceUnlink destroys the segment whatever its counter says. Other handles keep
// their mappings; their later Unlink only releases local resources. The caller makes
// sure nobody else still depends on the segment.
func (c *Container[T]) ForceUnlink(ctx context.Context) (err error) {
	ctx, span := c.tel.start(ctx, "ForceUnlink", c.name)
	defer func() { c.tel.end(span, err) }()

	c.detachMu.Lock()
	defer c.detachMu.Unlock()
	if c.detached.Load() {
		return fmt.Errorf("%w: %s", ErrDetached, c.name)
	}
	if err = c.checkNoGuards(); err != nil {
		return err
	}
	prev := internalshm.AtomicLoadUint64(unsafe.Pointer(&c.hdr.refs))
	internalshm.AtomicStoreUint64(unsafe.Pointer(&c.hdr.refs), 0)
	c.lastCount = 0
	c.detached.Store(true)
	err = c.release(true)
	c.tel.detached(ctx, c.name, true)
	if prev > 1 {
		internalLogger.warnf("segment %s: force unlinked with %d other attachments", c.name, prev-1)
	}
	return err
}

// Close detaches c; it is Unlink with a background context.
func (c *Container[T]) Close() error {
	return c.Unlink(context.Background())
}

func (c *Container[T]) release(destroy bool) error {
	var errs []error
	if destroy {
		if _, err := c.ns.UnlinkIfSame(c.obj); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.mapping.Unmap(); err != nil {
		errs = append(errs, err)
	}
	if err := c.obj.Close(); err != nil {
		errs = append(errs, err)
	}
	c.hdr = nil
	c.payload = nil
	return errors.Join(errs...)
}
