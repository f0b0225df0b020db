// Package shm shares one fixed-size value of type T between processes on the same
// host through a named shared-memory segment.
//
// Every segment carries a process-shared mutex guarding the value and an attachment
// counter. The first CreateOrOpen for a name creates and initializes the segment;
// later calls, in any process, attach to it. Each Unlink detaches one handle, and the
// detach that takes the counter to zero removes the segment.
//
//	c, err := shm.CreateOrOpen(ctx, "jobs", uint64(0), nil)
//	if err != nil {
//		return err
//	}
//	defer c.Unlink(ctx)
//
//	c.WithLock(func(n *uint64) { *n++ })
//
// T must be plain data (numbers, booleans, and arrays or structs of them), since
// pointers are meaningless in another address space. All attachers of a name must
// use a T with the same size and alignment; a mismatch fails with ErrLayoutMismatch.
//
// The package is instrumented with OpenTelemetry metrics and tracing through
// Config.Meter and Config.Tracer, and reports lifecycle events to Config.Observer.
package shm
