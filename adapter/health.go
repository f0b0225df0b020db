package adapter

import (
	"fmt"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/srediag/shmarc/api"
)

const pidLookupTimeout = time.Second

// SegmentCheck fails once the handle detached, or once the segment was force unlinked
// under it.
func SegmentCheck(seg api.Segment) healthcheck.Check {
	return func() error {
		if !seg.Attached() {
			return fmt.Errorf("segment %s: handle detached", seg.Name())
		}
		if seg.ReadCounter() == 0 {
			return fmt.Errorf("segment %s: no attachments left, it was force unlinked", seg.Name())
		}
		return nil
	}
}

// LockOwnerCheck fails while the segment lock is held by a process that no longer
// exists. Such a lock is never released and every later Lock blocks forever.
func LockOwnerCheck(seg api.Segment) healthcheck.Check {
	return healthcheck.Timeout(func() error {
		pid := seg.LockOwner()
		if pid == 0 {
			return nil
		}
		alive, err := process.PidExists(int32(pid))
		if err != nil {
			return fmt.Errorf("segment %s: lookup lock owner %d: %w", seg.Name(), pid, err)
		}
		if !alive {
			return fmt.Errorf("segment %s: lock held by exited process %d", seg.Name(), pid)
		}
		return nil
	}, pidLookupTimeout)
}

// RegisterSegment adds the readiness and liveness checks of seg to h.
func RegisterSegment(h healthcheck.Handler, seg api.Segment) {
	h.AddReadinessCheck("shm-"+seg.Name(), SegmentCheck(seg))
	h.AddLivenessCheck("shm-"+seg.Name()+"-lock", LockOwnerCheck(seg))
}
