package shm

import (
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

const devShmDir = "/dev/shm"

// canCreateOnDevShm reports whether size more bytes fit on the tmpfs behind dir.
// Directories outside /dev/shm are not checked; ftruncate reports their failures.
func canCreateOnDevShm(size uint64, dir string) bool {
	if !strings.HasPrefix(dir, devShmDir) {
		return true
	}
	stat, err := disk.Usage(devShmDir)
	if err != nil {
		return true
	}
	return stat.Free >= size
}
