package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/srediag/shmarc/api"
)

const (
	defaultPerm        os.FileMode = 0600
	defaultInitTimeout             = 5 * time.Second
)

// InitPolicy decides who writes the initial value passed to CreateOrOpen.
type InitPolicy int

const (
	// InitIfCreated writes the initial value only when the call created the segment.
	// Callers attaching to an existing segment leave its payload untouched.
	InitIfCreated InitPolicy = iota
	// InitAlways also overwrites the payload of an existing segment, under its lock.
	InitAlways
)

func (p InitPolicy) String() string {
	switch p {
	case InitIfCreated:
		return "init-if-created"
	case InitAlways:
		return "init-always"
	}
	return fmt.Sprintf("InitPolicy(%d)", int(p))
}

// Config holds segment creation and attachment parameters.
type Config struct {
	// NamespaceDir is where segment names live; empty means /dev/shm on Linux and
	// the temp directory elsewhere.
	NamespaceDir string
	// Perm is the permission of newly created segments. It must grant the owner
	// read and write access.
	Perm os.FileMode
	// Init selects who writes the initial payload.
	Init InitPolicy
	// InitTimeout bounds how long an attacher waits for a racing creator to
	// finish publishing the segment.
	InitTimeout time.Duration

	Meter    metric.Meter
	Tracer   trace.Tracer
	Observer api.Observer
}

// DefaultConfig returns the default configuration, honoring SHMARC_NAMESPACE_DIR and
// SHMARC_INIT_TIMEOUT from the environment.
func DefaultConfig() *Config {
	c := &Config{
		NamespaceDir: os.Getenv("SHMARC_NAMESPACE_DIR"),
		Perm:         defaultPerm,
		Init:         InitIfCreated,
		InitTimeout:  defaultInitTimeout,
	}
	if v := os.Getenv("SHMARC_INIT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.InitTimeout = d
		} else {
			internalLogger.warnf("ignoring SHMARC_INIT_TIMEOUT=%q", v)
		}
	}
	return c
}

// VerifyConfig reports the first invalid field of c.
func VerifyConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if c.NamespaceDir != "" && !filepath.IsAbs(c.NamespaceDir) {
		return fmt.Errorf("%w: namespace dir %q is not absolute", ErrInvalidConfig, c.NamespaceDir)
	}
	if c.Perm&^os.ModePerm != 0 {
		return fmt.Errorf("%w: perm %v carries non-permission bits", ErrInvalidConfig, c.Perm)
	}
	if c.Perm&0600 != 0600 {
		return fmt.Errorf("%w: perm %v must grant owner read and write", ErrInvalidConfig, c.Perm)
	}
	if c.Init != InitIfCreated && c.Init != InitAlways {
		return fmt.Errorf("%w: unknown %v", ErrInvalidConfig, c.Init)
	}
	if c.InitTimeout <= 0 {
		return fmt.Errorf("%w: init timeout %v must be positive", ErrInvalidConfig, c.InitTimeout)
	}
	return nil
}
