// Non-Linux build stub, mirroring the teacher's
// internal/watcher/ebpf/process_stub.go pattern: this package still compiles
// on other GOOS values (so internal/driver's build-tag-gated constructors
// can reference linux.New unconditionally from documentation, and so `go
// vet ./...` style tooling on a non-Linux host doesn't choke), it just never
// does anything.
//
//go:build !linux

package linux

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tripwire/ratewatch/pkg/wire"
)

// ErrNotSupported is returned by every Driver method on non-Linux builds.
var ErrNotSupported = errors.New("linux driver: not supported on this platform")

// Driver is a no-op stand-in so the package still type-checks off Linux.
type Driver struct{}

func New(_ *slog.Logger) (*Driver, error) {
	return nil, ErrNotSupported
}

func (d *Driver) SetMonitor(name string, threshold wire.Threshold) error { return ErrNotSupported }
func (d *Driver) ClearMonitor() error                                   { return ErrNotSupported }
func (d *Driver) NextEvent(ctx context.Context, timeout time.Duration) (*wire.Event, error) {
	return nil, ErrNotSupported
}
func (d *Driver) Close() error { return ErrNotSupported }
