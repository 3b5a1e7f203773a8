// Non-Windows build stub, mirroring linux/driver_stub.go.
//
//go:build !windows

package windows

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tripwire/ratewatch/pkg/wire"
)

// ErrNotSupported is returned by every Driver method off Windows.
var ErrNotSupported = errors.New("windows driver: not supported on this platform")

// Driver is a no-op stand-in so the package still type-checks off Windows.
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
