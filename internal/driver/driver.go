// Package driver defines the platform-agnostic surface that pkg/tracer
// drives: attach the kernel-side collector, mutate the watchlist, wait for
// the next event, and tear everything down. The concrete implementation is
// selected at compile time by build tags (new_linux.go / new_windows.go /
// new_other.go), mirroring how the teacher's watcher package picks a
// process-watcher implementation per platform without any interface-based
// runtime dispatch (see internal/probe's doc comment on §9's "no virtual
// dispatch is needed" note — the OS selection here is the one place a Go
// interface is still useful, since pkg/tracer itself must be written once).
package driver

import (
	"context"
	"time"

	"github.com/tripwire/ratewatch/pkg/wire"
)

// Driver owns the kernel-side collector: loading/attaching probes on
// construction, the watchlist control channel, and the event transport.
type Driver interface {
	// SetMonitor inserts or replaces the threshold for name.
	SetMonitor(name string, threshold wire.Threshold) error

	// ClearMonitor removes every watchlist entry.
	ClearMonitor() error

	// NextEvent blocks up to timeout waiting for a transport event. It
	// returns (nil, nil) on timeout — not an error, per §7.
	NextEvent(ctx context.Context, timeout time.Duration) (*wire.Event, error)

	// Close releases every resource the driver holds (ring, device handles,
	// background goroutines). Close is idempotent.
	Close() error
}
