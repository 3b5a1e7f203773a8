// Package tracer implements the handle-based state machine §4.7/§5 describe:
// Unattached → Attached → Closing. It is the thing cmd/libratewatch's C ABI
// wraps one layer down from raw pointers — every exported method here
// already speaks Go types, leaving the FFI layer nothing to do but marshal
// C arguments in and out.
package tracer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tripwire/ratewatch/internal/driver"
	"github.com/tripwire/ratewatch/pkg/wire"
)

// state is the handle's lifecycle position, per §4.7's state machine.
type state int

const (
	stateUnattached state = iota
	stateAttached
	stateClosing
)

// ErrInvalidHandle is returned by every operation attempted outside the
// Attached state, per §4.7: "Other operations fail with 'invalid handle' in
// non-Attached states."
var ErrInvalidHandle = errors.New("tracer: invalid handle")

// Handle is the opaque tracer handle. All its methods are safe for
// concurrent use: next_event and the control calls are serialized by mu per
// §5's "serialized by a per-handle mutex" requirement, so the single-
// consumer invariant of the underlying ring holds even if a caller invokes
// next_event from two threads at once (the second simply waits its turn).
type Handle struct {
	mu     sync.Mutex
	state  state
	driver driver.Driver
	logger *slog.Logger
}

// New drives Unattached → Attached: it opens the device (Windows) or loads
// the byte-code and attaches probes (Linux) via internal/driver.New, which
// also starts that platform's background log-drain task. Returns nil and an
// error on attachment failure — the FFI layer maps that to NULL per §6/§7's
// "surfaced as NULL from new_tracer and logged".
func New(logger *slog.Logger) (*Handle, error) {
	if logger == nil {
		logger = slog.Default()
	}

	d, err := driver.New(logger)
	if err != nil {
		logger.Error("tracer attachment failed", "error", err)
		return nil, err
	}

	return &Handle{state: stateAttached, driver: d, logger: logger}, nil
}

// SetMonitor inserts or replaces the threshold for name. Returns
// ErrInvalidHandle if the handle isn't Attached.
func (h *Handle) SetMonitor(name string, threshold wire.Threshold) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != stateAttached {
		return ErrInvalidHandle
	}
	if err := h.driver.SetMonitor(name, threshold); err != nil {
		h.logger.Warn("set_monitor failed", "name", name, "error", err)
		return err
	}
	return nil
}

// ClearMonitor removes every watchlist entry. Returns ErrInvalidHandle if
// the handle isn't Attached.
func (h *Handle) ClearMonitor() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != stateAttached {
		return ErrInvalidHandle
	}
	if err := h.driver.ClearMonitor(); err != nil {
		h.logger.Warn("clear_monitor failed", "error", err)
		return err
	}
	return nil
}

// NextEvent blocks up to timeout waiting for the next transport event. A nil
// Event with a nil error means timeout — not a failure, per §7: "Timeout:
// not an error; NULL return with no log." Returns ErrInvalidHandle if the
// handle isn't Attached.
func (h *Handle) NextEvent(timeout time.Duration) (*wire.Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != stateAttached {
		return nil, ErrInvalidHandle
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout+10*time.Millisecond)
	defer cancel()

	ev, err := h.driver.NextEvent(ctx, timeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		h.logger.Warn("next_event failed", "error", err)
		return nil, err
	}
	return ev, nil
}

// Free drives Attached → Closing → Unattached: stops the background log
// drain cooperatively and releases every handle the driver holds. Free is
// idempotent; calling it more than once is a no-op after the first call.
func (h *Handle) Free() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != stateAttached {
		return
	}
	h.state = stateClosing

	if err := h.driver.Close(); err != nil {
		h.logger.Warn("tracer close failed", "error", err)
	}

	h.state = stateUnattached
}
