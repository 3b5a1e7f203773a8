// Package probe defines the shared dispatch surface every OS-specific
// adapter calls into. Per spec.md §9 ("Dynamic dispatch: probe adapters
// differ per OS but share the metering signature... no virtual dispatch is
// needed"), this is deliberately not an interface with multiple
// implementations selected at runtime — it is one function signature that
// internal/driver/linux calls directly (internal/driver/windows does not use
// this package: its kernel driver meters I/O itself and its process watcher
// emits events directly), in the same way as the teacher's process watchers
// (NETLINK_CONNECTOR vs. eBPF) each call the shared matchingRule/emit
// helpers on *ProcessWatcher rather than going through an interface.
package probe

import (
	"log/slog"

	"github.com/tripwire/ratewatch/pkg/metering"
	"github.com/tripwire/ratewatch/pkg/watchlist"
	"github.com/tripwire/ratewatch/pkg/wire"
)

// Sink is where a Dispatcher delivers finished wire.Events. The Linux
// driver's sink hands them to the channel its NextEvent drains.
type Sink interface {
	// Emit delivers e to the transport. Implementations must not block the
	// calling probe adapter for long; on overflow they log and drop,
	// matching §7's transport-overflow error kind.
	Emit(e wire.Event)
}

// Dispatcher is the one shared entry point §9 describes. The Linux probe
// adapters (kretprobe/tracepoint samples read from the BPF ring) construct
// raw (pid, name, bytes, metric) tuples and call IO on this struct; Dispatcher owns the watchlist lookup and the
// metering-cell update, so no adapter duplicates the rate algorithm.
type Dispatcher struct {
	Watchlist     *watchlist.Watchlist
	Store         *metering.Store
	Sink          Sink
	Logger        *slog.Logger
	CommandLength int // wire.CommandLengthLinux or wire.CommandLengthWindows
}

// NewDispatcher constructs a Dispatcher for the given CommandName width. If
// logger is nil, slog.Default() is used, matching the teacher's
// injectable-logger convention.
func NewDispatcher(wl *watchlist.Watchlist, store *metering.Store, sink Sink, commandLength int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{Watchlist: wl, Store: store, Sink: sink, CommandLength: commandLength, Logger: logger}
}

// IO is called by a probe adapter for every observed I/O event: bytes of
// traffic attributed to pid running under name, for the given metric, at
// monotonic time nowMs. It performs the §4.4 update and, if a window closed
// over threshold, emits a Violation event through the Sink.
func (d *Dispatcher) IO(pid uint32, name string, bytes uint32, metric wire.Metric, nowMs uint64) {
	v, fired := d.Store.Update(d.Watchlist, metering.Sample{
		Pid:    pid,
		Name:   name,
		Bytes:  bytes,
		Metric: metric,
		NowMs:  nowMs,
	})
	if !fired {
		return
	}

	d.Sink.Emit(wire.Event{
		Pid:       pid,
		Name:      wire.NewCommandName(name, d.CommandLength),
		Type:      wire.EventViolation,
		Violation: v,
	})
}

// NewProcess is called by the process-creation adapter. Unlike IO, this
// bypasses the metering engine entirely and emits directly, per §4.5: "No
// metering cell is created on this path." Only names present in the
// watchlist produce an event; Dispatcher performs that filter itself, so the
// caller need not check the watchlist first.
func (d *Dispatcher) NewProcess(pid uint32, name string) {
	if _, ok := d.Watchlist.Get(name); !ok {
		return
	}
	d.Sink.Emit(wire.Event{
		Pid:  pid,
		Name: wire.NewCommandName(name, d.CommandLength),
		Type: wire.EventNewProcess,
	})
}
