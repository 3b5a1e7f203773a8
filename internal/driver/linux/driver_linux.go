// Package linux is the Linux implementation of internal/driver.Driver: a
// raw-syscall BPF collector for I/O samples (adapted from the teacher's
// internal/watcher/ebpf package) plus a NETLINK_CONNECTOR watcher for
// process-creation events (adapted from the teacher's
// internal/watcher/process_watcher_linux.go), both feeding the shared
// internal/probe.Dispatcher.
//
//go:build linux

package linux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/tripwire/ratewatch/internal/probe"
	"github.com/tripwire/ratewatch/pkg/metering"
	"github.com/tripwire/ratewatch/pkg/watchlist"
	"github.com/tripwire/ratewatch/pkg/wire"
)

// bpfObjectBytes holds the compiled io_probe.bpf.o contents when the
// bpf_embedded build tag is used (see bpfobject_embed_linux.go, mirroring
// the teacher's own gated-embed pattern for ebpf/process.go). Without that
// tag, New reads the object from bpfObjectPathEnv or bpfObjectDefaultPath at
// runtime — this tree carries no compiled BPF bytecode, since producing it
// requires a C toolchain out of this package's scope (§1's "how the kernel
// byte-code is compiled and packaged" is an explicit non-goal).
var bpfObjectBytes []byte

// SetBPFObject overrides the compiled BPF object bytes New will load,
// primarily for tests and for callers that compile/fetch the object
// themselves rather than relying on the bpf_embedded build tag.
func SetBPFObject(b []byte) {
	bpfObjectBytes = b
}

const (
	bpfObjectPathEnv     = "RATEWATCH_BPF_OBJECT"
	bpfObjectDefaultPath = "/usr/lib/ratewatch/io_probe.bpf.o"
)

func resolveBPFObject() ([]byte, error) {
	if bpfObjectBytes != nil {
		return bpfObjectBytes, nil
	}
	path := os.Getenv(bpfObjectPathEnv)
	if path == "" {
		path = bpfObjectDefaultPath
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read BPF object %q: %w (set %s or build with -tags bpf_embedded)", path, err, bpfObjectPathEnv)
	}
	return b, nil
}

// ringEventSink adapts the BPF object's perf/ring-buffer fd as a
// probe.Sink target: Driver doesn't write wire.Events back into the BPF
// ring (that direction only carries raw samples), so Emit here hands
// finished events to the same channel NextEvent drains.
type ringEventSink struct {
	events chan wire.Event
	logger *slog.Logger
}

func (s *ringEventSink) Emit(e wire.Event) {
	select {
	case s.events <- e:
	default:
		s.logger.Warn("event channel full, dropping event", "pid", e.Pid, "type", e.Type)
	}
}

// Driver is the Linux driver.Driver implementation.
type Driver struct {
	logger *slog.Logger

	watchlist  *watchlist.Watchlist
	store      *metering.Store
	dispatcher *probe.Dispatcher

	obj   *bpfObject
	nlSrc *processSource

	events chan wire.Event

	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// New constructs and starts a Linux Driver: loads the BPF object, attaches
// its probes, opens the NETLINK_CONNECTOR socket, and starts the sample-
// forwarding and log-drain goroutines. logger may be nil.
func New(logger *slog.Logger) (*Driver, error) {
	if logger == nil {
		logger = slog.Default()
	}

	wl := watchlist.New(watchlist.DefaultCapacity)
	store, err := metering.NewStore(metering.DefaultCapacity)
	if err != nil {
		return nil, fmt.Errorf("metering store: %w", err)
	}

	events := make(chan wire.Event, 1024)
	sink := &ringEventSink{events: events, logger: logger}
	dispatcher := probe.NewDispatcher(wl, store, sink, wire.CommandLengthLinux, logger)

	bpfBytes, err := resolveBPFObject()
	if err != nil {
		return nil, err
	}

	obj, err := loadBPFObject(bytesReaderAt(bpfBytes))
	if err != nil {
		return nil, fmt.Errorf("load BPF object: %w", err)
	}

	nlSrc, err := newProcessSource(logger)
	if err != nil {
		obj.Close()
		return nil, fmt.Errorf("netlink process watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Driver{
		logger:     logger,
		watchlist:  wl,
		store:      store,
		dispatcher: dispatcher,
		obj:        obj,
		nlSrc:      nlSrc,
		events:     events,
		cancel:     cancel,
	}

	d.wg.Add(3)
	go d.sampleLoop(ctx)
	go d.processLoop(ctx)
	go d.logDrainLoop(ctx)

	return d, nil
}

// SetMonitor implements driver.Driver.
func (d *Driver) SetMonitor(name string, threshold wire.Threshold) error {
	return d.watchlist.Set(wire.NewCommandName(name, wire.CommandLengthLinux).Key(), threshold)
}

// ClearMonitor implements driver.Driver.
func (d *Driver) ClearMonitor() error {
	d.watchlist.Clear()
	return nil
}

// NextEvent implements driver.Driver.
func (d *Driver) NextEvent(ctx context.Context, timeout time.Duration) (*wire.Event, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case e := <-d.events:
		return &e, nil
	case <-t.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements driver.Driver. Idempotent.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		d.cancel()
		d.wg.Wait()
		d.obj.Close()
		d.nlSrc.close()
	})
	return nil
}

// sampleLoop reads raw I/O samples from the BPF ring buffer and dispatches
// them through the shared Dispatcher, closing the §4.4 window in Go
// user-space rather than in the kernel program (see DESIGN.md).
func (d *Driver) sampleLoop(ctx context.Context) {
	defer d.wg.Done()
	// Monotonic milliseconds since the loop started; small enough to fit the
	// 32-bit timestamp half of a metering cell.
	start := time.Now()
	for {
		payload, err := d.obj.ringbuf.readSample(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			d.logger.Warn("ring buffer read failed", "error", err)
			continue
		}

		sample, err := decodeIOSample(payload)
		if err != nil {
			d.logger.Warn("malformed io sample", "error", err)
			continue
		}
		metric, ok := sample.toWireMetric()
		if !ok {
			d.logger.Warn("unknown metric tag in io sample", "tag", sample.Metric)
			continue
		}

		d.dispatcher.IO(sample.Pid, sample.commString(), sample.Bytes, metric, uint64(time.Since(start).Milliseconds()))
	}
}

// processLoop relays NETLINK_CONNECTOR exec notifications to the dispatcher.
func (d *Driver) processLoop(ctx context.Context) {
	defer d.wg.Done()
	for {
		pid, comm, err := d.nlSrc.next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			d.logger.Warn("netlink process watcher read failed", "error", err)
			continue
		}
		d.dispatcher.NewProcess(pid, comm)
	}
}

// logDrainLoop periodically drains the kernel's trace_pipe so that
// bpf_trace_printk() output from the BPF program reaches the structured
// logger, approximating the original Rust implementation's EbpfLogger flush
// loop (see original_source/linux-listener) without a custom ring-buffer-fed
// log channel.
func (d *Driver) logDrainLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			drainTracePipe(d.logger)
		}
	}
}

type bytesReaderAt []byte

func (b bytesReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b)) {
		return 0, fmt.Errorf("ReadAt: offset %d out of range (len=%d)", off, len(b))
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, fmt.Errorf("ReadAt: short read")
	}
	return n, nil
}
