// Process-creation probe adapter for Windows, per spec §4.5: "Windows: via
// process-image-file-name lookup". The out-of-tree minifilter/WFP driver
// this package's control device fronts only reports Disk/Network I/O
// through the shared section; process creation has no equivalent kernel
// signal wired through that device, so this adapter gets its signal in user
// space without a kernel program, as the Linux side does with
// processsource_linux.go's NETLINK_CONNECTOR socket; here that is done by
// watching the running-process set and diffing it.
//
//go:build windows

package windows

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/tripwire/ratewatch/pkg/wire"
)

// processPollInterval bounds how quickly a new process is observed; process
// creation is not latency-sensitive the way I/O metering is; §4.5 only
// requires the NewProcess event to eventually arrive.
const processPollInterval = 500 * time.Millisecond

// processWatcher polls the live pid set and emits a NewProcess event the
// first time each pid is observed. It is unbounded in the number of pids it
// can track simultaneously only in the sense that the OS itself bounds the
// number of live pids; entries for pids that exit are dropped on the next
// poll so the seen set never grows past the current process count.
type processWatcher struct {
	logger *slog.Logger
	seen   map[int32]struct{}
}

func newProcessWatcher(logger *slog.Logger) *processWatcher {
	return &processWatcher{
		logger: logger,
		seen:   make(map[int32]struct{}),
	}
}

// poll lists the current process set, returning a NewProcess wire.Event for
// every pid not seen on a prior call. Errors resolving an individual
// process's name are logged and that pid is skipped, not fatal to the poll.
func (w *processWatcher) poll() []wire.Event {
	pids, err := process.Pids()
	if err != nil {
		w.logger.Warn("list processes", "error", err)
		return nil
	}

	live := make(map[int32]struct{}, len(pids))
	var events []wire.Event
	for _, pid := range pids {
		live[pid] = struct{}{}
		if _, ok := w.seen[pid]; ok {
			continue
		}
		w.seen[pid] = struct{}{}

		p, err := process.NewProcess(pid)
		if err != nil {
			// process exited between Pids() and NewProcess(); not an error.
			continue
		}
		name, err := p.Name()
		if err != nil {
			w.logger.Debug("resolve process image name", "pid", pid, "error", err)
			continue
		}

		events = append(events, wire.Event{
			Pid:  uint32(pid),
			Name: wire.NewCommandName(name, wire.CommandLengthWindows),
			Type: wire.EventNewProcess,
		})
	}

	// Drop exited pids so the seen set tracks only currently-live processes.
	for pid := range w.seen {
		if _, ok := live[pid]; !ok {
			delete(w.seen, pid)
		}
	}

	return events
}

// run polls on a fixed interval until ctx is done, forwarding every
// NewProcess event it observes to out. out must have enough slack that a
// slow consumer does not stall the poll loop; a full channel drops the
// event and logs, matching §7's transport-overflow policy.
func (w *processWatcher) run(ctx context.Context, out chan<- wire.Event) {
	ticker := time.NewTicker(processPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, e := range w.poll() {
			select {
			case out <- e:
			default:
				w.logger.Warn("event channel full, dropping NewProcess event", "pid", e.Pid)
			}
		}
	}
}
