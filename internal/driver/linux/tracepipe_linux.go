//go:build linux

package linux

import (
	"bufio"
	"log/slog"
	"os"
	"strings"
	"time"
)

const tracePipePath = "/sys/kernel/debug/tracing/trace_pipe"

// drainTracePipe performs one non-blocking-ish drain pass over trace_pipe,
// forwarding any bpf_trace_printk() lines from the attached programs to
// logger. It opens and closes the pipe each tick rather than holding it
// open across the life of the Driver, since trace_pipe blocks on read when
// empty and a held-open fd would need its own cancellation plumbing for a
// single best-effort log line.
func drainTracePipe(logger *slog.Logger) {
	f, err := os.OpenFile(tracePipePath, os.O_RDONLY, 0)
	if err != nil {
		return // debugfs not mounted, or no CAP_SYS_ADMIN; logging is best-effort.
	}
	defer f.Close()

	_ = f.SetReadDeadline(time.Now().Add(50 * time.Millisecond))

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		logger.Debug("bpf trace_printk", "line", line)
	}
}
