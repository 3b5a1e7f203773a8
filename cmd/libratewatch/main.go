// Command libratewatch builds the stable C ABI shared library that spec.md
// §6 describes: initialize_logger, new_tracer, free_tracer, set_monitor,
// clear_monitor, next_event, drop_event. Build with:
//
//	go build -buildmode=c-shared -o libratewatch.so ./cmd/libratewatch
//
// All marshaling lives here; pkg/tracer.Handle does the actual work in pure
// Go so it stays independently testable (see pkg/tracer/tracer_test.go)
// without a cgo build at all.
package main

/*
#include <stdint.h>
#include <stdlib.h>

typedef struct {
	uint32_t limits[4];
} ratewatch_threshold_t;

typedef struct {
	uint32_t pid;
	uint8_t variant;
	uint8_t metric;
	uint32_t value;
	uint32_t threshold;
	char name[256];
} ratewatch_event_t;
*/
import "C"

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
	"unsafe"

	"github.com/tripwire/ratewatch/pkg/tracer"
	"github.com/tripwire/ratewatch/pkg/watchconfig"
	"github.com/tripwire/ratewatch/pkg/wire"
)

// watchlistEnvVar, if set, names a YAML watchlist file (pkg/watchconfig's
// format) that new_tracer loads and applies via SetMonitor before handing
// the handle back across the ABI. This is the one piece of out-of-band
// configuration the C ABI accepts; spec.md §6 itself has no "load a
// watchlist file" entrypoint, so an env var is the least surprising place
// to hang it rather than inventing a new exported function.
const watchlistEnvVar = "RATEWATCH_WATCHLIST_FILE"

// loadInitialWatchlist reads path as a watchconfig.Config and applies every
// entry to h via SetMonitor, stopping at the first failure.
func loadInitialWatchlist(h *tracer.Handle, path string) error {
	cfg, err := watchconfig.Load(path)
	if err != nil {
		return fmt.Errorf("load watchlist %s: %w", path, err)
	}
	for _, m := range cfg.Monitors {
		if err := h.SetMonitor(m.Name, m.Threshold()); err != nil {
			return fmt.Errorf("set_monitor %q: %w", m.Name, err)
		}
	}
	return nil
}

const (
	ok  C.int = 0
	fail C.int = 1
)

// handleTable maps the opaque pointers handed across the C ABI to live Go
// *tracer.Handle values: cgo forbids storing a Go pointer inside C memory,
// so new_tracer hands back a small integer token cast to a pointer instead
// of Box::into_raw(Box::new(...))'s approach in the original Rust FFI.
var (
	handleTableMu sync.Mutex
	handleTable   = map[uintptr]*tracer.Handle{}
	nextToken     uintptr = 1
)

func storeHandle(h *tracer.Handle) uintptr {
	handleTableMu.Lock()
	defer handleTableMu.Unlock()
	tok := nextToken
	nextToken++
	handleTable[tok] = h
	return tok
}

func lookupHandle(tok uintptr) *tracer.Handle {
	handleTableMu.Lock()
	defer handleTableMu.Unlock()
	return handleTable[tok]
}

func deleteHandle(tok uintptr) {
	handleTableMu.Lock()
	defer handleTableMu.Unlock()
	delete(handleTable, tok)
}

//export initialize_logger
func initialize_logger(level C.int) C.int {
	var lv slog.Level
	switch level {
	case 0: // Off
		lv = slog.LevelError + 100
	case 1:
		lv = slog.LevelError
	case 2:
		lv = slog.LevelWarn
	case 3:
		lv = slog.LevelInfo
	case 4:
		lv = slog.LevelDebug
	case 5:
		lv = slog.LevelDebug - 4 // Trace: one notch below Debug
	default:
		return fail
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})
	slog.SetDefault(slog.New(handler))
	return ok
}

//export new_tracer
func new_tracer() unsafe.Pointer {
	h, err := tracer.New(slog.Default())
	if err != nil {
		return nil
	}

	if path := os.Getenv(watchlistEnvVar); path != "" {
		if err := loadInitialWatchlist(h, path); err != nil {
			slog.Default().Error("initial watchlist load failed", "error", err)
			h.Free()
			return nil
		}
	}

	tok := storeHandle(h)
	return unsafe.Pointer(tok) //nolint:govet // cgo handle token, not a Go pointer
}

//export free_tracer
func free_tracer(handle unsafe.Pointer) {
	if handle == nil {
		return
	}
	tok := uintptr(handle)
	h := lookupHandle(tok)
	if h == nil {
		return
	}
	h.Free()
	deleteHandle(tok)
}

//export set_monitor
func set_monitor(handle unsafe.Pointer, name *C.char, threshold *C.ratewatch_threshold_t) C.int {
	if handle == nil || name == nil || threshold == nil {
		return fail
	}
	h := lookupHandle(uintptr(handle))
	if h == nil {
		return fail
	}

	goName := C.GoString(name)
	var t wire.Threshold
	for i := 0; i < 4; i++ {
		t.Limits[i] = uint32(threshold.limits[i])
	}

	if err := h.SetMonitor(goName, t); err != nil {
		return fail
	}
	return ok
}

//export clear_monitor
func clear_monitor(handle unsafe.Pointer) C.int {
	if handle == nil {
		return fail
	}
	h := lookupHandle(uintptr(handle))
	if h == nil {
		return fail
	}
	if err := h.ClearMonitor(); err != nil {
		return fail
	}
	return ok
}

//export next_event
func next_event(handle unsafe.Pointer, timeoutMs C.int) *C.ratewatch_event_t {
	if handle == nil {
		return nil
	}
	h := lookupHandle(uintptr(handle))
	if h == nil {
		return nil
	}

	timeout := time.Duration(int32(timeoutMs)) * time.Millisecond
	if timeout < 0 {
		timeout = 0
	}

	ev, err := h.NextEvent(timeout)
	if err != nil || ev == nil {
		return nil
	}

	out := (*C.ratewatch_event_t)(C.calloc(1, C.size_t(unsafe.Sizeof(C.ratewatch_event_t{}))))
	out.pid = C.uint32_t(ev.Pid)
	out.variant = C.uint8_t(ev.Type)
	nameBytes := ev.Name.Bytes()
	n := len(nameBytes)
	if n > len(out.name) {
		n = len(out.name)
	}
	for i := 0; i < n; i++ {
		out.name[i] = C.char(nameBytes[i])
	}
	if ev.Type == wire.EventViolation {
		out.metric = C.uint8_t(ev.Violation.Metric)
		out.value = C.uint32_t(ev.Violation.Value)
		out.threshold = C.uint32_t(ev.Violation.Threshold)
	}

	return out
}

//export drop_event
func drop_event(ev *C.ratewatch_event_t) {
	if ev != nil {
		C.free(unsafe.Pointer(ev))
	}
}

func main() {}
