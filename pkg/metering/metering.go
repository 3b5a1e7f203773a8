// Package metering implements the per-(command name, pid) rate accumulator
// described in §4.4: a bounded, evicting store of packed 64-bit cells, each
// holding a window-start timestamp and an accumulated byte count, updated by
// a single atomic fetch-add on the hot path and closed by a single atomic
// swap once a one-second window has elapsed.
//
// The algorithm is reproduced from original_source's
// linux-listener-ebpf/src/main.rs _update_io_usage, which runs inside the
// kernel program on the reference implementation. This module runs the same
// algorithm in Go user space instead: probe adapters forward raw
// (pid, name, bytes, metric) tuples across the kernel/user boundary (on
// Linux, a BPF program that only captures kretprobe/tracepoint payloads; the
// Windows driver does not use this package), and the windowing
// itself — the part with real per-process rate logic an operator might want
// to change without recompiling kernel bytecode — lives here. The atomicity
// requirements of §4.4 (fetch-add and swap never interleave within one
// cell) are satisfied the same way regardless of which side of the
// kernel/user boundary executes them.
package metering

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tripwire/ratewatch/pkg/wire"
	"github.com/tripwire/ratewatch/pkg/watchlist"
)

// DefaultCapacity bounds the number of distinct (name, pid) cells retained
// before the least-recently-used entry is evicted, silently losing its
// accumulated bytes — matching §3's eviction invariant.
const DefaultCapacity = 4096

// windowMillis is the one-second window duration used by the rate formula.
const windowMillis = 1000

// cell holds the packed (ts_ms<<32 | acc) word for one (name, pid) pair. All
// access goes through atomic add/swap; no lock is ever taken on this value.
type cell struct {
	word atomic.Uint64
}

func pack(tsMs uint64, acc uint32) uint64 {
	return (tsMs << 32) | uint64(acc)
}

func unpackTS(word uint64) uint64 {
	return word >> 32
}

func unpackAcc(word uint64) uint32 {
	return uint32(word & 0xFFFFFFFF)
}

// key identifies one metering cell.
type key struct {
	name string
	pid  uint32
}

// Store is the bounded, evicting associative store of metering cells keyed
// by (CommandName, pid). It is safe for concurrent use from multiple probe
// adapters.
type Store struct {
	cache *lru.Cache[key, *cell]
}

// NewStore creates a Store bounded at capacity entries. A non-positive
// capacity falls back to DefaultCapacity.
func NewStore(capacity int) (*Store, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c, err := lru.New[key, *cell](capacity)
	if err != nil {
		return nil, err
	}
	return &Store{cache: c}, nil
}

// Len reports the current number of live cells. Diagnostic use only.
func (s *Store) Len() int {
	return s.cache.Len()
}

// Sample is one raw probe observation: bytes of I/O attributed to pid
// running under name, for the given metric, at monotonic time nowMs.
type Sample struct {
	Pid    uint32
	Name   string
	Bytes  uint32
	Metric wire.Metric
	NowMs  uint64
}

// Update applies one probe sample against the watchlist and metering store,
// following §4.4's algorithm exactly. It returns the Violation that should
// be emitted, and true, if this sample closed a window whose computed rate
// met or exceeded the configured threshold. It returns false in every other
// case (name unwatched, threshold zero, window still open, window closed
// but under threshold) — these are all "no event" outcomes, not errors.
func (s *Store) Update(wl *watchlist.Watchlist, sample Sample) (wire.Violation, bool) {
	th, ok := wl.Get(sample.Name)
	if !ok {
		return wire.Violation{}, false
	}

	threshold := th.Get(sample.Metric)
	if threshold == 0 {
		return wire.Violation{}, false
	}

	k := key{name: sample.Name, pid: sample.Pid}

	candidate := &cell{}
	candidate.word.Store(pack(sample.NowMs, sample.Bytes))

	existing, found, _ := s.cache.PeekOrAdd(k, candidate)
	if !found {
		// First observation for this (name, pid): arm the window, no event.
		return wire.Violation{}, false
	}
	// PeekOrAdd leaves recency untouched; Get marks this cell as most
	// recently used so eviction drops the least-recently-used cell.
	s.cache.Get(k)

	// existing cell: fetch-add into the low 32 bits (Release order is the
	// default for Go atomics; there is no weaker mode to opt into).
	afterAdd := existing.word.Add(uint64(sample.Bytes))
	// The timestamp half is untouched by the add (it only carries into the
	// high bits on accumulator overflow, which the spec already treats as
	// an accepted clamping edge case), so it can be read off the post-add
	// word directly.
	ts := unpackTS(afterAdd)

	dt := sample.NowMs - ts
	if sample.NowMs < ts {
		dt = 0 // saturating_sub
	}
	if dt < windowMillis {
		return wire.Violation{}, false
	}

	// This caller observed dt >= windowMillis first; close the window with
	// a single atomic exchange. Concurrent callers that lose the race will
	// simply accumulate into the freshly-armed window and re-evaluate on a
	// later sample.
	closed := pack(sample.NowMs, 0)
	old := existing.word.Swap(closed)
	acc := unpackAcc(old)

	rate := uint32((uint64(windowMillis) * uint64(acc)) / dt)
	if rate < threshold {
		return wire.Violation{}, false
	}

	return wire.Violation{
		Metric:    sample.Metric,
		Value:     rate,
		Threshold: threshold,
	}, true
}
