package metering

import (
	"testing"

	"github.com/tripwire/ratewatch/pkg/watchlist"
	"github.com/tripwire/ratewatch/pkg/wire"
)

func newTestWatchlist(t *testing.T, name string, limits [4]uint32) *watchlist.Watchlist {
	t.Helper()
	wl := watchlist.New(8)
	if err := wl.Set(name, wire.Threshold{Limits: limits}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	return wl
}

// Scenario 1 from spec.md §8: basic violation.
func TestUpdateBasicViolation(t *testing.T) {
	wl := newTestWatchlist(t, "curl", [4]uint32{0, 0, 0, 1000})
	s, err := NewStore(8)
	if err != nil {
		t.Fatal(err)
	}

	if _, fired := s.Update(wl, Sample{Pid: 42, Name: "curl", Bytes: 2000, Metric: wire.MetricNetwork, NowMs: 0}); fired {
		t.Fatal("first observation must not emit")
	}

	v, fired := s.Update(wl, Sample{Pid: 42, Name: "curl", Bytes: 0, Metric: wire.MetricNetwork, NowMs: 1001})
	if !fired {
		t.Fatal("expected a violation after the window closed")
	}
	if v.Value < 1998 || v.Value > 2000 {
		t.Fatalf("value = %d, want in [1998, 2000]", v.Value)
	}
	if v.Threshold != 1000 || v.Metric != wire.MetricNetwork {
		t.Fatalf("unexpected violation shape: %+v", v)
	}
}

// Scenario 2: no violation under threshold.
func TestUpdateNoViolationUnderThreshold(t *testing.T) {
	wl := newTestWatchlist(t, "curl", [4]uint32{0, 0, 0, 1000})
	s, err := NewStore(8)
	if err != nil {
		t.Fatal(err)
	}

	if _, fired := s.Update(wl, Sample{Pid: 42, Name: "curl", Bytes: 500, Metric: wire.MetricNetwork, NowMs: 0}); fired {
		t.Fatal("first observation must not emit")
	}
	if _, fired := s.Update(wl, Sample{Pid: 42, Name: "curl", Bytes: 500, Metric: wire.MetricNetwork, NowMs: 1500}); fired {
		t.Fatal("1000 bytes over 1500ms (666 B/s) is under the 1000 B/s threshold, must not emit")
	}
}

// Scenario 3: name not in watchlist.
func TestUpdateNameNotWatched(t *testing.T) {
	wl := watchlist.New(8)
	s, err := NewStore(8)
	if err != nil {
		t.Fatal(err)
	}
	if _, fired := s.Update(wl, Sample{Pid: 1, Name: "curl", Bytes: 1 << 30, Metric: wire.MetricNetwork, NowMs: 0}); fired {
		t.Fatal("unwatched name must never emit")
	}
}

func TestUpdateZeroThresholdNeverViolates(t *testing.T) {
	wl := newTestWatchlist(t, "curl", [4]uint32{0, 0, 0, 0})
	s, err := NewStore(8)
	if err != nil {
		t.Fatal(err)
	}
	s.Update(wl, Sample{Pid: 1, Name: "curl", Bytes: 1 << 20, Metric: wire.MetricNetwork, NowMs: 0})
	if _, fired := s.Update(wl, Sample{Pid: 1, Name: "curl", Bytes: 1 << 20, Metric: wire.MetricNetwork, NowMs: 5000}); fired {
		t.Fatal("a zero threshold must never emit a violation")
	}
}

func TestUpdateWindowShorterThanOneSecondDoesNotClose(t *testing.T) {
	wl := newTestWatchlist(t, "curl", [4]uint32{0, 0, 0, 1})
	s, err := NewStore(8)
	if err != nil {
		t.Fatal(err)
	}
	s.Update(wl, Sample{Pid: 1, Name: "curl", Bytes: 10_000, Metric: wire.MetricNetwork, NowMs: 0})
	if _, fired := s.Update(wl, Sample{Pid: 1, Name: "curl", Bytes: 10_000, Metric: wire.MetricNetwork, NowMs: 999}); fired {
		t.Fatal("a sub-second window must not close")
	}
}

func TestUpdateEvictsLeastRecentlyUsed(t *testing.T) {
	wl := newTestWatchlist(t, "curl", [4]uint32{0, 0, 0, 1})
	s, err := NewStore(1)
	if err != nil {
		t.Fatal(err)
	}
	s.Update(wl, Sample{Pid: 1, Name: "curl", Bytes: 100, Metric: wire.MetricNetwork, NowMs: 0})
	s.Update(wl, Sample{Pid: 2, Name: "curl", Bytes: 100, Metric: wire.MetricNetwork, NowMs: 0})
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (bounded store)", s.Len())
	}
	if s.cache.Contains(key{name: "curl", pid: 1}) {
		t.Fatal("pid 1's cell is the least recently used and should have been evicted")
	}
}
