package probe

import (
	"testing"

	"github.com/tripwire/ratewatch/pkg/metering"
	"github.com/tripwire/ratewatch/pkg/watchlist"
	"github.com/tripwire/ratewatch/pkg/wire"
)

type recordingSink struct {
	events []wire.Event
}

func (s *recordingSink) Emit(e wire.Event) {
	s.events = append(s.events, e)
}

func newDispatcher(t *testing.T) (*Dispatcher, *recordingSink) {
	t.Helper()
	wl := watchlist.New(8)
	if err := wl.Set("curl", wire.Threshold{Limits: [4]uint32{0, 0, 0, 1000}}); err != nil {
		t.Fatal(err)
	}
	store, err := metering.NewStore(8)
	if err != nil {
		t.Fatal(err)
	}
	sink := &recordingSink{}
	return NewDispatcher(wl, store, sink, wire.CommandLengthLinux, nil), sink
}

func TestDispatcherIOEmitsViolation(t *testing.T) {
	d, sink := newDispatcher(t)

	d.IO(42, "curl", 2000, wire.MetricNetwork, 0)
	if len(sink.events) != 0 {
		t.Fatalf("first sample must not emit, got %d events", len(sink.events))
	}

	d.IO(42, "curl", 0, wire.MetricNetwork, 1001)
	if len(sink.events) != 1 {
		t.Fatalf("got %d events, want 1", len(sink.events))
	}
	ev := sink.events[0]
	if ev.Pid != 42 || ev.Type != wire.EventViolation {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestDispatcherNewProcessRequiresWatchlistEntry(t *testing.T) {
	d, sink := newDispatcher(t)

	d.NewProcess(1, "unwatched-binary")
	if len(sink.events) != 0 {
		t.Fatalf("expected no event for an unwatched name, got %d", len(sink.events))
	}

	d.NewProcess(77, "curl")
	if len(sink.events) != 1 {
		t.Fatalf("got %d events, want 1", len(sink.events))
	}
	if sink.events[0].Type != wire.EventNewProcess || sink.events[0].Pid != 77 {
		t.Fatalf("unexpected event: %+v", sink.events[0])
	}
}
