package framing

import (
	"testing"

	"github.com/tripwire/ratewatch/pkg/wire"
)

func sampleEvent() wire.Event {
	return wire.Event{
		Pid:  42,
		Name: wire.NewCommandName("curl", wire.CommandLengthWindows),
		Type: wire.EventViolation,
		Violation: wire.Violation{
			Metric:    wire.MetricNetwork,
			Value:     1998,
			Threshold: 1000,
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	e := sampleEvent()
	frame := Encode(e, wire.CommandLengthWindows)

	d := NewDecoder(wire.CommandLengthWindows)
	events := d.Feed(frame)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Pid != e.Pid || !events[0].Name.Equal(e.Name) {
		t.Fatalf("decoded event mismatch: %+v", events[0])
	}
}

func TestFeedAcrossFragments(t *testing.T) {
	e := sampleEvent()
	frame := Encode(e, wire.CommandLengthWindows)

	d := NewDecoder(wire.CommandLengthWindows)
	mid := len(frame) / 2
	if events := d.Feed(frame[:mid]); len(events) != 0 {
		t.Fatalf("expected no events from a partial frame, got %d", len(events))
	}
	events := d.Feed(frame[mid:])
	if len(events) != 1 {
		t.Fatalf("expected exactly one event once the frame completes, got %d", len(events))
	}
}

func TestMultipleFramesInOneFeed(t *testing.T) {
	a := sampleEvent()
	b := sampleEvent()
	b.Pid = 77
	b.Type = wire.EventNewProcess

	buf := append(Encode(a, wire.CommandLengthWindows), Encode(b, wire.CommandLengthWindows)...)

	d := NewDecoder(wire.CommandLengthWindows)
	events := d.Feed(buf)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Pid != 42 || events[1].Pid != 77 {
		t.Fatalf("unexpected pids: %d, %d", events[0].Pid, events[1].Pid)
	}
}

// Framing resync scenario from spec.md §8: a garbage prefix before the
// first valid terminator must not prevent the next well-formed frame from
// decoding.
func TestGarbagePrefixResyncs(t *testing.T) {
	garbage := []byte{0x01, 0x01, 0x01, 0x02, 0x03, 0x00} // a bogus stuffed frame, self-terminated
	good := Encode(sampleEvent(), wire.CommandLengthWindows)

	d := NewDecoder(wire.CommandLengthWindows)
	events, dropped := d.FeedLogged(append(garbage, good...))
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1 (the garbage frame)", dropped)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 (the well-formed frame after garbage)", len(events))
	}
}
