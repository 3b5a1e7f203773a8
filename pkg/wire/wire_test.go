package wire

import "testing"

func TestCommandNameTruncation(t *testing.T) {
	long := "this-process-name-is-longer-than-sixteen-bytes"
	cn := NewCommandName(long, CommandLengthLinux)
	if got := cn.String(); got != long[:CommandLengthLinux-1] {
		t.Fatalf("String() = %q, want %q", got, long[:CommandLengthLinux-1])
	}
	if len(cn.Bytes()) != CommandLengthLinux {
		t.Fatalf("Bytes() length = %d, want %d", len(cn.Bytes()), CommandLengthLinux)
	}
}

func TestCommandNameEqualAfterTruncation(t *testing.T) {
	a := NewCommandName("curl-does-something-long", CommandLengthLinux)
	b := NewCommandName("curl-does-something-long-but-different-tail", CommandLengthLinux)
	if !a.Equal(b) {
		t.Fatalf("expected truncated names to compare equal, got %q vs %q", a.String(), b.String())
	}
}

func TestEventEncodeDecodeViolation(t *testing.T) {
	e := Event{
		Pid:  42,
		Name: NewCommandName("curl", CommandLengthLinux),
		Type: EventViolation,
		Violation: Violation{
			Metric:    MetricNetwork,
			Value:     1998,
			Threshold: 1000,
		},
	}

	buf := e.Encode(CommandLengthLinux)
	if len(buf) != EncodedSize(CommandLengthLinux) {
		t.Fatalf("Encode length = %d, want %d", len(buf), EncodedSize(CommandLengthLinux))
	}

	got, err := Decode(buf, CommandLengthLinux)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Pid != e.Pid || got.Type != e.Type || !got.Name.Equal(e.Name) {
		t.Fatalf("Decode roundtrip mismatch: got %+v, want %+v", got, e)
	}
	if got.Violation != e.Violation {
		t.Fatalf("Violation roundtrip mismatch: got %+v, want %+v", got.Violation, e.Violation)
	}
}

func TestEventEncodeDecodeNewProcess(t *testing.T) {
	e := Event{
		Pid:  77,
		Name: NewCommandName("make", CommandLengthLinux),
		Type: EventNewProcess,
	}

	buf := e.Encode(CommandLengthLinux)
	got, err := Decode(buf, CommandLengthLinux)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Type != EventNewProcess || got.Pid != 77 || got.Name.String() != "make" {
		t.Fatalf("unexpected decode: %+v", got)
	}
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}, CommandLengthLinux); err == nil {
		t.Fatal("expected error decoding a short buffer")
	}
}

func TestThresholdZeroMeansNoLimit(t *testing.T) {
	th := Threshold{Limits: [4]uint32{0, 0, 0, 1000}}
	if th.Get(MetricDisk) != 0 {
		t.Fatalf("Disk limit = %d, want 0", th.Get(MetricDisk))
	}
	if th.Get(MetricNetwork) != 1000 {
		t.Fatalf("Network limit = %d, want 1000", th.Get(MetricNetwork))
	}
}
