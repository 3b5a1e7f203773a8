//go:build linux

package linux

import (
	"encoding/binary"
	"testing"

	"github.com/tripwire/ratewatch/pkg/wire"
)

func TestDecodeIOSampleRoundTrip(t *testing.T) {
	buf := make([]byte, ioSampleSize)
	binary.LittleEndian.PutUint32(buf[0:4], 42)
	copy(buf[4:20], "curl\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00")
	binary.LittleEndian.PutUint32(buf[20:24], 2048)
	buf[24] = 0 // network

	s, err := decodeIOSample(buf)
	if err != nil {
		t.Fatal(err)
	}
	if s.Pid != 42 || s.Bytes != 2048 || s.commString() != "curl" {
		t.Fatalf("unexpected sample: %+v", s)
	}
	metric, ok := s.toWireMetric()
	if !ok || metric != wire.MetricNetwork {
		t.Fatalf("got metric=%v ok=%v, want Network", metric, ok)
	}
}

func TestDecodeIOSampleTooShort(t *testing.T) {
	if _, err := decodeIOSample(make([]byte, ioSampleSize-1)); err == nil {
		t.Fatal("expected error for a truncated sample")
	}
}

func TestDecodeIOSampleUnknownMetric(t *testing.T) {
	buf := make([]byte, ioSampleSize)
	buf[24] = 99
	s, err := decodeIOSample(buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.toWireMetric(); ok {
		t.Fatal("expected toWireMetric to reject an unknown tag")
	}
}

func TestSanitizeEventName(t *testing.T) {
	got := sanitizeEventName("inet_sendmsg")
	if got != "inet_sendmsg" {
		t.Fatalf("got %q, want inet_sendmsg unchanged", got)
	}
	got = sanitizeEventName("__x64_sys_execve")
	if got != "__x64_sys_execve" {
		t.Fatalf("got %q, want unchanged", got)
	}
}

func TestAlignUp(t *testing.T) {
	cases := []struct{ n, align, want uint32 }{
		{0, 8, 0},
		{1, 8, 8},
		{8, 8, 8},
		{9, 8, 16},
	}
	for _, c := range cases {
		if got := alignUp(c.n, c.align); got != c.want {
			t.Errorf("alignUp(%d, %d) = %d, want %d", c.n, c.align, got, c.want)
		}
	}
}
