//go:build linux

package linux

import (
	"encoding/binary"
	"fmt"

	"github.com/tripwire/ratewatch/pkg/wire"
)

// ioSample mirrors the BPF program's raw sample struct pushed into the
// io_events ring buffer. It replaces the teacher's execve-specific execEvent
// with the generic (pid, comm, bytes, metric) tuple §4.2/§4.5 describe —
// the kernel side forwards raw samples only; pkg/metering does the windowing.
type ioSample struct {
	Pid    uint32
	Comm   [16]byte // TASK_COMM_LEN, matches wire.CommandLengthLinux
	Bytes  uint32
	Metric uint8
	_      [3]byte // struct padding to a multiple of 4 bytes (28 in total)
}

const ioSampleSize = 4 + 16 + 4 + 1 + 3

func decodeIOSample(buf []byte) (ioSample, error) {
	var s ioSample
	if len(buf) < ioSampleSize {
		return s, fmt.Errorf("io sample too short: got %d bytes, want %d", len(buf), ioSampleSize)
	}
	s.Pid = binary.LittleEndian.Uint32(buf[0:4])
	copy(s.Comm[:], buf[4:20])
	s.Bytes = binary.LittleEndian.Uint32(buf[20:24])
	s.Metric = buf[24]
	return s, nil
}

func (s ioSample) commString() string {
	return nullTerminated(s.Comm[:])
}

func nullTerminated(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// toWireMetric maps the BPF program's raw uint8 metric tag to wire.Metric.
// The BPF side only ever emits Network or Disk samples (§4.5 scopes cpu/mem
// accounting out of the kernel probes); 0 and 1 are chosen arbitrarily here
// and must match the compiled BPF object's metric_tag() helper.
func (s ioSample) toWireMetric() (wire.Metric, bool) {
	switch s.Metric {
	case 0:
		return wire.MetricNetwork, true
	case 1:
		return wire.MetricDisk, true
	default:
		return 0, false
	}
}
