// Package wire defines the on-the-wire event record model shared by the
// kernel-side collector and the user-space library: command names, the
// metric enumeration, threshold vectors, and the typed Violation/NewProcess
// event union. Layout here is part of the stable ABI described in
// cmd/libratewatch; changing field order or width breaks every consumer
// built against it.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// CommandLength is the fixed width of a CommandName buffer. It differs by
// platform: Linux task names (TASK_COMM_LEN) are 16 bytes, Windows image
// names are given more room (256 bytes) because minifilter callbacks see
// full NT paths.
const (
	CommandLengthLinux   = 16
	CommandLengthWindows = 256
)

// Metric enumerates the resource dimensions a Threshold vector can bound.
// Only Disk and Network are ever produced by the metering engine; Cpu and
// Memory exist to keep the vector fixed-size and leave room for a future
// collector without changing the wire layout.
type Metric uint8

const (
	MetricCPU Metric = iota
	MetricMemory
	MetricDisk
	MetricNetwork
)

func (m Metric) String() string {
	switch m {
	case MetricCPU:
		return "cpu"
	case MetricMemory:
		return "memory"
	case MetricDisk:
		return "disk"
	case MetricNetwork:
		return "network"
	default:
		return fmt.Sprintf("metric(%d)", uint8(m))
	}
}

// Threshold is a vector of four byte-rate limits (bytes per second), indexed
// by Metric. A zero entry means "no limit": that metric never violates.
type Threshold struct {
	Limits [4]uint32
}

// Get returns the configured limit for m.
func (t Threshold) Get(m Metric) uint32 {
	return t.Limits[m]
}

// CommandName is a fixed-width, NUL-padded process-name key. It is the only
// identity both the kernel collector and the user library share for a
// process; two names compare equal once truncated to the same length,
// regardless of how much of the original string was provided.
type CommandName struct {
	buf []byte
}

// NewCommandName truncates name to length-1 bytes (reserving room for the
// NUL terminator) and returns the padded CommandName. length must be
// CommandLengthLinux or CommandLengthWindows in production use, but any
// positive value works for tests.
func NewCommandName(name string, length int) CommandName {
	buf := make([]byte, length)
	b := []byte(name)
	n := len(b)
	if max := length - 1; n > max {
		n = max
	}
	copy(buf, b[:n])
	return CommandName{buf: buf}
}

// String returns the name up to (but excluding) the first NUL byte.
func (c CommandName) String() string {
	if i := bytes.IndexByte(c.buf, 0); i >= 0 {
		return string(c.buf[:i])
	}
	return string(c.buf)
}

// Bytes returns the fixed-width padded buffer, for hashing or encoding.
func (c CommandName) Bytes() []byte {
	return c.buf
}

// Equal reports whether c and other hold the same truncated name. Lengths
// may differ (comparing a Linux-truncated name against a Windows-truncated
// one will not panic); comparison is on the full NUL-trimmed strings, so the
// same name truncated to two different widths can compare unequal.
func (c CommandName) Equal(other CommandName) bool {
	return c.String() == other.String()
}

// Key returns a value suitable for use as a map key: the NUL-trimmed string.
// The Linux driver keys watchlist entries on this rather than on the raw
// padded buffer so that truncation is the only source of collisions.
func (c CommandName) Key() string {
	return c.String()
}

// EventType discriminates the Event union's active variant.
type EventType uint8

const (
	EventViolation EventType = iota
	EventNewProcess
)

// Violation is the payload of a threshold-exceeded event: the metric that
// tripped, the measured rate, and the threshold it was compared against.
type Violation struct {
	Metric    Metric
	Value     uint32
	Threshold uint32
}

// NewProcessData is the (empty) payload of a process-creation event; all
// identifying information lives in the enclosing Event's Pid and Name.
type NewProcessData struct{}

// Event is the decoded wire record: a process identity, a variant tag, and
// the variant's payload. Exactly one of Violation/NewProcess is meaningful,
// selected by Type.
type Event struct {
	Pid       uint32
	Name      CommandName
	Type      EventType
	Violation Violation
}

// Encode serializes e into its little-endian binary wire form:
//
//	pid       uint32
//	name      [length]byte
//	variant   uint8
//	metric    uint8    (Violation only; 0 for NewProcess)
//	value     uint32   (Violation only; 0 for NewProcess)
//	threshold uint32   (Violation only; 0 for NewProcess)
//
// length is the CommandName width used by the caller's platform. The
// encoded form is fixed-size so a framing layer need only buffer and split
// on terminators (Windows) or hand back one ring reservation (Linux).
func (e Event) Encode(length int) []byte {
	buf := make([]byte, 0, 4+length+1+1+4+4)
	var tmp [4]byte

	binary.LittleEndian.PutUint32(tmp[:], e.Pid)
	buf = append(buf, tmp[:]...)

	name := e.Name.buf
	if len(name) != length {
		name = NewCommandName(e.Name.String(), length).buf
	}
	buf = append(buf, name...)

	buf = append(buf, byte(e.Type))

	switch e.Type {
	case EventViolation:
		buf = append(buf, byte(e.Violation.Metric))
		binary.LittleEndian.PutUint32(tmp[:], e.Violation.Value)
		buf = append(buf, tmp[:]...)
		binary.LittleEndian.PutUint32(tmp[:], e.Violation.Threshold)
		buf = append(buf, tmp[:]...)
	case EventNewProcess:
		buf = append(buf, 0, 0, 0, 0, 0, 0, 0, 0, 0)
	}

	return buf
}

// EncodedSize returns the byte length Encode produces for the given
// CommandName width.
func EncodedSize(length int) int {
	return 4 + length + 1 + 1 + 4 + 4
}

// Decode parses the little-endian wire form produced by Encode, using
// length as the CommandName width.
func Decode(buf []byte, length int) (Event, error) {
	want := EncodedSize(length)
	if len(buf) != want {
		return Event{}, fmt.Errorf("wire: decode event: got %d bytes, want %d", len(buf), want)
	}

	var e Event
	e.Pid = binary.LittleEndian.Uint32(buf[0:4])
	off := 4

	name := make([]byte, length)
	copy(name, buf[off:off+length])
	e.Name = CommandName{buf: name}
	off += length

	e.Type = EventType(buf[off])
	off++

	switch e.Type {
	case EventViolation:
		e.Violation.Metric = Metric(buf[off])
		off++
		e.Violation.Value = binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
		e.Violation.Threshold = binary.LittleEndian.Uint32(buf[off : off+4])
	case EventNewProcess:
		// payload bytes are reserved zero; nothing to decode.
	default:
		return Event{}, fmt.Errorf("wire: decode event: unknown variant tag %d", e.Type)
	}

	return e, nil
}
