// Package framing implements the Windows transport's self-synchronizing
// byte-stuffed record framing (§4.6): each serialized Event is followed by a
// 0x00 terminator, and any literal 0x00 byte within the encoded record is
// escaped so the terminator is unambiguous. The Linux transport needs none
// of this — the kernel ring buffer hands back one record per reservation —
// so this package is only imported by internal/driver/windows.
package framing

import (
	"fmt"

	"github.com/tripwire/ratewatch/pkg/wire"
)

// terminator self-delimits a frame.
const terminator = 0x00

// escapeByte precedes a literal terminator byte that appears inside the
// payload, so the decoder can distinguish "end of frame" from "a 0x00 that
// happened to occur in the payload".
const escapeByte = 0x01

// Encode serializes e using the platform's CommandName width (Windows:
// wire.CommandLengthWindows) and appends a byte-stuffed terminator. The
// returned slice is a complete, self-delimited frame ready to Write into the
// shared-memory ring.
func Encode(e wire.Event, commandLength int) []byte {
	raw := e.Encode(commandLength)

	out := make([]byte, 0, len(raw)+2)
	for _, b := range raw {
		switch b {
		case terminator, escapeByte:
			out = append(out, escapeByte, b)
		default:
			out = append(out, b)
		}
	}
	out = append(out, terminator)
	return out
}

// Decoder reassembles frames from a byte stream that may deliver arbitrary
// fragments at a time (the ring's Read can return any number of bytes). It
// holds a scratch buffer across calls and, per §7's "deserialization error"
// handling, resyncs on the next terminator after a corrupt frame rather than
// giving up on the stream.
type Decoder struct {
	commandLength int
	scratch       []byte
}

// NewDecoder creates a Decoder for frames encoded with the given CommandName
// width.
func NewDecoder(commandLength int) *Decoder {
	return &Decoder{commandLength: commandLength}
}

// Feed appends p to the internal scratch buffer and returns every complete,
// successfully decoded frame found so far. A frame that fails to decode
// (wrong length after unstuffing, unknown variant tag) is dropped silently —
// callers only ever see good frames; use FeedLogged if the caller wants to
// observe drops.
func (d *Decoder) Feed(p []byte) []wire.Event {
	events, _ := d.FeedLogged(p)
	return events
}

// FeedLogged behaves like Feed but also returns the count of frames that
// were found but failed to decode, so a caller can log at warn level per
// §7 without this package importing a logger itself.
func (d *Decoder) FeedLogged(p []byte) ([]wire.Event, int) {
	d.scratch = append(d.scratch, p...)

	var events []wire.Event
	dropped := 0

	for {
		idx := findTerminator(d.scratch)
		if idx < 0 {
			break
		}

		frame := d.scratch[:idx]
		d.scratch = d.scratch[idx+1:]

		raw, err := unstuff(frame)
		if err != nil {
			dropped++
			continue
		}

		evt, err := wire.Decode(raw, d.commandLength)
		if err != nil {
			dropped++
			continue
		}

		events = append(events, evt)
	}

	return events, dropped
}

// findTerminator returns the index of the first unescaped terminator byte
// in buf, or -1 if none is present yet.
func findTerminator(buf []byte) int {
	for i := 0; i < len(buf); i++ {
		if buf[i] == escapeByte {
			i++ // skip the escaped byte, whatever it is
			continue
		}
		if buf[i] == terminator {
			return i
		}
	}
	return -1
}

// unstuff reverses the escaping Encode applies, returning the original
// record bytes.
func unstuff(frame []byte) ([]byte, error) {
	out := make([]byte, 0, len(frame))
	for i := 0; i < len(frame); i++ {
		b := frame[i]
		if b == escapeByte {
			i++
			if i >= len(frame) {
				return nil, fmt.Errorf("framing: truncated escape sequence")
			}
			out = append(out, frame[i])
			continue
		}
		if b == terminator {
			return nil, fmt.Errorf("framing: unescaped terminator inside frame")
		}
		out = append(out, b)
	}
	return out, nil
}
