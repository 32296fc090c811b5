package hdlc

import "bytes"

// Deframer accumulates stream reads and extracts complete frames. It is not
// safe for concurrent use; each connection owns one.
//
// The buffer is not bounded: a peer that never sends a Flag byte makes it
// grow without limit. Shared instance links are local and trusted, so this
// is accepted rather than enforced here.
type Deframer struct {
	buf     []byte
	minSize int
}

// NewDeframer creates a Deframer that drops frames whose decoded length is
// less than or equal to minSize.
func NewDeframer(minSize int) *Deframer {
	return &Deframer{minSize: minSize}
}

// Feed appends chunk to the buffer and calls emit for every complete frame,
// in arrival order. The closing Flag of a frame stays in the buffer and
// serves as the opening Flag of the next one, so two adjacent Flags yield an
// empty frame, which the size filter then drops.
func (d *Deframer) Feed(chunk []byte, emit func(frame []byte)) {
	d.buf = append(d.buf, chunk...)
	consumed := false
	for {
		start := bytes.IndexByte(d.buf, Flag)
		if start == -1 {
			break
		}
		end := bytes.IndexByte(d.buf[start+1:], Flag)
		if end == -1 {
			break
		}
		end += start + 1

		frame := Decode(d.buf[start+1 : end])
		d.buf = d.buf[end:]
		consumed = true

		if len(frame) > d.minSize {
			emit(frame)
		}
	}
	if consumed {
		// Drop the consumed prefix from the backing array.
		d.buf = append([]byte(nil), d.buf...)
	}
}

// Buffered returns the number of bytes waiting for a closing Flag.
func (d *Deframer) Buffered() int { return len(d.buf) }
