// Package hotstream validates the optional binary hot-stream files a
// shard may carry under content/.
//
// A hot-stream is a flat sequence of frames:
//
//	frame = magic "AXF1" (4 bytes)
//	     || sequence number (uint64, big-endian)
//	     || payload length  (uint32, big-endian)
//	     || payload
//
// Sequence numbers start at zero and increment by exactly one. A gap, a
// wrong magic, or a truncated final frame is a discontinuity; callers map
// it to E_BUFFER_DISCONTINUITY. The stream content itself is opaque to the
// core - the Merkle tree already covers its bytes.
package hotstream

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FrameMagic opens every frame.
var FrameMagic = [4]byte{'A', 'X', 'F', '1'}

// Extension is the filename suffix that marks a content file as a
// hot-stream subject to frame validation.
const Extension = ".axs"

const headerSize = 4 + 8 + 4

// MaxPayload bounds a single frame so a corrupt length field cannot force
// an unbounded allocation.
const MaxPayload = 64 << 20

// DiscontinuityError reports a broken frame sequence.
type DiscontinuityError struct {
	Offset int64 // byte offset of the offending frame header
	Frame  uint64
	Msg    string
}

func (e *DiscontinuityError) Error() string {
	return fmt.Sprintf("hotstream: frame %d at offset %d: %s", e.Frame, e.Offset, e.Msg)
}

// Validate reads a hot-stream to EOF and checks the frame format:
// gap-free sequence from zero, correct magic on every frame, no
// truncation. Returns the number of frames on success.
func Validate(r io.Reader) (frames uint64, err error) {
	var (
		offset int64
		next   uint64
		header [headerSize]byte
	)
	for {
		n, err := io.ReadFull(r, header[:])
		if err == io.EOF && n == 0 {
			return next, nil
		}
		if err != nil {
			return next, &DiscontinuityError{Offset: offset, Frame: next, Msg: "truncated frame header"}
		}
		if [4]byte(header[:4]) != FrameMagic {
			return next, &DiscontinuityError{Offset: offset, Frame: next, Msg: "bad frame magic"}
		}
		seq := binary.BigEndian.Uint64(header[4:12])
		if seq != next {
			return next, &DiscontinuityError{Offset: offset, Frame: next,
				Msg: fmt.Sprintf("sequence gap: have %d, want %d", seq, next)}
		}
		payloadLen := binary.BigEndian.Uint32(header[12:16])
		if payloadLen > MaxPayload {
			return next, &DiscontinuityError{Offset: offset, Frame: next,
				Msg: fmt.Sprintf("payload length %d exceeds limit", payloadLen)}
		}
		if _, err := io.CopyN(io.Discard, r, int64(payloadLen)); err != nil {
			return next, &DiscontinuityError{Offset: offset, Frame: next, Msg: "truncated payload"}
		}
		offset += int64(headerSize) + int64(payloadLen)
		next++
	}
}

// WriteFrame appends one frame to w. Producers are responsible for passing
// consecutive sequence numbers starting at zero.
func WriteFrame(w io.Writer, seq uint64, payload []byte) error {
	var header [headerSize]byte
	copy(header[:4], FrameMagic[:])
	binary.BigEndian.PutUint64(header[4:12], seq)
	binary.BigEndian.PutUint32(header[12:16], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
