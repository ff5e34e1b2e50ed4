package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/distfs/rfspeer/internal/rfserr"
)

// ReadFrame reads one length-prefixed frame from r: an 8-byte big-endian
// length followed by that many CBOR body bytes. maxFrameSize caps the
// accepted length; a larger prefix fails with rfserr.ErrFrameTooLarge
// without attempting to read the body. A closed or truncated stream
// fails with rfserr.ErrPeerClosed.
func ReadFrame(r io.Reader, maxFrameSize uint64) (Frame, error) {
	var lp [8]byte
	if _, err := io.ReadFull(r, lp[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, rfserr.ErrPeerClosed
		}
		return Frame{}, fmt.Errorf("%w: reading length prefix: %v", rfserr.ErrIO, err)
	}

	length := binary.BigEndian.Uint64(lp[:])
	if length > maxFrameSize {
		return Frame{}, fmt.Errorf("%w: %d bytes exceeds max %d", rfserr.ErrFrameTooLarge, length, maxFrameSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, rfserr.ErrPeerClosed
		}
		return Frame{}, fmt.Errorf("%w: reading body: %v", rfserr.ErrIO, err)
	}

	return Decode(body)
}

// WriteFrame encodes f and writes its length prefix and body to w as a
// single Write call, so concurrent WriteFrame calls on distinct sessions
// never interleave mid-frame. Callers sharing one session across
// goroutines must still serialize their own calls (see the session
// package).
func WriteFrame(w io.Writer, f Frame) error {
	body, err := Encode(f)
	if err != nil {
		return err
	}

	buf := make([]byte, 8+len(body))
	binary.BigEndian.PutUint64(buf[0:8], uint64(len(body)))
	copy(buf[8:], body)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("%w: writing frame: %v", rfserr.ErrIO, err)
	}

	return nil
}
