package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var frameHeader = [2]byte{0x94, 0xC3}

// MaxPayloadLen is the largest payload the radio wire format carries.
const MaxPayloadLen = 512

// ErrFrameTooLarge is returned when a payload exceeds MaxPayloadLen.
var ErrFrameTooLarge = errors.New("frame payload too large")

type readFullFunc func(buf []byte) error

// EncodeFrame prepends the stream header and big-endian payload length.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	frame := make([]byte, 4+len(payload))
	frame[0] = frameHeader[0]
	frame[1] = frameHeader[1]
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(payload)))
	copy(frame[4:], payload)

	return frame, nil
}

// readFrame blocks until one complete frame arrives. Garbage before the
// header and implausible lengths are skipped by resyncing on the header
// marker, so a desynced stream recovers at the next well-formed frame.
func readFrame(readFull readFullFunc) ([]byte, error) {
	for {
		if err := resyncToHeader(readFull); err != nil {
			return nil, err
		}

		var lenBuf [2]byte
		if err := readFull(lenBuf[:]); err != nil {
			return nil, fmt.Errorf("read frame length: %w", err)
		}
		ln := int(binary.BigEndian.Uint16(lenBuf[:]))
		if ln > MaxPayloadLen {
			continue
		}

		payload := make([]byte, ln)
		if err := readFull(payload); err != nil {
			return nil, fmt.Errorf("read frame payload: %w", err)
		}

		return payload, nil
	}
}

func resyncToHeader(readFull readFullFunc) error {
	buf := make([]byte, 1)
	for {
		if err := readFull(buf); err != nil {
			return fmt.Errorf("read frame header byte 1: %w", err)
		}
		if buf[0] != frameHeader[0] {
			continue
		}
		// A run of 0x94 bytes may end in a real header; keep reading
		// until the byte is neither marker byte.
		for {
			if err := readFull(buf); err != nil {
				return fmt.Errorf("read frame header byte 2: %w", err)
			}
			if buf[0] == frameHeader[1] {
				return nil
			}
			if buf[0] != frameHeader[0] {
				break
			}
		}
	}
}

func ioReadFullFunc(r io.Reader) readFullFunc {
	return func(buf []byte) error {
		_, err := io.ReadFull(r, buf)

		return err
	}
}

// FrameDecoder is the buffered variant of the stream reader, for callers
// that receive raw chunks instead of owning a blocking reader. Feed appends
// bytes; Take drains every complete frame and keeps the partial tail.
// Neither call blocks.
type FrameDecoder struct {
	buf []byte
}

func (d *FrameDecoder) Feed(chunk []byte) {
	d.buf = append(d.buf, chunk...)
}

func (d *FrameDecoder) Take() [][]byte {
	var payloads [][]byte
	for {
		start := bytes.Index(d.buf, frameHeader[:])
		if start < 0 {
			// Keep a trailing first marker byte, the second half of the
			// header may arrive in the next chunk.
			if n := len(d.buf); n > 0 && d.buf[n-1] == frameHeader[0] {
				d.buf = append(d.buf[:0], frameHeader[0])
			} else {
				d.buf = d.buf[:0]
			}

			return payloads
		}
		if start > 0 {
			d.buf = append(d.buf[:0], d.buf[start:]...)
		}
		if len(d.buf) < 4 {
			return payloads
		}
		ln := int(binary.BigEndian.Uint16(d.buf[2:4]))
		if ln > MaxPayloadLen {
			d.buf = append(d.buf[:0], d.buf[1:]...)
			continue
		}
		if len(d.buf) < 4+ln {
			return payloads
		}
		payload := make([]byte, ln)
		copy(payload, d.buf[4:4+ln])
		payloads = append(payloads, payload)
		d.buf = append(d.buf[:0], d.buf[4+ln:]...)
	}
}

// Pending reports buffered bytes not yet consumed as frames.
func (d *FrameDecoder) Pending() int {
	return len(d.buf)
}
