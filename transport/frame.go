// Package transport serves the request core over a stream socket. Each
// message travels as one frame: a 4-byte big-endian length followed by
// the payload encoded with the connection's codec.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultMaxFrame is the default largest accepted payload (3.5 MiB).
const DefaultMaxFrame int = 3_670_016

// MaxFrameHardLimit caps MaxFrame whatever the configuration says.
const MaxFrameHardLimit int = 16_777_216

// Limits bounds frame sizes on a connection.
type Limits struct {
	MaxFrame int
}

// DefaultLimits returns the default frame limits.
func DefaultLimits() Limits {
	return Limits{MaxFrame: DefaultMaxFrame}
}

func (l Limits) maxFrame() int {
	if l.MaxFrame <= 0 || l.MaxFrame > MaxFrameHardLimit {
		return MaxFrameHardLimit
	}
	return l.MaxFrame
}

// FrameReader reads length-prefixed frames from a stream.
type FrameReader struct {
	reader io.Reader
	limits Limits
}

// NewFrameReader creates a new FrameReader
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		reader: r,
		limits: DefaultLimits(),
	}
}

// SetLimits updates the reader's limits
func (fr *FrameReader) SetLimits(limits Limits) {
	fr.limits = limits
}

// ReadFrame reads the next payload. It returns io.EOF when the stream
// ends cleanly between frames.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(fr.reader, lengthBuf[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])
	if limit := fr.limits.maxFrame(); int64(length) > int64(limit) {
		return nil, fmt.Errorf("frame size %d exceeds max_frame limit %d", length, limit)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.reader, payload); err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// FrameWriter writes length-prefixed frames to a stream. It is not safe
// for concurrent use; Conn serializes access to it.
type FrameWriter struct {
	writer io.Writer
	limits Limits
}

// NewFrameWriter creates a new FrameWriter
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{
		writer: w,
		limits: DefaultLimits(),
	}
}

// SetLimits updates the writer's limits
func (fw *FrameWriter) SetLimits(limits Limits) {
	fw.limits = limits
}

// WriteFrame writes payload as a single frame.
func (fw *FrameWriter) WriteFrame(payload []byte) error {
	if limit := fw.limits.maxFrame(); len(payload) > limit {
		return fmt.Errorf("encoded frame size %d exceeds max_frame limit %d", len(payload), limit)
	}

	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)
	_, err := fw.writer.Write(frame)
	return err
}
