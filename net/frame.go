package net

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/lcx/tcpio/codec"
	"github.com/lcx/tcpio/message"
)

const (
	// DefaultLengthPrefixSize is the width of the frame length prefix in bytes.
	DefaultLengthPrefixSize = 8
	// MaxLengthPrefixSize is the widest supported prefix.
	MaxLengthPrefixSize = 8
	// DefaultMaxFrameSize bounds the payload length accepted by ReadEnvelope.
	DefaultMaxFrameSize = 256 << 20
)

// FrameCodec turns envelopes into length-prefixed frames and back.
//
// Wire format:
//
//	[length: prefixSize bytes, little-endian, unsigned][payload: length bytes]
//
// The payload is the envelope serialized by the configured codec.
type FrameCodec struct {
	prefixSize   int
	maxFrameSize uint64
	codec        codec.Codec
}

// NewFrameCodec creates a frame codec.
//
// Parameters:
//   - prefixSize: width of the length prefix, 1..8
//   - maxFrameSize: largest accepted payload, 0 disables the check
//   - c: envelope codec, nil selects the process default
func NewFrameCodec(prefixSize int, maxFrameSize uint64, c codec.Codec) (*FrameCodec, error) {
	if prefixSize < 1 || prefixSize > MaxLengthPrefixSize {
		return nil, fmt.Errorf("length prefix size %d out of range 1..%d", prefixSize, MaxLengthPrefixSize)
	}
	if c == nil {
		c = codec.Default()
	}
	if c == nil {
		return nil, errors.New("no envelope codec")
	}
	return &FrameCodec{prefixSize: prefixSize, maxFrameSize: maxFrameSize, codec: c}, nil
}

// PrefixSize returns the width of the length prefix.
func (f *FrameCodec) PrefixSize() int { return f.prefixSize }

// Codec returns the envelope codec.
func (f *FrameCodec) Codec() codec.Codec { return f.codec }

// maxLength is the largest payload length the prefix can represent.
func (f *FrameCodec) maxLength() uint64 {
	if f.prefixSize >= 8 {
		return ^uint64(0)
	}
	return 1<<(8*uint(f.prefixSize)) - 1
}

// EncodeFrame serializes env and prepends the length prefix.
func (f *FrameCodec) EncodeFrame(env *message.Envelope) ([]byte, error) {
	if env == nil {
		return nil, wrap(ErrCodec, "encode frame", errors.New("nil envelope"))
	}
	if !env.Type.WireVisible() {
		return nil, wrap(ErrLocalOnly, "encode frame", fmt.Errorf("type %s", env.Type))
	}
	payload, err := f.codec.Marshal(env)
	if err != nil {
		return nil, wrap(ErrCodec, "serialize envelope", err)
	}
	n := uint64(len(payload))
	if n > f.maxLength() {
		return nil, wrap(ErrCodec, "encode frame",
			fmt.Errorf("payload of %d bytes does not fit a %d byte prefix", n, f.prefixSize))
	}

	var prefix [8]byte
	binary.LittleEndian.PutUint64(prefix[:], n)

	frame := make([]byte, 0, f.prefixSize+len(payload))
	frame = append(frame, prefix[:f.prefixSize]...)
	frame = append(frame, payload...)
	return frame, nil
}

// WriteEnvelope writes one frame with a single Write call and returns the bytes written.
func (f *FrameCodec) WriteEnvelope(w io.Writer, env *message.Envelope) (int, error) {
	frame, err := f.EncodeFrame(env)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(frame)
	if err != nil {
		return n, wrap(ErrTransport, "write frame", err)
	}
	if n != len(frame) {
		return n, wrap(ErrTransport, "write frame", io.ErrShortWrite)
	}
	return n, nil
}

// ReadEnvelope reads exactly one frame, accumulating partial reads.
//
// Returns:
//   - (nil, io.EOF) when the peer closed the stream, including in the middle of a frame
//   - an error wrapping ErrTransport when the read fails
//   - an error wrapping ErrCodec when the frame is oversized or cannot be deserialized
func (f *FrameCodec) ReadEnvelope(r io.Reader) (*message.Envelope, error) {
	var prefix [8]byte
	if _, err := io.ReadFull(r, prefix[:f.prefixSize]); err != nil {
		return nil, readError("read length prefix", err)
	}
	n := binary.LittleEndian.Uint64(prefix[:])
	if f.maxFrameSize > 0 && n > f.maxFrameSize {
		return nil, wrap(ErrCodec, "read frame",
			fmt.Errorf("frame of %d bytes exceeds limit %d", n, f.maxFrameSize))
	}
	if n > math.MaxInt64 {
		return nil, wrap(ErrCodec, "read frame", fmt.Errorf("frame length %d is not addressable", n))
	}

	// the buffer grows with the bytes that actually arrive, not with the announced length
	var payload bytes.Buffer
	payload.Grow(int(min(n, initialPayloadBuffer)))
	if _, err := io.CopyN(&payload, r, int64(n)); err != nil {
		return nil, readError("read payload", err)
	}

	env, err := f.codec.Unmarshal(payload.Bytes())
	if err != nil {
		return nil, wrap(ErrCodec, "deserialize envelope", err)
	}
	return env, nil
}

// initialPayloadBuffer caps the allocation made before any payload byte is read.
const initialPayloadBuffer = 64 << 10

// readError maps a short stream to io.EOF and anything else to ErrTransport.
func readError(op string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return wrap(ErrTransport, op, err)
}
