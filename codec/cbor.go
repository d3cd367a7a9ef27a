package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/lcx/tcpio/message"
)

// CBORCodec encodes envelopes as canonical CBOR with integer map keys.
type CBORCodec struct {
	enc cbor.EncMode
}

func newCBORCodec() CBORCodec {
	// the canonical options are static and always valid
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return CBORCodec{enc: enc}
}

// Name implements Codec.
func (CBORCodec) Name() string { return "cbor" }

// Marshal implements Codec.
func (c CBORCodec) Marshal(env *message.Envelope) ([]byte, error) {
	w, err := toWire(env)
	if err != nil {
		return nil, err
	}
	if c.enc == nil {
		return cbor.Marshal(w)
	}
	return c.enc.Marshal(w)
}

// Unmarshal implements Codec.
func (CBORCodec) Unmarshal(b []byte) (*message.Envelope, error) {
	w := &wireEnvelope{}
	if err := cbor.Unmarshal(b, w); err != nil {
		return nil, fmt.Errorf("cbor envelope: %w", err)
	}
	return fromWire(w), nil
}
