package codec

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/lcx/tcpio/message"
)

// MsgpackCodec encodes envelopes as msgpack maps.
type MsgpackCodec struct{}

// Name implements Codec.
func (MsgpackCodec) Name() string { return "msgpack" }

// Marshal implements Codec.
func (MsgpackCodec) Marshal(env *message.Envelope) ([]byte, error) {
	w, err := toWire(env)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(w)
}

// Unmarshal implements Codec.
func (MsgpackCodec) Unmarshal(b []byte) (*message.Envelope, error) {
	w := &wireEnvelope{}
	if err := msgpack.Unmarshal(b, w); err != nil {
		return nil, fmt.Errorf("msgpack envelope: %w", err)
	}
	return fromWire(w), nil
}
