package codec

import (
	"errors"

	"github.com/lcx/tcpio/data"
	"github.com/lcx/tcpio/message"
)

var errNilEnvelope = errors.New("nil envelope")

// wireEnvelope is the tagged mirror of message.Envelope used by the
// self-describing codecs. The cbor keys match the protobuf field numbers.
type wireEnvelope struct {
	Type      int32          `msgpack:"type,omitempty" cbor:"1,keyasint,omitempty"`
	Timestamp int64          `msgpack:"ts,omitempty" cbor:"2,keyasint,omitempty"`
	Variables []wireVariable `msgpack:"vars,omitempty" cbor:"3,keyasint,omitempty"`
	Payload   []byte         `msgpack:"payload,omitempty" cbor:"4,keyasint,omitempty"`
}

type wireVariable struct {
	Meta wireMetaData `msgpack:"meta" cbor:"1,keyasint"`
	Data []byte       `msgpack:"data,omitempty" cbor:"2,keyasint,omitempty"`
}

type wireMetaData struct {
	EntityID     int32    `msgpack:"entity,omitempty" cbor:"1,keyasint,omitempty"`
	ID           int32    `msgpack:"id,omitempty" cbor:"2,keyasint,omitempty"`
	DataType     int32    `msgpack:"type,omitempty" cbor:"3,keyasint,omitempty"`
	Dimensions   []uint64 `msgpack:"dims,omitempty" cbor:"4,keyasint,omitempty"`
	OpcodeHandle string   `msgpack:"op,omitempty" cbor:"5,keyasint,omitempty"`
}

func toWire(env *message.Envelope) (*wireEnvelope, error) {
	if env == nil {
		return nil, errNilEnvelope
	}
	w := &wireEnvelope{
		Type:      int32(env.Type),
		Timestamp: env.Timestamp,
		Payload:   env.Payload,
	}
	for _, v := range env.Variables {
		if !v.IsValid() {
			continue
		}
		m := v.MetaData()
		w.Variables = append(w.Variables, wireVariable{
			Meta: wireMetaData{
				EntityID:     m.EntityID(),
				ID:           m.ID(),
				DataType:     int32(m.Type()),
				Dimensions:   m.Dimensions(),
				OpcodeHandle: m.OpcodeHandle(),
			},
			Data: v.Bytes(),
		})
	}
	return w, nil
}

func fromWire(w *wireEnvelope) *message.Envelope {
	env := &message.Envelope{
		Type:      message.Type(w.Type),
		Timestamp: w.Timestamp,
		Payload:   w.Payload,
	}
	for _, v := range w.Variables {
		meta := data.NewMetaData(v.Meta.EntityID, v.Meta.ID, data.DataType(v.Meta.DataType),
			v.Meta.Dimensions, v.Meta.OpcodeHandle)
		raw := v.Data
		if raw == nil {
			raw = []byte{}
		}
		env.Variables = append(env.Variables, data.NewMsgData(meta, raw))
	}
	return env
}
