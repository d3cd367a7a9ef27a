package codec

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/lcx/tcpio/data"
	"github.com/lcx/tcpio/message"
)

// Field numbers of the protobuf envelope schema:
//
//	message Envelope { int32 type = 1; int64 timestamp = 2; repeated Variable variables = 3; bytes payload = 4; }
//	message Variable { MetaData meta = 1; bytes data = 2; }
//	message MetaData { int32 entity_id = 1; int32 id = 2; int32 data_type = 3; repeated uint64 dimensions = 4; string opcode_handle = 5; }
const (
	envelopeType      protowire.Number = 1
	envelopeTimestamp protowire.Number = 2
	envelopeVariable  protowire.Number = 3
	envelopePayload   protowire.Number = 4

	variableMeta protowire.Number = 1
	variableData protowire.Number = 2

	metaEntityID     protowire.Number = 1
	metaID           protowire.Number = 2
	metaDataType     protowire.Number = 3
	metaDimensions   protowire.Number = 4
	metaOpcodeHandle protowire.Number = 5
)

// ProtobufCodec writes envelopes in protobuf wire format. It is the default codec.
// Zero valued scalars are omitted, and unknown fields are skipped when decoding.
type ProtobufCodec struct{}

// Name implements Codec.
func (ProtobufCodec) Name() string { return "protobuf" }

// Marshal implements Codec. Invalid data blocks are not written.
func (ProtobufCodec) Marshal(env *message.Envelope) ([]byte, error) {
	if env == nil {
		return nil, errNilEnvelope
	}
	var b []byte
	b = appendVarintField(b, envelopeType, uint64(int64(env.Type)))
	b = appendVarintField(b, envelopeTimestamp, uint64(env.Timestamp))
	for _, v := range env.Variables {
		if !v.IsValid() {
			continue
		}
		b = protowire.AppendTag(b, envelopeVariable, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalVariable(v))
	}
	if len(env.Payload) > 0 {
		b = protowire.AppendTag(b, envelopePayload, protowire.BytesType)
		b = protowire.AppendBytes(b, env.Payload)
	}
	return b, nil
}

func marshalVariable(v data.MsgData) []byte {
	var b []byte
	b = protowire.AppendTag(b, variableMeta, protowire.BytesType)
	b = protowire.AppendBytes(b, marshalMetaData(v.MetaData()))
	if len(v.Bytes()) > 0 {
		b = protowire.AppendTag(b, variableData, protowire.BytesType)
		b = protowire.AppendBytes(b, v.Bytes())
	}
	return b
}

func marshalMetaData(m data.MetaData) []byte {
	var b []byte
	b = appendVarintField(b, metaEntityID, uint64(int64(m.EntityID())))
	b = appendVarintField(b, metaID, uint64(int64(m.ID())))
	b = appendVarintField(b, metaDataType, uint64(int64(m.Type())))
	if dims := m.Dimensions(); len(dims) > 0 {
		var packed []byte
		for _, d := range dims {
			packed = protowire.AppendVarint(packed, d)
		}
		b = protowire.AppendTag(b, metaDimensions, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	if h := m.OpcodeHandle(); h != "" {
		b = protowire.AppendTag(b, metaOpcodeHandle, protowire.BytesType)
		b = protowire.AppendString(b, h)
	}
	return b
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// Unmarshal implements Codec.
func (ProtobufCodec) Unmarshal(b []byte) (*message.Envelope, error) {
	env := &message.Envelope{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == envelopeType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			env.Type = message.Type(int32(v))
			return n, nil
		case num == envelopeTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			env.Timestamp = int64(v)
			return n, nil
		case num == envelopeVariable && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			md, err := unmarshalVariable(v)
			if err != nil {
				return 0, err
			}
			env.Variables = append(env.Variables, md)
			return n, nil
		case num == envelopePayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			env.Payload = append([]byte(nil), v...)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, fmt.Errorf("protobuf envelope: %w", err)
	}
	return env, nil
}

func unmarshalVariable(b []byte) (data.MsgData, error) {
	var meta data.MetaData
	raw := []byte{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == variableMeta && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			m, err := unmarshalMetaData(v)
			if err != nil {
				return 0, err
			}
			meta = m
			return n, nil
		case num == variableData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			raw = append(raw, v...)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return data.InvalidMsgData(), fmt.Errorf("variable: %w", err)
	}
	return data.NewMsgData(meta, raw), nil
}

func unmarshalMetaData(b []byte) (data.MetaData, error) {
	var (
		entityID, id int32
		dataType     data.DataType
		dims         []uint64
		opcode       string
	)
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == metaEntityID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			entityID = int32(v)
			return n, nil
		case num == metaID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			id = int32(v)
			return n, nil
		case num == metaDataType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			dataType = data.DataType(int32(v))
			return n, nil
		case num == metaDimensions && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			for len(packed) > 0 {
				d, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return m, nil
				}
				dims = append(dims, d)
				packed = packed[m:]
			}
			return n, nil
		case num == metaDimensions && typ == protowire.VarintType:
			// unpacked encoding of the repeated field
			d, n := protowire.ConsumeVarint(b)
			dims = append(dims, d)
			return n, nil
		case num == metaOpcodeHandle && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			opcode = v
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return data.MetaData{}, fmt.Errorf("metadata: %w", err)
	}
	return data.NewMetaData(entityID, id, dataType, dims, opcode), nil
}

// walkFields calls fn for every field in b. fn consumes the field value and
// returns how many bytes it used, or a negative protowire error code.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}
