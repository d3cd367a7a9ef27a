package data

import (
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrInvalidData is returned when reading values out of an invalid block.
	ErrInvalidData = errors.New("invalid data block")
	// ErrWidthMismatch is returned when the requested element type does not match the descriptor.
	ErrWidthMismatch = errors.New("element width does not match descriptor")
	// ErrTypeMismatch is returned when the element type has the right width but another kind,
	// e.g. float64 requested from an INT64 block.
	ErrTypeMismatch = errors.New("element type does not match descriptor")
	// ErrLengthMismatch is returned by Validate when the buffer size disagrees with the descriptor.
	ErrLengthMismatch = errors.New("buffer length does not match descriptor")
)

// MsgData pairs a descriptor with the raw bytes it describes.
// The descriptor is held by value and exposed through MetaData.
type MsgData struct {
	meta  MetaData
	data  []byte
	valid bool
}

// NewMsgData wraps raw bytes, e.g. a payload received from the wire.
// The buffer is not checked against the descriptor; call Validate when that matters.
func NewMsgData(meta MetaData, raw []byte) MsgData {
	return MsgData{meta: meta, data: raw, valid: true}
}

// NewEmptyMsgData creates a valid block without data, typically used in setup messages
// to announce a variable.
func NewEmptyMsgData(meta MetaData) MsgData {
	return MsgData{meta: meta, data: []byte{}, valid: true}
}

// NewTypedMsgData packs values into a new block.
func NewTypedMsgData[T Element](meta MetaData, values []T) MsgData {
	return MsgData{meta: meta, data: Pack(values), valid: true}
}

// InvalidMsgData returns a block that signals "no data".
func InvalidMsgData() MsgData {
	return MsgData{}
}

// IsValid reports whether the block carries data.
func (d MsgData) IsValid() bool { return d.valid }

// MetaData returns the descriptor.
func (d MsgData) MetaData() MetaData { return d.meta }

// Bytes returns the raw data.
func (d MsgData) Bytes() []byte { return d.data }

// SetBytes replaces the raw data.
func (d *MsgData) SetBytes(raw []byte) { d.data = raw }

// Validate checks that the buffer length equals the descriptor's byte length.
func (d MsgData) Validate() error {
	if !d.valid {
		return ErrInvalidData
	}
	if uint64(len(d.data)) != d.meta.ByteLength() {
		return fmt.Errorf("%w: have %d bytes, descriptor says %d",
			ErrLengthMismatch, len(d.data), d.meta.ByteLength())
	}
	return nil
}

// Values unpacks the block into a typed slice.
func Values[T Element](d MsgData) ([]T, error) {
	if !d.valid {
		return nil, ErrInvalidData
	}
	if uint64(ElementWidth[T]()) != d.meta.ElementSize() {
		return nil, fmt.Errorf("%w: %d byte elements requested for %s",
			ErrWidthMismatch, ElementWidth[T](), d.meta.Type())
	}
	if !Holds[T](d.meta.Type()) {
		return nil, fmt.Errorf("%w: %T requested for %s", ErrTypeMismatch, *new(T), d.meta.Type())
	}
	return Unpack[T](d.data), nil
}

func (d MsgData) String() string {
	if !d.valid {
		return "MsgData{invalid}"
	}
	return fmt.Sprintf("MsgData{%s data=%s}", d.meta, hex.EncodeToString(d.data))
}
