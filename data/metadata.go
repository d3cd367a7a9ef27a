package data

import (
	"fmt"
	"strings"
)

// MetaData describes a typed data block: which entity and property it belongs to,
// the element type, the shape, and an optional opcode handle.
//
// The element width, element count and byte length are derived from the type and
// dimensions. Every setter that touches either of them recomputes all three, so the
// derived values are never observed stale.
type MetaData struct {
	entityID     int32
	id           int32
	dataType     DataType
	dimensions   []uint64
	opcodeHandle string

	elementSize  uint64
	elementCount uint64
	byteLength   uint64
}

// NewMetaData creates a descriptor for a block of the given type and shape.
// A nil or empty dimensions slice describes a scalar.
func NewMetaData(entityID, id int32, t DataType, dimensions []uint64, opcodeHandle string) MetaData {
	var m MetaData
	m.SetMetaData(entityID, id, t, dimensions, opcodeHandle)
	return m
}

// SetMetaData overwrites every field of the descriptor.
func (m *MetaData) SetMetaData(entityID, id int32, t DataType, dimensions []uint64, opcodeHandle string) {
	m.entityID = entityID
	m.id = id
	m.opcodeHandle = opcodeHandle
	m.dataType = t
	m.dimensions = append([]uint64(nil), dimensions...)
	m.recompute()
}

// SetType changes the element type and recomputes the derived sizes.
func (m *MetaData) SetType(t DataType) {
	m.dataType = t
	m.recompute()
}

// SetDimensions changes the shape and recomputes the derived sizes.
func (m *MetaData) SetDimensions(dimensions []uint64) {
	m.dimensions = append([]uint64(nil), dimensions...)
	m.recompute()
}

// SetOpcodeHandle sets the opcode tag.
func (m *MetaData) SetOpcodeHandle(handle string) {
	m.opcodeHandle = handle
}

func (m *MetaData) recompute() {
	m.elementSize = m.dataType.ElementSize()
	m.elementCount = 1
	for _, d := range m.dimensions {
		m.elementCount *= d
	}
	m.byteLength = m.elementCount * m.elementSize
}

// EntityID returns the id of the entity the data belongs to.
func (m MetaData) EntityID() int32 { return m.entityID }

// ID returns the id of the property the data belongs to.
func (m MetaData) ID() int32 { return m.id }

// Type returns the element type.
func (m MetaData) Type() DataType { return m.dataType }

// Dimensions returns a copy of the shape, e.g. [1920 1080] for a full HD image.
func (m MetaData) Dimensions() []uint64 {
	return append([]uint64(nil), m.dimensions...)
}

// OpcodeHandle returns the opcode tag, empty when unset.
func (m MetaData) OpcodeHandle() string { return m.opcodeHandle }

// ElementSize returns the number of bytes used by one element (8 for a double).
func (m MetaData) ElementSize() uint64 { return m.elementSize }

// ElementCount returns the number of elements, the product of the dimensions.
func (m MetaData) ElementCount() uint64 { return m.elementCount }

// ByteLength returns ElementCount * ElementSize.
func (m MetaData) ByteLength() uint64 { return m.byteLength }

// Equal reports whether two descriptors describe the same data.
func (m MetaData) Equal(o MetaData) bool {
	if m.entityID != o.entityID || m.id != o.id || m.dataType != o.dataType ||
		m.opcodeHandle != o.opcodeHandle || len(m.dimensions) != len(o.dimensions) {
		return false
	}
	for i := range m.dimensions {
		if m.dimensions[i] != o.dimensions[i] {
			return false
		}
	}
	return true
}

func (m MetaData) String() string {
	dims := make([]string, len(m.dimensions))
	for i, d := range m.dimensions {
		dims[i] = fmt.Sprint(d)
	}
	return fmt.Sprintf("MetaData{entity=%d id=%d type=%s size=%d count=%d length=%d opcode=%q dims=[%s]}",
		m.entityID, m.id, m.dataType, m.elementSize, m.elementCount, m.byteLength,
		m.opcodeHandle, strings.Join(dims, " "))
}
