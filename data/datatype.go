// Package data describes typed, multi-dimensional data blocks and converts them to and from
// the flat byte payloads carried inside envelopes.
package data

import "strconv"

// DataType identifies the element kind of a data block.
// The numeric values are part of the wire format and must not be renumbered.
type DataType int32

const (
	DataTypeDouble          DataType = 0  // 8-byte IEEE-754 float
	DataTypeBool            DataType = 1  // 1 byte, 0 or 1
	DataTypeByte            DataType = 2  // raw byte
	DataTypeInt64           DataType = 3  // 8-byte signed integer
	DataTypeString          DataType = 4  // bytes of a string, one per element
	DataTypeCommunicationID DataType = 15 // 8-byte signed identifier
)

// wideElementSize is the width of the three 8-byte element kinds.
const wideElementSize = 8

// defaultElementSize is used for every other kind, including unknown ones.
const defaultElementSize = 1

var dataTypeNames = map[DataType]string{
	DataTypeDouble:          "DOUBLE",
	DataTypeBool:            "BOOL",
	DataTypeByte:            "BYTE",
	DataTypeInt64:           "INT64",
	DataTypeString:          "STRING",
	DataTypeCommunicationID: "COMMUNICATION_ID",
}

// String returns the display name of the type, or its number when unknown.
func (t DataType) String() string {
	if name, ok := dataTypeNames[t]; ok {
		return name
	}
	return "DataType(" + strconv.Itoa(int(t)) + ")"
}

// Known reports whether t is one of the declared element kinds.
func (t DataType) Known() bool {
	_, ok := dataTypeNames[t]
	return ok
}

// ElementSize returns the byte width of one element of type t.
// Unknown types degrade to one byte instead of failing.
func (t DataType) ElementSize() uint64 {
	switch t {
	case DataTypeDouble, DataTypeInt64, DataTypeCommunicationID:
		return wideElementSize
	default:
		return defaultElementSize
	}
}

// ParseDataType maps a display name back to its DataType.
func ParseDataType(name string) (DataType, bool) {
	for t, n := range dataTypeNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}
