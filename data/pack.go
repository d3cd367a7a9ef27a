package data

import (
	"encoding/binary"
	"math"
)

// CommunicationID is the element type of DataTypeCommunicationID blocks.
type CommunicationID = int64

// Element is the closed set of Go types that can be packed into a data block.
// CommunicationID is an alias of int64 and packs the same way.
type Element interface {
	float64 | int64 | uint8 | bool
}

// ElementWidth returns the packed width in bytes of one element of type T.
func ElementWidth[T Element]() int {
	var zero T
	switch any(zero).(type) {
	case float64, int64:
		return wideElementSize
	default:
		return defaultElementSize
	}
}

// Holds reports whether blocks of type t decode as elements of T.
// Unknown one-byte types are only readable as raw bytes.
func Holds[T Element](t DataType) bool {
	var zero T
	switch any(zero).(type) {
	case float64:
		return t == DataTypeDouble
	case int64:
		return t == DataTypeInt64 || t == DataTypeCommunicationID
	case bool:
		return t == DataTypeBool
	default:
		return t != DataTypeBool && t.ElementSize() == defaultElementSize
	}
}

// Pack converts values to a byte buffer by emitting each element's fixed-width
// representation in array order. No padding, alignment or tagging is added, so the
// result is exactly len(values)*ElementWidth[T]() bytes. Wide elements are written
// little-endian regardless of the host byte order.
func Pack[T Element](values []T) []byte {
	buf := make([]byte, 0, len(values)*ElementWidth[T]())
	for _, v := range values {
		switch x := any(v).(type) {
		case float64:
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(x))
		case int64:
			buf = binary.LittleEndian.AppendUint64(buf, uint64(x))
		case uint8:
			buf = append(buf, x)
		case bool:
			if x {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		}
	}
	return buf
}

// Unpack is the inverse of Pack: it walks buf in ElementWidth[T]() strides.
// Trailing bytes that do not form a whole element are ignored.
func Unpack[T Element](buf []byte) []T {
	width := ElementWidth[T]()
	values := make([]T, 0, len(buf)/width)
	for off := 0; off+width <= len(buf); off += width {
		var v T
		switch p := any(&v).(type) {
		case *float64:
			*p = math.Float64frombits(binary.LittleEndian.Uint64(buf[off:]))
		case *int64:
			*p = int64(binary.LittleEndian.Uint64(buf[off:]))
		case *uint8:
			*p = buf[off]
		case *bool:
			*p = buf[off] != 0
		}
		values = append(values, v)
	}
	return values
}
