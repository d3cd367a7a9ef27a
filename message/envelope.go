// Package message defines the envelope exchanged between two peers and the
// discriminator that tells the framework what an envelope means.
package message

import (
	"fmt"
	"strconv"
	"time"

	"github.com/lcx/tcpio/data"
)

// Type 消息类型.
type Type int32

const (
	TypeData      Type = 0
	TypeSetup     Type = 1
	TypeStart     Type = 2
	TypeStop      Type = 3
	TypeReconnect Type = 4 // local only, never framed
)

// typeNames is read-only after init.
var typeNames = map[Type]string{
	TypeData:      "DATA",
	TypeSetup:     "SETUP",
	TypeStart:     "START",
	TypeStop:      "STOP",
	TypeReconnect: "RECONNECT",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "Type(" + strconv.Itoa(int(t)) + ")"
}

// WireVisible reports whether envelopes of this type may be written to a socket.
func (t Type) WireVisible() bool {
	return t != TypeReconnect
}

// ParseType maps a display name back to its Type.
func ParseType(name string) (Type, bool) {
	for t, n := range typeNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// Envelope is one discrete message. Once pushed to a queue it belongs to the
// queue, and whichever side dequeues it consumes it exactly once.
type Envelope struct {
	// Type discriminates the framework meaning of the envelope.
	Type Type
	// Timestamp is the creation time in unix microseconds.
	Timestamp int64
	// Variables are the typed data blocks carried by DATA and SETUP envelopes.
	Variables []data.MsgData
	// Payload is opaque framework data.
	Payload []byte
}

// NewEnvelope creates an envelope of the given type stamped with the current time.
func NewEnvelope(t Type, variables ...data.MsgData) *Envelope {
	return &Envelope{
		Type:      t,
		Timestamp: time.Now().UnixMicro(),
		Variables: variables,
	}
}

// NewDataEnvelope creates a DATA envelope carrying the given blocks.
func NewDataEnvelope(variables ...data.MsgData) *Envelope {
	return NewEnvelope(TypeData, variables...)
}

// NewReconnectEnvelope creates the local notification pushed after a connection
// has been re-established.
func NewReconnectEnvelope() *Envelope {
	return NewEnvelope(TypeReconnect)
}

// Time returns the timestamp as a time.Time.
func (e *Envelope) Time() time.Time {
	return time.UnixMicro(e.Timestamp)
}

func (e *Envelope) String() string {
	return fmt.Sprintf("Envelope{type=%s ts=%d vars=%d payload=%d}",
		e.Type, e.Timestamp, len(e.Variables), len(e.Payload))
}
