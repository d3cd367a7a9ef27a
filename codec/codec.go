// Package codec serializes envelopes into the payload bytes carried by a frame.
package codec

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/lcx/tcpio/message"
)

var (
	errCodecNotInit = errors.New("codec not init")

	// ErrUnknownCodec is returned by Lookup for a name that was never registered.
	ErrUnknownCodec = errors.New("unknown codec")

	_codec Codec = ProtobufCodec{}

	registryMu sync.RWMutex
	registry   = map[string]Codec{}
)

func init() {
	Register(ProtobufCodec{})
	Register(MsgpackCodec{})
	Register(newCBORCodec())
}

// Codec 解码器.
type Codec interface {
	// Name identifies the codec in configuration, e.g. "protobuf".
	Name() string
	Marshal(env *message.Envelope) ([]byte, error)
	Unmarshal(b []byte) (*message.Envelope, error)
}

// Encode 打包.
func Encode(env *message.Envelope) ([]byte, error) {
	if _codec == nil {
		return nil, errCodecNotInit
	}
	return _codec.Marshal(env)
}

// Decode 解包.
func Decode(b []byte) (*message.Envelope, error) {
	if _codec == nil {
		return nil, errCodecNotInit
	}
	return _codec.Unmarshal(b)
}

// SetCodec 设置解码器.
func SetCodec(c Codec) {
	_codec = c
}

// Default returns the process wide codec.
func Default() Codec {
	return _codec
}

// Register makes a codec available to Lookup. A later registration with the same name wins.
func Register(c Codec) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[c.Name()] = c
}

// Lookup returns the codec registered under name.
func Lookup(name string) (Codec, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return c, nil
}

// Names lists the registered codec names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
