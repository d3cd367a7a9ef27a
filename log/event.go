package log

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// LogEvent collects the fields of one log line. A nil *LogEvent is valid and
// ignores every call, so filtered levels cost a single comparison.
//
// Example:
//
//	log.Info().Str("peer", addr).Int("attempt", n).Msg("connected")
type LogEvent struct {
	sink   eventSink
	level  Level
	fields logrus.Fields
	msg    string
}

type eventSink interface {
	OnEventEnd(e *LogEvent)
}

func newEvent(sink eventSink) *LogEvent {
	return &LogEvent{sink: sink, fields: make(logrus.Fields, 8)}
}

// Reset clears the event for reuse.
func (e *LogEvent) Reset() {
	clear(e.fields)
	e.msg = ""
}

// Str adds a string field.
func (e *LogEvent) Str(key, val string) *LogEvent {
	if e == nil {
		return nil
	}
	e.fields[key] = val
	return e
}

// Int adds an int field.
func (e *LogEvent) Int(key string, val int) *LogEvent {
	if e == nil {
		return nil
	}
	e.fields[key] = val
	return e
}

// Int64 adds an int64 field.
func (e *LogEvent) Int64(key string, val int64) *LogEvent {
	if e == nil {
		return nil
	}
	e.fields[key] = val
	return e
}

// Uint64 adds a uint64 field.
func (e *LogEvent) Uint64(key string, val uint64) *LogEvent {
	if e == nil {
		return nil
	}
	e.fields[key] = val
	return e
}

// Bool adds a bool field.
func (e *LogEvent) Bool(key string, val bool) *LogEvent {
	if e == nil {
		return nil
	}
	e.fields[key] = val
	return e
}

// Dur adds a duration field rendered like "1.5s".
func (e *LogEvent) Dur(key string, val time.Duration) *LogEvent {
	if e == nil {
		return nil
	}
	e.fields[key] = val.String()
	return e
}

// Time adds a timestamp field.
func (e *LogEvent) Time(key string, val time.Time) *LogEvent {
	if e == nil {
		return nil
	}
	e.fields[key] = val.Format(time.RFC3339Nano)
	return e
}

// Err adds the error under the "error" key. A nil error is skipped.
func (e *LogEvent) Err(err error) *LogEvent {
	if e == nil || err == nil {
		return e
	}
	e.fields[logrus.ErrorKey] = err.Error()
	return e
}

// Any adds a field of arbitrary type.
func (e *LogEvent) Any(key string, val any) *LogEvent {
	if e == nil {
		return nil
	}
	e.fields[key] = val
	return e
}

// Msg writes the event. The event must not be used afterwards.
func (e *LogEvent) Msg(msg string) {
	if e == nil {
		return
	}
	e.msg = msg
	e.sink.OnEventEnd(e)
}

// Msgf writes the event with a formatted message.
func (e *LogEvent) Msgf(format string, args ...any) {
	if e == nil {
		return
	}
	e.Msg(fmt.Sprintf(format, args...))
}
