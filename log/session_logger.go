package log

import "sync/atomic"

type field struct {
	key, val string
}

// SessionLogger decorates every event with fixed string fields, typically the
// id of the connection being served. It writes through the current default logger
// unless a base logger is given, so it follows hot-reloads of the default.
//
// A verbose SessionLogger bypasses level filtering, which allows tracing one
// connection without lowering the global level.
type SessionLogger struct {
	base    *GameLogger
	fields  []field
	verbose atomic.Bool
}

// NewSessionLogger creates a logger that tags every event with session.
func NewSessionLogger(session string) *SessionLogger {
	return &SessionLogger{fields: []field{{"session", session}}}
}

// NewSessionLoggerWithBase is NewSessionLogger writing through base instead of the default logger.
func NewSessionLoggerWithBase(base *GameLogger, session string) *SessionLogger {
	s := NewSessionLogger(session)
	s.base = base
	return s
}

// With returns a copy carrying an additional field.
func (s *SessionLogger) With(key, val string) *SessionLogger {
	c := &SessionLogger{
		base:   s.base,
		fields: append(append([]field(nil), s.fields...), field{key, val}),
	}
	c.verbose.Store(s.verbose.Load())
	return c
}

// SetVerbose toggles level bypass for this session.
func (s *SessionLogger) SetVerbose(v bool) {
	s.verbose.Store(v)
}

// IgnoreCheckLevel reports whether level filtering is bypassed.
func (s *SessionLogger) IgnoreCheckLevel() bool {
	return s.verbose.Load()
}

func (s *SessionLogger) log(level Level) *LogEvent {
	base := s.base
	if base == nil {
		base = Default()
	}
	e := base.log(level, 1, s.IgnoreCheckLevel())
	if e == nil {
		return nil
	}
	for _, f := range s.fields {
		e.fields[f.key] = f.val
	}
	return e
}

// Debug creates a debug event tagged with the session fields.
func (s *SessionLogger) Debug() *LogEvent { return s.log(DebugLevel) }

// Info creates an info event tagged with the session fields.
func (s *SessionLogger) Info() *LogEvent { return s.log(InfoLevel) }

// Warn creates a warn event tagged with the session fields.
func (s *SessionLogger) Warn() *LogEvent { return s.log(WarnLevel) }

// Error creates an error event tagged with the session fields.
func (s *SessionLogger) Error() *LogEvent { return s.log(ErrorLevel) }

// Fatal creates a fatal event tagged with the session fields. Writing it panics.
func (s *SessionLogger) Fatal() *LogEvent { return s.log(FatalLevel) }
