package log

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lcx/tcpio/config"
)

// GameLogger is a leveled logger with a fluent event API, backed by logrus.
// Level checks are lock free; events below the minimum level are never allocated.
//
// Example usage:
//
//	logger := NewLogger(&LogCfg{LogLevel: InfoLevel, ConsoleAppender: true})
//	logger.Info().Str("role", "client").Int("port", 9000).Msg("connected")
type GameLogger struct {
	backend     *logrus.Logger
	minLevel    atomic.Uint32
	callerSkip  atomic.Int32
	callerInfo  atomic.Bool
	eventPool   sync.Pool
	callerCache sync.Map

	appenderMu sync.RWMutex
	appenders  []LogAppender

	configMutex   sync.RWMutex
	currentConfig *LogCfg
}

// NewLogger creates a logger. A nil cfg uses the defaults (info level, console only).
// A file appender that cannot be opened is reported on stderr and skipped.
func NewLogger(cfg *LogCfg) *GameLogger {
	if cfg == nil {
		cfg = getDefaultCfg()
	}

	x := &GameLogger{
		backend: &logrus.Logger{
			Hooks: make(logrus.LevelHooks),
			// level filtering happens before an event is created
			Level: logrus.TraceLevel,
		},
	}
	x.backend.Out = appenderWriter{x}
	x.eventPool.New = func() any { return newEvent(x) }
	x.applyConfig(cfg)
	return x
}

// NewLoggerWithConfigManager creates a logger and registers it for "logger" reloads.
func NewLoggerWithConfigManager(cfg *LogCfg, configManager config.ConfigManager) *GameLogger {
	x := NewLogger(cfg)
	if configManager != nil {
		configManager.AddChangeListener(x)
	}
	return x
}

// applyConfig switches level, format and caller settings, and rebuilds the
// appenders when the outputs changed.
func (x *GameLogger) applyConfig(cfg *LogCfg) {
	x.configMutex.Lock()
	old := x.currentConfig
	x.currentConfig = cfg
	x.configMutex.Unlock()

	x.minLevel.Store(uint32(cfg.LogLevel))
	x.callerSkip.Store(int32(cfg.CallerSkip))
	x.callerInfo.Store(cfg.EnabledCallerInfo)

	if cfg.Format == formatText {
		x.backend.SetFormatter(&logrus.TextFormatter{
			DisableColors:   true,
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	} else {
		x.backend.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}

	if old != nil && old.FileAppender == cfg.FileAppender && old.LogPath == cfg.LogPath &&
		old.ConsoleAppender == cfg.ConsoleAppender {
		return
	}

	var appenders []LogAppender
	if cfg.FileAppender {
		fa, err := NewFileAppender(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log: file appender disabled: %v\n", err)
		} else {
			appenders = append(appenders, fa)
		}
	}
	if cfg.ConsoleAppender {
		appenders = append(appenders, NewConsoleAppender())
	}

	x.appenderMu.Lock()
	previous := x.appenders
	x.appenders = appenders
	x.appenderMu.Unlock()

	for _, a := range previous {
		_ = a.Close()
	}
}

// OnConfigChanged implements config.ConfigChangeListener for the "logger" config.
func (x *GameLogger) OnConfigChanged(configName string, newConfig, oldConfig config.Config) error {
	if configName != "logger" {
		return nil
	}
	cfg, ok := newConfig.(*LogCfg)
	if !ok {
		return fmt.Errorf("invalid configuration type %T for logger", newConfig)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	x.applyConfig(cfg)
	x.Info().Str("level", cfg.LogLevel.String()).Msg("logger configuration reloaded")
	return nil
}

// GetCurrentConfig returns the configuration in effect.
func (x *GameLogger) GetCurrentConfig() *LogCfg {
	x.configMutex.RLock()
	defer x.configMutex.RUnlock()
	return x.currentConfig
}

// SetLevel changes the minimum level.
func (x *GameLogger) SetLevel(level Level) {
	x.minLevel.Store(uint32(level))
}

// AddAppender adds an output destination.
func (x *GameLogger) AddAppender(appender LogAppender) {
	x.appenderMu.Lock()
	defer x.appenderMu.Unlock()
	x.appenders = append(x.appenders, appender)
}

// GetAppender returns a copy of the registered appenders.
func (x *GameLogger) GetAppender() []LogAppender {
	x.appenderMu.RLock()
	defer x.appenderMu.RUnlock()
	return append([]LogAppender(nil), x.appenders...)
}

// Refresh reopens every appender.
func (x *GameLogger) Refresh() {
	for _, a := range x.GetAppender() {
		a.Refresh()
	}
}

// Close closes every appender.
func (x *GameLogger) Close() error {
	x.appenderMu.Lock()
	appenders := x.appenders
	x.appenders = nil
	x.appenderMu.Unlock()

	var firstErr error
	for _, a := range appenders {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IgnoreCheckLevel is false: a GameLogger always filters by level.
func (x *GameLogger) IgnoreCheckLevel() bool {
	return false
}

func (x *GameLogger) checkLevel(level Level) bool {
	return Level(x.minLevel.Load()) <= level
}

// OnEventEnd writes the event and recycles it. Fatal events panic after being written.
func (x *GameLogger) OnEventEnd(e *LogEvent) {
	level, msg := e.level, e.msg
	x.backend.WithFields(e.fields).Log(level.logrus(), msg)
	x.eventPool.Put(e)

	if level == FatalLevel {
		panic(msg)
	}
}

// Debug creates a debug event, or nil when debug is filtered.
func (x *GameLogger) Debug() *LogEvent { return x.log(DebugLevel, 0, false) }

// Info creates an info event, or nil when info is filtered.
func (x *GameLogger) Info() *LogEvent { return x.log(InfoLevel, 0, false) }

// Warn creates a warn event, or nil when warn is filtered.
func (x *GameLogger) Warn() *LogEvent { return x.log(WarnLevel, 0, false) }

// Error creates an error event, or nil when error is filtered.
func (x *GameLogger) Error() *LogEvent { return x.log(ErrorLevel, 0, false) }

// Fatal creates a fatal event. Writing it panics.
func (x *GameLogger) Fatal() *LogEvent { return x.log(FatalLevel, 0, false) }

// log returns a pooled event for level, or nil when the level is filtered.
// depth counts wrapper frames between the public method and the user.
func (x *GameLogger) log(level Level, depth int, ignoreLevel bool) *LogEvent {
	if !ignoreLevel && !x.checkLevel(level) {
		return nil
	}

	e := x.eventPool.Get().(*LogEvent)
	e.Reset()
	e.level = level

	if x.callerInfo.Load() {
		e.fields["caller"] = x.getCallerInfo(depth)
	}
	return e
}

// getCallerInfo returns "dir/file.go:line function" of the logging call site.
func (x *GameLogger) getCallerInfo(depth int) string {
	pc, file, line, ok := runtime.Caller(3 + depth + int(x.callerSkip.Load()))
	if !ok {
		return "unknown"
	}
	if cached, found := x.callerCache.Load(pc); found {
		return cached.(string)
	}

	function := runtime.FuncForPC(pc).Name()
	if i := strings.LastIndexByte(function, '.'); i != -1 {
		function = function[i+1:]
	}
	if i := strings.LastIndexByte(file, '/'); i > 0 {
		if j := strings.LastIndexByte(file[:i], '/'); j >= 0 {
			file = file[j+1:]
		}
	}

	info := file + ":" + strconv.Itoa(line) + " " + function
	x.callerCache.Store(pc, info)
	return info
}

// appenderWriter fans logrus output out to the current appenders.
// logrus serializes calls to Write.
type appenderWriter struct {
	x *GameLogger
}

func (w appenderWriter) Write(p []byte) (int, error) {
	w.x.appenderMu.RLock()
	defer w.x.appenderMu.RUnlock()
	for _, a := range w.x.appenders {
		_, _ = a.Write(p)
	}
	return len(p), nil
}
