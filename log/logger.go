// Package log is a leveled, structured logger with a fluent event API:
//
//	log.Warn().Str("peer", addr).Err(err).Msg("dial failed")
//
// Output goes through logrus to stderr and/or a file that survives logrotate.
package log

import (
	"sync/atomic"

	"github.com/lcx/tcpio/config"
)

// Logger is the interface shared by GameLogger and SessionLogger.
type Logger interface {
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	Fatal() *LogEvent
	IgnoreCheckLevel() bool
}

var _defaultLogger atomic.Pointer[GameLogger]

func init() {
	_defaultLogger.Store(NewLogger(nil))
}

// Default returns the package-level logger.
func Default() *GameLogger {
	return _defaultLogger.Load()
}

// AddAppender adds a new log appender to the default logger.
func AddAppender(appender LogAppender) {
	Default().AddAppender(appender)
}

// Refresh reopens the appenders of the default logger.
func Refresh() {
	Default().Refresh()
}

// SetDefaultLogger replaces the default logger used by the package-level functions.
// The previous logger is not closed.
func SetDefaultLogger(logger *GameLogger) {
	if logger != nil {
		_defaultLogger.Store(logger)
	}
}

// InitializeWithConfigManager loads the "logger" configuration, installs a logger built
// from it as the default, and registers it for hot-reload.
//
// Parameters:
//   - configManager: Configuration manager instance
//
// Returns:
//   - Error if configuration loading fails, nil otherwise
func InitializeWithConfigManager(configManager config.ConfigManager) error {
	if configManager == nil {
		return nil
	}

	logCfg := &LogCfg{}
	if err := configManager.LoadConfig("logger", logCfg); err != nil {
		return err
	}

	SetDefaultLogger(NewLoggerWithConfigManager(logCfg, configManager))
	return nil
}

// Initialize initializes the default logger from the singleton ConfigManager.
func Initialize() error {
	return InitializeWithConfigManager(config.GetInstance())
}

// Debug creates a new debug-level log event using the default logger.
func Debug() *LogEvent {
	return Default().log(DebugLevel, 0, false)
}

// Info creates a new info-level log event using the default logger.
func Info() *LogEvent {
	return Default().log(InfoLevel, 0, false)
}

// Warn creates a new warn-level log event using the default logger.
func Warn() *LogEvent {
	return Default().log(WarnLevel, 0, false)
}

// Error creates a new error-level log event using the default logger.
func Error() *LogEvent {
	return Default().log(ErrorLevel, 0, false)
}

// Fatal creates a new fatal-level log event using the default logger.
// Writing the event panics.
func Fatal() *LogEvent {
	return Default().log(FatalLevel, 0, false)
}
