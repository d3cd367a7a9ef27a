package log

import "fmt"

// LogCfg is the "logger" configuration.
type LogCfg struct {
	// LogPath is the file written by the file appender.
	LogPath string `mapstructure:"path"`

	// LogLevel is the minimum level written. Supports hot-reload.
	// Valid levels: trace, debug, info, warn, error, fatal.
	LogLevel Level `mapstructure:"level"`

	// Format selects the line format, "json" or "text".
	Format string `mapstructure:"format"`

	// FileAppender enables file output.
	FileAppender bool `mapstructure:"fileAppender"`

	// ConsoleAppender enables stderr output.
	ConsoleAppender bool `mapstructure:"consoleAppender"`

	// EnabledCallerInfo adds a "caller" field with file:line and function.
	EnabledCallerInfo bool `mapstructure:"enabledCallerInfo"`

	// CallerSkip is the number of extra stack frames between the caller and the logger.
	CallerSkip int `mapstructure:"callerSkip"`

	// ReopenRetries is passed to the rotatable file writer.
	ReopenRetries int `mapstructure:"reopenRetries"`
}

// GetName implements config.Config.
func (c *LogCfg) GetName() string { return "logger" }

// SetDefaults implements config.Defaulter.
func (c *LogCfg) SetDefaults() {
	*c = *getDefaultCfg()
}

// Validate implements config.Config.
func (c *LogCfg) Validate() error {
	if c.FileAppender && c.LogPath == "" {
		return fmt.Errorf("path cannot be empty when fileAppender is enabled")
	}
	switch c.Format {
	case "", formatJSON, formatText:
	default:
		return fmt.Errorf("unknown log format %q", c.Format)
	}
	if c.LogLevel > FatalLevel {
		return fmt.Errorf("invalid log level %d", c.LogLevel)
	}
	if c.CallerSkip < 0 || c.ReopenRetries < 0 {
		return fmt.Errorf("callerSkip and reopenRetries must not be negative")
	}
	return nil
}

const (
	formatJSON = "json"
	formatText = "text"
)

func getDefaultCfg() *LogCfg {
	return &LogCfg{
		LogPath:         "./logs/tcpio.log",
		LogLevel:        InfoLevel,
		Format:          formatJSON,
		ConsoleAppender: true,
		ReopenRetries:   3,
	}
}
