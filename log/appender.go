package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	rotate "github.com/Psiphon-Inc/rotate-safe-writer"
)

// LogAppender is an output destination of a logger.
type LogAppender interface {
	io.Writer
	// Refresh reopens the underlying output, e.g. after logrotate moved the file.
	Refresh()
	Close() error
}

// ConsoleAppender writes to stderr.
type ConsoleAppender struct {
	out io.Writer
}

// NewConsoleAppender creates an appender that writes to stderr.
func NewConsoleAppender() *ConsoleAppender {
	return &ConsoleAppender{out: os.Stderr}
}

func (a *ConsoleAppender) Write(p []byte) (int, error) { return a.out.Write(p) }

// Refresh implements LogAppender.
func (a *ConsoleAppender) Refresh() {}

// Close implements LogAppender. Stderr is never closed.
func (a *ConsoleAppender) Close() error { return nil }

// FileAppender appends to a file that external tools may rotate at any time.
// Rotation is detected on every write and the file is reopened.
type FileAppender struct {
	path   string
	writer *rotate.RotatableFileWriter
}

// NewFileAppender opens cfg.LogPath for appending, creating parent directories as needed.
func NewFileAppender(cfg *LogCfg) (*FileAppender, error) {
	if cfg.LogPath == "" {
		return nil, fmt.Errorf("log path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	w, err := rotate.NewRotatableFileWriter(cfg.LogPath, cfg.ReopenRetries, true, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &FileAppender{path: cfg.LogPath, writer: w}, nil
}

func (a *FileAppender) Write(p []byte) (int, error) { return a.writer.Write(p) }

// Path returns the file being written.
func (a *FileAppender) Path() string { return a.path }

// Refresh implements LogAppender.
func (a *FileAppender) Refresh() {
	if err := a.writer.Reopen(); err != nil {
		fmt.Fprintf(os.Stderr, "log: reopen %s: %v\n", a.path, err)
	}
}

// Close implements LogAppender.
func (a *FileAppender) Close() error { return a.writer.Close() }
