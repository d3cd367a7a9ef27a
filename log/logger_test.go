package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcx/tcpio/config"
)

// bufferAppender collects output in memory.
type bufferAppender struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *bufferAppender) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *bufferAppender) Refresh()     {}
func (b *bufferAppender) Close() error { return nil }

func (b *bufferAppender) lines(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if l == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(l), &m), l)
		out = append(out, m)
	}
	return out
}

func newTestLogger(level Level) (*GameLogger, *bufferAppender) {
	logger := NewLogger(&LogCfg{LogLevel: level, Format: "json"})
	buf := &bufferAppender{}
	logger.AddAppender(buf)
	return logger, buf
}

func TestGameLogger_Fields(t *testing.T) {
	logger, buf := newTestLogger(DebugLevel)

	logger.Info().
		Str("role", "client").
		Int("port", 9000).
		Int64("ts", -5).
		Uint64("bytes", 42).
		Bool("ok", true).
		Dur("wait", 1500*time.Millisecond).
		Err(errors.New("boom")).
		Any("dims", []int{3, 4}).
		Msg("connected")

	lines := buf.lines(t)
	require.Len(t, lines, 1)
	l := lines[0]
	assert.Equal(t, "connected", l["msg"])
	assert.Equal(t, "info", l["level"])
	assert.Equal(t, "client", l["role"])
	assert.Equal(t, 9000.0, l["port"])
	assert.Equal(t, -5.0, l["ts"])
	assert.Equal(t, 42.0, l["bytes"])
	assert.Equal(t, true, l["ok"])
	assert.Equal(t, "1.5s", l["wait"])
	assert.Equal(t, "boom", l["error"])
	assert.Contains(t, l, "time")
}

func TestGameLogger_LevelFiltering(t *testing.T) {
	logger, buf := newTestLogger(WarnLevel)

	assert.Nil(t, logger.Debug())
	assert.Nil(t, logger.Info())
	// calls on a filtered event are no-ops
	logger.Info().Str("k", "v").Err(errors.New("x")).Msgf("hidden %d", 1)

	logger.Warn().Msg("shown")
	logger.SetLevel(DebugLevel)
	logger.Debug().Msgf("now %s", "visible")

	lines := buf.lines(t)
	require.Len(t, lines, 2)
	assert.Equal(t, "shown", lines[0]["msg"])
	assert.Equal(t, "now visible", lines[1]["msg"])
	assert.Equal(t, "debug", lines[1]["level"])
}

func TestGameLogger_FatalPanics(t *testing.T) {
	logger, buf := newTestLogger(InfoLevel)
	assert.PanicsWithValue(t, "unrecoverable", func() {
		logger.Fatal().Msg("unrecoverable")
	})
	lines := buf.lines(t)
	require.Len(t, lines, 1)
	assert.Equal(t, "fatal", lines[0]["level"])
}

func TestGameLogger_CallerInfo(t *testing.T) {
	logger := NewLogger(&LogCfg{LogLevel: InfoLevel, EnabledCallerInfo: true})
	buf := &bufferAppender{}
	logger.AddAppender(buf)

	logger.Info().Msg("where")

	lines := buf.lines(t)
	require.Len(t, lines, 1)
	caller, _ := lines[0]["caller"].(string)
	assert.Contains(t, caller, "log/logger_test.go:")
	assert.Contains(t, caller, "TestGameLogger_CallerInfo")
}

func TestGameLogger_TextFormat(t *testing.T) {
	logger := NewLogger(&LogCfg{LogLevel: InfoLevel, Format: "text"})
	buf := &bufferAppender{}
	logger.AddAppender(buf)

	logger.Info().Str("peer", "a:1").Msg("hello")
	out := buf.buf.String()
	assert.Contains(t, out, "level=info")
	assert.Contains(t, out, `msg=hello`)
	assert.Contains(t, out, "peer=\"a:1\"")
}

func TestFileAppender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tcpio.log")
	logger := NewLogger(&LogCfg{LogLevel: InfoLevel, FileAppender: true, LogPath: path, ReopenRetries: 1})
	defer logger.Close()

	require.Len(t, logger.GetAppender(), 1)
	logger.Info().Msg("first")

	// simulate logrotate moving the file away
	require.NoError(t, os.Rename(path, path+".1"))
	logger.Info().Msg("second")

	rotated, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.Contains(t, string(rotated), "first")

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(current), "second")
	assert.NotContains(t, string(current), "first")
}

func TestFileAppender_EmptyPath(t *testing.T) {
	_, err := NewFileAppender(&LogCfg{})
	assert.Error(t, err)
}

func TestConsoleAppender_Write(t *testing.T) {
	ca := NewConsoleAppender()
	msg := []byte("hello-console\n")
	n, err := ca.Write(msg)
	require.NoError(t, err)
	assert.Equal(t, len(msg), n)
	assert.NoError(t, ca.Close())
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]Level{
		"trace": TraceLevel, "DEBUG": DebugLevel, " info ": InfoLevel,
		"warning": WarnLevel, "error": ErrorLevel, "fatal": FatalLevel,
	} {
		got, err := ParseLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)

	var l Level
	require.NoError(t, l.UnmarshalText([]byte("warn")))
	assert.Equal(t, WarnLevel, l)
	assert.Equal(t, "Level(9)", Level(9).String())
}

func TestLogCfg_Validate(t *testing.T) {
	cfg := &LogCfg{}
	cfg.SetDefaults()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "logger", cfg.GetName())

	assert.Error(t, (&LogCfg{FileAppender: true}).Validate())
	assert.Error(t, (&LogCfg{Format: "xml"}).Validate())
	assert.Error(t, (&LogCfg{LogLevel: 42}).Validate())
}

func TestSessionLogger(t *testing.T) {
	base, buf := newTestLogger(InfoLevel)
	s := NewSessionLoggerWithBase(base, "abc-123").With("role", "server")

	s.Info().Str("peer", "127.0.0.1:1").Msg("accepted")
	assert.Nil(t, s.Debug())

	s.SetVerbose(true)
	assert.True(t, s.IgnoreCheckLevel())
	s.Debug().Msg("traced")

	lines := buf.lines(t)
	require.Len(t, lines, 2)
	for _, l := range lines {
		assert.Equal(t, "abc-123", l["session"])
		assert.Equal(t, "server", l["role"])
	}
	assert.Equal(t, "debug", lines[1]["level"])
}

func TestDefaultLogger(t *testing.T) {
	prev := Default()
	defer SetDefaultLogger(prev)

	logger, buf := newTestLogger(InfoLevel)
	SetDefaultLogger(logger)
	SetDefaultLogger(nil)
	assert.Same(t, logger, Default())

	Info().Str("k", "v").Msg("package level")
	Warn().Msg("warned")
	assert.Nil(t, Debug())

	lines := buf.lines(t)
	require.Len(t, lines, 2)
	assert.Equal(t, "package level", lines[0]["msg"])
}

func TestInitializeWithConfigManager_HotReload(t *testing.T) {
	prev := Default()
	defer SetDefaultLogger(prev)

	dir := t.TempDir()
	file := filepath.Join(dir, "logger.yaml")
	require.NoError(t, os.WriteFile(file, []byte("level: warn\nconsoleAppender: false\n"), 0o644))

	cm := config.NewConfigManager()
	defer cm.Close()
	cm.SetBasePath(dir)

	require.NoError(t, InitializeWithConfigManager(cm))
	logger := Default()
	assert.Equal(t, WarnLevel, logger.GetCurrentConfig().LogLevel)
	assert.Nil(t, Info())

	require.NoError(t, os.WriteFile(file, []byte("level: debug\nconsoleAppender: false\n"), 0o644))
	assert.Eventually(t, func() bool {
		return logger.checkLevel(DebugLevel)
	}, 5*time.Second, 20*time.Millisecond)
	assert.NoError(t, InitializeWithConfigManager(nil))
}

func TestOnConfigChanged_IgnoresOtherNames(t *testing.T) {
	logger, _ := newTestLogger(InfoLevel)
	assert.NoError(t, logger.OnConfigChanged("tcp_connection", nil, nil))
	assert.Error(t, logger.OnConfigChanged("logger", nil, nil))
	assert.Error(t, logger.OnConfigChanged("logger", &LogCfg{Format: "xml"}, nil))
}
