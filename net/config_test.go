package net

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcx/tcpio/config"
	"github.com/lcx/tcpio/queue"
)

func TestConnectionCfg_Defaults(t *testing.T) {
	c := DefaultConnectionCfg()

	assert.Equal(t, ConnectionCfgName, c.GetName())
	assert.Equal(t, 8, c.LengthPrefixSize)
	assert.Equal(t, uint64(DefaultMaxFrameSize), c.MaxFrameSize)
	assert.Equal(t, "protobuf", c.Codec)
	assert.Equal(t, time.Second, c.RetryInterval)
	assert.Equal(t, 0, c.MaxRetries)
	assert.Equal(t, time.Millisecond, c.PollInterval)
	assert.Equal(t, 100*time.Millisecond, c.StartupDelay)
	assert.NoError(t, c.Validate())
}

func TestConnectionCfg_Validate(t *testing.T) {
	cases := map[string]func(c *ConnectionCfg){
		"role":        func(c *ConnectionCfg) { c.Role = "peer" },
		"port":        func(c *ConnectionCfg) { c.Port = 70000 },
		"prefix":      func(c *ConnectionCfg) { c.LengthPrefixSize = 9 },
		"codec":       func(c *ConnectionCfg) { c.Codec = "xml" },
		"retries":     func(c *ConnectionCfg) { c.MaxRetries = -1 },
		"retry delay": func(c *ConnectionCfg) { c.RetryInterval = -time.Second },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := DefaultConnectionCfg()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestNewManagerWithConfigManager_HotReload(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ConnectionCfgName+".yaml")
	require.NoError(t, os.WriteFile(file, []byte("role: client\nport: 9100\nretryInterval: 2s\nlengthPrefixSize: 4\n"), 0644))

	cm := config.NewConfigManager()
	cm.SetBasePath(dir)
	cm.SetEnvironment("test")
	defer cm.Close()

	m, err := NewManagerWithConfigManager(cm, queue.New(), queue.New())
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 2*time.Second, m.Config().RetryInterval)
	assert.Equal(t, 4, m.FrameCodec().PrefixSize())
	assert.Equal(t, 9100, m.Config().Port)

	// the prefix width change is ignored, the retry settings apply
	require.NoError(t, os.WriteFile(file, []byte("role: client\nport: 9100\nretryInterval: 250ms\nmaxRetries: 3\nlengthPrefixSize: 2\n"), 0644))

	require.Eventually(t, func() bool {
		return m.Config().RetryInterval == 250*time.Millisecond
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 3, m.Config().MaxRetries)
	assert.Equal(t, 4, m.Config().LengthPrefixSize)
	assert.Equal(t, 4, m.FrameCodec().PrefixSize())
}

func TestNewManagerWithConfigManager_Missing(t *testing.T) {
	cm := config.NewConfigManager()
	cm.SetBasePath(t.TempDir())
	defer cm.Close()

	_, err := NewManagerWithConfigManager(cm, queue.New(), queue.New())
	assert.Error(t, err)

	_, err = NewManagerWithConfigManager(nil, queue.New(), queue.New())
	assert.Error(t, err)
}
