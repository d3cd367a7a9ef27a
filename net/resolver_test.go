package net

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcx/tcpio/config"
	"github.com/lcx/tcpio/plugin"
)

func TestStaticResolver(t *testing.T) {
	r := StaticResolver{}
	ctx := context.Background()

	addr, err := r.Resolve(ctx, "127.0.0.1", 9000)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", addr)

	addr, err = r.Resolve(ctx, "::1", 9000)
	require.NoError(t, err)
	assert.Equal(t, "[::1]:9000", addr)

	addr, err = r.Resolve(ctx, "localhost", 80)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(addr, ":80"), addr)

	_, err = r.Resolve(ctx, "127.0.0.1", 70000)
	assert.Error(t, err)

	_, err = r.Resolve(ctx, "no-such-host.invalid", 80)
	assert.Error(t, err)
}

type consulEntry struct {
	Node    map[string]any
	Service map[string]any
	Checks  []any
}

func fakeConsul(t *testing.T, entries map[string][]consulEntry) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, ok := strings.CutPrefix(r.URL.Path, "/v1/health/service/")
		if !ok {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "1", r.URL.Query().Get("passing"))
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Consul-Index", "1")
		w.Header().Set("X-Consul-LastContact", "0")
		w.Header().Set("X-Consul-KnownLeader", "true")
		list := entries[name]
		if list == nil {
			list = []consulEntry{}
		}
		_ = json.NewEncoder(w).Encode(list)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConsulResolver(t *testing.T) {
	srv := fakeConsul(t, map[string][]consulEntry{
		"peer": {{
			Node:    map[string]any{"Node": "n1", "Address": "10.0.0.1"},
			Service: map[string]any{"ID": "peer-1", "Service": "peer", "Address": "10.0.0.9", "Port": 7001},
		}},
		"nodeonly": {{
			Node:    map[string]any{"Node": "n2", "Address": "10.0.0.2"},
			Service: map[string]any{"ID": "nodeonly-1", "Service": "nodeonly"},
		}},
	})

	r, err := NewConsulResolver(strings.TrimPrefix(srv.URL, "http://"), "")
	require.NoError(t, err)
	ctx := context.Background()

	addr, err := r.Resolve(ctx, "peer", 1)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9:7001", addr)

	// no service address or port: node address and the requested port
	addr, err = r.Resolve(ctx, "nodeonly", 6000)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:6000", addr)

	_, err = r.Resolve(ctx, "missing", 6000)
	assert.Error(t, err)
}

func TestConsulResolver_FixedService(t *testing.T) {
	srv := fakeConsul(t, map[string][]consulEntry{
		"sim": {{
			Node:    map[string]any{"Node": "n1", "Address": "127.0.0.1"},
			Service: map[string]any{"ID": "sim-1", "Service": "sim", "Port": 5555},
		}},
	})

	r, err := NewConsulResolver(strings.TrimPrefix(srv.URL, "http://"), "sim")
	require.NoError(t, err)

	addr, err := r.Resolve(context.Background(), "ignored-host", 0)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5555", addr)
}

func TestPluginResolver(t *testing.T) {
	srv := fakeConsul(t, map[string][]consulEntry{
		"sim": {{
			Node:    map[string]any{"Node": "n1", "Address": "10.1.0.1"},
			Service: map[string]any{"ID": "sim-1", "Service": "sim", "Port": 5000},
		}},
		"sim-b": {{
			Node:    map[string]any{"Node": "n2", "Address": "10.1.0.2"},
			Service: map[string]any{"ID": "sim-b", "Service": "sim-b", "Port": 5001},
		}},
	})
	addr := strings.TrimPrefix(srv.URL, "http://")

	dir := t.TempDir()
	file := filepath.Join(dir, "plugin.yaml")
	writePluginCfg := func(service string) {
		body := "resolver:\n" +
			"  static:\n    tag: dns\n" +
			"  consul:\n    addr: " + addr + "\n    service: " + service + "\n"
		require.NoError(t, os.WriteFile(file, []byte(body), 0644))
	}
	writePluginCfg("sim")

	cm := config.NewConfigManager()
	cm.SetBasePath(dir)
	defer cm.Close()
	require.NoError(t, plugin.InitPlugins(cm))
	t.Cleanup(plugin.DestroyPlugins)

	ctx := context.Background()
	got, err := PluginResolver("consul").Resolve(ctx, "ignored", 0)
	require.NoError(t, err)
	assert.Equal(t, "10.1.0.1:5000", got)

	got, err = PluginResolver("static/dns").Resolve(ctx, "127.0.0.1", 9)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9", got)

	_, err = PluginResolver("consul/missing").Resolve(ctx, "x", 1)
	assert.Error(t, err)

	// the service switch is applied to the same instance
	writePluginCfg("sim-b")
	require.Eventually(t, func() bool {
		got, err := PluginResolver("consul").Resolve(ctx, "ignored", 0)
		return err == nil && got == "10.1.0.2:5001"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNewManager_PluginResolver(t *testing.T) {
	cfg := testCfg()
	cfg.Resolver = "consul/none"
	e := newEndpoint(t, cfg)

	err := e.ConnectToPeer(context.Background(), "peer", 1)
	assert.ErrorIs(t, err, ErrSetup)
}
