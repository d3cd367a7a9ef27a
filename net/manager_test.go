package net

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcx/tcpio/data"
	"github.com/lcx/tcpio/message"
	"github.com/lcx/tcpio/metrics"
	"github.com/lcx/tcpio/queue"
)

func testCfg() *ConnectionCfg {
	return &ConnectionCfg{
		ListenHost:    "127.0.0.1",
		RetryInterval: 20 * time.Millisecond,
		DialTimeout:   time.Second,
		PollInterval:  time.Millisecond,
		StartupDelay:  5 * time.Millisecond,
	}
}

type endpoint struct {
	*Manager
	out *queue.SafeQueue
	in  *queue.SafeQueue
}

func newEndpoint(t *testing.T, cfg *ConnectionCfg, opts ...ManagerOption) *endpoint {
	t.Helper()
	e := &endpoint{out: queue.New(), in: queue.New()}
	m, err := NewManager(e.out, e.in, cfg, opts...)
	require.NoError(t, err)
	e.Manager = m
	t.Cleanup(func() { _ = m.Close() })
	return e
}

// waitFor pops from q until an envelope of type want arrives.
func waitFor(t *testing.T, q *queue.SafeQueue, want message.Type, timeout time.Duration) *message.Envelope {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		left := time.Until(deadline)
		require.True(t, left > 0, "no %s envelope within %s", want, timeout)
		env, ok := q.PopWait(left)
		if ok && env.Type == want {
			return env
		}
	}
}

// connectPair establishes server and client on an ephemeral port.
func connectPair(t *testing.T) (server, client *endpoint, port int) {
	t.Helper()
	server = newEndpoint(t, testCfg(), WithLogField("side", "server"))
	client = newEndpoint(t, testCfg(), WithLogField("side", "client"))

	addr, err := server.Listen(0)
	require.NoError(t, err)
	port = addr.(*net.TCPAddr).Port

	accepted := make(chan error, 1)
	go func() { accepted <- server.AcceptOnce(context.Background()) }()

	require.NoError(t, client.ConnectToPeer(context.Background(), "127.0.0.1", port))
	require.NoError(t, <-accepted)

	assert.Equal(t, RoleServer, server.Role())
	assert.Equal(t, RoleClient, client.Role())
	return server, client, port
}

func matrixEnvelope(t *testing.T) *message.Envelope {
	t.Helper()
	values := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	meta := data.NewMetaData(2, 11, data.DataTypeDouble, []uint64{3, 4}, "step")
	return message.NewDataEnvelope(data.NewTypedMsgData(meta, values))
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestManager_Exchange(t *testing.T) {
	server, client, _ := connectPair(t)
	require.NoError(t, server.Start())
	require.NoError(t, client.Start())

	sent := counterValue("messages_sent_total", "DATA")

	client.out.Push(matrixEnvelope(t))
	got := waitFor(t, server.in, message.TypeData, 2*time.Second)

	require.Len(t, got.Variables, 1)
	meta := got.Variables[0].MetaData()
	assert.Equal(t, []uint64{3, 4}, meta.Dimensions())
	assert.Equal(t, uint64(12), meta.ElementCount())
	assert.Equal(t, uint64(96), meta.ByteLength())
	assert.Equal(t, "step", meta.OpcodeHandle())
	vals, err := data.Values[float64](got.Variables[0])
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, vals)

	server.out.Push(message.NewEnvelope(message.TypeStart))
	waitFor(t, client.in, message.TypeStart, 2*time.Second)

	assert.GreaterOrEqual(t, counterValue("messages_sent_total", "DATA"), sent+1)
}

func TestManager_OrderPreserved(t *testing.T) {
	server, client, _ := connectPair(t)
	require.NoError(t, server.Start())
	require.NoError(t, client.Start())

	for i := 0; i < 50; i++ {
		client.out.Push(&message.Envelope{Type: message.TypeSetup, Timestamp: int64(i + 1)})
	}
	for i := 0; i < 50; i++ {
		env := waitFor(t, server.in, message.TypeSetup, 2*time.Second)
		assert.Equal(t, int64(i+1), env.Timestamp)
	}
}

func TestManager_LocalOnlyEnvelopeDropped(t *testing.T) {
	server, client, _ := connectPair(t)
	require.NoError(t, server.Start())
	require.NoError(t, client.Start())

	client.out.Push(message.NewReconnectEnvelope())
	client.out.Push(message.NewEnvelope(message.TypeStop))

	waitFor(t, server.in, message.TypeStop, 2*time.Second)
	assert.True(t, client.Connected())
}

func TestManager_ClientReconnectsAfterServerRestart(t *testing.T) {
	server, client, port := connectPair(t)
	require.NoError(t, server.Start())
	require.NoError(t, client.Start())

	require.NoError(t, server.Close())

	restarted := newEndpoint(t, testCfg())
	_, err := restarted.Listen(port)
	require.NoError(t, err)
	accepted := make(chan error, 1)
	go func() { accepted <- restarted.AcceptOnce(context.Background()) }()

	waitFor(t, client.in, message.TypeReconnect, 5*time.Second)
	require.NoError(t, <-accepted)
	require.NoError(t, restarted.Start())

	client.out.Push(matrixEnvelope(t))
	waitFor(t, restarted.in, message.TypeData, 2*time.Second)
}

func TestManager_ServerReacceptsAfterClientLeaves(t *testing.T) {
	server, client, port := connectPair(t)
	require.NoError(t, server.Start())
	require.NoError(t, client.Start())

	require.NoError(t, client.Close())

	second := newEndpoint(t, testCfg())
	require.NoError(t, second.ConnectToPeer(context.Background(), "127.0.0.1", port))
	require.NoError(t, second.Start())

	waitFor(t, server.in, message.TypeReconnect, 5*time.Second)

	second.out.Push(matrixEnvelope(t))
	waitFor(t, server.in, message.TypeData, 2*time.Second)
}

func TestManager_StartTwice(t *testing.T) {
	e := newEndpoint(t, testCfg())
	require.NoError(t, e.Start())
	assert.ErrorIs(t, e.Start(), ErrAlreadyStarted)
	assert.Equal(t, StateRunning, e.State())

	e.Stop()
	assert.Equal(t, StateStopped, e.State())
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.ErrorIs(t, e.Start(), ErrClosed)
}

func TestManager_NoRoleKeepsRunning(t *testing.T) {
	e := newEndpoint(t, testCfg())
	require.NoError(t, e.Start())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, RoleNone, e.Role())
	assert.False(t, e.Connected())

	done := make(chan error, 1)
	go func() { done <- e.Close() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}

func TestManager_MaxRetries(t *testing.T) {
	cfg := testCfg()
	cfg.MaxRetries = 3
	cfg.RetryInterval = 5 * time.Millisecond
	e := newEndpoint(t, cfg)

	before := testutil.ToFloat64(metrics.Counter(metricsGroup, "connect_failure_total", nil))
	err := e.ConnectToPeer(context.Background(), "127.0.0.1", closedPort(t))
	assert.ErrorIs(t, err, ErrSetup)
	assert.Equal(t, RoleNone, e.Role())
	after := testutil.ToFloat64(metrics.Counter(metricsGroup, "connect_failure_total", nil))
	assert.GreaterOrEqual(t, after-before, 3.0)
}

func TestManager_ConnectCancelled(t *testing.T) {
	cfg := testCfg()
	cfg.RetryInterval = time.Hour
	e := newEndpoint(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := e.ConnectToPeer(ctx, "127.0.0.1", closedPort(t))
	assert.ErrorIs(t, err, ErrSetup)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManager_CloseInterruptsConnect(t *testing.T) {
	cfg := testCfg()
	cfg.RetryInterval = 50 * time.Millisecond
	e := newEndpoint(t, cfg)

	done := make(chan error, 1)
	go func() { done <- e.ConnectToPeer(context.Background(), "127.0.0.1", closedPort(t)) }()

	time.Sleep(120 * time.Millisecond)
	require.NoError(t, e.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSetup)
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("ConnectToPeer did not return after Close")
	}
}

func TestManager_CloseInterruptsAccept(t *testing.T) {
	e := newEndpoint(t, testCfg())
	_, err := e.Listen(0)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- e.AcceptOnce(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, e.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSetup)
	case <-time.After(2 * time.Second):
		t.Fatal("AcceptOnce did not return after Close")
	}
	assert.Nil(t, e.Addr())
}

func TestManager_AcceptCancelledKeepsPort(t *testing.T) {
	e := newEndpoint(t, testCfg())
	addr, err := e.Listen(0)
	require.NoError(t, err)
	port := addr.(*net.TCPAddr).Port

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = e.AcceptOnce(ctx)
	assert.ErrorIs(t, err, ErrSetup)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, e.Addr())

	// the next Listen binds the remembered port again
	addr, err = e.Listen(0)
	require.NoError(t, err)
	assert.Equal(t, port, addr.(*net.TCPAddr).Port)
}

type failingResolver struct{}

func (failingResolver) Resolve(context.Context, string, int) (string, error) {
	return "", errors.New("lookup failed")
}

func TestManager_ResolveFailure(t *testing.T) {
	e := newEndpoint(t, testCfg(), WithResolver(failingResolver{}))

	start := time.Now()
	err := e.ConnectToPeer(context.Background(), "peer", 1)
	assert.ErrorIs(t, err, ErrSetup)
	assert.Less(t, time.Since(start), time.Second)
}

func TestManager_ListenErrors(t *testing.T) {
	e := newEndpoint(t, testCfg())
	_, err := e.Listen(-1)
	assert.ErrorIs(t, err, ErrSetup)

	assert.ErrorIs(t, e.AcceptOnce(context.Background()), ErrSetup)

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	_, err = e.Listen(busy.Addr().(*net.TCPAddr).Port)
	assert.ErrorIs(t, err, ErrSetup)
}

func TestManager_ExitClearsQueues(t *testing.T) {
	e := newEndpoint(t, testCfg())
	require.NoError(t, e.Start())

	e.out.Push(matrixEnvelope(t))
	e.in.Push(matrixEnvelope(t))
	require.NoError(t, e.Close())

	assert.Zero(t, e.out.Len())
	assert.Zero(t, e.in.Len())
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(nil, queue.New(), nil)
	assert.Error(t, err)

	cfg := testCfg()
	cfg.Codec = "unknown"
	_, err = NewManager(queue.New(), queue.New(), cfg)
	assert.Error(t, err)

	m, err := NewManager(queue.New(), queue.New(), nil)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, DefaultLengthPrefixSize, m.FrameCodec().PrefixSize())
	assert.Equal(t, StateNotStarted, m.State())
	assert.Equal(t, RoleNone, m.Role())
}

func TestManager_OnConfigChanged(t *testing.T) {
	e := newEndpoint(t, testCfg())

	assert.NoError(t, e.OnConfigChanged("logger", nil, nil))
	assert.Error(t, e.OnConfigChanged(ConnectionCfgName, nil, nil))

	bad := DefaultConnectionCfg()
	bad.MaxRetries = -1
	assert.Error(t, e.OnConfigChanged(ConnectionCfgName, bad, nil))

	next := DefaultConnectionCfg()
	next.RetryInterval = 3 * time.Second
	next.PollInterval = 5 * time.Millisecond
	next.LengthPrefixSize = 2
	next.Codec = "cbor"
	require.NoError(t, e.OnConfigChanged(ConnectionCfgName, next, nil))

	c := e.Config()
	assert.Equal(t, 3*time.Second, c.RetryInterval)
	assert.Equal(t, 5*time.Millisecond, c.PollInterval)
	assert.Equal(t, DefaultLengthPrefixSize, c.LengthPrefixSize)
	assert.Equal(t, "protobuf", c.Codec)
	assert.Equal(t, "protobuf", e.FrameCodec().Codec().Name())
}

func TestManager_OnConfigChanged_VerboseReachesSession(t *testing.T) {
	_, client, _ := connectPair(t)
	_, _, sess := client.current()
	require.NotNil(t, sess)
	assert.False(t, sess.IgnoreCheckLevel())

	next := testCfg()
	next.SetDefaults()
	next.VerboseLog = true
	require.NoError(t, client.OnConfigChanged(ConnectionCfgName, next, nil))

	_, _, sess = client.current()
	assert.True(t, sess.IgnoreCheckLevel())
	assert.True(t, client.logger.IgnoreCheckLevel())

	next.VerboseLog = false
	require.NoError(t, client.OnConfigChanged(ConnectionCfgName, next, nil))
	assert.False(t, sess.IgnoreCheckLevel())
}

func TestRoleAndState_String(t *testing.T) {
	assert.Equal(t, "server", RoleServer.String())
	assert.Equal(t, "client", RoleClient.String())
	assert.Equal(t, "none", RoleNone.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "not_started", StateNotStarted.String())
	assert.Equal(t, "stopped", StateStopped.String())
}

func counterValue(name, typ string) float64 {
	return testutil.ToFloat64(metrics.Counter(metricsGroup, name, metrics.Dimension{"type": typ}))
}
