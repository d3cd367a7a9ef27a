package net

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lcx/tcpio/codec"
	"github.com/lcx/tcpio/config"
	"github.com/lcx/tcpio/log"
	"github.com/lcx/tcpio/message"
	"github.com/lcx/tcpio/metrics"
)

const metricsGroup = "net"

// Role is the side a Manager took when its connection was first established.
type Role int32

const (
	RoleNone Role = iota
	RoleServer
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return "none"
	}
}

// State is the lifecycle state of a Manager.
type State int32

const (
	StateNotStarted State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	default:
		return "stopped"
	}
}

// Queue is the envelope FIFO a Manager drains and fills. queue.SafeQueue implements it.
type Queue interface {
	Push(env *message.Envelope)
	TryPop() (*message.Envelope, bool)
	Clear()
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithResolver replaces the peer address resolver.
func WithResolver(r Resolver) ManagerOption {
	return func(m *Manager) {
		if r != nil {
			m.resolver = r
		}
	}
}

// WithCodec replaces the envelope codec selected by the config.
func WithCodec(c codec.Codec) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.codec = c
		}
	}
}

// WithLogField tags every log line of the manager with key=val.
func WithLogField(key, val string) ManagerOption {
	return func(m *Manager) {
		m.logger = m.logger.With(key, val)
	}
}

// Manager owns one point-to-point TCP connection. It establishes the connection
// as server or client, then a single background goroutine moves envelopes
// between the socket and two queues and re-establishes the connection in the
// same role whenever it is lost.
//
// After each re-establishment a RECONNECT envelope is pushed to the incoming
// queue before anything received on the new connection.
type Manager struct {
	outgoing Queue
	incoming Queue

	cfg      atomic.Pointer[ConnectionCfg]
	codec    codec.Codec
	frame    *FrameCodec
	resolver Resolver
	pacer    *RetryPacer
	logger   *log.SessionLogger

	role  atomic.Int32
	state atomic.Int32

	// mu guards the socket handles. The worker is the only goroutine that
	// reads or writes through them; Close uses them to interrupt blocking calls.
	mu        sync.Mutex
	listener  *net.TCPListener
	boundPort int
	conn      net.Conn
	reader    *bufio.Reader
	session   *log.SessionLogger
	peerHost  string
	peerPort  int

	ctx    context.Context
	cancel context.CancelFunc

	lifeMu    sync.Mutex
	group     errgroup.Group
	closeOnce sync.Once
	closeErr  error
}

// NewManager creates a manager that sends what is pushed to outgoing and pushes
// what it receives to incoming. A nil cfg uses DefaultConnectionCfg.
//
// Parameters:
//   - outgoing: envelopes to send, drained by the worker
//   - incoming: received envelopes and RECONNECT notifications
//   - cfg: connection settings, copied
//   - opts: optional resolver, codec and log fields
func NewManager(outgoing, incoming Queue, cfg *ConnectionCfg, opts ...ManagerOption) (*Manager, error) {
	if outgoing == nil || incoming == nil {
		return nil, errors.New("outgoing and incoming queues are required")
	}
	c := DefaultConnectionCfg()
	if cfg != nil {
		cp := *cfg
		cp.SetDefaults()
		c = &cp
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", ConnectionCfgName, err)
	}

	m := &Manager{
		outgoing: outgoing,
		incoming: incoming,
		logger:   log.NewSessionLogger("manager"),
		pacer:    NewRetryPacer(c.RetryInterval),
	}
	m.cfg.Store(c)

	for _, opt := range opts {
		opt(m)
	}
	m.logger.SetVerbose(c.VerboseLog)

	if m.codec == nil {
		cd, err := codec.Lookup(c.Codec)
		if err != nil {
			return nil, err
		}
		m.codec = cd
	}
	frame, err := NewFrameCodec(c.LengthPrefixSize, c.MaxFrameSize, m.codec)
	if err != nil {
		return nil, err
	}
	m.frame = frame

	if m.resolver == nil {
		switch {
		case c.Resolver != "":
			m.resolver = PluginResolver(c.Resolver)
		case c.ConsulAddr != "" || c.ConsulService != "":
			r, err := NewConsulResolver(c.ConsulAddr, c.ConsulService)
			if err != nil {
				return nil, err
			}
			m.resolver = r
		default:
			m.resolver = StaticResolver{}
		}
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	// unblock accepts, reads and writes once the manager is closed
	context.AfterFunc(m.ctx, m.interrupt)
	return m, nil
}

// NewManagerWithConfigManager loads the tcp_connection config and registers the
// manager for hot reloads of it.
func NewManagerWithConfigManager(cm config.ConfigManager, outgoing, incoming Queue, opts ...ManagerOption) (*Manager, error) {
	if cm == nil {
		return nil, errors.New("configManager cannot be nil")
	}
	cfg := &ConnectionCfg{}
	if err := cm.LoadConfig(ConnectionCfgName, cfg); err != nil {
		return nil, fmt.Errorf("failed to load %s config: %w", ConnectionCfgName, err)
	}
	m, err := NewManager(outgoing, incoming, cfg, opts...)
	if err != nil {
		return nil, err
	}
	cm.AddChangeListener(m)
	return m, nil
}

// Config returns the active configuration. Callers must not modify it.
func (m *Manager) Config() *ConnectionCfg { return m.cfg.Load() }

// Role returns the established role.
func (m *Manager) Role() Role { return Role(m.role.Load()) }

// State returns the lifecycle state.
func (m *Manager) State() State { return State(m.state.Load()) }

// FrameCodec returns the framing used on the connection.
func (m *Manager) FrameCodec() *FrameCodec { return m.frame }

// Connected reports whether a socket is currently held.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Addr returns the listening address, or nil when not listening.
func (m *Manager) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// Listen binds a listening socket on ListenHost:port. Port 0 binds the port of
// a previous Listen, or an ephemeral port on the first call. Any previous
// listener is closed.
func (m *Manager) Listen(port int) (net.Addr, error) {
	if port < 0 || port > 65535 {
		return nil, wrap(ErrSetup, "listen", fmt.Errorf("port %d out of range", port))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.Err() != nil {
		return nil, wrap(ErrSetup, "listen", ErrClosed)
	}
	if port == 0 {
		port = m.boundPort
	}
	if m.listener != nil {
		_ = m.listener.Close()
		m.listener = nil
	}

	addr := net.JoinHostPort(m.Config().ListenHost, strconv.Itoa(port))
	var lc net.ListenConfig
	ln, err := lc.Listen(m.ctx, "tcp", addr)
	if err != nil {
		metrics.IncrCounterWithDimGroup(metricsGroup, "setup_error_total", 1, m.roleDims().With("error_type", "listen"))
		return nil, wrap(ErrSetup, "listen "+addr, err)
	}
	tl := ln.(*net.TCPListener)
	m.listener = tl
	m.boundPort = tl.Addr().(*net.TCPAddr).Port

	m.logger.Info().Str("addr", tl.Addr().String()).Msg("listening")
	return tl.Addr(), nil
}

// AcceptOnce accepts exactly one client on the listener and makes it the
// current connection. A failed accept drops the listener; the next Listen
// rebinds the same port.
func (m *Manager) AcceptOnce(ctx context.Context) error {
	m.mu.Lock()
	ln := m.listener
	m.mu.Unlock()
	if ln == nil {
		return wrap(ErrSetup, "accept", errors.New("not listening"))
	}

	stop := context.AfterFunc(ctx, func() { _ = ln.SetDeadline(time.Now()) })
	conn, err := ln.Accept()
	if !stop() {
		_ = ln.SetDeadline(time.Time{})
	}
	if err != nil {
		m.dropListener(ln)
		metrics.IncrCounterWithDimGroup(metricsGroup, "setup_error_total", 1, m.roleDims().With("error_type", "accept"))
		if m.ctx.Err() != nil {
			return wrap(ErrSetup, "accept", ErrClosed)
		}
		if ctx.Err() != nil {
			return wrap(ErrSetup, "accept", ctx.Err())
		}
		return wrap(ErrSetup, "accept", err)
	}
	return m.install(conn, RoleServer)
}

// ListenAndAcceptOnce is Listen followed by AcceptOnce.
func (m *Manager) ListenAndAcceptOnce(ctx context.Context, port int) error {
	if _, err := m.Listen(port); err != nil {
		return err
	}
	return m.AcceptOnce(ctx)
}

// ConnectToPeer resolves host and dials it until a connection is made.
// Attempts start at least RetryInterval apart. With MaxRetries > 0 it gives up
// after that many attempts. The loop ends early when ctx is done, the manager
// is closed or stopped.
func (m *Manager) ConnectToPeer(ctx context.Context, host string, port int) error {
	if m.ctx.Err() != nil {
		return wrap(ErrSetup, "connect", ErrClosed)
	}
	addr, err := m.resolver.Resolve(ctx, host, port)
	if err != nil {
		metrics.IncrCounterWithDimGroup(metricsGroup, "setup_error_total", 1, m.roleDims().With("error_type", "resolve"))
		return wrap(ErrSetup, "resolve "+host, err)
	}

	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(m.ctx, cancel)()

	for attempt := 1; ; attempt++ {
		if err := m.pacer.Wait(dctx); err != nil {
			return m.connectAborted(ctx, addr, err)
		}
		if m.State() == StateStopped {
			return wrap(ErrSetup, "connect "+addr, ErrClosed)
		}

		cfg := m.Config()
		d := net.Dialer{Timeout: cfg.DialTimeout}
		conn, err := d.DialContext(dctx, "tcp", addr)
		if err == nil {
			if err := m.install(conn, RoleClient); err != nil {
				return err
			}
			m.mu.Lock()
			m.peerHost, m.peerPort = host, port
			m.mu.Unlock()
			return nil
		}
		if dctx.Err() != nil {
			return m.connectAborted(ctx, addr, err)
		}

		metrics.IncrCounterWithGroup(metricsGroup, "connect_failure_total", 1)
		m.logger.Warn().Str("addr", addr).Int("attempt", attempt).Err(err).Msg("connect failed")
		if cfg.MaxRetries > 0 && attempt >= cfg.MaxRetries {
			return wrap(ErrSetup, fmt.Sprintf("connect %s: gave up after %d attempts", addr, attempt), err)
		}
	}
}

func (m *Manager) connectAborted(ctx context.Context, addr string, cause error) error {
	if m.ctx.Err() != nil {
		return wrap(ErrSetup, "connect "+addr, ErrClosed)
	}
	if ctx.Err() != nil {
		return wrap(ErrSetup, "connect "+addr, ctx.Err())
	}
	return wrap(ErrSetup, "connect "+addr, cause)
}

// Start launches the background loop. It can be called once.
func (m *Manager) Start() error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.ctx.Err() != nil {
		return ErrClosed
	}
	if !m.state.CompareAndSwap(int32(StateNotStarted), int32(StateRunning)) {
		return ErrAlreadyStarted
	}
	m.group.Go(m.run)
	metrics.IncrCounterWithDimGroup(metricsGroup, "manager_start_total", 1, m.roleDims())
	return nil
}

// Stop asks the background loop to exit after its current step. It does not wait.
func (m *Manager) Stop() {
	m.state.Store(int32(StateStopped))
}

// Close stops the loop, interrupts any blocking socket call, waits for the loop
// to exit and closes the connection and the listener. It is safe to call more
// than once.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.lifeMu.Lock()
		m.state.Store(int32(StateStopped))
		m.cancel()
		m.lifeMu.Unlock()

		m.closeErr = m.group.Wait()

		m.mu.Lock()
		conn, ln := m.conn, m.listener
		m.conn, m.reader, m.session, m.listener = nil, nil, nil, nil
		m.mu.Unlock()

		closeConn(conn)
		if ln != nil {
			_ = ln.Close()
		}
		metrics.UpdateGaugeWithGroup(metricsGroup, "connected", 0)
		m.logger.Info().Msg("connection manager closed")
	})
	return m.closeErr
}

// OnConfigChanged applies reloadable fields of the tcp_connection config.
// Prefix width and codec are fixed for the lifetime of the manager.
func (m *Manager) OnConfigChanged(configName string, newConfig, oldConfig config.Config) error {
	if configName != ConnectionCfgName {
		return nil
	}
	c, ok := newConfig.(*ConnectionCfg)
	if !ok {
		return fmt.Errorf("invalid configuration type for %s", ConnectionCfgName)
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid %s configuration: %w", ConnectionCfgName, err)
	}

	cur := m.Config()
	next := *cur
	next.RetryInterval = c.RetryInterval
	next.MaxRetries = c.MaxRetries
	next.DialTimeout = c.DialTimeout
	next.PollInterval = c.PollInterval
	next.VerboseLog = c.VerboseLog
	m.cfg.Store(&next)

	if next.RetryInterval != cur.RetryInterval {
		m.pacer.Reload(next.RetryInterval)
	}
	m.logger.SetVerbose(next.VerboseLog)
	m.mu.Lock()
	if m.session != nil {
		m.session.SetVerbose(next.VerboseLog)
	}
	m.mu.Unlock()
	if c.LengthPrefixSize != cur.LengthPrefixSize || c.Codec != cur.Codec {
		m.logger.Warn().Int("lengthPrefixSize", cur.LengthPrefixSize).Str("codec", cur.Codec).
			Msg("framing settings are fixed at construction, ignoring change")
	}
	m.logger.Info().Str("configName", configName).Dur("retryInterval", next.RetryInterval).
		Int("maxRetries", next.MaxRetries).Msg("connection configuration updated")
	return nil
}

// install makes conn the current connection.
func (m *Manager) install(conn net.Conn, role Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.Err() != nil {
		_ = conn.Close()
		return wrap(ErrSetup, "install connection", ErrClosed)
	}
	if m.conn != nil {
		closeConn(m.conn)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	sess := m.logger.With("session", uuid.NewString()).
		With("role", role.String()).
		With("peer", conn.RemoteAddr().String())
	sess.SetVerbose(m.Config().VerboseLog)

	m.conn = conn
	m.reader = bufio.NewReader(conn)
	m.session = sess
	m.role.Store(int32(role))

	metrics.IncrCounterWithDimGroup(metricsGroup, "connection_success_total", 1, map[string]string{"role": role.String()})
	metrics.UpdateGaugeWithGroup(metricsGroup, "connected", 1)
	sess.Info().Str("local", conn.LocalAddr().String()).Msg("connection established")
	return nil
}

// interrupt unblocks socket calls in progress. Runs once the manager context is cancelled.
func (m *Manager) interrupt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if m.listener != nil {
		_ = m.listener.SetDeadline(now)
	}
	if m.conn != nil {
		_ = m.conn.SetDeadline(now)
	}
}

func (m *Manager) dropListener(ln *net.TCPListener) {
	m.mu.Lock()
	if m.listener == ln {
		m.listener = nil
	}
	m.mu.Unlock()
	_ = ln.Close()
}

// invalidate closes conn and forgets it if it is still current.
func (m *Manager) invalidate(conn net.Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn, m.reader, m.session = nil, nil, nil
	}
	m.mu.Unlock()
	closeConn(conn)
	metrics.UpdateGaugeWithGroup(metricsGroup, "connected", 0)
}

func (m *Manager) current() (net.Conn, *bufio.Reader, *log.SessionLogger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn, m.reader, m.session
}

// closeConn half-closes then closes conn.
func closeConn(conn net.Conn) {
	if conn == nil {
		return
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
	_ = conn.Close()
}

func (m *Manager) running() bool {
	return m.State() == StateRunning && m.ctx.Err() == nil
}

// sleep waits d and reports false when the manager was closed meanwhile.
func (m *Manager) sleep(d time.Duration) bool {
	if d <= 0 {
		return m.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-m.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// run is the background loop.
func (m *Manager) run() error {
	defer m.shutdown()

	if !m.sleep(m.Config().StartupDelay) {
		return nil
	}
	m.logger.Info().Str("role", m.Role().String()).Msg("connection manager running")

	for m.running() {
		conn, br, sess := m.current()
		if conn == nil {
			if err := m.reconnect(); err != nil {
				if m.running() {
					metrics.IncrCounterWithDimGroup(metricsGroup, "reconnect_failure_total", 1,
						m.roleDims().With("error_type", errorType(err)))
					m.logger.Warn().Str("role", m.Role().String()).Err(err).Msg("reconnect failed")
				}
				continue
			}
			m.incoming.Push(message.NewReconnectEnvelope())
			metrics.IncrCounterWithGroup(metricsGroup, "reconnect_total", 1)
			conn, br, sess = m.current()
			if conn == nil {
				continue
			}
		}

		if !m.flush(conn, sess) {
			continue
		}
		if !m.sleep(m.Config().PollInterval) {
			break
		}
		m.drain(conn, br, sess)
	}
	return nil
}

func (m *Manager) roleDims() metrics.Dimension {
	return metrics.Dimension{"role": m.Role().String()}
}

// reconnect re-establishes the connection in the current role.
func (m *Manager) reconnect() error {
	switch m.Role() {
	case RoleServer:
		if err := m.pacer.Wait(m.ctx); err != nil {
			return wrap(ErrSetup, "reconnect", ErrClosed)
		}
		m.mu.Lock()
		listening := m.listener != nil
		m.mu.Unlock()
		if !listening {
			if _, err := m.Listen(0); err != nil {
				return err
			}
		}
		return m.AcceptOnce(m.ctx)
	case RoleClient:
		m.mu.Lock()
		host, port := m.peerHost, m.peerPort
		m.mu.Unlock()
		return m.ConnectToPeer(m.ctx, host, port)
	default:
		if err := m.pacer.Wait(m.ctx); err != nil {
			return wrap(ErrSetup, "reconnect", ErrClosed)
		}
		return ErrNoRole
	}
}

// flush sends everything queued. It returns false when a write failed and the
// connection was dropped; the envelopes still queued are kept for the next connection.
func (m *Manager) flush(conn net.Conn, sess *log.SessionLogger) bool {
	for {
		env, ok := m.outgoing.TryPop()
		if !ok {
			return true
		}
		n, err := m.frame.WriteEnvelope(conn, env)
		if err != nil {
			metrics.IncrCounterWithDimGroup(metricsGroup, "transport_error_total", 1,
				m.roleDims().With("error_type", errorType(err)))
			if !errors.Is(err, ErrTransport) {
				// unsendable envelope, the connection is still usable
				sess.Warn().Str("type", env.Type.String()).Err(err).Msg("dropping envelope")
				continue
			}
			if m.running() {
				sess.Error().Str("type", env.Type.String()).Err(err).Msg("send failed")
			}
			m.invalidate(conn)
			return false
		}

		labels := map[string]string{"type": env.Type.String()}
		metrics.IncrCounterWithDimGroup(metricsGroup, "messages_sent_total", 1, labels)
		metrics.IncrCounterWithGroup(metricsGroup, "bytes_sent_total", metrics.Value(n))
		sess.Debug().Str("type", env.Type.String()).Int("bytes", n).Msg("sent")
	}
}

// drain receives every envelope that is available without blocking.
func (m *Manager) drain(conn net.Conn, br *bufio.Reader, sess *log.SessionLogger) {
	for m.running() {
		r, err := checkReadiness(conn, br)
		switch r {
		case NotReady:
			return
		case ReadinessError:
			metrics.IncrCounterWithDimGroup(metricsGroup, "transport_error_total", 1,
				m.roleDims().With("error_type", "readiness"))
			sess.Error().Err(err).Msg("readiness check failed")
			m.invalidate(conn)
			return
		}

		start := time.Now()
		env, err := m.frame.ReadEnvelope(br)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				metrics.IncrCounterWithGroup(metricsGroup, "peer_closed_total", 1)
				sess.Info().Msg("peer closed connection")
			case m.running():
				metrics.IncrCounterWithDimGroup(metricsGroup, "transport_error_total", 1,
					m.roleDims().With("error_type", errorType(err)))
				sess.Error().Err(err).Msg("receive failed")
			}
			m.invalidate(conn)
			return
		}

		labels := map[string]string{"type": env.Type.String()}
		metrics.IncrCounterWithDimGroup(metricsGroup, "messages_received_total", 1, labels)
		metrics.RecordStopwatchWithGroup(metricsGroup, "receive_duration_seconds", time.Since(start))
		sess.Debug().Str("type", env.Type.String()).Int("vars", len(env.Variables)).Msg("received")
		m.incoming.Push(env)
	}
}

// shutdown runs when the loop exits. Undelivered envelopes are discarded.
func (m *Manager) shutdown() {
	m.outgoing.Clear()
	m.incoming.Clear()

	m.mu.Lock()
	conn := m.conn
	m.conn, m.reader, m.session = nil, nil, nil
	m.mu.Unlock()
	closeConn(conn)
	metrics.UpdateGaugeWithGroup(metricsGroup, "connected", 0)
	m.logger.Info().Msg("connection manager loop exited")
}
