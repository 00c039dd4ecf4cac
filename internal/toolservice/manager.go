// Package toolservice manages persistent sessions to remote tool services.
//
// A Manager owns one session and moves through Disconnected → Connecting →
// Connected. Any transport failure drops it back to Disconnected; the next
// operation reconnects lazily. Discovery and connection-level call failures
// are retried exactly once after a reconnect.
package toolservice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/soyeahso/shopassist/internal/domain"
	"github.com/soyeahso/shopassist/internal/logging"
	"github.com/soyeahso/shopassist/internal/metrics"
)

// State is the connection state of a Manager.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

var stateNames = []string{"disconnected", "connecting", "connected"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// connection wraps a Session so identity can be compared on disconnect.
// cancel ends the context the session was dialed with.
type connection struct {
	session Session
	cancel  context.CancelFunc
}

func (c *connection) close() error {
	err := c.session.Close()
	if c.cancel != nil {
		c.cancel()
	}
	return err
}

// Manager wraps a tool service Session with lazy connect and
// reconnect-and-retry-once semantics.
type Manager struct {
	name        string
	dialer      Dialer
	creds       *Credentials
	callTimeout time.Duration
	log         *logging.Logger
	metrics     *metrics.Metrics

	mu    sync.Mutex // held while connecting or disconnecting
	state atomic.Int32
	conn  atomic.Pointer[connection]
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithCredentials injects the active store profile into every call.
func WithCredentials(c *Credentials) ManagerOption {
	return func(m *Manager) { m.creds = c }
}

// WithCallTimeout bounds each individual tool call.
func WithCallTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.callTimeout = d }
}

// WithMetrics records call and reconnect metrics.
func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager creates a disconnected Manager.
func NewManager(name string, dialer Dialer, log *logging.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		name:   name,
		dialer: dialer,
		log:    log.Sub("toolservice").With("service", name),
	}
	for _, o := range opts {
		o(m)
	}
	m.setState(StateDisconnected)
	return m
}

// Name returns the configured service name.
func (m *Manager) Name() string { return m.name }

// State returns the current connection state.
func (m *Manager) State() State { return State(m.state.Load()) }

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
	m.metrics.SetConnectionState(m.name, s.String(), stateNames)
}

// EnsureConnected connects if no session is live. Concurrent callers share
// a single connect attempt.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	_, err := m.ensureConnected(ctx)
	return err
}

func (m *Manager) ensureConnected(ctx context.Context) (*connection, error) {
	if c := m.conn.Load(); c != nil {
		return c, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if c := m.conn.Load(); c != nil {
		return c, nil
	}

	m.setState(StateConnecting)
	start := time.Now()
	sess, cancel, err := m.dial(ctx)
	if err != nil {
		m.setState(StateDisconnected)
		m.log.Error().Err(err).Dur("duration", time.Since(start)).Msg("connect failed")
		return nil, fmt.Errorf("%w: connecting to tool service %s: %w", ErrNotConnected, m.name, err)
	}

	c := &connection{session: sess, cancel: cancel}
	m.conn.Store(c)
	m.setState(StateConnected)
	m.log.Info().Dur("duration", time.Since(start)).Msg("connected")
	return c, nil
}

// dial opens a session on a context of its own. Transports such as SSE
// keep a stream open on the dial context for the session's lifetime, so
// the caller's ctx, which typically belongs to one request, only bounds
// the handshake.
func (m *Manager) dial(ctx context.Context) (Session, context.CancelFunc, error) {
	life, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)

	sess, err := m.dialer.Dial(life)
	if err == nil && !stop() {
		// ctx ended during the handshake and has already cancelled life
		sess.Close()
		err = ctx.Err()
	}
	if err != nil {
		stop()
		cancel()
		if cerr := ctx.Err(); cerr != nil && !errors.Is(err, cerr) {
			err = fmt.Errorf("%w: %v", cerr, err)
		}
		return nil, nil, err
	}
	return sess, cancel, nil
}

// disconnect tears down c if it is still the live connection. A newer
// connection opened by another request is left alone.
func (m *Manager) disconnect(c *connection, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn.Load() != c {
		return
	}
	m.conn.Store(nil)
	m.setState(StateDisconnected)
	if err := c.close(); err != nil {
		m.log.Debug().Err(err).Msg("closing broken session")
	}
	m.log.Warn().Err(cause).Msg("disconnected")
}

// Close drops the live session, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.conn.Swap(nil)
	m.setState(StateDisconnected)
	if c == nil {
		return nil
	}
	return c.close()
}

// ListTools discovers the service's tools. Any failure triggers one
// reconnect and one retry.
func (m *Manager) ListTools(ctx context.Context) ([]domain.ToolDescriptor, error) {
	c, err := m.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	tools, err := c.session.ListTools(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("tool discovery failed, reconnecting")
		m.disconnect(c, err)
		m.metrics.Reconnect(m.name, "list_tools")

		if c, err = m.ensureConnected(ctx); err != nil {
			return nil, err
		}
		if tools, err = c.session.ListTools(ctx); err != nil {
			m.disconnect(c, err)
			return nil, fmt.Errorf("listing tools on %s: %w", m.name, err)
		}
	}

	for i := range tools {
		tools[i].Service = m.name
	}
	return tools, nil
}

// CallTool invokes a tool with the active store credentials merged into
// args. Only connection-level failures are retried, once.
func (m *Manager) CallTool(ctx context.Context, name string, args map[string]any) (*Result, error) {
	merged := MergeArguments(args, m.creds.activeFields())
	start := time.Now()

	res, err := m.callWithRetry(ctx, name, merged)

	status := "success"
	switch {
	case err != nil:
		status = "error"
	case res.IsError:
		status = "tool_error"
	}
	elapsed := time.Since(start)
	m.metrics.ObserveToolCall(m.name, name, status, elapsed)

	var ev *zerolog.Event
	if err != nil {
		ev = m.log.Error().Err(err)
	} else {
		ev = m.log.Info()
	}
	ev.Str("tool", name).Dur("duration", elapsed).Str("outcome", status).Msg("tool call")

	if err != nil {
		return nil, fmt.Errorf("calling %s on %s: %w", name, m.name, err)
	}
	return res, nil
}

func (m *Manager) callWithRetry(ctx context.Context, name string, args map[string]any) (*Result, error) {
	c, err := m.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	res, err := m.callOnce(ctx, c, name, args)
	if err == nil || !IsConnectionError(err) {
		return res, err
	}

	m.log.Warn().Err(err).Str("tool", name).Msg("connection lost during call, reconnecting")
	m.disconnect(c, err)
	m.metrics.Reconnect(m.name, "call_tool")

	if c, err = m.ensureConnected(ctx); err != nil {
		return nil, err
	}
	res, err = m.callOnce(ctx, c, name, args)
	if err != nil && IsConnectionError(err) {
		m.disconnect(c, err)
	}
	return res, err
}

func (m *Manager) callOnce(ctx context.Context, c *connection, name string, args map[string]any) (*Result, error) {
	if m.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.callTimeout)
		defer cancel()
	}
	return c.session.CallTool(ctx, name, args)
}
