// Package socket owns the lifecycle of the single authenticated connection
// to the messaging server: connect, reconnect with capped backoff,
// credential rotation and teardown. No other component implements retry
// policy.
package socket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chatchick/chatd/internal/bus"
	"github.com/chatchick/chatd/internal/status"
	"github.com/chatchick/chatd/internal/wire"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by Emit when no live connection exists.
// Callers queue and retry after the next socket.connected event.
var ErrNotConnected = errors.New("not connected")

// ErrConnectionLost is returned by Emit when the write itself fails: the
// connection is dying and the read loop will begin reconnecting. Like
// ErrNotConnected, callers keep the send for the next flush.
var ErrConnectionLost = errors.New("connection lost mid-write")

const heartbeatInterval = 25 * time.Second

// Config tunes the connection manager.
type Config struct {
	// URL is the event-channel base, e.g. "wss://chat.example.com".
	URL         string
	DialTimeout time.Duration
	BackoffBase time.Duration
	BackoffMax  time.Duration
	MaxAttempts int
}

// Manager maintains one authenticated connection and republishes decoded
// wire events on the bus:
//
//	socket.connected     (no payload)
//	socket.disconnected  (payload: reason string)
//	socket.event         (payload: wire.Event)
type Manager struct {
	cfg     Config
	dial    Dialer
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger

	mu          sync.Mutex
	conn        Conn
	token       string
	gen         int // bumped on every Connect/Disconnect to orphan old loops
	cancel      context.CancelFunc
	intentional bool
}

// NewManager creates a manager. A nil dialer defaults to the websocket
// dialer.
func NewManager(cfg Config, d Dialer, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Manager {
	if d == nil {
		d = WebsocketDialer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:     cfg,
		dial:    d,
		bus:     b,
		machine: machine,
		logger:  logger,
	}
}

// State returns the current connection state.
func (m *Manager) State() status.State {
	return m.machine.Current()
}

// Connect establishes the connection authenticated with the given
// credential. Calling it while already connected (or connecting) with the
// same credential is a no-op. A different credential tears down the old
// connection first (token rotation). Establishment is asynchronous;
// failures surface through the state machine, not as a returned error.
func (m *Manager) Connect(token string) error {
	if token == "" {
		return fmt.Errorf("connect: empty credential")
	}

	m.mu.Lock()
	switch m.machine.Current() {
	case status.Connected, status.Connecting, status.Reconnecting:
		if m.token == token {
			m.mu.Unlock()
			return nil
		}
		m.teardownLocked("credential rotation")
		_ = m.machine.Transition(status.Disconnected)
	}
	m.token = token
	m.intentional = false
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	if err := m.machine.Transition(status.Connecting); err != nil {
		m.logger.Warn("connect transition rejected", zap.Error(err))
	}

	go m.run(ctx, gen, token)
	return nil
}

// Disconnect releases the connection. Safe to call multiple times.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.teardownLocked("client disconnect")
	m.mu.Unlock()
	_ = m.machine.Transition(status.Disconnected)
}

// teardownLocked cancels the active loop and closes the connection.
// Caller holds mu.
func (m *Manager) teardownLocked(reason string) {
	m.intentional = true
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
		m.logger.Info("connection closed", zap.String("reason", reason))
	}
}

// Emit sends a command over the live connection. Returns ErrNotConnected
// when there is none and ErrConnectionLost when the write fails; the send
// pipeline queues in both cases.
func (m *Manager) Emit(ctx context.Context, cmd wire.Command) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := wire.Encode(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	if err := conn.Write(ctx, data); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return nil
}

// run drives dial/read/reconnect until cancelled, attempts exhausted, or
// superseded by a newer generation.
func (m *Manager) run(ctx context.Context, gen int, token string) {
	recon := newReconnector(m.cfg.BackoffBase, m.cfg.BackoffMax, m.cfg.MaxAttempts)

	for {
		dialCtx := ctx
		var cancelDial context.CancelFunc
		if m.cfg.DialTimeout > 0 {
			dialCtx, cancelDial = context.WithTimeout(ctx, m.cfg.DialTimeout)
		}
		conn, err := m.dial(dialCtx, m.cfg.URL, token)
		if cancelDial != nil {
			cancelDial()
		}

		if ctx.Err() != nil {
			return
		}

		if err != nil {
			m.logger.Warn("dial failed", zap.Error(err))
			if !m.retry(ctx, gen, recon, err.Error(), false) {
				return
			}
			continue
		}

		if !m.install(gen, conn) {
			_ = conn.Close()
			return
		}
		recon.markConnected()
		_ = m.machine.Transition(status.Connected)
		m.publish("socket.connected", nil)
		m.logger.Info("connected", zap.String("url", m.cfg.URL))

		readErr := m.readLoop(ctx, conn)
		m.uninstall(gen)

		if ctx.Err() != nil || m.isIntentional() {
			return
		}

		reason := "connection lost"
		if readErr != nil {
			reason = readErr.Error()
		}
		m.publish("socket.disconnected", reason)

		// A deliberate server-side close skips the backoff wait.
		if !m.retry(ctx, gen, recon, reason, serverClosed(readErr)) {
			return
		}
	}
}

// retry transitions to Reconnecting and waits out the backoff delay.
// Returns false when attempts are exhausted (state moves to Failed) or the
// loop was cancelled.
func (m *Manager) retry(ctx context.Context, gen int, recon *reconnector, reason string, immediate bool) bool {
	_ = m.machine.Transition(status.Reconnecting)
	if !recon.shouldReconnect() {
		m.logger.Error("reconnect attempts exhausted", zap.String("reason", reason))
		_ = m.machine.TransitionReason(status.Failed, reason)
		return false
	}

	delay := recon.nextDelay()
	if immediate {
		delay = 0
	}
	m.logger.Info("reconnecting",
		zap.Duration("delay", delay),
		zap.String("reason", reason))

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false
		}
	}
	if !m.isCurrent(gen) {
		return false
	}
	_ = m.machine.Transition(status.Connecting)
	return true
}

// readLoop decodes inbound frames and publishes them until the connection
// drops. Malformed frames are logged and skipped; they never tear the
// connection down.
func (m *Manager) readLoop(ctx context.Context, conn Conn) error {
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go m.heartbeat(pingCtx, conn)

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		evt, err := wire.Decode(data)
		if err != nil {
			m.logger.Warn("dropping malformed frame", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		if evt == nil {
			continue
		}
		m.publish("socket.event", evt)
	}
}

func (m *Manager) heartbeat(ctx context.Context, conn Conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		}
	}
}

func (m *Manager) install(gen int, conn Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}
	m.conn = conn
	return true
}

func (m *Manager) uninstall(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen == m.gen && m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
}

func (m *Manager) isCurrent(gen int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

func (m *Manager) isIntentional() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intentional
}

func (m *Manager) publish(kind string, payload any) {
	m.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
