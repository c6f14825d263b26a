package socket

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chatchick/chatd/internal/bus"
	"github.com/chatchick/chatd/internal/status"
	"github.com/chatchick/chatd/internal/wire"
	"nhooyr.io/websocket"
)

type fakeConn struct {
	mu       sync.Mutex
	in       chan []byte
	done     chan struct{}
	closeErr error
	writeErr error
	writes   [][]byte
	once     sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:   make(chan []byte, 16),
		done: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closeErr != nil {
			return nil, c.closeErr
		}
		return nil, errors.New("connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

func (c *fakeConn) Ping(context.Context) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// fail drops the connection with the given read error.
func (c *fakeConn) fail(err error) {
	c.mu.Lock()
	c.closeErr = err
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

type fakeDialer struct {
	mu       sync.Mutex
	conns    []*fakeConn
	tokens   []string
	failures int // initial dials that error out
}

func (d *fakeDialer) dial(_ context.Context, _ string, token string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens = append(d.tokens, token)
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("dial refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tokens)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func testManager(t *testing.T, d *fakeDialer, cfg Config) (*Manager, *bus.Bus, *status.Machine) {
	t.Helper()
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = time.Millisecond
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = 5 * time.Millisecond
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 10
	}
	b := bus.New()
	machine := status.NewMachine(b)
	m := NewManager(cfg, d.dial, b, machine, nil)
	t.Cleanup(m.Disconnect)
	return m, b, machine
}

func waitState(t *testing.T, machine *status.Machine, want status.State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if machine.Current() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", machine.Current(), want)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestConnectReachesConnected(t *testing.T) {
	d := &fakeDialer{}
	m, b, machine := testManager(t, d, Config{})
	ch, unsub := b.Subscribe("socket.connected", 10)
	defer unsub()

	if err := m.Connect("tok-a"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitState(t, machine, status.Connected)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no socket.connected event")
	}
}

func TestConnectIdempotentForSameCredential(t *testing.T) {
	d := &fakeDialer{}
	m, _, machine := testManager(t, d, Config{})

	_ = m.Connect("tok-a")
	waitState(t, machine, status.Connected)
	_ = m.Connect("tok-a")

	time.Sleep(50 * time.Millisecond)
	if got := d.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
}

func TestCredentialRotationTearsDownOldConnection(t *testing.T) {
	d := &fakeDialer{}
	m, _, machine := testManager(t, d, Config{})

	_ = m.Connect("tok-a")
	waitState(t, machine, status.Connected)
	old := d.conn(0)

	_ = m.Connect("tok-b")
	waitFor(t, "second dial", func() bool { return d.dialCount() >= 2 })
	waitState(t, machine, status.Connected)

	select {
	case <-old.done:
	default:
		t.Error("old connection not closed on rotation")
	}
	d.mu.Lock()
	last := d.tokens[len(d.tokens)-1]
	d.mu.Unlock()
	if last != "tok-b" {
		t.Errorf("rotated dial used token %q", last)
	}
}

func TestEmitRequiresConnection(t *testing.T) {
	d := &fakeDialer{}
	m, _, _ := testManager(t, d, Config{})

	err := m.Emit(context.Background(), wire.DirectMessageCommand{ToUser: "bob", Content: "hi"})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestEmitReportsDyingWriteAsConnectionLost(t *testing.T) {
	d := &fakeDialer{}
	m, _, machine := testManager(t, d, Config{})
	_ = m.Connect("tok-a")
	waitState(t, machine, status.Connected)

	d.conn(0).failWrites(errors.New("broken pipe"))
	err := m.Emit(context.Background(), wire.DirectMessageCommand{ToUser: "bob", Content: "hi"})
	if !errors.Is(err, ErrConnectionLost) {
		t.Errorf("err = %v, want ErrConnectionLost", err)
	}
}

func TestEmitWritesEncodedFrame(t *testing.T) {
	d := &fakeDialer{}
	m, _, machine := testManager(t, d, Config{})
	_ = m.Connect("tok-a")
	waitState(t, machine, status.Connected)

	if err := m.Emit(context.Background(), wire.DirectMessageCommand{ToUser: "bob", Content: "hi"}); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	if d.conn(0).writeCount() != 1 {
		t.Errorf("writes = %d, want 1", d.conn(0).writeCount())
	}
}

func TestInboundFramesArePublished(t *testing.T) {
	d := &fakeDialer{}
	m, b, machine := testManager(t, d, Config{})
	ch, unsub := b.Subscribe("socket.event", 10)
	defer unsub()

	_ = m.Connect("tok-a")
	waitState(t, machine, status.Connected)

	// Precede the valid frame with garbage; the manager must skip it.
	d.conn(0).in <- []byte(`{{{not json`)
	d.conn(0).in <- []byte(`{"event":"directMessage","data":{"fromUser":"bob","content":"hi"}}`)

	select {
	case evt := <-ch:
		dm, ok := evt.Payload.(wire.DirectMessage)
		if !ok {
			t.Fatalf("payload = %T, want wire.DirectMessage", evt.Payload)
		}
		if dm.Content != "hi" {
			t.Errorf("content = %q", dm.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("no socket.event published")
	}
	if machine.Current() != status.Connected {
		t.Errorf("malformed frame dropped the connection: %v", machine.Current())
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	d := &fakeDialer{}
	m, b, machine := testManager(t, d, Config{})
	ch, unsub := b.Subscribe("socket.disconnected", 10)
	defer unsub()

	_ = m.Connect("tok-a")
	waitState(t, machine, status.Connected)

	d.conn(0).fail(errors.New("peer reset"))

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no socket.disconnected event")
	}
	waitFor(t, "redial", func() bool { return d.dialCount() >= 2 })
	waitState(t, machine, status.Connected)
}

func TestServerCloseSkipsBackoff(t *testing.T) {
	d := &fakeDialer{}
	// Backoff deliberately huge: a redial within the test window proves
	// the server-close path skipped it.
	m, _, machine := testManager(t, d, Config{BackoffBase: time.Minute, BackoffMax: time.Minute})

	_ = m.Connect("tok-a")
	waitState(t, machine, status.Connected)

	d.conn(0).fail(websocket.CloseError{Code: websocket.StatusGoingAway, Reason: "server restart"})

	waitFor(t, "immediate redial", func() bool { return d.dialCount() >= 2 })
	waitState(t, machine, status.Connected)
}

func TestFailedAfterExhaustedAttempts(t *testing.T) {
	d := &fakeDialer{failures: 100}
	m, _, machine := testManager(t, d, Config{MaxAttempts: 3})

	_ = m.Connect("tok-a")
	waitState(t, machine, status.Failed)

	if machine.Reason() == "" {
		t.Error("Failed state should carry a reason")
	}
	if got := d.dialCount(); got > 4 {
		t.Errorf("dials = %d, attempts not bounded", got)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	d := &fakeDialer{}
	m, _, machine := testManager(t, d, Config{})

	_ = m.Connect("tok-a")
	waitState(t, machine, status.Connected)

	m.Disconnect()
	m.Disconnect()
	if machine.Current() != status.Disconnected {
		t.Errorf("state = %v, want Disconnected", machine.Current())
	}
}
