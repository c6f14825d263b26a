// Package dispatch demultiplexes decoded server events to typed handler
// sets: incoming messages, delivery confirmations, server errors and social
// notifications.
package dispatch

import (
	"context"
	"sync"

	"github.com/chatchick/chatd/internal/bus"
	"github.com/chatchick/chatd/internal/wire"
	"go.uber.org/zap"
)

// seenLimit bounds the replay-suppression window. Old ids are evicted FIFO.
const seenLimit = 1024

// Dispatcher fans decoded wire events out to registered handlers. Each
// received event reaches each handler at most once: replays of an already
// seen server message id (possible across reconnects) are suppressed
// before fan-out.
type Dispatcher struct {
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc

	mu         sync.RWMutex
	nextID     int
	incoming   map[int]func(wire.Event)
	confirmed  map[int]func(wire.MessageSent)
	serverErrs map[int]func(wire.ServerError)
	social     map[int]func(wire.Event)

	seen     map[string]struct{}
	seenFIFO []string
}

// New creates a dispatcher reading from the given bus.
func New(b *bus.Bus, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		bus:        b,
		logger:     logger,
		incoming:   make(map[int]func(wire.Event)),
		confirmed:  make(map[int]func(wire.MessageSent)),
		serverErrs: make(map[int]func(wire.ServerError)),
		social:     make(map[int]func(wire.Event)),
		seen:       make(map[string]struct{}),
	}
}

// Start subscribes to decoded socket events on the bus.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	ch, unsub := d.bus.Subscribe("socket.event", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if we, ok := evt.Payload.(wire.Event); ok {
					d.Dispatch(we)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the dispatcher.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

// OnIncomingMessage registers a handler for pushed direct and group
// messages. The returned function unregisters it and is safe to call from
// inside any handler.
func (d *Dispatcher) OnIncomingMessage(h func(wire.Event)) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.incoming[id] = h
	d.mu.Unlock()
	return func() { removeHandler(d, d.incoming, id) }
}

// OnDeliveryConfirmed registers a handler for send confirmations.
func (d *Dispatcher) OnDeliveryConfirmed(h func(wire.MessageSent)) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.confirmed[id] = h
	d.mu.Unlock()
	return func() { removeHandler(d, d.confirmed, id) }
}

// OnServerError registers a handler for server error responses.
func (d *Dispatcher) OnServerError(h func(wire.ServerError)) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.serverErrs[id] = h
	d.mu.Unlock()
	return func() { removeHandler(d, d.serverErrs, id) }
}

// OnSocialNotification registers a handler for friend requests and group
// updates.
func (d *Dispatcher) OnSocialNotification(h func(wire.Event)) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.social[id] = h
	d.mu.Unlock()
	return func() { removeHandler(d, d.social, id) }
}

func removeHandler[H any](d *Dispatcher, m map[int]H, id int) {
	d.mu.Lock()
	delete(m, id)
	d.mu.Unlock()
}

// Dispatch routes one decoded event to its handler category. Exported so
// tests and in-process callers can inject events without a socket.
func (d *Dispatcher) Dispatch(evt wire.Event) {
	switch e := evt.(type) {
	case wire.DirectMessage:
		if e.ID != "" && d.replayed("msg:"+e.ID) {
			return
		}
		for _, h := range snapshot(d, d.incoming) {
			h(e)
		}
	case wire.GroupMessage:
		if e.ID != "" && d.replayed("msg:"+e.ID) {
			return
		}
		for _, h := range snapshot(d, d.incoming) {
			h(e)
		}
	case wire.MessageSent:
		if e.ID != "" && d.replayed("ack:"+e.ID) {
			return
		}
		for _, h := range snapshot(d, d.confirmed) {
			h(e)
		}
	case wire.ServerError:
		d.logger.Warn("server error",
			zap.String("topic", e.Topic),
			zap.String("type", e.Type),
			zap.String("msg", e.Message))
		for _, h := range snapshot(d, d.serverErrs) {
			h(e)
		}
	case wire.FriendRequest, wire.GroupUpdate:
		for _, h := range snapshot(d, d.social) {
			h(evt)
		}
	}
}

// snapshot copies the handler set so unregistration during fan-out cannot
// mutate the list mid-iteration.
func snapshot[H any](d *Dispatcher, m map[int]H) []H {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]H, 0, len(m))
	for _, h := range m {
		out = append(out, h)
	}
	return out
}

// replayed records the id and reports whether it was already seen.
func (d *Dispatcher) replayed(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seen[id] = struct{}{}
	d.seenFIFO = append(d.seenFIFO, id)
	if len(d.seenFIFO) > seenLimit {
		evict := d.seenFIFO[0]
		d.seenFIFO = d.seenFIFO[1:]
		delete(d.seen, evict)
	}
	return false
}
