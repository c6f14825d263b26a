// Package sync binds dispatched server events to their consumers: pushed
// messages land in the conversation store, delivery verdicts feed back into
// the send pipeline, social notifications go out on the bus.
package sync

import (
	"time"

	"go.uber.org/zap"

	"github.com/chatchick/chatd/internal/bus"
	"github.com/chatchick/chatd/internal/convo"
	"github.com/chatchick/chatd/internal/dispatch"
	"github.com/chatchick/chatd/internal/outbox"
	"github.com/chatchick/chatd/internal/wire"
)

// Engine wires dispatcher callbacks to the store and the outbox.
type Engine struct {
	dispatcher *dispatch.Dispatcher
	store      *convo.Store
	pipeline   *outbox.Pipeline
	bus        *bus.Bus
	self       string
	logger     *zap.Logger
	unregister []func()
}

// NewEngine creates a sync engine for the given local user id.
func NewEngine(d *dispatch.Dispatcher, store *convo.Store, p *outbox.Pipeline, b *bus.Bus, self string, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		dispatcher: d,
		store:      store,
		pipeline:   p,
		bus:        b,
		self:       self,
		logger:     logger,
	}
}

// Start registers the engine's handlers with the dispatcher.
func (e *Engine) Start() {
	e.unregister = []func(){
		e.dispatcher.OnIncomingMessage(e.handleIncoming),
		e.dispatcher.OnDeliveryConfirmed(e.pipeline.Confirm),
		e.dispatcher.OnServerError(e.pipeline.Reject),
		e.dispatcher.OnSocialNotification(e.handleSocial),
	}
}

// Stop detaches the engine from the dispatcher.
func (e *Engine) Stop() {
	for _, u := range e.unregister {
		u()
	}
	e.unregister = nil
}

func (e *Engine) handleIncoming(evt wire.Event) {
	switch m := evt.(type) {
	case wire.DirectMessage:
		key := convo.DirectKey(e.self, e.directPeer(m))
		e.store.AppendIncoming(key, convo.Message{
			ServerID:   m.ID,
			Sender:     m.FromUser,
			Key:        key,
			Content:    m.Content,
			CreatedAt:  m.CreatedAt,
			Attachment: attachment(m.Attachment, m.AttachmentType),
			State:      convo.Confirmed,
		})
	case wire.GroupMessage:
		key := convo.GroupKey(m.GroupID)
		e.store.AppendIncoming(key, convo.Message{
			ServerID:   m.ID,
			Sender:     m.FromUser,
			Key:        key,
			Content:    m.Content,
			CreatedAt:  m.CreatedAt,
			Attachment: attachment(m.Attachment, m.AttachmentType),
			State:      convo.Confirmed,
		})
	default:
		e.logger.Warn("unexpected incoming event kind")
	}
}

// directPeer picks the conversation partner. The server echoes our own
// sends back on other devices, so FromUser may be us.
func (e *Engine) directPeer(m wire.DirectMessage) string {
	if m.FromUser == e.self && m.ToUser != "" {
		return m.ToUser
	}
	return m.FromUser
}

func (e *Engine) handleSocial(evt wire.Event) {
	switch n := evt.(type) {
	case wire.FriendRequest:
		e.publish("social.friend_request", n)
		e.logger.Info("friend request received",
			zap.String("from", n.FromUsername))
	case wire.GroupUpdate:
		e.publish("social.group_update", n)
		e.logger.Info("group update received",
			zap.Int64("group_id", n.GroupID),
			zap.String("action", n.Action))
	}
}

func (e *Engine) publish(kind string, payload any) {
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func attachment(uri, kind string) *convo.Attachment {
	if uri == "" {
		return nil
	}
	return &convo.Attachment{URI: uri, Kind: kind}
}
