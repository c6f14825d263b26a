// Package outbox is the outbound send path: validation, optimistic timeline
// insert, FIFO queueing while offline, and reconciliation of the server's
// verdict back into the conversation store.
package outbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/chatchick/chatd/internal/bus"
	"github.com/chatchick/chatd/internal/convo"
	"github.com/chatchick/chatd/internal/socket"
	"github.com/chatchick/chatd/internal/wire"
)

// ErrEmptyContent rejects sends whose content is empty after trimming.
var ErrEmptyContent = errors.New("message content is empty")

// ErrBadAttachment rejects attachments with an unknown kind.
var ErrBadAttachment = errors.New("unsupported attachment kind")

var attachmentKinds = map[string]struct{}{
	"image": {},
	"video": {},
	"audio": {},
	"file":  {},
}

// Emitter writes a command to the live connection. Satisfied by
// *socket.Manager.
type Emitter interface {
	Emit(ctx context.Context, cmd wire.Command) error
}

// entry is one send awaiting either emission (queued) or the server's
// verdict (in flight).
type entry struct {
	localID string
	key     convo.Key
	cmd     wire.Command
}

// Pipeline owns the order of outbound sends. One mutex serializes Send,
// flush and the verdict paths so frames leave in submission order and the
// in-flight ledger stays aligned with the server's FIFO responses.
type Pipeline struct {
	emitter Emitter
	store   *convo.Store
	bus     *bus.Bus
	logger  *zap.Logger
	limiter *rate.Limiter
	self    string
	cancel  context.CancelFunc

	mu       sync.Mutex
	queue    []entry // waiting for a connection, FIFO
	inflight []entry // emitted, awaiting messageSent or error, FIFO
}

func NewPipeline(emitter Emitter, store *convo.Store, b *bus.Bus, self string, ratePerSec float64, burst int, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ratePerSec <= 0 {
		ratePerSec = 5
	}
	if burst <= 0 {
		burst = 10
	}
	p := &Pipeline{
		emitter: emitter,
		store:   store,
		bus:     b,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
		self:    self,
	}
	return p
}

// Start begins watching for connectivity so queued sends flush as soon as
// the socket comes back.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	events, unsubscribe := p.bus.Subscribe("socket.", 64)
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				if evt.Kind == "socket.connected" {
					p.flush(ctx)
				}
			}
		}
	}()
}

// Stop halts the flush watcher. Queued entries stay queued.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

// Send validates and optimistically inserts a message, then emits it or
// queues it if there is no connection. The returned local id identifies the
// timeline entry through confirmation, failure or rollback.
func (p *Pipeline) Send(ctx context.Context, key convo.Key, content string, attachment *convo.Attachment) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyContent
	}
	if attachment != nil {
		if _, ok := attachmentKinds[attachment.Kind]; !ok {
			return "", ErrBadAttachment
		}
	}

	localID := p.store.InsertOptimistic(key, convo.Message{
		LocalID:    uuid.NewString(),
		Sender:     p.self,
		Content:    content,
		CreatedAt:  time.Now(),
		Attachment: attachment,
	})
	e := entry{localID: localID, key: key, cmd: buildCommand(p.self, key, content, attachment)}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Anything already queued goes first; jumping it would reorder the
	// conversation.
	if len(p.queue) > 0 {
		p.queue = append(p.queue, e)
		p.publish("send.queued", map[string]string{"local_id": localID})
		return localID, nil
	}

	switch err := p.emitLocked(ctx, e); {
	case err == nil:
		return localID, nil
	case transient(err):
		p.queue = append(p.queue, e)
		p.publish("send.queued", map[string]string{"local_id": localID})
		return localID, nil
	default:
		p.store.MarkFailed(localID)
		p.publish("send.failed", map[string]string{"local_id": localID, "error": err.Error()})
		return localID, err
	}
}

// Confirm applies a messageSent acknowledgement to the oldest in-flight
// send. The server answers sends in order, so FIFO correlation holds.
func (p *Pipeline) Confirm(ack wire.MessageSent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.popInflightLocked()
	if !ok {
		p.logger.Warn("delivery confirmation with no send in flight",
			zap.String("server_id", ack.ID))
		return
	}
	p.store.Reconcile(e.localID, convo.Message{
		ServerID:  ack.ID,
		Sender:    p.self,
		Content:   ack.Content,
		CreatedAt: ack.CreatedAt,
	})
	p.publish("send.confirmed", map[string]string{
		"local_id":  e.localID,
		"server_id": ack.ID,
	})
}

// Reject applies a server error to the oldest in-flight send. Policy
// rejections remove the optimistic entry; anything else marks it failed.
func (p *Pipeline) Reject(serr wire.ServerError) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.popInflightLocked()
	if !ok {
		p.logger.Warn("server error with no send in flight",
			zap.String("error_type", serr.Type))
		return
	}
	if serr.IsPolicyRejection() {
		p.store.Rollback(e.localID)
		p.publish("send.rejected", map[string]string{
			"local_id":   e.localID,
			"error_type": serr.Type,
			"error_msg":  serr.Message,
		})
		return
	}
	p.store.MarkFailed(e.localID)
	p.publish("send.failed", map[string]string{
		"local_id": e.localID,
		"error":    serr.Error(),
	})
}

// QueuedCount reports sends waiting for a connection.
func (p *Pipeline) QueuedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// InflightCount reports sends awaiting the server's verdict.
func (p *Pipeline) InflightCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight)
}

// flush drains the queue in order. Stops at the first connectivity error
// and leaves the remainder queued for the next socket.connected.
func (p *Pipeline) flush(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) > 0 {
		e := p.queue[0]
		err := p.emitLocked(ctx, e)
		if transient(err) || errors.Is(err, context.Canceled) {
			return
		}
		p.queue = p.queue[1:]
		if err != nil {
			p.store.MarkFailed(e.localID)
			p.publish("send.failed", map[string]string{"local_id": e.localID, "error": err.Error()})
			continue
		}
	}
	p.queue = nil
}

// emitLocked paces and writes one command, recording it in flight on
// success. Caller holds the pipeline lock.
func (p *Pipeline) emitLocked(ctx context.Context, e entry) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := p.emitter.Emit(ctx, e.cmd); err != nil {
		return err
	}
	p.inflight = append(p.inflight, e)
	p.logger.Debug("emitted send",
		zap.String("local_id", e.localID),
		zap.String("conversation", e.key.String()))
	return nil
}

// transient reports errors that mean no usable connection right now. The
// send stays queued for the next socket.connected flush; MarkFailed is
// reserved for encode errors and non-policy server verdicts.
func transient(err error) bool {
	return errors.Is(err, socket.ErrNotConnected) || errors.Is(err, socket.ErrConnectionLost)
}

func (p *Pipeline) popInflightLocked() (entry, bool) {
	if len(p.inflight) == 0 {
		return entry{}, false
	}
	e := p.inflight[0]
	p.inflight = p.inflight[1:]
	return e, true
}

func (p *Pipeline) publish(kind string, payload map[string]string) {
	p.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func buildCommand(self string, key convo.Key, content string, attachment *convo.Attachment) wire.Command {
	var uri, kind string
	if attachment != nil {
		uri, kind = attachment.URI, attachment.Kind
	}
	if key.IsGroup() {
		return wire.GroupMessageCommand{
			GroupID:        key.GroupID(),
			Content:        content,
			Attachment:     uri,
			AttachmentType: kind,
		}
	}
	return wire.DirectMessageCommand{
		ToUser:         key.Peer(self),
		Content:        content,
		Attachment:     uri,
		AttachmentType: kind,
	}
}
