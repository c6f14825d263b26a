package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatchick/chatd/internal/bus"
	"github.com/chatchick/chatd/internal/convo"
	"github.com/chatchick/chatd/internal/dispatch"
	"github.com/chatchick/chatd/internal/outbox"
	"github.com/chatchick/chatd/internal/socket"
	"github.com/chatchick/chatd/internal/wire"
)

type nullEmitter struct{ connected bool }

func (n nullEmitter) Emit(ctx context.Context, cmd wire.Command) error {
	if !n.connected {
		return socket.ErrNotConnected
	}
	return nil
}

func newEngine(t *testing.T, connected bool) (*Engine, *dispatch.Dispatcher, *convo.Store, *outbox.Pipeline, *bus.Bus) {
	t.Helper()
	b := bus.New()
	store := convo.NewStore(b, nil)
	pipeline := outbox.NewPipeline(nullEmitter{connected: connected}, store, b, "1", 1000, 1000, nil)
	d := dispatch.New(b, nil)
	e := NewEngine(d, store, pipeline, b, "1", nil)
	e.Start()
	t.Cleanup(e.Stop)
	return e, d, store, pipeline, b
}

func TestIncomingDirectMessageLandsInStore(t *testing.T) {
	_, d, store, _, _ := newEngine(t, true)

	at := time.Now().Add(-time.Minute)
	d.Dispatch(wire.DirectMessage{
		ID: "srv-1", FromUser: "7", ToUser: "1", Content: "hey",
		Attachment: "https://cdn/a.png", AttachmentType: "image", CreatedAt: at,
	})

	key := convo.DirectKey("1", "7")
	got := store.Snapshot(key)
	require.Len(t, got, 1)
	assert.Equal(t, "srv-1", got[0].ServerID)
	assert.Equal(t, "7", got[0].Sender)
	assert.Equal(t, convo.Confirmed, got[0].State)
	require.NotNil(t, got[0].Attachment)
	assert.Equal(t, "image", got[0].Attachment.Kind)
}

func TestOwnEchoKeysOnRecipient(t *testing.T) {
	_, d, store, _, _ := newEngine(t, true)

	d.Dispatch(wire.DirectMessage{
		ID: "srv-2", FromUser: "1", ToUser: "7", Content: "sent elsewhere", CreatedAt: time.Now(),
	})

	got := store.Snapshot(convo.DirectKey("1", "7"))
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].Sender)
}

func TestIncomingGroupMessageLandsInGroupTimeline(t *testing.T) {
	_, d, store, _, _ := newEngine(t, true)

	d.Dispatch(wire.GroupMessage{
		ID: "srv-3", FromUser: "9", GroupID: 4, Content: "hello all", CreatedAt: time.Now(),
	})

	got := store.Snapshot(convo.GroupKey(4))
	require.Len(t, got, 1)
	assert.Equal(t, "hello all", got[0].Content)
}

func TestDeliveryConfirmationReachesPipeline(t *testing.T) {
	_, d, store, pipeline, _ := newEngine(t, true)
	key := convo.DirectKey("1", "7")

	localID, err := pipeline.Send(context.Background(), key, "out", nil)
	require.NoError(t, err)

	d.Dispatch(wire.MessageSent{ID: "srv-4", Content: "out", CreatedAt: time.Now()})

	got := store.Snapshot(key)
	require.Len(t, got, 1)
	assert.Equal(t, convo.Confirmed, got[0].State)
	assert.Equal(t, "srv-4", got[0].ServerID)
	assert.Equal(t, localID, got[0].LocalID)
}

func TestServerErrorReachesPipeline(t *testing.T) {
	_, d, store, pipeline, _ := newEngine(t, true)
	key := convo.DirectKey("1", "7")

	_, err := pipeline.Send(context.Background(), key, "out", nil)
	require.NoError(t, err)

	d.Dispatch(wire.ServerError{Type: wire.ErrTypeNotFriend, Message: "nope"})

	assert.Empty(t, store.Snapshot(key))
}

func TestSocialNotificationsRepublished(t *testing.T) {
	_, d, _, _, b := newEngine(t, true)

	social, unsub := b.Subscribe("social.", 4)
	defer unsub()

	d.Dispatch(wire.FriendRequest{FromUser: "9", FromUsername: "dave"})

	select {
	case evt := <-social:
		assert.Equal(t, "social.friend_request", evt.Kind)
		fr := evt.Payload.(wire.FriendRequest)
		assert.Equal(t, "dave", fr.FromUsername)
	case <-time.After(time.Second):
		t.Fatal("no social event published")
	}
}

func TestStopDetachesHandlers(t *testing.T) {
	e, d, store, _, _ := newEngine(t, true)
	e.Stop()

	d.Dispatch(wire.DirectMessage{ID: "srv-5", FromUser: "7", ToUser: "1", Content: "late", CreatedAt: time.Now()})
	assert.Empty(t, store.Snapshot(convo.DirectKey("1", "7")))
}
