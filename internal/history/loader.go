// Package history backfills conversation timelines from the server's REST
// API. Live pushes only cover messages received while connected; opening a
// conversation loads everything the server stored before that.
package history

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatchick/chatd/internal/convo"
	"github.com/chatchick/chatd/internal/rest"
)

// ErrSuperseded is returned when a newer load for the same conversation was
// issued while this one was in flight. The response is discarded unseen.
var ErrSuperseded = errors.New("history load superseded by a newer request")

// ErrGroupHistory is returned for group keys; the server has no group
// history endpoint, group timelines are push-only.
var ErrGroupHistory = errors.New("group conversations have no history endpoint")

// FetchError wraps a transport or server failure. The timeline is left
// untouched; callers may retry.
type FetchError struct {
	Key convo.Key
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("history fetch for %s: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher is the slice of the REST client the loader needs.
type Fetcher interface {
	DirectMessages(ctx context.Context, withID string) ([]rest.DirectMessageRecord, error)
}

// Loader fetches and seeds direct-message history. Loads for the same key
// may overlap; only the most recently issued one is allowed to touch the
// store, regardless of arrival order.
type Loader struct {
	client Fetcher
	store  *convo.Store
	self   string
	logger *zap.Logger

	mu  sync.Mutex
	seq map[convo.Key]uint64
}

func NewLoader(client Fetcher, store *convo.Store, self string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		client: client,
		store:  store,
		self:   self,
		logger: logger,
		seq:    make(map[convo.Key]uint64),
	}
}

// Load fetches the stored history for a direct conversation and seeds the
// timeline. Idempotent: rows already present are deduplicated by the store.
func (l *Loader) Load(ctx context.Context, key convo.Key) ([]convo.Message, error) {
	if key.IsGroup() {
		return nil, ErrGroupHistory
	}

	l.mu.Lock()
	l.seq[key]++
	ticket := l.seq[key]
	l.mu.Unlock()

	peer := key.Peer(l.self)
	rows, err := l.client.DirectMessages(ctx, peer)
	if err != nil {
		return nil, &FetchError{Key: key, Err: err}
	}

	msgs := make([]convo.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, normalize(key, row))
	}
	if !l.seedIfCurrent(key, ticket, msgs) {
		l.logger.Debug("discarding superseded history response",
			zap.String("conversation", key.String()),
			zap.Uint64("ticket", ticket))
		return nil, ErrSuperseded
	}

	l.logger.Debug("seeded history",
		zap.String("conversation", key.String()),
		zap.Int("rows", len(rows)))
	return msgs, nil
}

// seedIfCurrent commits a fetched batch only while ticket is still the
// latest issued for key. Check and seed share one critical section, so a
// stale response cannot slip in after a newer one committed.
func (l *Loader) seedIfCurrent(key convo.Key, ticket uint64, msgs []convo.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ticket != l.seq[key] {
		return false
	}
	l.store.SeedHistory(key, msgs)
	return true
}

// normalize maps a server history row to a timeline entry. Server rows are
// always confirmed; their id doubles as the dedup key against live pushes.
func normalize(key convo.Key, row rest.DirectMessageRecord) convo.Message {
	m := convo.Message{
		ServerID:  strconv.FormatInt(row.ID, 10),
		Sender:    strconv.FormatInt(row.FromUser, 10),
		Key:       key,
		Content:   row.Content,
		CreatedAt: parseTime(row.CreatedAt),
		State:     convo.Confirmed,
	}
	if row.Attachment != "" {
		m.Attachment = &convo.Attachment{URI: row.Attachment, Kind: row.AttachmentType}
	}
	return m
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Now()
	}
	return t
}
