package convo

import (
	"sort"
	"sync"
	"time"

	"github.com/chatchick/chatd/internal/bus"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EchoWindow bounds the timestamp distance used when matching a pushed
// message against a pending optimistic entry without a server id. The
// (sender, content, time-bucket) match is best effort: two identical texts
// sent within the window reconcile against the oldest pending entry, and a
// genuinely distinct duplicate inside the window is absorbed rather than
// shown twice.
const EchoWindow = 10 * time.Second

// Store owns every conversation timeline plus the pending-send ledger.
// All mutations are serialized behind one mutex; it is the system's sole
// synchronization boundary. Socket callbacks, the send pipeline's flush and
// the history loader all funnel through here.
type Store struct {
	mu        sync.Mutex
	logger    *zap.Logger
	bus       *bus.Bus
	timelines map[Key]*timeline
	ledger    map[string]Key // local id -> owning conversation
	nextSub   int
}

type timeline struct {
	msgs      []Message
	serverIDs map[string]struct{}
	subs      map[int]func([]Message)
}

// NewStore creates an empty store.
func NewStore(b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		logger:    logger,
		bus:       b,
		timelines: make(map[Key]*timeline),
		ledger:    make(map[string]Key),
	}
}

// SeedHistory merges a batch of server-confirmed messages into the timeline.
// Entries whose server id is already present are skipped, so reseeding the
// same batch is idempotent. Live pushes carry no server id; a row covering
// one already shown adopts that entry's place instead of inserting twice.
func (s *Store) SeedHistory(key Key, msgs []Message) {
	s.mu.Lock()
	tl := s.timeline(key)
	added := 0
	for _, m := range msgs {
		if m.ServerID != "" {
			if _, dup := tl.serverIDs[m.ServerID]; dup {
				continue
			}
			if i := tl.matchUnidentified(m); i >= 0 {
				tl.adoptAt(i, m.ServerID, m.CreatedAt)
				added++
				continue
			}
		}
		if m.LocalID == "" {
			m.LocalID = uuid.NewString()
		}
		m.Key = key
		m.State = Confirmed
		tl.insert(m)
		added++
	}
	notify := s.changedLocked(key, tl, added > 0)
	s.mu.Unlock()
	notify()

	if added > 0 {
		s.logger.Debug("history seeded",
			zap.String("conversation", key.String()),
			zap.Int("added", added),
			zap.Int("batch", len(msgs)))
	}
}

// AppendIncoming inserts a live-pushed message. A replayed server id is
// dropped. A push that matches one of our own pending entries (the server
// echoing a send back) reconciles that entry in place instead of appending
// a duplicate.
func (s *Store) AppendIncoming(key Key, m Message) {
	s.mu.Lock()
	tl := s.timeline(key)

	if m.ServerID != "" {
		if _, dup := tl.serverIDs[m.ServerID]; dup {
			s.mu.Unlock()
			return
		}
	}

	if i := tl.matchEcho(m); i >= 0 {
		delete(s.ledger, tl.msgs[i].LocalID)
		tl.msgs[i].State = Confirmed
		tl.adoptAt(i, m.ServerID, m.CreatedAt)
		notify := s.changedLocked(key, tl, true)
		s.mu.Unlock()
		notify()
		return
	}

	if m.LocalID == "" {
		m.LocalID = uuid.NewString()
	}
	m.Key = key
	if m.State == "" {
		m.State = Confirmed
	}
	tl.insert(m)
	notify := s.changedLocked(key, tl, true)
	s.mu.Unlock()
	notify()
}

// InsertOptimistic inserts a locally composed message with Pending state
// and records it in the pending-send ledger. Returns the local id used for
// later reconciliation or rollback.
func (s *Store) InsertOptimistic(key Key, m Message) string {
	if m.LocalID == "" {
		m.LocalID = uuid.NewString()
	}
	m.Key = key
	m.State = Pending
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	s.mu.Lock()
	tl := s.timeline(key)
	tl.insert(m)
	s.ledger[m.LocalID] = key
	notify := s.changedLocked(key, tl, true)
	s.mu.Unlock()
	notify()

	return m.LocalID
}

// Reconcile replaces a pending entry's identity and state with the
// server-confirmed copy. The entry keeps its local id; it moves to the
// position implied by the server timestamp when one is supplied.
func (s *Store) Reconcile(localID string, server Message) bool {
	s.mu.Lock()
	key, ok := s.ledger[localID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	tl := s.timeline(key)
	i := tl.indexOf(localID)
	if i < 0 {
		delete(s.ledger, localID)
		s.mu.Unlock()
		return false
	}

	tl.msgs[i].State = Confirmed
	if server.Content != "" {
		tl.msgs[i].Content = server.Content
	}
	tl.adoptAt(i, server.ServerID, server.CreatedAt)
	delete(s.ledger, localID)
	notify := s.changedLocked(key, tl, true)
	s.mu.Unlock()
	notify()
	return true
}

// Rollback removes a pending entry entirely. Used when the server rejects
// the send for policy reasons.
func (s *Store) Rollback(localID string) bool {
	s.mu.Lock()
	key, ok := s.ledger[localID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	tl := s.timeline(key)
	i := tl.indexOf(localID)
	delete(s.ledger, localID)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	tl.msgs = append(tl.msgs[:i], tl.msgs[i+1:]...)
	notify := s.changedLocked(key, tl, true)
	s.mu.Unlock()
	notify()
	return true
}

// MarkFailed flags a pending entry as failed without removing it. Used for
// non-policy send errors so the user sees what did not go through.
func (s *Store) MarkFailed(localID string) bool {
	s.mu.Lock()
	key, ok := s.ledger[localID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	tl := s.timeline(key)
	i := tl.indexOf(localID)
	delete(s.ledger, localID)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	tl.msgs[i].State = Failed
	notify := s.changedLocked(key, tl, true)
	s.mu.Unlock()
	notify()
	return true
}

// PendingEntry returns the ledger entry for a local id, if still pending.
func (s *Store) PendingEntry(localID string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.ledger[localID]
	if !ok {
		return Message{}, false
	}
	tl := s.timeline(key)
	if i := tl.indexOf(localID); i >= 0 {
		return tl.msgs[i], true
	}
	return Message{}, false
}

// PendingCount returns the number of unconfirmed optimistic entries.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ledger)
}

// Subscribe registers a handler that receives a copy of the ordered
// timeline after every change to the given conversation. Multiple
// independent subscribers per key are supported. The returned function
// unsubscribes and is safe to call more than once.
func (s *Store) Subscribe(key Key, handler func([]Message)) func() {
	s.mu.Lock()
	tl := s.timeline(key)
	id := s.nextSub
	s.nextSub++
	tl.subs[id] = handler
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		if tl, ok := s.timelines[key]; ok {
			delete(tl.subs, id)
		}
		s.mu.Unlock()
	}
}

// Snapshot returns a copy of the current ordered timeline.
func (s *Store) Snapshot(key Key) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	tl, ok := s.timelines[key]
	if !ok {
		return nil
	}
	out := make([]Message, len(tl.msgs))
	copy(out, tl.msgs)
	return out
}

// Drop discards one conversation's timeline and its subscribers.
func (s *Store) Drop(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tl, ok := s.timelines[key]; ok {
		for _, m := range tl.msgs {
			delete(s.ledger, m.LocalID)
		}
		delete(s.timelines, key)
	}
}

// Clear discards every timeline and the ledger. Called on logout.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timelines = make(map[Key]*timeline)
	s.ledger = make(map[string]Key)
}

// timeline returns the per-key timeline, creating it lazily. Caller holds mu.
func (s *Store) timeline(key Key) *timeline {
	tl, ok := s.timelines[key]
	if !ok {
		tl = &timeline{
			serverIDs: make(map[string]struct{}),
			subs:      make(map[int]func([]Message)),
		}
		s.timelines[key] = tl
	}
	return tl
}

// changedLocked snapshots subscribers and timeline under the lock and
// returns a closure that performs delivery after the lock is released, so
// handlers may call back into the store.
func (s *Store) changedLocked(key Key, tl *timeline, changed bool) func() {
	if !changed {
		return func() {}
	}
	snapshot := make([]Message, len(tl.msgs))
	copy(snapshot, tl.msgs)
	handlers := make([]func([]Message), 0, len(tl.subs))
	for _, h := range tl.subs {
		handlers = append(handlers, h)
	}
	b := s.bus
	return func() {
		for _, h := range handlers {
			h(snapshot)
		}
		if b != nil {
			b.Publish(bus.Event{
				Kind:      "timeline.changed",
				Timestamp: time.Now(),
				Payload:   key,
			})
		}
	}
}

// insert places m at the position implied by CreatedAt, after any existing
// entries with the same timestamp (stable by insertion order).
func (tl *timeline) insert(m Message) {
	i := sort.Search(len(tl.msgs), func(i int) bool {
		return tl.msgs[i].CreatedAt.After(m.CreatedAt)
	})
	tl.msgs = append(tl.msgs, Message{})
	copy(tl.msgs[i+1:], tl.msgs[i:])
	tl.msgs[i] = m
	if m.ServerID != "" {
		tl.serverIDs[m.ServerID] = struct{}{}
	}
}

func (tl *timeline) indexOf(localID string) int {
	for i := range tl.msgs {
		if tl.msgs[i].LocalID == localID {
			return i
		}
	}
	return -1
}

// adoptAt gives the entry at i the server's identity: its id, and its
// timestamp when one is supplied. A changed timestamp repositions the entry
// so the timeline converges to the server's order. Caller holds the store
// mutex.
func (tl *timeline) adoptAt(i int, serverID string, createdAt time.Time) {
	entry := tl.msgs[i]
	entry.ServerID = serverID
	if !createdAt.IsZero() && !createdAt.Equal(entry.CreatedAt) {
		entry.CreatedAt = createdAt
		tl.msgs = append(tl.msgs[:i], tl.msgs[i+1:]...)
		tl.insert(entry)
		return
	}
	tl.msgs[i] = entry
	if serverID != "" {
		tl.serverIDs[serverID] = struct{}{}
	}
}

// matchUnidentified finds a confirmed entry without a server id matching a
// history row by sender, content and timestamp proximity. Pushes arrive
// id-less, so the row fetched later for the same message can only be
// matched heuristically.
func (tl *timeline) matchUnidentified(m Message) int {
	for i := range tl.msgs {
		e := &tl.msgs[i]
		if e.ServerID != "" || e.State != Confirmed {
			continue
		}
		if e.Sender != m.Sender || e.Content != m.Content {
			continue
		}
		delta := m.CreatedAt.Sub(e.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= EchoWindow {
			return i
		}
	}
	return -1
}

// matchEcho finds the oldest pending entry matching an incoming push by
// sender, content and timestamp proximity. Returns -1 when nothing matches.
func (tl *timeline) matchEcho(m Message) int {
	for i := range tl.msgs {
		e := &tl.msgs[i]
		if e.State != Pending {
			continue
		}
		if e.Sender != m.Sender || e.Content != m.Content {
			continue
		}
		delta := m.CreatedAt.Sub(e.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= EchoWindow {
			return i
		}
	}
	return -1
}
