// Package store holds the in-memory chat, message and saved-contact state.
//
// Every mutator marks the matching dataset dirty on its Tracker before
// returning; flushing to disk is the persistence engine's job.
package store

import (
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/wppdash/internal/bus"
	"go.uber.org/zap"
)

// DefaultDedupWindow is how close in time two messages with the same body
// must be to count as one delivery.
const DefaultDedupWindow = time.Second

// Options tunes store policies.
type Options struct {
	DedupWindow time.Duration
	Now         func() time.Time
}

type chatEntry struct {
	Chat
	seq uint64
}

// Store is the process-wide chat/message/contact state.
type Store struct {
	mu       sync.RWMutex
	chats    map[string]*chatEntry
	messages map[string][]Message
	contacts map[string]*SavedContact
	seq      uint64

	bus         *bus.Bus
	tracker     Tracker
	logger      *zap.Logger
	now         func() time.Time
	dedupWindow time.Duration
}

// New creates an empty store.
func New(b *bus.Bus, logger *zap.Logger, opts Options) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = DefaultDedupWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		chats:       make(map[string]*chatEntry),
		messages:    make(map[string][]Message),
		contacts:    make(map[string]*SavedContact),
		bus:         b,
		tracker:     nopTracker{},
		logger:      logger,
		now:         opts.Now,
		dedupWindow: opts.DedupWindow,
	}
}

// SetTracker installs the change tracker. It must be called before the
// store is shared between goroutines.
func (s *Store) SetTracker(t Tracker) {
	if t == nil {
		t = nopTracker{}
	}
	s.tracker = t
}

// Load replaces the whole in-memory state. Used on start-up and after a
// backup restore; it marks nothing dirty because the data came from disk.
func (s *Store) Load(contacts []SavedContact, chats []Chat, messages map[string][]Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contacts = make(map[string]*SavedContact, len(contacts))
	for _, c := range contacts {
		if c.ID == "" {
			continue
		}
		s.contacts[c.ID] = &c
	}

	s.chats = make(map[string]*chatEntry, len(chats))
	s.seq = 0
	for _, c := range chats {
		if c.ID == "" {
			continue
		}
		s.insertChatLocked(c)
	}

	s.messages = make(map[string][]Message, len(messages))
	for chatID, msgs := range messages {
		s.messages[chatID] = slices.Clone(msgs)
	}
}

// SnapshotContacts returns a copy of all saved contacts, newest first.
func (s *Store) SnapshotContacts() []SavedContact {
	return s.Contacts()
}

// SnapshotChats returns a copy of all chats in creation order.
func (s *Store) SnapshotChats() []Chat {
	return s.Chats()
}

// SnapshotMessages returns a deep copy of every chat's message list.
func (s *Store) SnapshotMessages() map[string][]Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]Message, len(s.messages))
	for chatID, msgs := range s.messages {
		out[chatID] = slices.Clone(msgs)
	}
	return out
}

// Counts returns the number of chats and saved contacts.
func (s *Store) Counts() (chats, contacts int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chats), len(s.contacts)
}

func (s *Store) insertChatLocked(c Chat) {
	s.seq++
	s.chats[c.ID] = &chatEntry{Chat: c, seq: s.seq}
}

func (s *Store) emit(events []bus.Event) {
	for _, evt := range events {
		s.bus.Publish(evt)
	}
}
