package msgstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pinkmango/delayq/pkg/messages"
)

// MemoryConfig holds the settings for the in-memory store.
type MemoryConfig struct {
	// VisibilityWindow overrides DefaultVisibilityWindow when positive.
	VisibilityWindow time.Duration
	// RetentionGrace overrides DefaultRetentionGrace when positive.
	RetentionGrace time.Duration
}

type memoryEntry struct {
	msg        *messages.Message
	appendedAt time.Time
}

// MemoryStore is a MessageRepository backed by process memory. It is safe
// for concurrent use and keeps per-topic append order. Messages are cloned
// on the way in and out, so callers can never mutate stored state.
type MemoryStore struct {
	window time.Duration
	grace  time.Duration

	now func() time.Time

	mu     sync.RWMutex
	topics map[string][]*memoryEntry
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	window := cfg.VisibilityWindow
	if window <= 0 {
		window = DefaultVisibilityWindow
	}
	grace := cfg.RetentionGrace
	if grace <= 0 {
		grace = DefaultRetentionGrace
	}
	return &MemoryStore{
		window: window,
		grace:  grace,
		now:    time.Now,
		topics: make(map[string][]*memoryEntry),
	}
}

// Append stores a copy of msg under topic, stamped with the store's clock.
func (s *MemoryStore) Append(_ context.Context, topic string, msg *messages.Message) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if msg == nil {
		return ErrNilMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	s.topics[topic] = append(s.topics[topic], &memoryEntry{
		msg:        msg.Clone(),
		appendedAt: s.now(),
	})
	return nil
}

// ConsumeMessage promotes every message in topic whose age has reached the
// visibility window. When messageID is not uuid.Nil, the matching message is
// also marked consumed regardless of its age; an unknown id is ignored.
func (s *MemoryStore) ConsumeMessage(_ context.Context, topic string, messageID uuid.UUID) error {
	if topic == "" {
		return ErrEmptyTopic
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	now := s.now()
	for _, e := range s.topics[topic] {
		if e.msg.IsConsumed() {
			continue
		}
		if now.Sub(e.appendedAt) >= s.window || e.msg.ID() == messageID {
			e.msg.SetConsumed(true)
		}
	}
	return nil
}

// GetAllNotConsumedMessagesByTopic lists the messages still inside the
// visibility window, in append order.
func (s *MemoryStore) GetAllNotConsumedMessagesByTopic(_ context.Context, topic string) ([]*messages.Message, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	now := s.now()
	var out []*messages.Message
	for _, e := range s.topics[topic] {
		if e.msg.IsConsumed() {
			continue
		}
		if now.Sub(e.appendedAt) < s.window {
			out = append(out, e.msg.Clone())
		}
	}
	return out, nil
}

// GetAllConsumedMessagesByTopic lists the already-consumed messages, in
// append order.
func (s *MemoryStore) GetAllConsumedMessagesByTopic(_ context.Context, topic string) ([]*messages.Message, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var out []*messages.Message
	for _, e := range s.topics[topic] {
		if e.msg.IsConsumed() {
			out = append(out, e.msg.Clone())
		}
	}
	return out, nil
}

// RemoveExpiredMessages drops every entry older than the visibility window
// plus the retention grace, consumed or not.
func (s *MemoryStore) RemoveExpiredMessages(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	cutoff := s.now().Add(-(s.window + s.grace))
	removed := 0
	for topic, entries := range s.topics {
		kept := entries[:0]
		for _, e := range entries {
			if e.appendedAt.After(cutoff) {
				kept = append(kept, e)
			} else {
				removed++
			}
		}
		if len(kept) == 0 {
			delete(s.topics, topic)
		} else {
			s.topics[topic] = kept
		}
	}
	return removed, nil
}

// Close empties the store. It is safe to call more than once.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.topics = nil
	return nil
}
