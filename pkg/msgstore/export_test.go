package msgstore

import "time"

// SetNow replaces the store's clock so tests can steer the visibility
// window deterministically.
func (s *MemoryStore) SetNow(now func() time.Time) {
	s.now = now
}

// SourceKeyForTest exposes the source stream key for a topic.
func (s *RedisStore) SourceKeyForTest(topic string) string { return s.sourceKey(topic) }

// ConsumedKeyForTest exposes the consumed stream key for a topic.
func (s *RedisStore) ConsumedKeyForTest(topic string) string { return s.consumedKey(topic) }
