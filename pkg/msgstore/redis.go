package msgstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pinkmango/delayq/pkg/messages"
)

// DefaultKeyPrefix scopes every key the store touches so that ClearAll can
// never reach beyond its own data.
const DefaultKeyPrefix = "delayq:"

const redisConnectTimeout = 5 * time.Second

// RedisConfig holds the settings for connecting to a Redis instance.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix is prepended to every stream and set key. Defaults to
	// DefaultKeyPrefix.
	KeyPrefix string

	// VisibilityWindow overrides DefaultVisibilityWindow when positive.
	VisibilityWindow time.Duration
	// RetentionGrace overrides DefaultRetentionGrace when positive.
	RetentionGrace time.Duration
}

// RedisStore is a MessageRepository backed by Redis Streams. Each topic maps
// to a pair of streams: the source stream holds pending messages and a
// companion stream holds the consumed ones. A message moves between them
// keeping its stream entry ID, so ordering and the storage-side timestamp
// survive reconciliation.
//
// The entry ID's millisecond part is the authoritative creation timestamp
// for visibility; no auxiliary expiry keys are involved.
type RedisStore struct {
	client *redis.Client
	prefix string
	window time.Duration
	grace  time.Duration
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewRedisStore connects to Redis and verifies the connection before
// returning a usable store.
func NewRedisStore(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.VisibilityWindow <= 0 {
		cfg.VisibilityWindow = DefaultVisibilityWindow
	}
	if cfg.RetentionGrace <= 0 {
		cfg.RetentionGrace = DefaultRetentionGrace
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}

	storeLogger := logger.With().Str("component", "RedisStore").Logger()
	storeLogger.Info().Str("address", cfg.Addr).Int("db", cfg.DB).Msg("Successfully connected to Redis")

	return &RedisStore{
		client: client,
		prefix: cfg.KeyPrefix,
		window: cfg.VisibilityWindow,
		grace:  cfg.RetentionGrace,
		logger: storeLogger,
	}, nil
}

func (s *RedisStore) sourceKey(topic string) string   { return s.prefix + topic }
func (s *RedisStore) consumedKey(topic string) string { return s.prefix + topic + ":consumed" }
func (s *RedisStore) registryKey() string             { return s.prefix + "topics" }

func (s *RedisStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Append writes msg to the topic's source stream and registers the topic so
// maintenance sweeps can find it.
func (s *RedisStore) Append(ctx context.Context, topic string, msg *messages.Message) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if msg == nil {
		return ErrNilMessage
	}
	if s.isClosed() {
		return ErrStoreClosed
	}

	values := make(map[string]interface{})
	for k, v := range msg.Fields() {
		values[k] = v
	}
	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.sourceKey(topic),
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("failed to append message to topic %q: %w", topic, err)
	}
	if err := s.client.SAdd(ctx, s.registryKey(), topic).Err(); err != nil {
		return fmt.Errorf("failed to register topic %q: %w", topic, err)
	}
	return nil
}

// ConsumeMessage moves every source entry whose age has reached the
// visibility window into the topic's consumed stream. The move keeps the
// entry ID and is idempotent: an entry already present in the consumed
// stream is only deleted from the source. The messageID argument is
// advisory here; entry IDs, not message IDs, drive the reconciliation.
func (s *RedisStore) ConsumeMessage(ctx context.Context, topic string, _ uuid.UUID) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if s.isClosed() {
		return ErrStoreClosed
	}

	srcKey := s.sourceKey(topic)
	dstKey := s.consumedKey(topic)

	entries, err := s.client.XRange(ctx, srcKey, "-", "+").Result()
	if err != nil {
		return fmt.Errorf("failed to read topic %q: %w", topic, err)
	}

	now := time.Now()
	moved := 0
	for _, entry := range entries {
		createdAt, err := entryTime(entry.ID)
		if err != nil {
			s.logger.Warn().Str("topic", topic).Str("entry_id", entry.ID).Err(err).Msg("Skipping entry with malformed ID")
			continue
		}
		if now.Sub(createdAt) < s.window {
			continue
		}

		existing, err := s.client.XRange(ctx, dstKey, entry.ID, entry.ID).Result()
		if err != nil {
			return fmt.Errorf("failed to check consumed stream for topic %q: %w", topic, err)
		}
		if len(existing) == 0 {
			values := copyValues(entry.Values)
			values[messages.FieldConsumed] = "true"
			if err := s.client.XAdd(ctx, &redis.XAddArgs{
				Stream: dstKey,
				ID:     entry.ID,
				Values: values,
			}).Err(); err != nil {
				return fmt.Errorf("failed to move entry %s in topic %q: %w", entry.ID, topic, err)
			}
		}
		if err := s.client.XDel(ctx, srcKey, entry.ID).Err(); err != nil {
			return fmt.Errorf("failed to remove entry %s from topic %q: %w", entry.ID, topic, err)
		}
		moved++
	}

	if moved > 0 {
		s.logger.Debug().Str("topic", topic).Int("moved", moved).Msg("Reconciled messages into consumed stream")
	}
	return nil
}

// GetAllNotConsumedMessagesByTopic lists the source-stream messages still
// inside the visibility window, in stream order.
func (s *RedisStore) GetAllNotConsumedMessagesByTopic(ctx context.Context, topic string) ([]*messages.Message, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	if s.isClosed() {
		return nil, ErrStoreClosed
	}

	entries, err := s.client.XRange(ctx, s.sourceKey(topic), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read topic %q: %w", topic, err)
	}

	now := time.Now()
	var out []*messages.Message
	for _, entry := range entries {
		createdAt, err := entryTime(entry.ID)
		if err != nil {
			s.logger.Warn().Str("topic", topic).Str("entry_id", entry.ID).Err(err).Msg("Skipping entry with malformed ID")
			continue
		}
		if now.Sub(createdAt) >= s.window {
			continue
		}
		msg, err := s.messageFromEntry(entry, createdAt)
		if err != nil {
			s.logger.Warn().Str("topic", topic).Str("entry_id", entry.ID).Err(err).Msg("Skipping undecodable entry")
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// GetAllConsumedMessagesByTopic lists the consumed-stream messages in stream
// order. Age does not filter this listing; only a maintenance sweep removes
// consumed entries.
func (s *RedisStore) GetAllConsumedMessagesByTopic(ctx context.Context, topic string) ([]*messages.Message, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	if s.isClosed() {
		return nil, ErrStoreClosed
	}

	entries, err := s.client.XRange(ctx, s.consumedKey(topic), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read consumed stream for topic %q: %w", topic, err)
	}

	var out []*messages.Message
	for _, entry := range entries {
		createdAt, err := entryTime(entry.ID)
		if err != nil {
			s.logger.Warn().Str("topic", topic).Str("entry_id", entry.ID).Err(err).Msg("Skipping entry with malformed ID")
			continue
		}
		msg, err := s.messageFromEntry(entry, createdAt)
		if err != nil {
			s.logger.Warn().Str("topic", topic).Str("entry_id", entry.ID).Err(err).Msg("Skipping undecodable entry")
			continue
		}
		// Presence in the consumed stream is the consumed state, whatever the
		// stored flag says.
		msg.SetConsumed(true)
		out = append(out, msg)
	}
	return out, nil
}

// RemoveExpiredMessages deletes, across every registered topic, the entries
// whose age exceeds the visibility window plus the retention grace. Topics
// left with no entries at all are dropped from the registry.
func (s *RedisStore) RemoveExpiredMessages(ctx context.Context) (int, error) {
	if s.isClosed() {
		return 0, ErrStoreClosed
	}

	topics, err := s.client.SMembers(ctx, s.registryKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list registered topics: %w", err)
	}

	cutoff := time.Now().Add(-(s.window + s.grace))
	removed := 0
	for _, topic := range topics {
		for _, key := range []string{s.sourceKey(topic), s.consumedKey(topic)} {
			n, err := s.purgeBefore(ctx, key, cutoff)
			if err != nil {
				return removed, fmt.Errorf("failed to purge %q: %w", key, err)
			}
			removed += n
		}

		srcLen, err := s.client.XLen(ctx, s.sourceKey(topic)).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to measure topic %q: %w", topic, err)
		}
		dstLen, err := s.client.XLen(ctx, s.consumedKey(topic)).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to measure consumed stream for topic %q: %w", topic, err)
		}
		if srcLen == 0 && dstLen == 0 {
			if err := s.client.SRem(ctx, s.registryKey(), topic).Err(); err != nil {
				return removed, fmt.Errorf("failed to deregister topic %q: %w", topic, err)
			}
			if err := s.client.Del(ctx, s.sourceKey(topic), s.consumedKey(topic)).Err(); err != nil {
				return removed, fmt.Errorf("failed to delete empty streams for topic %q: %w", topic, err)
			}
		}
	}

	if removed > 0 {
		s.logger.Debug().Int("removed", removed).Msg("Purged expired messages")
	}
	return removed, nil
}

func (s *RedisStore) purgeBefore(ctx context.Context, key string, cutoff time.Time) (int, error) {
	// Bounding XRange at the cutoff millisecond keeps the scan to the
	// purgeable range instead of the whole stream.
	end := strconv.FormatInt(cutoff.UnixMilli(), 10) + "-" + strconv.FormatUint(^uint64(0), 10)
	entries, err := s.client.XRange(ctx, key, "-", end).Result()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		createdAt, err := entryTime(entry.ID)
		if err != nil || createdAt.After(cutoff) {
			continue
		}
		if err := s.client.XDel(ctx, key, entry.ID).Err(); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// ClearAll removes every key this store has created: all topic streams,
// their consumed companions and the registry. Data outside the store's key
// prefix is never touched.
func (s *RedisStore) ClearAll(ctx context.Context) error {
	if s.isClosed() {
		return ErrStoreClosed
	}

	topics, err := s.client.SMembers(ctx, s.registryKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to list registered topics: %w", err)
	}
	for _, topic := range topics {
		if err := s.client.Del(ctx, s.sourceKey(topic), s.consumedKey(topic)).Err(); err != nil {
			return fmt.Errorf("failed to delete streams for topic %q: %w", topic, err)
		}
	}
	if err := s.client.Del(ctx, s.registryKey()).Err(); err != nil {
		return fmt.Errorf("failed to delete topic registry: %w", err)
	}
	return nil
}

// Close releases the Redis connection. It is safe to call more than once.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

func (s *RedisStore) messageFromEntry(entry redis.XMessage, createdAt time.Time) (*messages.Message, error) {
	fields := make(map[string]string, len(entry.Values))
	for k, v := range entry.Values {
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("field %q is not a string", k)
		}
		fields[k] = str
	}
	if _, ok := fields[messages.FieldCreatedAt]; !ok {
		fields[messages.FieldCreatedAt] = createdAt.Format(time.RFC3339Nano)
	}
	return messages.FromFields(fields)
}

func copyValues(values map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

// entryTime extracts the creation timestamp encoded in a stream entry ID of
// the form "<unix-ms>-<seq>".
func entryTime(id string) (time.Time, error) {
	msPart, _, ok := strings.Cut(id, "-")
	if !ok {
		return time.Time{}, fmt.Errorf("malformed stream entry ID %q", id)
	}
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed stream entry ID %q: %w", id, err)
	}
	return time.UnixMilli(ms), nil
}
