package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pinkmango/delayq/pkg/messages"
	"github.com/pinkmango/delayq/pkg/msgstore"
)

// Topic is a named channel binding a repository partition to a set of
// subscribed consumers. The repository is shared, not owned; the topic never
// closes it. Consumers are kept in subscription order and fan-out follows
// that order.
type Topic struct {
	name   string
	repo   msgstore.MessageRepository
	logger zerolog.Logger

	mu        sync.RWMutex
	consumers []messages.Consumer
}

// NewTopic creates a topic that persists through repo.
func NewTopic(name string, repo msgstore.MessageRepository, logger zerolog.Logger) (*Topic, error) {
	if name == "" {
		return nil, ErrEmptyTopicName
	}
	if repo == nil {
		return nil, ErrNilRepository
	}
	return &Topic{
		name:   name,
		repo:   repo,
		logger: logger.With().Str("component", "Topic").Str("topic", name).Logger(),
	}, nil
}

// Name returns the topic's routing key.
func (t *Topic) Name() string { return t.name }

// Subscribe attaches a consumer. Subscribing a consumer whose name is
// already attached is a no-op, so double subscription leaves one entry.
func (t *Topic) Subscribe(c messages.Consumer) error {
	if c == nil {
		return messages.ErrNilConsumer
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.consumers {
		if existing.Name() == c.Name() {
			return nil
		}
	}
	t.consumers = append(t.consumers, c)
	t.logger.Debug().Str("consumer", c.Name()).Msg("Consumer subscribed.")
	return nil
}

// Unsubscribe detaches a consumer by name. Detaching an absent or nil
// consumer is a no-op.
func (t *Topic) Unsubscribe(c messages.Consumer) {
	if c == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i, existing := range t.consumers {
		if existing.Name() == c.Name() {
			t.consumers = append(t.consumers[:i], t.consumers[i+1:]...)
			t.logger.Debug().Str("consumer", c.Name()).Msg("Consumer unsubscribed.")
			return
		}
	}
}

// Consumers returns a copy of the subscription list in subscription order.
func (t *Topic) Consumers() []messages.Consumer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]messages.Consumer, len(t.consumers))
	copy(out, t.consumers)
	return out
}

// AddMessage persists msg and then notifies every subscribed consumer that a
// message arrived. The two steps are strictly sequenced: a persistence
// failure returns before any consumer is notified, while notification
// outcomes never affect the stored message. The arrival notification is
// independent of the visibility window; consumability is decided by the
// repository's clock alone.
func (t *Topic) AddMessage(ctx context.Context, msg *messages.Message) error {
	if msg == nil {
		return msgstore.ErrNilMessage
	}
	if err := t.repo.Append(ctx, t.name, msg); err != nil {
		return fmt.Errorf("failed to persist message on topic %q: %w", t.name, err)
	}
	t.logger.Debug().Str("msg_id", msg.ID().String()).Str("producer", msg.Producer().Name()).Msg("Message persisted.")

	t.notifyConsumers(ctx, msg)
	return nil
}

// notifyConsumers runs the fan-out sequentially in subscription order.
// Failures are isolated per consumer: a failing, erroring or panicking
// consumer is logged and the remaining consumers are still notified.
func (t *Topic) notifyConsumers(ctx context.Context, msg *messages.Message) {
	for _, c := range t.Consumers() {
		t.notifyOne(ctx, c, msg)
	}
}

func (t *Topic) notifyOne(ctx context.Context, c messages.Consumer, msg *messages.Message) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error().Str("consumer", c.Name()).Interface("panic", r).Msg("Consumer panicked during notification.")
		}
	}()

	ok, err := c.Consume(ctx, msg)
	if err != nil {
		t.logger.Error().Err(err).Str("consumer", c.Name()).Str("msg_id", msg.ID().String()).Msg("Consumer failed to process message.")
		return
	}
	if !ok {
		t.logger.Warn().Str("consumer", c.Name()).Str("msg_id", msg.ID().String()).Msg("Consumer reported unsuccessful processing.")
		return
	}
	if err := msg.AddConsumption(c); err != nil {
		t.logger.Warn().Err(err).Str("consumer", c.Name()).Msg("Failed to record consumption.")
		return
	}
	t.logger.Debug().Str("consumer", c.Name()).Str("msg_id", msg.ID().String()).Msg("Message delivered.")
}

// Reconcile promotes every stored message whose visibility window has
// elapsed into the consumed state.
func (t *Topic) Reconcile(ctx context.Context) error {
	return t.repo.ConsumeMessage(ctx, t.name, uuid.Nil)
}

// ConsumeMessage reconciles the topic and, on backends that support it, also
// marks the message with the given id consumed regardless of age.
func (t *Topic) ConsumeMessage(ctx context.Context, messageID uuid.UUID) error {
	return t.repo.ConsumeMessage(ctx, t.name, messageID)
}

// NotConsumedMessages lists the topic's messages still inside the visibility
// window, in storage order.
func (t *Topic) NotConsumedMessages(ctx context.Context) ([]*messages.Message, error) {
	return t.repo.GetAllNotConsumedMessagesByTopic(ctx, t.name)
}

// ConsumedMessages lists the topic's already-consumed messages, in storage
// order.
func (t *Topic) ConsumedMessages(ctx context.Context) ([]*messages.Message, error) {
	return t.repo.GetAllConsumedMessagesByTopic(ctx, t.name)
}
