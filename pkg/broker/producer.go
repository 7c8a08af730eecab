package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pinkmango/delayq/pkg/messages"
)

var (
	// ErrNilBroker is returned when constructing a producer without a broker.
	ErrNilBroker = errors.New("broker: broker cannot be nil")

	// ErrTopicNotRegistered is returned when producing to a topic outside the
	// producer's registered set.
	ErrTopicNotRegistered = errors.New("broker: topic not registered on this producer")
)

// Producer is a named publisher. It keeps the set of topics it feeds, in
// registration order, so one payload can be broadcast to all of them. There
// is no shared global producer; construct one per publishing identity and
// pass it to whatever needs to publish.
type Producer struct {
	name   string
	broker *Broker
	logger zerolog.Logger

	mu     sync.Mutex
	topics []string
}

// NewProducer creates a producer publishing through b.
func NewProducer(name string, b *Broker, logger zerolog.Logger) (*Producer, error) {
	if name == "" {
		return nil, messages.ErrNilProducer
	}
	if b == nil {
		return nil, ErrNilBroker
	}
	return &Producer{
		name:   name,
		broker: b,
		logger: logger.With().Str("component", "Producer").Str("producer", name).Logger(),
	}, nil
}

// Name returns the producer's display name, recorded on every message it
// creates.
func (p *Producer) Name() string { return p.name }

// RegisterTopic adds the named topic to the producer's broadcast set. The
// topic must already exist on the broker. Registering a topic twice leaves
// one entry.
func (p *Producer) RegisterTopic(topicName string) error {
	if _, err := p.broker.Topic(topicName); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, name := range p.topics {
		if name == topicName {
			return nil
		}
	}
	p.topics = append(p.topics, topicName)
	return nil
}

// UnregisterTopic removes the named topic from the broadcast set. Removing
// an absent topic is a no-op.
func (p *Producer) UnregisterTopic(topicName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, name := range p.topics {
		if name == topicName {
			p.topics = append(p.topics[:i], p.topics[i+1:]...)
			return
		}
	}
}

// Topics returns a copy of the broadcast set in registration order.
func (p *Producer) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.topics))
	copy(out, p.topics)
	return out
}

func (p *Producer) isRegistered(topicName string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, name := range p.topics {
		if name == topicName {
			return true
		}
	}
	return false
}

// Produce validates content into a new message and publishes it to the named
// topic, which must be in the producer's registered set.
func (p *Producer) Produce(ctx context.Context, content, topicName string) (*messages.Message, error) {
	if !p.isRegistered(topicName) {
		return nil, fmt.Errorf("%w: %q", ErrTopicNotRegistered, topicName)
	}
	msg, err := messages.New(p, content)
	if err != nil {
		return nil, err
	}
	if err := p.broker.Publish(ctx, topicName, msg); err != nil {
		return nil, err
	}
	p.logger.Debug().Str("topic", topicName).Str("msg_id", msg.ID().String()).Msg("Message produced.")
	return msg, nil
}

// SendMessage broadcasts content to every registered topic, a fresh message
// per topic. Topics that fail do not stop the broadcast; their errors are
// joined into the returned error. With no registered topics it is a no-op.
func (p *Producer) SendMessage(ctx context.Context, content string) error {
	var errs []error
	for _, topicName := range p.Topics() {
		if _, err := p.Produce(ctx, content, topicName); err != nil {
			p.logger.Error().Err(err).Str("topic", topicName).Msg("Broadcast publish failed.")
			errs = append(errs, fmt.Errorf("topic %q: %w", topicName, err))
		}
	}
	return errors.Join(errs...)
}
