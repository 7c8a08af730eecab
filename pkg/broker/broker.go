// Package broker implements the topic registry and the publish/subscribe
// roles around the message repository: topics persist and fan out incoming
// messages, producers feed named topics, and the broker routes both by topic
// name.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pinkmango/delayq/pkg/messages"
	"github.com/pinkmango/delayq/pkg/msgstore"
)

var (
	// ErrTopicExists is returned when creating a topic name that is already
	// registered.
	ErrTopicExists = errors.New("broker: topic already exists")

	// ErrTopicNotFound is returned when routing to an unregistered topic.
	ErrTopicNotFound = errors.New("broker: topic not found")

	// ErrEmptyTopicName is returned when a topic name is blank.
	ErrEmptyTopicName = errors.New("broker: topic name cannot be empty")

	// ErrNilRepository is returned when constructing without a repository.
	ErrNilRepository = errors.New("broker: repository cannot be nil")
)

// Broker is the top-level registry of topics. Every topic it creates shares
// the broker's repository; the broker does not own the repository and never
// closes it. Topic names are unique within one broker instance.
type Broker struct {
	repo   msgstore.MessageRepository
	logger zerolog.Logger

	mu     sync.RWMutex
	topics map[string]*Topic
}

// New creates a broker backed by repo.
func New(repo msgstore.MessageRepository, logger zerolog.Logger) (*Broker, error) {
	if repo == nil {
		return nil, ErrNilRepository
	}
	return &Broker{
		repo:   repo,
		logger: logger.With().Str("component", "Broker").Logger(),
		topics: make(map[string]*Topic),
	}, nil
}

// CreateTopic registers a new topic under name and returns it.
func (b *Broker) CreateTopic(name string) (*Topic, error) {
	if name == "" {
		return nil, ErrEmptyTopicName
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrTopicExists, name)
	}

	topic, err := NewTopic(name, b.repo, b.logger)
	if err != nil {
		return nil, err
	}
	b.topics[name] = topic
	b.logger.Info().Str("topic", name).Msg("Topic created.")
	return topic, nil
}

// Topic looks up a registered topic by name.
func (b *Broker) Topic(name string) (*Topic, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	topic, ok := b.topics[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTopicNotFound, name)
	}
	return topic, nil
}

// TopicNames returns the registered topic names in lexical order.
func (b *Broker) TopicNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.topics))
	for name := range b.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Subscribe attaches a consumer to the named topic.
func (b *Broker) Subscribe(topicName string, c messages.Consumer) error {
	topic, err := b.Topic(topicName)
	if err != nil {
		return err
	}
	return topic.Subscribe(c)
}

// Unsubscribe detaches a consumer from the named topic.
func (b *Broker) Unsubscribe(topicName string, c messages.Consumer) error {
	topic, err := b.Topic(topicName)
	if err != nil {
		return err
	}
	topic.Unsubscribe(c)
	return nil
}

// Publish routes msg to the named topic.
func (b *Broker) Publish(ctx context.Context, topicName string, msg *messages.Message) error {
	topic, err := b.Topic(topicName)
	if err != nil {
		return err
	}
	return topic.AddMessage(ctx, msg)
}
