package messages

import (
	"context"
	"errors"
	"strings"
)

// Producer is the provenance view a Message depends on. The concrete
// producer role (topic registration, broadcast) lives in the broker package;
// everything below it only needs a display name for diagnostics.
type Producer interface {
	Name() string
}

// Consumer is invoked with a message during topic fan-out.
//
// Consume returns (true, nil) on success and (false, nil) for an expected,
// handled failure. A non-nil error signals an unexpected failure; the topic
// records it and carries on with the remaining consumers, so implementations
// should reserve errors for genuinely exceptional conditions. Consumers may
// have arbitrary side effects.
type Consumer interface {
	Name() string
	Consume(ctx context.Context, m *Message) (bool, error)
}

// ConsumeFunc processes one message during fan-out. See Consumer for the
// meaning of the results.
type ConsumeFunc func(ctx context.Context, m *Message) (bool, error)

// Consumer construction errors.
var (
	ErrNilHandler        = errors.New("messages: consumer handler cannot be nil")
	ErrBlankConsumerName = errors.New("messages: consumer name cannot be blank")
)

type funcConsumer struct {
	name   string
	handle ConsumeFunc
}

// NewConsumer builds a Consumer from a display name and a handler function.
// Consumer variants differ only by name and behavior, so one parameterized
// type covers them all. The name is the consumer's subscription identity and
// must not be blank.
func NewConsumer(name string, handle ConsumeFunc) (Consumer, error) {
	if handle == nil {
		return nil, ErrNilHandler
	}
	if strings.TrimSpace(name) == "" {
		return nil, ErrBlankConsumerName
	}
	return &funcConsumer{name: name, handle: handle}, nil
}

func (c *funcConsumer) Name() string { return c.name }

func (c *funcConsumer) Consume(ctx context.Context, m *Message) (bool, error) {
	return c.handle(ctx, m)
}

// producerRef is a name-only Producer used when rehydrating stored messages:
// the original producer instance is gone, but its name survives the trip.
type producerRef string

// ProducerRef returns a Producer that carries only a display name. An empty
// name is mapped to "unknown" so rehydrated messages always satisfy the
// non-nil-producer invariant.
func ProducerRef(name string) Producer {
	if name == "" {
		name = "unknown"
	}
	return producerRef(name)
}

func (p producerRef) Name() string { return string(p) }
