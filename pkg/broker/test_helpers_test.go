package broker_test

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/pinkmango/delayq/pkg/messages"
)

// mockRepository is a test double for the msgstore.MessageRepository
// interface. Unset func fields fall back to recording no-ops.
type mockRepository struct {
	mu       sync.Mutex
	appended []appendCall

	AppendFunc        func(ctx context.Context, topic string, msg *messages.Message) error
	ConsumeFunc       func(ctx context.Context, topic string, messageID uuid.UUID) error
	NotConsumedFunc   func(ctx context.Context, topic string) ([]*messages.Message, error)
	ConsumedFunc      func(ctx context.Context, topic string) ([]*messages.Message, error)
	RemoveExpiredFunc func(ctx context.Context) (int, error)
	CloseFunc         func() error
}

type appendCall struct {
	topic string
	msg   *messages.Message
}

func (m *mockRepository) Append(ctx context.Context, topic string, msg *messages.Message) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, topic, msg)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appended = append(m.appended, appendCall{topic: topic, msg: msg})
	return nil
}

func (m *mockRepository) ConsumeMessage(ctx context.Context, topic string, messageID uuid.UUID) error {
	if m.ConsumeFunc != nil {
		return m.ConsumeFunc(ctx, topic, messageID)
	}
	return nil
}

func (m *mockRepository) GetAllNotConsumedMessagesByTopic(ctx context.Context, topic string) ([]*messages.Message, error) {
	if m.NotConsumedFunc != nil {
		return m.NotConsumedFunc(ctx, topic)
	}
	return nil, nil
}

func (m *mockRepository) GetAllConsumedMessagesByTopic(ctx context.Context, topic string) ([]*messages.Message, error) {
	if m.ConsumedFunc != nil {
		return m.ConsumedFunc(ctx, topic)
	}
	return nil, nil
}

func (m *mockRepository) RemoveExpiredMessages(ctx context.Context) (int, error) {
	if m.RemoveExpiredFunc != nil {
		return m.RemoveExpiredFunc(ctx)
	}
	return 0, nil
}

func (m *mockRepository) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *mockRepository) appendedCalls() []appendCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]appendCall, len(m.appended))
	copy(out, m.appended)
	return out
}

// recordingConsumer is a test double for the messages.Consumer interface.
// It records every message it sees and answers with the configured outcome.
type recordingConsumer struct {
	name     string
	result   bool
	err      error
	panicMsg string

	mu       sync.Mutex
	received []*messages.Message
}

func newRecordingConsumer(name string) *recordingConsumer {
	return &recordingConsumer{name: name, result: true}
}

func (c *recordingConsumer) Name() string { return c.name }

func (c *recordingConsumer) Consume(_ context.Context, m *messages.Message) (bool, error) {
	if c.panicMsg != "" {
		panic(c.panicMsg)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, m)
	return c.result, c.err
}

func (c *recordingConsumer) messages() []*messages.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*messages.Message, len(c.received))
	copy(out, c.received)
	return out
}
