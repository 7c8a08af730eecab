// Package messages defines the message entity exchanged through the broker
// and the minimal producer/consumer contracts the rest of the system accepts.
package messages

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Validation errors surfaced at construction time. They are never silently
// defaulted away; callers are expected to match them with errors.Is.
var (
	ErrNilProducer  = errors.New("messages: producer cannot be nil")
	ErrBlankContent = errors.New("messages: content cannot be empty or blank")
	ErrNilConsumer  = errors.New("messages: consumer cannot be nil in a consumption record")
)

// Field names used by the explicit wire mapping (Fields / FromFields).
const (
	FieldID        = "id"
	FieldProducer  = "producer"
	FieldContent   = "message"
	FieldCreatedAt = "created_at"
	FieldConsumed  = "consumed"
)

// Message is one unit of content plus provenance and consumption history.
// The identifier is assigned at construction and immutable afterwards; the
// only permitted mutations are flipping the consumed flag and appending
// consumption records. A Message does not know which topic it lives in;
// topic membership is recorded by the repository's partition key.
//
// A Message is not safe for concurrent mutation; the repository stores and
// returns its own copies, and fan-out within a topic is sequential.
type Message struct {
	id           uuid.UUID
	producer     Producer
	createdAt    time.Time
	content      string
	consumed     bool
	consumptions []Consumption
}

// Consumption records a single delivery of a message to a named consumer.
// Records are append-only and never removed.
type Consumption struct {
	Consumer   string
	ConsumedAt time.Time
}

// New constructs a Message owned by producer with the given free-text
// content. It fails with ErrNilProducer or ErrBlankContent; a valid message
// starts unconsumed with an empty consumption list.
func New(producer Producer, content string) (*Message, error) {
	if producer == nil {
		return nil, ErrNilProducer
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrBlankContent
	}
	return &Message{
		id:        uuid.New(),
		producer:  producer,
		createdAt: time.Now(),
		content:   content,
	}, nil
}

// ID returns the message's unique identifier.
func (m *Message) ID() uuid.UUID { return m.id }

// Producer returns the producer that created the message.
func (m *Message) Producer() Producer { return m.producer }

// CreatedAt returns the construction timestamp. The repository keeps its own
// storage-side timestamp for visibility decisions; this one is provenance.
func (m *Message) CreatedAt() time.Time { return m.createdAt }

// Content returns the message body.
func (m *Message) Content() string { return m.content }

// IsConsumed reports whether the message has been reconciled into the
// consumed state.
func (m *Message) IsConsumed() bool { return m.consumed }

// SetConsumed flips the consumed flag. Reconciliation is the intended
// caller; consumers never flip it during fan-out.
func (m *Message) SetConsumed(consumed bool) { m.consumed = consumed }

// AddConsumption appends a consumption record for the given consumer.
func (m *Message) AddConsumption(c Consumer) error {
	if c == nil {
		return ErrNilConsumer
	}
	m.consumptions = append(m.consumptions, Consumption{
		Consumer:   c.Name(),
		ConsumedAt: time.Now(),
	})
	return nil
}

// Consumptions returns a copy of the consumption history in append order.
func (m *Message) Consumptions() []Consumption {
	out := make([]Consumption, len(m.consumptions))
	copy(out, m.consumptions)
	return out
}

// Clone returns an independent copy of the message. Repositories store and
// hand out clones so callers can never mutate persisted state.
func (m *Message) Clone() *Message {
	clone := *m
	clone.consumptions = make([]Consumption, len(m.consumptions))
	copy(clone.consumptions, m.consumptions)
	return &clone
}

// Fields returns the message's explicit field-to-string mapping, the shape a
// storage backend persists. Every key is enumerated here on purpose: adding
// or renaming a Message field must be a deliberate wire-format decision.
// Consumption history is node-local diagnostics and is not part of the wire
// shape.
func (m *Message) Fields() map[string]string {
	return map[string]string{
		FieldID:        m.id.String(),
		FieldProducer:  m.producer.Name(),
		FieldContent:   m.content,
		FieldCreatedAt: m.createdAt.Format(time.RFC3339Nano),
		FieldConsumed:  strconv.FormatBool(m.consumed),
	}
}

// FromFields rehydrates a Message from a stored field mapping, the inverse
// of Fields. The content field is mandatory; a missing or unparsable id,
// producer, timestamp or consumed flag falls back to a generated id, an
// anonymous producer, the zero time and false respectively, so that entries
// written by older layouts still load.
func FromFields(fields map[string]string) (*Message, error) {
	if strings.TrimSpace(fields[FieldContent]) == "" {
		return nil, ErrBlankContent
	}

	m := &Message{
		content:  fields[FieldContent],
		producer: ProducerRef(fields[FieldProducer]),
	}

	if id, err := uuid.Parse(fields[FieldID]); err == nil {
		m.id = id
	} else {
		m.id = uuid.New()
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields[FieldCreatedAt]); err == nil {
		m.createdAt = ts
	}
	if consumed, err := strconv.ParseBool(fields[FieldConsumed]); err == nil {
		m.consumed = consumed
	}
	return m, nil
}
