// Package msgstore provides the message repository contract for the broker
// and its two backends: a durable Redis Streams store and an in-memory store.
//
// Both backends share one consumption-visibility state machine, evaluated
// against the storage-side timestamp recorded at append time:
//
//	PENDING        age < visibility window; listed as not-consumed
//	CONSUMABLE     age >= window, unconsumed; listed by neither query,
//	               awaiting reconciliation
//	CONSUMED       promoted by ConsumeMessage; listed as consumed
//	EXPIRED_PURGED removed by the maintenance sweep once age exceeds the
//	               window plus the retention grace
//
// The window is a passive predicate: it is evaluated on reads and during
// reconciliation, never by a background timer unless a Sweeper is running.
package msgstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pinkmango/delayq/pkg/messages"
)

const (
	// DefaultVisibilityWindow is how long a message stays pending before it
	// becomes eligible for consumption.
	DefaultVisibilityWindow = 5 * time.Minute

	// DefaultRetentionGrace is how long past the visibility window an entry
	// (consumed or not) survives before a sweep may purge it.
	DefaultRetentionGrace = 5 * time.Minute
)

var (
	// ErrStoreClosed is returned by every operation after Close.
	ErrStoreClosed = errors.New("msgstore: store is closed")

	// ErrEmptyTopic is returned when an operation names a blank topic.
	ErrEmptyTopic = errors.New("msgstore: topic cannot be empty")

	// ErrNilMessage is returned when appending a nil message.
	ErrNilMessage = errors.New("msgstore: message cannot be nil")
)

// MessageRepository is the persistence contract the broker's topics write
// through and the driver reconciles through. Implementations own their
// storage handle exclusively and release it on Close; Close is idempotent
// and any use after Close fails with ErrStoreClosed.
type MessageRepository interface {
	// Append persists msg under topic's partition and records the
	// storage-level identifier and storage-side creation timestamp that the
	// visibility predicate is evaluated against.
	Append(ctx context.Context, topic string, msg *messages.Message) error

	// ConsumeMessage reconciles topic: every stored message whose age has
	// reached the visibility window and that is not already consumed moves
	// into the consumed state. Re-running a reconciliation never duplicates
	// a message in the consumed listing.
	//
	// The in-memory backend additionally marks the message with the given id
	// consumed regardless of age, and silently no-ops when the id is not in
	// the topic. The durable backend treats messageID as advisory and
	// ignores it. Pass uuid.Nil to reconcile by age only.
	ConsumeMessage(ctx context.Context, topic string, messageID uuid.UUID) error

	// GetAllNotConsumedMessagesByTopic returns, in storage order, the
	// messages still inside the visibility window and not yet consumed.
	GetAllNotConsumedMessagesByTopic(ctx context.Context, topic string) ([]*messages.Message, error)

	// GetAllConsumedMessagesByTopic returns, in storage order, the messages
	// already reconciled into the consumed state.
	GetAllConsumedMessagesByTopic(ctx context.Context, topic string) ([]*messages.Message, error)

	// RemoveExpiredMessages purges every entry, consumed or not, whose age
	// exceeds the visibility window plus the retention grace. It reports how
	// many entries were removed. Purging is never triggered by reads.
	RemoveExpiredMessages(ctx context.Context) (int, error)

	// Close releases the store's resources.
	Close() error
}
