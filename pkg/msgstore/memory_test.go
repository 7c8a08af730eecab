package msgstore_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinkmango/delayq/pkg/messages"
	"github.com/pinkmango/delayq/pkg/msgstore"
)

// fakeClock is a controllable time source for steering visibility windows.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{t: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newClockedStore(t *testing.T, cfg msgstore.MemoryConfig) (*msgstore.MemoryStore, *fakeClock) {
	t.Helper()
	store := msgstore.NewMemoryStore(cfg)
	clock := newFakeClock(time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC))
	store.SetNow(clock.Now)
	return store, clock
}

func mustMessage(t *testing.T, producer, content string) *messages.Message {
	t.Helper()
	msg, err := messages.New(messages.ProducerRef(producer), content)
	require.NoError(t, err)
	return msg
}

func TestMemoryStore_Append(t *testing.T) {
	ctx := context.Background()

	t.Run("Appended messages are listed pending in order", func(t *testing.T) {
		// Arrange
		store, _ := newClockedStore(t, msgstore.MemoryConfig{})
		first := mustMessage(t, "orders-service", "order 1 placed")
		second := mustMessage(t, "orders-service", "order 2 placed")

		// Act
		require.NoError(t, store.Append(ctx, "queue/orders", first))
		require.NoError(t, store.Append(ctx, "queue/orders", second))

		// Assert
		pending, err := store.GetAllNotConsumedMessagesByTopic(ctx, "queue/orders")
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, "order 1 placed", pending[0].Content())
		assert.Equal(t, "order 2 placed", pending[1].Content())

		consumed, err := store.GetAllConsumedMessagesByTopic(ctx, "queue/orders")
		require.NoError(t, err)
		assert.Empty(t, consumed, "A fresh message must not appear consumed")
	})

	t.Run("Empty topic is rejected", func(t *testing.T) {
		store, _ := newClockedStore(t, msgstore.MemoryConfig{})
		err := store.Append(ctx, "", mustMessage(t, "p", "payload"))
		assert.ErrorIs(t, err, msgstore.ErrEmptyTopic)
	})

	t.Run("Nil message is rejected", func(t *testing.T) {
		store, _ := newClockedStore(t, msgstore.MemoryConfig{})
		err := store.Append(ctx, "queue/orders", nil)
		assert.ErrorIs(t, err, msgstore.ErrNilMessage)
	})

	t.Run("Stored state is isolated from caller mutation", func(t *testing.T) {
		// Arrange
		store, _ := newClockedStore(t, msgstore.MemoryConfig{})
		msg := mustMessage(t, "orders-service", "order 3 placed")
		require.NoError(t, store.Append(ctx, "queue/orders", msg))

		// Act: mutate both the original and a listed copy.
		msg.SetConsumed(true)
		listed, err := store.GetAllNotConsumedMessagesByTopic(ctx, "queue/orders")
		require.NoError(t, err)
		require.Len(t, listed, 1)
		listed[0].SetConsumed(true)

		// Assert: the store still sees the message as pending.
		pending, err := store.GetAllNotConsumedMessagesByTopic(ctx, "queue/orders")
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})
}

func TestMemoryStore_Visibility(t *testing.T) {
	ctx := context.Background()
	window := 5 * time.Minute

	t.Run("Message just inside the window stays pending", func(t *testing.T) {
		// Arrange
		store, clock := newClockedStore(t, msgstore.MemoryConfig{VisibilityWindow: window})
		require.NoError(t, store.Append(ctx, "queue/orders", mustMessage(t, "p", "payload")))

		// Act
		clock.Advance(window - time.Nanosecond)

		// Assert
		pending, err := store.GetAllNotConsumedMessagesByTopic(ctx, "queue/orders")
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})

	t.Run("Message at exactly the window leaves both listings until reconciled", func(t *testing.T) {
		// Arrange
		store, clock := newClockedStore(t, msgstore.MemoryConfig{VisibilityWindow: window})
		require.NoError(t, store.Append(ctx, "queue/orders", mustMessage(t, "p", "payload")))

		// Act
		clock.Advance(window)

		// Assert
		pending, err := store.GetAllNotConsumedMessagesByTopic(ctx, "queue/orders")
		require.NoError(t, err)
		assert.Empty(t, pending, "An elapsed message must leave the pending listing")

		consumed, err := store.GetAllConsumedMessagesByTopic(ctx, "queue/orders")
		require.NoError(t, err)
		assert.Empty(t, consumed, "An elapsed message must not appear consumed before reconciliation")
	})
}

func TestMemoryStore_ConsumeMessage(t *testing.T) {
	ctx := context.Background()
	window := 5 * time.Minute

	t.Run("Promotes every message past the window", func(t *testing.T) {
		// Arrange
		store, clock := newClockedStore(t, msgstore.MemoryConfig{VisibilityWindow: window})
		require.NoError(t, store.Append(ctx, "queue/orders", mustMessage(t, "p", "old 1")))
		require.NoError(t, store.Append(ctx, "queue/orders", mustMessage(t, "p", "old 2")))
		clock.Advance(window)
		require.NoError(t, store.Append(ctx, "queue/orders", mustMessage(t, "p", "young")))

		// Act
		require.NoError(t, store.ConsumeMessage(ctx, "queue/orders", uuid.Nil))

		// Assert
		consumed, err := store.GetAllConsumedMessagesByTopic(ctx, "queue/orders")
		require.NoError(t, err)
		require.Len(t, consumed, 2)
		assert.Equal(t, "old 1", consumed[0].Content())
		assert.Equal(t, "old 2", consumed[1].Content())
		assert.True(t, consumed[0].IsConsumed())

		pending, err := store.GetAllNotConsumedMessagesByTopic(ctx, "queue/orders")
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "young", pending[0].Content())
	})

	t.Run("Repeated reconciliation never duplicates a message", func(t *testing.T) {
		// Arrange
		store, clock := newClockedStore(t, msgstore.MemoryConfig{VisibilityWindow: window})
		require.NoError(t, store.Append(ctx, "queue/orders", mustMessage(t, "p", "payload")))
		clock.Advance(window)

		// Act
		require.NoError(t, store.ConsumeMessage(ctx, "queue/orders", uuid.Nil))
		require.NoError(t, store.ConsumeMessage(ctx, "queue/orders", uuid.Nil))

		// Assert
		consumed, err := store.GetAllConsumedMessagesByTopic(ctx, "queue/orders")
		require.NoError(t, err)
		assert.Len(t, consumed, 1)
	})

	t.Run("Marks a specific id regardless of age", func(t *testing.T) {
		// Arrange
		store, _ := newClockedStore(t, msgstore.MemoryConfig{VisibilityWindow: window})
		young := mustMessage(t, "p", "young")
		require.NoError(t, store.Append(ctx, "queue/orders", young))

		// Act
		require.NoError(t, store.ConsumeMessage(ctx, "queue/orders", young.ID()))

		// Assert
		consumed, err := store.GetAllConsumedMessagesByTopic(ctx, "queue/orders")
		require.NoError(t, err)
		require.Len(t, consumed, 1)
		assert.Equal(t, young.ID(), consumed[0].ID())
	})

	t.Run("Silently ignores an unknown id", func(t *testing.T) {
		// Arrange
		store, _ := newClockedStore(t, msgstore.MemoryConfig{VisibilityWindow: window})
		require.NoError(t, store.Append(ctx, "queue/orders", mustMessage(t, "p", "payload")))

		// Act
		err := store.ConsumeMessage(ctx, "queue/orders", uuid.New())

		// Assert
		require.NoError(t, err)
		pending, err := store.GetAllNotConsumedMessagesByTopic(ctx, "queue/orders")
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})

	t.Run("No-op on a topic that was never written", func(t *testing.T) {
		store, _ := newClockedStore(t, msgstore.MemoryConfig{VisibilityWindow: window})
		assert.NoError(t, store.ConsumeMessage(ctx, "queue/ghost", uuid.Nil))
	})
}

func TestMemoryStore_RemoveExpiredMessages(t *testing.T) {
	ctx := context.Background()
	window := 5 * time.Minute
	grace := 2 * time.Minute

	t.Run("Purges entries past the window plus grace", func(t *testing.T) {
		// Arrange
		store, clock := newClockedStore(t, msgstore.MemoryConfig{
			VisibilityWindow: window,
			RetentionGrace:   grace,
		})
		doomed := mustMessage(t, "p", "doomed")
		require.NoError(t, store.Append(ctx, "queue/orders", doomed))
		clock.Advance(window)
		require.NoError(t, store.ConsumeMessage(ctx, "queue/orders", uuid.Nil))
		require.NoError(t, store.Append(ctx, "queue/orders", mustMessage(t, "p", "survivor")))

		// Act: push the first append past window+grace; the second stays inside.
		clock.Advance(grace + time.Second)
		removed, err := store.RemoveExpiredMessages(ctx)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		consumed, err := store.GetAllConsumedMessagesByTopic(ctx, "queue/orders")
		require.NoError(t, err)
		assert.Empty(t, consumed, "A consumed entry past window+grace must be purged")

		pending, err := store.GetAllNotConsumedMessagesByTopic(ctx, "queue/orders")
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})

	t.Run("Counts nothing when everything is fresh", func(t *testing.T) {
		store, _ := newClockedStore(t, msgstore.MemoryConfig{VisibilityWindow: window, RetentionGrace: grace})
		require.NoError(t, store.Append(ctx, "queue/orders", mustMessage(t, "p", "fresh")))

		removed, err := store.RemoveExpiredMessages(ctx)

		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("Purges unconsumed entries too", func(t *testing.T) {
		// Arrange
		store, clock := newClockedStore(t, msgstore.MemoryConfig{VisibilityWindow: window, RetentionGrace: grace})
		require.NoError(t, store.Append(ctx, "queue/orders", mustMessage(t, "p", "never reconciled")))

		// Act
		clock.Advance(window + grace + time.Second)
		removed, err := store.RemoveExpiredMessages(ctx)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
	})
}

func TestMemoryStore_Close(t *testing.T) {
	ctx := context.Background()

	t.Run("Close is idempotent", func(t *testing.T) {
		store := msgstore.NewMemoryStore(msgstore.MemoryConfig{})
		require.NoError(t, store.Close())
		assert.NoError(t, store.Close())
	})

	t.Run("Operations after close fail", func(t *testing.T) {
		store := msgstore.NewMemoryStore(msgstore.MemoryConfig{})
		require.NoError(t, store.Close())

		err := store.Append(ctx, "queue/orders", mustMessage(t, "p", "payload"))
		assert.ErrorIs(t, err, msgstore.ErrStoreClosed)

		_, err = store.GetAllNotConsumedMessagesByTopic(ctx, "queue/orders")
		assert.ErrorIs(t, err, msgstore.ErrStoreClosed)

		_, err = store.GetAllConsumedMessagesByTopic(ctx, "queue/orders")
		assert.ErrorIs(t, err, msgstore.ErrStoreClosed)

		err = store.ConsumeMessage(ctx, "queue/orders", uuid.Nil)
		assert.ErrorIs(t, err, msgstore.ErrStoreClosed)

		_, err = store.RemoveExpiredMessages(ctx)
		assert.ErrorIs(t, err, msgstore.ErrStoreClosed)
	})
}

func TestMemoryStore_ConcurrentAppends(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := msgstore.NewMemoryStore(msgstore.MemoryConfig{})
	const writers = 8
	const perWriter = 50

	// Act
	var wg sync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				msg, err := messages.New(messages.ProducerRef(fmt.Sprintf("writer-%d", w)), fmt.Sprintf("payload %d", i))
				if !assert.NoError(t, err) {
					return
				}
				assert.NoError(t, store.Append(ctx, "queue/orders", msg))
			}
		}(w)
	}
	wg.Wait()

	// Assert
	pending, err := store.GetAllNotConsumedMessagesByTopic(ctx, "queue/orders")
	require.NoError(t, err)
	assert.Len(t, pending, writers*perWriter)
}
