package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeFiltersByType(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	failed, unsubFailed := b.Subscribe(4, ReminderFailed)
	defer unsubFailed()

	b.Publish(Event{Type: ReminderArmed, ReminderID: "a"})
	b.Publish(Event{Type: ReminderFailed, ReminderID: "b", Err: "boom"})

	require.Len(t, all, 2)
	e := <-all
	assert.Equal(t, ReminderArmed, e.Type)
	assert.False(t, e.Time.IsZero())

	require.Len(t, failed, 1)
	e = <-failed
	assert.Equal(t, "b", e.ReminderID)
	assert.Equal(t, "boom", e.Err)
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: ReminderDelivered})
	b.Publish(Event{Type: ReminderDelivered})
	assert.Equal(t, uint64(1), b.Dropped())

	unsub()
	unsub()
	_, ok := <-ch
	assert.True(t, ok)
	_, ok = <-ch
	assert.False(t, ok)

	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: ReminderSkipped})
}
