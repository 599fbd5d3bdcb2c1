package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	bus.Publish(ProgressEvent{Topic: TopicTransferProgress, ID: "t1", Status: "in_progress"})

	event := <-ch
	assert.Equal(t, "t1", event.ID)
	assert.Equal(t, TopicTransferProgress, event.Topic)
}

func TestEventBus_TopicFilter(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TopicWarmProgress)
	defer bus.Unsubscribe(ch)

	bus.Publish(ProgressEvent{Topic: TopicTransferProgress, ID: "skip"})
	bus.Publish(ProgressEvent{Topic: TopicWarmProgress, ID: "keep"})

	event := <-ch
	assert.Equal(t, "keep", event.ID)
	assert.Empty(t, ch)
}

func TestEventBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	// Way past the channel buffer; publish must never block.
	for i := 0; i < 100; i++ {
		bus.Publish(ProgressEvent{Topic: TopicTransferProgress, Status: "in_progress"})
	}
	assert.Len(t, ch, 32)
}

func TestEventBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	_, open := <-ch
	require.False(t, open)

	// Double unsubscribe must not panic.
	bus.Unsubscribe(ch)
}
