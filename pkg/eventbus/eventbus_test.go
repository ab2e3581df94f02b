package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish_DeliversToCurrentSubscriber(t *testing.T) {
	bus := NewBus(10)
	sub := bus.Subscribe("topic-a", 4)
	defer sub.Unsubscribe()

	bus.Publish("topic-a", "phase", map[string]any{"phase": "selection"})

	select {
	case evt := <-sub.Events():
		assert.Equal(t, "phase", evt.Type)
		assert.Equal(t, 1, evt.Seq)
		assert.Equal(t, "selection", evt.Payload["phase"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublish_DoesNotCrossTopics(t *testing.T) {
	bus := NewBus(10)
	subA := bus.Subscribe("topic-a", 4)
	defer subA.Unsubscribe()
	subB := bus.Subscribe("topic-b", 4)
	defer subB.Unsubscribe()

	bus.Publish("topic-a", "phase", nil)

	select {
	case <-subA.Events():
	case <-time.After(time.Second):
		t.Fatal("topic-a subscriber never received its event")
	}
	select {
	case evt := <-subB.Events():
		t.Fatalf("topic-b subscriber unexpectedly received %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribe_CatchupReturnsPriorHistory(t *testing.T) {
	bus := NewBus(5)
	bus.Publish("topic-a", "phase", map[string]any{"phase": "selection"})
	bus.Publish("topic-a", "phase", map[string]any{"phase": "generation"})

	sub := bus.Subscribe("topic-a", 4)
	defer sub.Unsubscribe()

	require.Len(t, sub.Catchup(), 2)
	assert.Equal(t, "selection", sub.Catchup()[0].Payload["phase"])
	assert.Equal(t, "generation", sub.Catchup()[1].Payload["phase"])
}

func TestSubscribe_CatchupIsBoundedByHistoryCap(t *testing.T) {
	bus := NewBus(2)
	for i := 0; i < 5; i++ {
		bus.Publish("topic-a", "phase", map[string]any{"n": i})
	}

	sub := bus.Subscribe("topic-a", 4)
	defer sub.Unsubscribe()

	require.Len(t, sub.Catchup(), 2)
	assert.Equal(t, 3, sub.Catchup()[0].Payload["n"])
	assert.Equal(t, 4, sub.Catchup()[1].Payload["n"])
}

func TestUnsubscribe_RemovesSubscriberAndStopsDelivery(t *testing.T) {
	bus := NewBus(0)
	sub := bus.Subscribe("topic-a", 4)
	require.Equal(t, 1, bus.subscriberCount("topic-a"))

	sub.Unsubscribe()
	assert.Equal(t, 0, bus.subscriberCount("topic-a"))

	_, ok := <-sub.Events()
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestPublish_DropsEventForFullSubscriberWithoutBlocking(t *testing.T) {
	bus := NewBus(0)
	sub := bus.Subscribe("topic-a", 1)
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		bus.Publish("topic-a", "phase", map[string]any{"n": 1})
		bus.Publish("topic-a", "phase", map[string]any{"n": 2}) // would block without the drop path
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
}

func TestEnvironmentTopic_IsStablePerID(t *testing.T) {
	assert.Equal(t, "environment:abc-123", EnvironmentTopic("abc-123"))
}
