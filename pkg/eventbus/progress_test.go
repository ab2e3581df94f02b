package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollHealth_PublishesImmediatelyThenOnEachTick(t *testing.T) {
	bus := NewBus(10)
	sub := bus.Subscribe("topic-a", 8)
	defer sub.Unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	bus.PollHealth(ctx, "topic-a", "health", 20*time.Millisecond, func() map[string]any {
		calls++
		return map[string]any{"calls": calls}
	})

	select {
	case evt := <-sub.Events():
		assert.Equal(t, 1, evt.Payload["calls"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for immediate health event")
	}

	select {
	case evt := <-sub.Events():
		assert.Equal(t, 2, evt.Payload["calls"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ticked health event")
	}
}

func TestPollHealth_StopsAfterContextCancellation(t *testing.T) {
	bus := NewBus(10)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	bus.PollHealth(ctx, "topic-a", "health", 10*time.Millisecond, func() map[string]any {
		calls++
		return nil
	})
	cancel()
	time.Sleep(50 * time.Millisecond)
	seenAfterCancel := calls
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, seenAfterCancel, calls, "PollHealth kept calling healthFn after ctx was cancelled")
}

func TestPhaseNotifier_PublishesPhaseAndMergedDetail(t *testing.T) {
	bus := NewBus(10)
	sub := bus.Subscribe("topic-a", 4)
	defer sub.Unsubscribe()

	notify := bus.PhaseNotifier("topic-a", "qa.phase")
	notify("dedup", map[string]any{"candidates": 12})

	select {
	case evt := <-sub.Events():
		require.Equal(t, "qa.phase", evt.Type)
		assert.Equal(t, "dedup", evt.Payload["phase"])
		assert.Equal(t, 12, evt.Payload["candidates"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for phase event")
	}
}
