package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus(16)
	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(Event{Type: TypePhaseStarted, PhaseID: "p1"})
	bus.Publish(Event{Type: TypeToolInvoked, PhaseID: "p1", Tool: "search"})
	bus.Publish(Event{Type: TypePhaseCompleted, PhaseID: "p1"})

	assert.Equal(t, TypePhaseStarted, (<-ch).Type)
	assert.Equal(t, TypeToolInvoked, (<-ch).Type)
	assert.Equal(t, TypePhaseCompleted, (<-ch).Type)
}

func TestBusNeverBlocksOnSlowSubscriber(t *testing.T) {
	bus := NewBus(2)
	_, cancel := bus.Subscribe()
	defer cancel()

	// Nobody reads; publishing must not block.
	for i := 0; i < 10; i++ {
		bus.Publish(Event{Type: TypeCostUpdated})
	}
	assert.Equal(t, int64(8), bus.Dropped())
}

func TestBusSubscribeCancel(t *testing.T) {
	bus := NewBus(4)
	ch, cancel := bus.Subscribe()
	require.Equal(t, 1, bus.Subscribers())

	cancel()
	assert.Equal(t, 0, bus.Subscribers())
	_, open := <-ch
	assert.False(t, open, "cancel must close the channel")

	// Double cancel is safe.
	cancel()
}

func TestBusStampsTime(t *testing.T) {
	bus := NewBus(4)
	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(Event{Type: TypeTurnStarted})
	ev := <-ch
	assert.False(t, ev.At.IsZero())
}
