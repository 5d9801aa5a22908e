package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesTopicAndWildcard(t *testing.T) {
	bus := NewBus()
	opened, unsubOpened := bus.Subscribe(EventTradeOpened, 4)
	defer unsubOpened()
	all, unsubAll := bus.Subscribe(All, 4)
	defer unsubAll()

	bus.Publish(EventTradeOpened, map[string]any{"contract_id": 1001})
	bus.Publish(EventCycleStarted, nil)

	env := <-opened
	assert.Equal(t, EventTradeOpened, env.Topic)
	assert.NotEmpty(t, env.ID)
	assert.Len(t, opened, 0)

	first := <-all
	second := <-all
	assert.Equal(t, EventTradeOpened, first.Topic)
	assert.Equal(t, EventCycleStarted, second.Topic)
}

func TestPublishDropsForSlowSubscribers(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventTradeClosed, 1)
	bus.Publish(EventTradeClosed, 1)
	bus.Publish(EventTradeClosed, 2)
	require.Len(t, ch, 1)
	assert.Equal(t, 1, (<-ch).Payload)

	unsub()
	unsub()
	_, open := <-ch
	assert.False(t, open)
	bus.Publish(EventTradeClosed, 3)
}

func TestNilBusIsNoop(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Publish(EventBotState, "running") })
}
