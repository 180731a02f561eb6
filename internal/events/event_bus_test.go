package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brainhouse/capital-brain/pkg/types"
)

func TestSubscribeReceivesMatchingEventType(t *testing.T) {
	bus := NewEventBus(nil, DefaultEventBusConfig())
	defer bus.Stop()

	var mu sync.Mutex
	var got Event
	done := make(chan struct{})

	bus.Subscribe(EventTypeDefconChange, func(e Event) error {
		mu.Lock()
		got = e
		mu.Unlock()
		close(done)
		return nil
	})

	bus.Publish(NewDefconChangeEvent(types.DefconNormal, types.DefconElevated))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, got)
	assert.Equal(t, EventTypeDefconChange, got.GetType())
}

func TestSubscribeAllReceivesEveryType(t *testing.T) {
	bus := NewEventBus(nil, DefaultEventBusConfig())
	defer bus.Stop()

	var count int32
	done := make(chan struct{}, 2)
	bus.SubscribeAll(func(e Event) error {
		done <- struct{}{}
		return nil
	})

	bus.Publish(NewRiskAlertEvent("BTC", "sig-1", "leverage_cap"))
	bus.Publish(NewCircuitBreakerEvent(types.BreakerTripped, "daily_drawdown"))

	for i := 0; i < 2; i++ {
		select {
		case <-done:
			count++
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for all-subscriber dispatch")
		}
	}
	assert.Equal(t, int32(2), count)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewEventBus(nil, DefaultEventBusConfig())
	defer bus.Stop()

	delivered := make(chan struct{}, 1)
	sub := bus.Subscribe(EventTypeHeartbeat, func(e Event) error {
		delivered <- struct{}{}
		return nil
	})
	bus.Unsubscribe(sub)

	bus.PublishSync(&BaseEvent{ID: "hb-1", Type: EventTypeHeartbeat, Timestamp: time.Now()})

	select {
	case <-delivered:
		t.Fatal("handler should not run after unsubscribe")
	default:
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	bus := &EventBus{
		subscribers: make(map[EventType][]*Subscription),
		eventChan:   make(chan Event, 1),
	}

	bus.Publish(NewRiskAlertEvent("BTC", "sig-1", "x"))
	bus.Publish(NewRiskAlertEvent("BTC", "sig-2", "y"))

	assert.Equal(t, int64(1), bus.GetStats().EventsDropped)
	assert.Equal(t, int64(1), bus.GetStats().EventsPublished)
}
