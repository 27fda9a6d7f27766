package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribeOrdering(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	bus.Publish(TopicRunStarted, "first")
	bus.Publish(TopicRunStarted, "second")

	first := <-sub.Events()
	second := <-sub.Events()
	if first.Payload != "first" || second.Payload != "second" {
		t.Errorf("expected in-order delivery, got %v then %v", first.Payload, second.Payload)
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	for i := 0; i < subscriberQueueSize+10; i++ {
		bus.Publish(TopicScanLine, i)
	}

	if sub.Dropped() == 0 {
		t.Errorf("expected dropped count > 0 after overflowing inbox, got 0")
	}
	if len(sub.events) != subscriberQueueSize {
		t.Errorf("expected inbox to stay at cap %d, got %d", subscriberQueueSize, len(sub.events))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	bus.Unsubscribe(sub)

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Errorf("expected closed channel after unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for closed channel read")
	}
}
