// Package eventbus is the in-process publish-subscribe core plus the
// WebSocket fan-out that exposes it externally (C11, spec §4.11).
package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Topic enumerates the event taxonomy (spec §4.11).
type Topic string

const (
	TopicRunStarted       Topic = "run_started"
	TopicRunCompleted     Topic = "run_completed"
	TopicScanStarted      Topic = "scan_started"
	TopicScanLine         Topic = "scan_line"
	TopicScanCompleted    Topic = "scan_completed"
	TopicFindingDiscovered Topic = "finding_discovered"
	TopicAssetStateChanged Topic = "asset_state_changed"
)

// Event is one published message: a topic and its JSON-able payload.
type Event struct {
	Topic     Topic     `json:"topic"`
	Payload   any       `json:"payload"`
	PublishedAt time.Time `json:"published_at"`
}

// subscriberQueueSize bounds each subscriber's channel; beyond this, the
// oldest event is dropped and DroppedCount increments (spec §4.11: "a slow
// subscriber's queue is bounded and oldest events are dropped with a
// counter").
const subscriberQueueSize = 256

// Subscription is a single subscriber's bounded inbox.
type Subscription struct {
	id      string
	events  chan Event
	mu      sync.Mutex
	dropped uint64
}

// Events returns the channel to range over for delivered events.
func (s *Subscription) Events() <-chan Event { return s.events }

// Dropped reports how many events were dropped because this subscriber
// fell behind.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Bus is the typed, in-process pub/sub core. Subscribers receive events in
// publication order per topic (spec §4.11).
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*Subscription)}
}

// Subscribe registers a new subscriber and returns its handle. Callers must
// call Unsubscribe when done to release the inbox.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{id: uuid.NewString(), events: make(chan Event, subscriberQueueSize)}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes and closes a subscription.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub.id)
	b.mu.Unlock()
	close(sub.events)
}

// Publish delivers an event to every current subscriber. Delivery is
// non-blocking per subscriber: a full inbox drops its oldest event to make
// room rather than blocking the publisher (spec §4.11, §5 suspension-point
// discipline — publishers must not stall on a slow subscriber).
func (b *Bus) Publish(topic Topic, payload any) {
	ev := Event{Topic: topic, Payload: payload, PublishedAt: time.Now()}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.events <- ev:
		default:
			// Inbox full: drop the oldest queued event, then enqueue the
			// new one. Never block the publisher.
			select {
			case <-sub.events:
				sub.mu.Lock()
				sub.dropped++
				sub.mu.Unlock()
			default:
			}
			select {
			case sub.events <- ev:
			default:
			}
		}
	}
}

// PublishScanLine implements runner.LinePublisher, tagging each streamed
// line with its scan id (spec §4.4 step 4).
func (b *Bus) PublishScanLine(scanID, line string) {
	b.Publish(TopicScanLine, map[string]string{"scan_id": scanID, "line": line})
}
