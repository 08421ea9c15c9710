package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/corralhq/corral/pkg/logger"
	"github.com/corralhq/corral/pkg/metrics"
)

const defaultBufferSize = 16

// EventMessage is the wire form of a catalog event as it travels from the
// durable log to live subscribers. Data may be null when the original payload
// exceeded the notification size limit; consumers must then re-fetch the
// resource to observe its current state.
type EventMessage struct {
	ID           string            `json:"id"`
	Serial       int64             `json:"serial"`
	ResourceID   string            `json:"resource_id"`
	ResourceKind string            `json:"resource_kind"`
	EventType    string            `json:"event_type"`
	Data         json.RawMessage   `json:"data"`
	Labels       map[string]string `json:"labels"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Broker fans incoming event messages out to live subscribers. Delivery is
// bounded and lossy: a subscriber whose queue is full misses the event rather
// than blocking the dispatcher.
type Broker struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
}

// NewBroker constructs a broker with the given per-subscriber queue size.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = defaultBufferSize
	}
	return &Broker{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Dispatch delivers the message to every live subscriber without blocking.
func (b *Broker) Dispatch(msg EventMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		select {
		case sub.ch <- msg:
		default:
			metrics.EventsDropped.Inc()
			logger.Warn("dropping event for slow subscriber")
		}
	}
}

// Subscribe registers a new subscriber feed.
func (b *Broker) Subscribe() *Subscription {
	sub := &Subscription{
		broker: b,
		ch:     make(chan EventMessage, b.buffer),
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

func (b *Broker) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Subscription is one subscriber's feed of event messages.
type Subscription struct {
	broker *Broker
	ch     chan EventMessage
	once   sync.Once
}

// C returns the receive side of the subscription queue.
func (s *Subscription) C() <-chan EventMessage {
	return s.ch
}

// Close detaches the subscription from the broker.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.unsubscribe(s)
		close(s.ch)
	})
}
