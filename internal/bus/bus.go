// Package bus is the in-process fanout path between the venue streams and
// the components that consume their push events.
package bus

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/vantage/internal/schema"
)

// Topic identifies one event stream on the bus.
type Topic string

// PositionTopic names the signed-position stream for an account.
func PositionTopic(accountIndex int64) Topic {
	return Topic("position/" + strconv.FormatInt(accountIndex, 10))
}

// OrderTopic names the order-update stream for an account.
func OrderTopic(accountIndex int64) Topic {
	return Topic("order/" + strconv.FormatInt(accountIndex, 10))
}

// Event is the payload envelope delivered to subscribers. Exactly one of the
// update fields is set, matching the topic kind.
type Event struct {
	Topic    Topic
	Position *schema.PositionUpdate
	Order    *schema.OrderUpdate
}

// SubscriptionID identifies an active subscription.
type SubscriptionID string

type subscriber struct {
	ctx    context.Context
	cancel context.CancelFunc
	ch     chan Event

	mu     sync.Mutex
	closed bool
}

// deliver reports whether the event was enqueued. Sends are serialized with
// close so a publisher holding a stale snapshot never hits a closed channel.
func (s *subscriber) deliver(evt Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- evt:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	close(s.ch)
}

// MemoryBus is a bounded in-memory fanout. Delivery never blocks the
// publisher: a full subscriber buffer drops the event and counts the drop.
type MemoryBus struct {
	bufferSize int

	mu          sync.RWMutex
	subscribers map[Topic]map[SubscriptionID]*subscriber
	nextID      uint64
	closed      bool

	publishedCounter metric.Int64Counter
	droppedCounter   metric.Int64Counter
	subscriberGauge  metric.Int64UpDownCounter
}

// NewMemoryBus constructs a bus whose subscriber channels hold bufferSize
// events.
func NewMemoryBus(bufferSize int) *MemoryBus {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	bus := new(MemoryBus)
	bus.bufferSize = bufferSize
	bus.subscribers = make(map[Topic]map[SubscriptionID]*subscriber)

	meter := otel.Meter("bus")
	bus.publishedCounter, _ = meter.Int64Counter("bus.events.published",
		metric.WithDescription("Number of events published to the bus"),
		metric.WithUnit("{event}"))
	bus.droppedCounter, _ = meter.Int64Counter("bus.events.dropped",
		metric.WithDescription("Number of deliveries dropped due to subscriber backpressure"),
		metric.WithUnit("{event}"))
	bus.subscriberGauge, _ = meter.Int64UpDownCounter("bus.subscribers",
		metric.WithDescription("Number of active subscribers"),
		metric.WithUnit("{subscriber}"))

	return bus
}

// Publish delivers the event to every subscriber of its topic.
func (b *MemoryBus) Publish(ctx context.Context, evt Event) {
	if evt.Topic == "" {
		return
	}

	b.mu.RLock()
	subMap := b.subscribers[evt.Topic]
	subs := make([]*subscriber, 0, len(subMap))
	for _, sub := range subMap {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	if b.publishedCounter != nil {
		b.publishedCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("topic", string(evt.Topic))))
	}

	for _, sub := range subs {
		if !sub.deliver(evt) {
			if b.droppedCounter != nil {
				b.droppedCounter.Add(ctx, 1, metric.WithAttributes(
					attribute.String("topic", string(evt.Topic))))
			}
		}
	}
}

// Subscribe registers for events on the topic. The returned channel is closed
// on Unsubscribe, bus Close, or cancellation of ctx.
func (b *MemoryBus) Subscribe(ctx context.Context, topic Topic) (SubscriptionID, <-chan Event) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)

	sub := new(subscriber)
	sub.ctx = ctx
	sub.cancel = cancel
	sub.ch = make(chan Event, b.bufferSize)

	id := SubscriptionID(fmt.Sprintf("sub-%d", atomic.AddUint64(&b.nextID, 1)))

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return id, sub.ch
	}
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[SubscriptionID]*subscriber)
	}
	b.subscribers[topic][id] = sub
	b.mu.Unlock()

	if b.subscriberGauge != nil {
		b.subscriberGauge.Add(ctx, 1, metric.WithAttributes(
			attribute.String("topic", string(topic))))
	}

	go func() {
		<-ctx.Done()
		b.Unsubscribe(id)
	}()
	return id, sub.ch
}

// Unsubscribe removes the subscription and closes its channel.
func (b *MemoryBus) Unsubscribe(id SubscriptionID) {
	if id == "" {
		return
	}
	b.mu.Lock()
	var found *subscriber
	var topic Topic
	for t, subs := range b.subscribers {
		if sub, ok := subs[id]; ok {
			found = sub
			topic = t
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.subscribers, t)
			}
			break
		}
	}
	b.mu.Unlock()

	if found == nil {
		return
	}
	found.close()
	if b.subscriberGauge != nil {
		b.subscriberGauge.Add(context.Background(), -1, metric.WithAttributes(
			attribute.String("topic", string(topic))))
	}
}

// Close tears down every subscription. Publish after Close is a no-op.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*subscriber
	for _, subs := range b.subscribers {
		for _, sub := range subs {
			all = append(all, sub)
		}
	}
	b.subscribers = make(map[Topic]map[SubscriptionID]*subscriber)
	b.mu.Unlock()

	for _, sub := range all {
		sub.close()
	}
}
