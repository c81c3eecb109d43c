package bus

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/vantage/internal/schema"
)

func TestPublishReachesOnlyMatchingTopic(t *testing.T) {
	b := NewMemoryBus(8)
	defer b.Close()

	_, posCh := b.Subscribe(context.Background(), PositionTopic(1))
	_, otherCh := b.Subscribe(context.Background(), PositionTopic(2))

	b.Publish(context.Background(), Event{
		Topic: PositionTopic(1),
		Position: &schema.PositionUpdate{
			AccountIndex: 1,
			Symbol:       "ETH",
			Quantity:     decimal.RequireFromString("1.5"),
		},
	})

	select {
	case evt := <-posCh:
		if evt.Position == nil || evt.Position.Symbol != "ETH" {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	select {
	case evt := <-otherCh:
		t.Fatalf("account 2 subscriber received foreign event %+v", evt)
	default:
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewMemoryBus(1)
	defer b.Close()

	_, ch := b.Subscribe(context.Background(), OrderTopic(1))

	evt := Event{Topic: OrderTopic(1), Order: &schema.OrderUpdate{AccountIndex: 1}}
	b.Publish(context.Background(), evt)
	b.Publish(context.Background(), evt)
	b.Publish(context.Background(), evt)

	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			if received != 1 {
				t.Fatalf("expected exactly 1 buffered event, got %d", received)
			}
			return
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewMemoryBus(4)
	defer b.Close()

	id, ch := b.Subscribe(context.Background(), OrderTopic(9))
	b.Unsubscribe(id)

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel, got event")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	b.Publish(context.Background(), Event{Topic: OrderTopic(9)})
}

func TestCloseTearsDownSubscribers(t *testing.T) {
	b := NewMemoryBus(4)
	_, ch := b.Subscribe(context.Background(), PositionTopic(3))
	b.Close()

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after bus close")
	}

	_, lateCh := b.Subscribe(context.Background(), PositionTopic(3))
	if _, ok := <-lateCh; ok {
		t.Fatal("subscribe after close should return a closed channel")
	}
}
