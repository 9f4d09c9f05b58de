package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"main/pkg/exception"
)

func TestTryPublishFull(t *testing.T) {
	q := NewQueue(2)

	if err := q.TryPublish(Event{Type: EventPriceUpdated}); err != nil {
		t.Fatalf("publish 1, err: %+v", err)
	}
	if err := q.TryPublish(Event{Type: EventPriceUpdated}); err != nil {
		t.Fatalf("publish 2, err: %+v", err)
	}

	err := q.TryPublish(Event{Type: EventPriceUpdated})
	if !errors.Is(err, exception.ErrEventQueueFull) {
		t.Fatalf("full queue error mismatch, got %+v", err)
	}
}

func TestTryPublishClosed(t *testing.T) {
	q := NewQueue(2)
	q.Close()
	q.Close() // idempotent

	err := q.TryPublish(Event{Type: EventPriceUpdated})
	if !errors.Is(err, exception.ErrEventQueueClosed) {
		t.Fatalf("closed queue error mismatch, got %+v", err)
	}
}

func TestRunPreservesOrder(t *testing.T) {
	q := NewQueue(8)

	prices := []int64{100, 101, 102, 103}
	for _, p := range prices {
		if err := q.TryPublish(Event{Type: EventPriceUpdated, Price: decimal.NewFromInt(p)}); err != nil {
			t.Fatalf("publish, err: %+v", err)
		}
	}
	q.Close()

	var got []int64
	q.Run(context.Background(), func(e Event) {
		got = append(got, e.Price.IntPart())
	})

	if len(got) != len(prices) {
		t.Fatalf("consumed %d events, want %d", len(got), len(prices))
	}
	for i := range prices {
		if got[i] != prices[i] {
			t.Fatalf("order mismatch at %d: got %d want %d", i, got[i], prices[i])
		}
	}
}

func TestRunStopsOnContext(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		q.Run(ctx, func(Event) {})
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run should return when the context is cancelled")
	}
}

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		t        EventType
		expected string
	}{
		{EventPriceUpdated, "price_updated"},
		{EventOrderUpdated, "order_updated"},
		{EventPositionUpdated, "position_updated"},
		{_event_end, "unknown"},
	}

	for _, tc := range testCases {
		if got := tc.t.String(); got != tc.expected {
			t.Fatalf("string mismatch! should be %s but got %s", tc.expected, got)
		}
	}

	if _event_beg.IsAvailable() || _event_end.IsAvailable() {
		t.Fatal("sentinels should not be available")
	}
	if !EventOrderUpdated.IsAvailable() {
		t.Fatal("order updated should be available")
	}
}
