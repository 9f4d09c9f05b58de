package bus

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"main/internal/model"
	"main/pkg/exception"
)

// EventType identifies the kind of stream event.
type EventType uint8

const (
	_event_beg EventType = iota
	EventPriceUpdated
	EventOrderUpdated
	EventPositionUpdated
	_event_end
)

func (t EventType) IsAvailable() bool {
	return t > _event_beg && t < _event_end
}

func (t EventType) String() string {
	switch t {
	case EventPriceUpdated:
		return "price_updated"
	case EventOrderUpdated:
		return "order_updated"
	case EventPositionUpdated:
		return "position_updated"
	default:
		return "unknown"
	}
}

// Event is the unit passed from the stream callbacks into the decision loop.
// Exactly one payload field is meaningful, selected by Type.
type Event struct {
	Type     EventType
	Price    decimal.Decimal
	Order    model.OrderEvent
	Position model.Position
	RecvAt   time.Time
}

// Queue is a bounded, non-blocking event queue. Publishing never blocks a
// stream dispatch goroutine; arrival order per stream is preserved.
type Queue struct {
	ch     chan Event
	closed uint32
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Event, capacity)}
}

// TryPublish enqueues an event without blocking.
func (q *Queue) TryPublish(e Event) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return exception.ErrEventQueueClosed
	}
	select {
	case q.ch <- e:
		return nil
	default:
		return exception.ErrEventQueueFull
	}
}

// Close stops the queue from accepting new events.
func (q *Queue) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

// C exposes the receive side for select-based consumers.
func (q *Queue) C() <-chan Event {
	return q.ch
}

// Run consumes events until the context is done or the queue is closed.
func (q *Queue) Run(ctx context.Context, handler func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-q.ch:
			if !ok {
				return
			}
			handler(e)
		}
	}
}
