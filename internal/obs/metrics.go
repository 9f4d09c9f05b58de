package obs

import (
	"sync/atomic"
	"time"

	"main/internal/bus"
)

const maxEventType = int(bus.EventPositionUpdated)

// Metrics collects lightweight counters and latency stats for the quoting
// engine. All methods are safe for concurrent use.
type Metrics struct {
	eventCounts [maxEventType + 1]uint64

	placed         uint64
	placeRejected  uint64
	placeAmbiguous uint64
	cancelled      uint64
	filled         uint64
	reconcileOK    uint64
	reconcileSkip  uint64
	queueDrops     uint64

	gatewayLatency   LatencyStats
	reconcileLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	EventCounts      map[bus.EventType]uint64
	Placed           uint64
	PlaceRejected    uint64
	PlaceAmbiguous   uint64
	Cancelled        uint64
	Filled           uint64
	ReconcileOK      uint64
	ReconcileSkip    uint64
	QueueDrops       uint64
	GatewayLatency   LatencySnapshot
	ReconcileLatency LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveEvent counts one consumed stream event.
func (m *Metrics) ObserveEvent(t bus.EventType) {
	if m == nil {
		return
	}
	idx := int(t)
	if idx >= 0 && idx < len(m.eventCounts) {
		atomic.AddUint64(&m.eventCounts[idx], 1)
	}
}

// IncPlaced records an accepted placement.
func (m *Metrics) IncPlaced() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.placed, 1)
}

// IncPlaceRejected records a venue-rejected placement.
func (m *Metrics) IncPlaceRejected() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.placeRejected, 1)
}

// IncPlaceAmbiguous records a placement with unknown outcome.
func (m *Metrics) IncPlaceAmbiguous() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.placeAmbiguous, 1)
}

// IncCancelled records a confirmed cancel.
func (m *Metrics) IncCancelled() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.cancelled, 1)
}

// IncFilled records a venue-reported fill.
func (m *Metrics) IncFilled() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.filled, 1)
}

// IncReconcileOK records a completed reconcile cycle.
func (m *Metrics) IncReconcileOK() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.reconcileOK, 1)
}

// IncReconcileSkip records a reconcile cycle skipped on query failure.
func (m *Metrics) IncReconcileSkip() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.reconcileSkip, 1)
}

// IncQueueDrop records an event dropped on a full queue.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// ObserveGateway measures one gateway round trip.
func (m *Metrics) ObserveGateway(d time.Duration) {
	if m == nil {
		return
	}
	m.gatewayLatency.Observe(d)
}

// ObserveReconcile measures one reconcile cycle.
func (m *Metrics) ObserveReconcile(d time.Duration) {
	if m == nil {
		return
	}
	m.reconcileLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	eventCounts := make(map[bus.EventType]uint64)
	for i := range m.eventCounts {
		if v := atomic.LoadUint64(&m.eventCounts[i]); v > 0 {
			eventCounts[bus.EventType(i)] = v
		}
	}
	return Snapshot{
		EventCounts:      eventCounts,
		Placed:           atomic.LoadUint64(&m.placed),
		PlaceRejected:    atomic.LoadUint64(&m.placeRejected),
		PlaceAmbiguous:   atomic.LoadUint64(&m.placeAmbiguous),
		Cancelled:        atomic.LoadUint64(&m.cancelled),
		Filled:           atomic.LoadUint64(&m.filled),
		ReconcileOK:      atomic.LoadUint64(&m.reconcileOK),
		ReconcileSkip:    atomic.LoadUint64(&m.reconcileSkip),
		QueueDrops:       atomic.LoadUint64(&m.queueDrops),
		GatewayLatency:   m.gatewayLatency.Snapshot(),
		ReconcileLatency: m.reconcileLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
