package book

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"main/internal/model"
	"main/internal/model/enum"
)

var bpsFactor = decimal.NewFromInt(10000)

// State is the single in-process source of truth for what the engine
// believes about its venue account: at most one resting order per side, the
// current position and a rolling last-trade price history.
//
// Every operation takes the one mutex, so a stream callback, the decision
// loop and the reconciler can never interleave a partial read or write of an
// order slot.
type State struct {
	mu sync.Mutex

	buy  *model.Order
	sell *model.Order

	position model.Position
	samples  []model.PriceSample
	window   time.Duration

	freed chan struct{}
}

// New creates an empty state with the given volatility window.
func New(window time.Duration) *State {
	return &State{
		window: window,
		freed:  make(chan struct{}, 1),
	}
}

// Order returns a copy of the tracked order for the side, if any.
func (s *State) Order(side enum.Side) (model.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := s.slot(side)
	if *slot == nil {
		return model.Order{}, false
	}
	return **slot, true
}

// SetOrder overwrites the order slot for the side. Passing nil clears the
// slot; clearing a previously occupied slot wakes one waiting decision
// evaluation through Freed.
func (s *State) SetOrder(side enum.Side, order *model.Order) {
	s.mu.Lock()
	slot := s.slot(side)
	hadOrder := *slot != nil
	if order == nil {
		*slot = nil
	} else {
		cp := *order
		*slot = &cp
	}
	s.mu.Unlock()

	if hadOrder && order == nil {
		s.signalFreed()
	}
}

// ClearAll drops both order slots.
func (s *State) ClearAll() {
	s.mu.Lock()
	hadOrder := s.buy != nil || s.sell != nil
	s.buy = nil
	s.sell = nil
	s.mu.Unlock()

	if hadOrder {
		s.signalFreed()
	}
}

// SetPosition overwrites the position with a venue-reported value.
func (s *State) SetPosition(p model.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = p
}

// Position returns the current position.
func (s *State) Position() model.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// RecordPrice appends a sample and prunes everything older than the window
// relative to the new sample.
func (s *State) RecordPrice(sample model.PriceSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples = append(s.samples, sample)
	cutoff := sample.At.Add(-s.window)
	idx := 0
	for idx < len(s.samples) && s.samples[idx].At.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		s.samples = append(s.samples[:0], s.samples[idx:]...)
	}
}

// LastPrice returns the most recent sample price.
func (s *State) LastPrice() (decimal.Decimal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) == 0 {
		return decimal.Decimal{}, false
	}
	return s.samples[len(s.samples)-1].Price, true
}

// Volatility returns the max absolute deviation, in basis points, of any
// sample in the trailing window from the most recent sample's price. The
// range-based measure reacts to a single sharp move immediately instead of
// being damped by averaging.
func (s *State) Volatility() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.samples) < 2 {
		return decimal.Zero
	}
	last := s.samples[len(s.samples)-1].Price
	if last.IsZero() {
		return decimal.Zero
	}

	max := decimal.Zero
	for i := range s.samples[:len(s.samples)-1] {
		dev := s.samples[i].Price.Sub(last).Abs()
		if dev.GreaterThan(max) {
			max = dev
		}
	}
	return max.Mul(bpsFactor).Div(last)
}

// Freed delivers one signal each time an order slot transitions from
// occupied to empty, so the decision loop can re-quote without waiting for
// the next price tick.
func (s *State) Freed() <-chan struct{} {
	return s.freed
}

// Snapshot is a read-only view for display and status reporting.
type Snapshot struct {
	Buy      *model.Order
	Sell     *model.Order
	Position model.Position
	Last     decimal.Decimal
	HasLast  bool
}

// Snapshot copies the current state under one critical section.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{Position: s.position}
	if s.buy != nil {
		cp := *s.buy
		snap.Buy = &cp
	}
	if s.sell != nil {
		cp := *s.sell
		snap.Sell = &cp
	}
	if len(s.samples) > 0 {
		snap.Last = s.samples[len(s.samples)-1].Price
		snap.HasLast = true
	}
	return snap
}

func (s *State) slot(side enum.Side) **model.Order {
	if side == enum.SideSell {
		return &s.sell
	}
	return &s.buy
}

func (s *State) signalFreed() {
	select {
	case s.freed <- struct{}{}:
	default:
	}
}
