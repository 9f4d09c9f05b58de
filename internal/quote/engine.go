package quote

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"main/internal/book"
	"main/internal/config"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/obs"
	"main/internal/risk"
	"main/pkg/exception"
)

// Gateway is the venue request/response surface the engine quotes against.
type Gateway interface {
	PlaceOrder(ctx context.Context, side enum.Side, price, qty decimal.Decimal) (string, error)
	CancelOrders(ctx context.Context, clOrdIDs []string) error
	OpenOrders(ctx context.Context, symbol string) ([]model.Order, error)
	QueryPosition(ctx context.Context, symbol string) (model.Position, error)
}

// SideState is the per-side quoting state.
type SideState uint8

const (
	StateNoOrder SideState = iota
	StatePlacePending
	StateResting
	StateCancelPending
)

func (s SideState) String() string {
	switch s {
	case StateNoOrder:
		return "no_order"
	case StatePlacePending:
		return "place_pending"
	case StateResting:
		return "resting"
	case StateCancelPending:
		return "cancel_pending"
	default:
		return "unknown"
	}
}

// sideBook is the engine's private bookkeeping for one side. epoch is
// bumped whenever a venue-reported event or a reconcile overwrite
// supersedes whatever transition was in flight, so a slow gateway response
// can never resurrect state the venue already invalidated.
type sideBook struct {
	state   SideState
	clOrdID string
	epoch   uint64

	// holdUntilReconcile parks the side after an ambiguous placement;
	// only a successful reconcile cycle releases it.
	holdUntilReconcile bool
}

func (sb *sideBook) forceClear() {
	sb.state = StateNoOrder
	sb.clOrdID = ""
	sb.epoch++
}

var bpsFactor = decimal.NewFromInt(10000)

// Engine runs one independent quoting state machine per side. All state
// transitions go through the engine mutex; gateway I/O happens outside the
// critical section and its result is applied only if no venue event
// superseded it in the meantime.
type Engine struct {
	mu    sync.Mutex
	sides [2]sideBook

	cfg     config.Strategy
	book    *book.State
	gw      Gateway
	risk    *risk.Engine
	metrics *obs.Metrics

	stopPlacing atomic.Bool

	cancelBpsMax decimal.Decimal
	rebalBpsMin  decimal.Decimal
}

// NewEngine creates a quote engine over the shared book state.
func NewEngine(cfg config.Strategy, b *book.State, gw Gateway, rk *risk.Engine, metrics *obs.Metrics) *Engine {
	return &Engine{
		cfg:          cfg,
		book:         b,
		gw:           gw,
		risk:         rk,
		metrics:      metrics,
		cancelBpsMax: decimal.NewFromInt(cfg.CancelDistanceBps),
		rebalBpsMin:  decimal.NewFromInt(cfg.RebalanceDistanceBps),
	}
}

// StopPlacing stops the engine from issuing new place intents. Cancels and
// event application keep working so shutdown can drain cleanly.
func (e *Engine) StopPlacing() {
	e.stopPlacing.Store(true)
}

// Evaluate runs one decision pass over both sides against the latest
// recorded price. Sides own disjoint state and are evaluated independently.
func (e *Engine) Evaluate(ctx context.Context) {
	price, ok := e.book.LastPrice()
	if !ok || !price.IsPositive() {
		return
	}
	e.evaluateSide(ctx, enum.SideBuy, price)
	e.evaluateSide(ctx, enum.SideSell, price)
}

func (e *Engine) evaluateSide(ctx context.Context, side enum.Side, price decimal.Decimal) {
	e.mu.Lock()
	sb := e.sideFor(side)
	if sb.holdUntilReconcile {
		e.mu.Unlock()
		return
	}

	switch sb.state {
	case StatePlacePending, StateCancelPending:
		e.mu.Unlock()
		return
	case StateNoOrder:
		e.tryPlace(ctx, side, sb, price)
	case StateResting:
		e.maybeCancel(ctx, side, sb, price)
	default:
		e.mu.Unlock()
	}
}

// tryPlace is entered with e.mu held and releases it around gateway I/O.
func (e *Engine) tryPlace(ctx context.Context, side enum.Side, sb *sideBook, price decimal.Decimal) {
	if e.stopPlacing.Load() {
		e.mu.Unlock()
		return
	}

	verdict := e.risk.Check(side, e.cfg.OrderSize, risk.StateView{
		Position:      e.book.Position().Quantity,
		VolatilityBps: e.book.Volatility(),
	})
	if !verdict.Allow {
		e.mu.Unlock()
		logs.Debugf("suppress %s quote, reason: %s", side, verdict.Reason)
		return
	}

	target := targetPrice(side, price, e.cfg.OrderDistanceBps)
	sb.state = StatePlacePending
	epoch := sb.epoch
	e.mu.Unlock()

	started := time.Now()
	clOrdID, err := e.gw.PlaceOrder(ctx, side, target, e.cfg.OrderSize)
	e.metrics.ObserveGateway(time.Since(started))

	e.mu.Lock()
	defer e.mu.Unlock()
	if sb.epoch != epoch {
		// a fill, cancel or reconcile superseded this placement mid-flight
		if err == nil && clOrdID != "" && !(sb.state == StateResting && sb.clOrdID == clOrdID) {
			// the placement still reached the venue and nobody adopted it;
			// leaving it resting would break the one-order-per-side limit
			go e.cancelOrphan(side, clOrdID)
		}
		return
	}

	switch {
	case err == nil:
		sb.state = StateResting
		sb.clOrdID = clOrdID
		e.book.SetOrder(side, &model.Order{
			ClOrdID:  clOrdID,
			Side:     side,
			Price:    target,
			Quantity: e.cfg.OrderSize,
		})
		e.metrics.IncPlaced()
		logs.Infof("placed %s %s @ %s", side, e.cfg.OrderSize, target)
	case errors.Is(err, exception.ErrOrderRejected):
		sb.state = StateNoOrder
		e.metrics.IncPlaceRejected()
		logs.Warnf("place %s rejected, err: %+v", side, err)
	case errors.Is(err, exception.ErrPlacementAmbiguous):
		sb.state = StateNoOrder
		sb.holdUntilReconcile = true
		e.metrics.IncPlaceAmbiguous()
		logs.Warnf("place %s outcome unknown, holding side until reconcile, err: %+v", side, err)
	default:
		sb.state = StateNoOrder
		logs.Errorf("place %s failed, err: %+v", side, err)
	}
}

// cancelOrphan cancels an order whose successful placement was superseded
// before the response arrived. The gateway enforces its own per-call
// timeout, so a fresh context is fine here.
func (e *Engine) cancelOrphan(side enum.Side, clOrdID string) {
	if err := e.gw.CancelOrders(context.Background(), []string{clOrdID}); err != nil {
		logs.Warnf("cancel superseded %s placement %s failed, err: %+v", side, clOrdID, err)
		return
	}
	e.metrics.IncCancelled()
	logs.Infof("cancelled superseded %s placement %s", side, clOrdID)
}

// maybeCancel is entered with e.mu held and releases it around gateway I/O.
func (e *Engine) maybeCancel(ctx context.Context, side enum.Side, sb *sideBook, price decimal.Decimal) {
	order, ok := e.book.Order(side)
	if !ok {
		sb.forceClear()
		e.mu.Unlock()
		return
	}

	dist := distanceBps(order.Price, price)
	var reason string
	switch {
	case dist.LessThanOrEqual(e.cancelBpsMax):
		reason = "price too close"
	case dist.GreaterThanOrEqual(e.rebalBpsMin):
		reason = "quote stale"
	case e.risk.VolatilityHigh(e.book.Volatility()):
		reason = "volatility"
	default:
		e.mu.Unlock()
		return
	}

	sb.state = StateCancelPending
	epoch := sb.epoch
	clOrdID := sb.clOrdID
	e.mu.Unlock()

	started := time.Now()
	err := e.gw.CancelOrders(ctx, []string{clOrdID})
	e.metrics.ObserveGateway(time.Since(started))

	e.mu.Lock()
	defer e.mu.Unlock()
	if sb.epoch != epoch {
		return
	}
	if err != nil && !errors.Is(err, exception.ErrCancelPartialFailure) {
		// outcome unknown; stay in CancelPending until the feed or the
		// next reconcile confirms what happened
		logs.Warnf("cancel %s %s failed, err: %+v", side, clOrdID, err)
		return
	}

	sb.forceClear()
	e.book.SetOrder(side, nil)
	e.metrics.IncCancelled()
	logs.Infof("cancelled %s %s, reason: %s, distance: %s bps", side, clOrdID, reason, dist)
}

// ApplyOrderEvent applies a venue-reported order event. Fills are
// authoritative and force the side back to NoOrder regardless of any
// transition in flight.
func (e *Engine) ApplyOrderEvent(ev model.OrderEvent) {
	if !ev.Side.IsAvailable() {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	sb := e.sideFor(ev.Side)

	switch ev.Status {
	case enum.OrderStatusFilled:
		sb.forceClear()
		e.book.SetOrder(ev.Side, nil)
		e.metrics.IncFilled()
		logs.Infof("%s order %s filled @ %s", ev.Side, ev.ClOrdID, ev.Price)
	case enum.OrderStatusCancelled, enum.OrderStatusRejected:
		if sb.clOrdID != "" && sb.clOrdID != ev.ClOrdID {
			return
		}
		sb.forceClear()
		e.book.SetOrder(ev.Side, nil)
	case enum.OrderStatusOpen:
		sb.state = StateResting
		sb.clOrdID = ev.ClOrdID
		e.book.SetOrder(ev.Side, &model.Order{
			ClOrdID:  ev.ClOrdID,
			Side:     ev.Side,
			Price:    ev.Price,
			Quantity: ev.Quantity,
		})
	case enum.OrderStatusPartialFilled:
		if sb.clOrdID != "" && sb.clOrdID != ev.ClOrdID {
			return
		}
		remaining := ev.Quantity.Sub(ev.FilledQty)
		if !remaining.IsPositive() {
			sb.forceClear()
			e.book.SetOrder(ev.Side, nil)
			e.metrics.IncFilled()
			return
		}
		e.book.SetOrder(ev.Side, &model.Order{
			ClOrdID:  ev.ClOrdID,
			Side:     ev.Side,
			Price:    ev.Price,
			Quantity: remaining,
		})
	}
}

// ApplyPosition applies a venue-reported position. Position is never
// inferred locally from fill math.
func (e *Engine) ApplyPosition(p model.Position) {
	e.book.SetPosition(p)
}

// ApplyReconcile overwrites both order slots and the position with the
// venue's answer. Replace, not merge: a locally believed order absent from
// the venue response is cleared, and ambiguous-placement holds are
// released. Applying the same venue answer twice yields identical state.
func (e *Engine) ApplyReconcile(position model.Position, orders []model.Order) {
	var buy, sell *model.Order
	for i := range orders {
		switch orders[i].Side {
		case enum.SideBuy:
			if buy == nil {
				buy = &orders[i]
			}
		case enum.SideSell:
			if sell == nil {
				sell = &orders[i]
			}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.book.SetPosition(position)
	e.applySlot(enum.SideBuy, buy)
	e.applySlot(enum.SideSell, sell)
}

// applySlot must be called with e.mu held.
func (e *Engine) applySlot(side enum.Side, order *model.Order) {
	sb := e.sideFor(side)
	sb.holdUntilReconcile = false

	if order == nil {
		// absence in the poll confirms cancels and fills, not in-flight
		// placements: the venue snapshot may predate a placement whose
		// response has not arrived yet, so a pending side is left alone
		if sb.state == StatePlacePending {
			return
		}
		_, tracked := e.book.Order(side)
		if sb.state != StateNoOrder || tracked {
			if sb.state != StateNoOrder {
				logs.Infof("reconcile: clearing %s slot, venue reports no order", side)
			}
			sb.forceClear()
			e.book.SetOrder(side, nil)
		}
		return
	}

	if sb.state != StateResting || sb.clOrdID != order.ClOrdID {
		sb.epoch++
	}
	sb.state = StateResting
	sb.clOrdID = order.ClOrdID
	e.book.SetOrder(side, order)
}

// CancelAll cancels every tracked resting order, used during shutdown.
func (e *Engine) CancelAll(ctx context.Context) error {
	e.mu.Lock()
	ids := make([]string, 0, 2)
	for i := range e.sides {
		if e.sides[i].clOrdID != "" {
			ids = append(ids, e.sides[i].clOrdID)
		}
	}
	e.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	if err := e.gw.CancelOrders(ctx, ids); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.sides {
		e.sides[i].forceClear()
	}
	e.book.ClearAll()
	return nil
}

// SideStates reports the current per-side states for status display.
func (e *Engine) SideStates() (buy, sell SideState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sides[0].state, e.sides[1].state
}

func (e *Engine) sideFor(side enum.Side) *sideBook {
	if side == enum.SideSell {
		return &e.sides[1]
	}
	return &e.sides[0]
}

// targetPrice computes mid*(1 -/+ bps/10000), buy below and sell above.
func targetPrice(side enum.Side, price decimal.Decimal, bps int64) decimal.Decimal {
	offset := decimal.NewFromInt(bps)
	if side == enum.SideBuy {
		return price.Mul(bpsFactor.Sub(offset)).Div(bpsFactor)
	}
	return price.Mul(bpsFactor.Add(offset)).Div(bpsFactor)
}

// distanceBps is |order - price| / price in basis points, rounded to the
// nearest whole bp so threshold comparison matches the venue's integer
// distance parameters.
func distanceBps(orderPrice, price decimal.Decimal) decimal.Decimal {
	return orderPrice.Sub(price).Abs().Mul(bpsFactor).Div(price).Round(0)
}
