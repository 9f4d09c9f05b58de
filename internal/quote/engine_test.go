package quote

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/book"
	"main/internal/config"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/obs"
	"main/internal/risk"
	"main/pkg/exception"
)

type placedCall struct {
	side  enum.Side
	price decimal.Decimal
	qty   decimal.Decimal
}

type fakeGateway struct {
	mu        sync.Mutex
	placed    []placedCall
	cancelled [][]string
	nextID    int

	placeErr  error
	cancelErr error

	openOrders []model.Order
	position   model.Position
	ordersErr  error
	posErr     error

	// onPlace runs inside PlaceOrder, after the engine released its lock,
	// to simulate venue events racing an in-flight placement
	onPlace func()
}

func (g *fakeGateway) PlaceOrder(_ context.Context, side enum.Side, price, qty decimal.Decimal) (string, error) {
	g.mu.Lock()
	g.placed = append(g.placed, placedCall{side: side, price: price, qty: qty})
	g.nextID++
	id := fmt.Sprintf("mk-%d", g.nextID)
	hook := g.onPlace
	err := g.placeErr
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (g *fakeGateway) CancelOrders(_ context.Context, clOrdIDs []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, clOrdIDs)
	return g.cancelErr
}

func (g *fakeGateway) OpenOrders(_ context.Context, _ string) ([]model.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ordersErr != nil {
		return nil, g.ordersErr
	}
	return g.openOrders, nil
}

func (g *fakeGateway) QueryPosition(_ context.Context, _ string) (model.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.posErr != nil {
		return model.Position{}, g.posErr
	}
	return g.position, nil
}

func (g *fakeGateway) placeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.placed)
}

func (g *fakeGateway) cancelCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.cancelled)
}

func newTestEngine(t *testing.T, gw Gateway) (*Engine, *book.State) {
	t.Helper()

	cfg, err := config.Resolve(config.FileConfig{
		Symbol:                 "BTC-USD",
		OrderSize:              decimal.NewFromFloat(0.01),
		MaxPosition:            decimal.NewFromFloat(0.10),
		Leverage:               5,
		OrderDistanceBps:       10,
		CancelDistanceBps:      5,
		RebalanceDistanceBps:   20,
		VolatilityWindowSec:    10,
		VolatilityThresholdBps: 50,
	})
	if err != nil {
		t.Fatalf("resolve config, err: %+v", err)
	}

	b := book.New(cfg.VolatilityWindow)
	rk := risk.NewEngine(risk.Config{
		KillSwitch:             cfg.KillSwitch,
		MaxPosition:            cfg.MaxPosition,
		VolatilityThresholdBps: cfg.VolatilityThresholdBps,
	})
	return NewEngine(cfg, b, gw, rk, obs.NewMetrics()), b
}

func recordPrice(b *book.State, price string) {
	b.RecordPrice(model.PriceSample{At: time.Now(), Price: decimal.RequireFromString(price)})
}

func restingOrder(e *Engine, side enum.Side, clOrdID, price string) {
	e.ApplyOrderEvent(model.OrderEvent{
		ClOrdID:  clOrdID,
		Side:     side,
		Status:   enum.OrderStatusOpen,
		Price:    decimal.RequireFromString(price),
		Quantity: decimal.NewFromFloat(0.01),
	})
}

func TestEvaluatePlacesBothSides(t *testing.T) {
	gw := &fakeGateway{}
	e, b := newTestEngine(t, gw)
	recordPrice(b, "100")

	e.Evaluate(t.Context())

	if gw.placeCount() != 2 {
		t.Fatalf("should place both sides, got %d", gw.placeCount())
	}
	if !gw.placed[0].price.Equal(decimal.RequireFromString("99.9")) {
		t.Fatalf("buy price mismatch! should be 99.9 but got %s", gw.placed[0].price)
	}
	if !gw.placed[1].price.Equal(decimal.RequireFromString("100.1")) {
		t.Fatalf("sell price mismatch! should be 100.1 but got %s", gw.placed[1].price)
	}

	buy, sell := e.SideStates()
	if buy != StateResting || sell != StateResting {
		t.Fatalf("both sides should rest, got %s / %s", buy, sell)
	}

	order, ok := b.Order(enum.SideBuy)
	if !ok || order.ClOrdID != "mk-1" {
		t.Fatalf("buy slot mismatch: %+v", order)
	}
}

func TestEvaluateWithoutPriceDoesNothing(t *testing.T) {
	gw := &fakeGateway{}
	e, _ := newTestEngine(t, gw)

	e.Evaluate(t.Context())

	if gw.placeCount() != 0 {
		t.Fatalf("no price means no quotes, got %d placements", gw.placeCount())
	}
}

func TestRestingAtOrderDistanceStays(t *testing.T) {
	gw := &fakeGateway{}
	e, b := newTestEngine(t, gw)
	recordPrice(b, "100")
	restingOrder(e, enum.SideBuy, "mk-1", "99.9")

	e.Evaluate(t.Context())

	if gw.cancelCount() != 0 {
		t.Fatal("order at exactly the quote distance should not be cancelled")
	}
	if buy, _ := e.SideStates(); buy != StateResting {
		t.Fatalf("buy should stay resting, got %s", buy)
	}
}

func TestCancelWhenPriceTooClose(t *testing.T) {
	gw := &fakeGateway{}
	e, b := newTestEngine(t, gw)
	restingOrder(e, enum.SideBuy, "mk-1", "99.90")
	// distance 0.05/99.95 = 5.0025 bps, at the cancel threshold
	recordPrice(b, "99.95")

	e.Evaluate(t.Context())

	if gw.cancelCount() != 1 {
		t.Fatalf("should cancel once, got %d", gw.cancelCount())
	}
	if gw.cancelled[0][0] != "mk-1" {
		t.Fatalf("cancelled wrong order: %v", gw.cancelled[0])
	}
	if _, ok := b.Order(enum.SideBuy); ok {
		t.Fatal("buy slot should be cleared after cancel")
	}
}

func TestCancelWhenQuoteStale(t *testing.T) {
	gw := &fakeGateway{}
	e, b := newTestEngine(t, gw)
	restingOrder(e, enum.SideBuy, "mk-1", "99.90")
	// distance 0.20/100.10 = 19.98 bps, at the rebalance threshold
	recordPrice(b, "100.10")

	e.Evaluate(t.Context())

	g := gw
	g.mu.Lock()
	cancelledBuy := len(g.cancelled) > 0 && g.cancelled[0][0] == "mk-1"
	g.mu.Unlock()
	if !cancelledBuy {
		t.Fatalf("stale buy quote should be cancelled, cancels: %v", g.cancelled)
	}
}

func TestCancelOnVolatility(t *testing.T) {
	gw := &fakeGateway{}
	e, b := newTestEngine(t, gw)
	recordPrice(b, "100")
	recordPrice(b, "101")
	// order sits in the keep band from the latest price; only the
	// volatility check can trigger the cancel
	restingOrder(e, enum.SideBuy, "mk-1", "100.9")

	e.Evaluate(t.Context())

	if gw.cancelCount() == 0 {
		t.Fatal("high volatility should cancel the resting order")
	}
	// the freed slot must not be refilled while volatility stays high
	if gw.placeCount() != 0 {
		t.Fatalf("no placements under high volatility, got %d", gw.placeCount())
	}
}

func TestPositionLimitSuppressesOneSide(t *testing.T) {
	gw := &fakeGateway{}
	e, b := newTestEngine(t, gw)
	recordPrice(b, "100")
	e.ApplyPosition(model.Position{Quantity: decimal.NewFromFloat(0.095)})

	e.Evaluate(t.Context())

	if gw.placeCount() != 1 {
		t.Fatalf("only the reducing side should quote, got %d placements", gw.placeCount())
	}
	if gw.placed[0].side != enum.SideSell {
		t.Fatalf("sell should be the allowed side, got %s", gw.placed[0].side)
	}
}

func TestRejectedPlacementReturnsToNoOrder(t *testing.T) {
	gw := &fakeGateway{placeErr: errors.Wrap(exception.ErrOrderRejected, "margin")}
	e, b := newTestEngine(t, gw)
	recordPrice(b, "100")

	e.Evaluate(t.Context())

	buy, sell := e.SideStates()
	if buy != StateNoOrder || sell != StateNoOrder {
		t.Fatalf("rejected placements should return to no_order, got %s / %s", buy, sell)
	}
	if _, ok := b.Order(enum.SideBuy); ok {
		t.Fatal("no order should be tracked after a reject")
	}

	// next pass retries
	e.Evaluate(t.Context())
	if gw.placeCount() != 4 {
		t.Fatalf("rejects should not park the side, got %d placements", gw.placeCount())
	}
}

func TestAmbiguousPlacementHoldsUntilReconcile(t *testing.T) {
	gw := &fakeGateway{placeErr: errors.Wrap(exception.ErrPlacementAmbiguous, "timeout")}
	e, b := newTestEngine(t, gw)
	recordPrice(b, "100")

	e.Evaluate(t.Context())
	if gw.placeCount() != 2 {
		t.Fatalf("both sides attempt once, got %d", gw.placeCount())
	}

	// held sides never blind-retry
	e.Evaluate(t.Context())
	e.Evaluate(t.Context())
	if gw.placeCount() != 2 {
		t.Fatalf("held sides must not retry, got %d placements", gw.placeCount())
	}

	// venue answered: the order actually rested on the buy side
	e.ApplyReconcile(model.Position{}, []model.Order{
		{ClOrdID: "ghost-1", Side: enum.SideBuy, Price: decimal.RequireFromString("99.9"), Quantity: decimal.NewFromFloat(0.01)},
	})

	buy, sell := e.SideStates()
	if buy != StateResting {
		t.Fatalf("reconcile should adopt the venue order, got %s", buy)
	}
	if sell != StateNoOrder {
		t.Fatalf("sell should be released to no_order, got %s", sell)
	}
	if order, ok := b.Order(enum.SideBuy); !ok || order.ClOrdID != "ghost-1" {
		t.Fatalf("buy slot should hold the venue order: %+v", order)
	}

	// released sell side quotes again
	gw.mu.Lock()
	gw.placeErr = nil
	gw.mu.Unlock()
	e.Evaluate(t.Context())
	if gw.placeCount() != 3 {
		t.Fatalf("released side should quote again, got %d placements", gw.placeCount())
	}
}

func TestFillDuringPlacementWins(t *testing.T) {
	gw := &fakeGateway{}
	e, b := newTestEngine(t, gw)
	recordPrice(b, "100")

	// a fill event lands while the place response is still in flight
	gw.onPlace = func() {
		gw.onPlace = nil
		e.ApplyOrderEvent(model.OrderEvent{
			ClOrdID: "mk-1",
			Side:    enum.SideBuy,
			Status:  enum.OrderStatusFilled,
			Price:   decimal.RequireFromString("99.9"),
		})
	}

	e.Evaluate(t.Context())

	buy, _ := e.SideStates()
	if buy != StateNoOrder {
		t.Fatalf("the fill must win over the stale place response, got %s", buy)
	}
	if _, ok := b.Order(enum.SideBuy); ok {
		t.Fatal("buy slot must stay empty after the fill")
	}
}

func TestReconcileDuringPlacementKeepsSingleOrder(t *testing.T) {
	gw := &fakeGateway{}
	e, b := newTestEngine(t, gw)
	recordPrice(b, "100")

	// a reconcile cycle whose venue snapshot predates the placement lands
	// while the place response is still in flight; the empty snapshot must
	// not invalidate the pending side
	gw.onPlace = func() {
		gw.onPlace = nil
		e.ApplyReconcile(model.Position{}, nil)
	}

	e.Evaluate(t.Context())

	buy, _ := e.SideStates()
	if buy != StateResting {
		t.Fatalf("the placement should survive the stale snapshot, got %s", buy)
	}
	if order, ok := b.Order(enum.SideBuy); !ok || order.ClOrdID != "mk-1" {
		t.Fatalf("buy slot should hold the placed order: %+v", order)
	}

	// the next pass must not double up the side
	e.Evaluate(t.Context())
	if gw.placeCount() != 2 {
		t.Fatalf("one order per side, got %d placements", gw.placeCount())
	}
}

func TestSupersededPlacementGetsCancelled(t *testing.T) {
	gw := &fakeGateway{}
	e, b := newTestEngine(t, gw)
	recordPrice(b, "100")

	// a venue cancel event supersedes the buy side while the place
	// response is still in flight; the order the response reports now
	// rests on the venue with nobody tracking it
	gw.onPlace = func() {
		gw.onPlace = nil
		e.ApplyOrderEvent(model.OrderEvent{
			ClOrdID: "mk-1",
			Side:    enum.SideBuy,
			Status:  enum.OrderStatusCancelled,
		})
	}

	e.Evaluate(t.Context())

	deadline := time.Now().Add(2 * time.Second)
	for gw.cancelCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("the untracked placement should be cancelled")
		}
		time.Sleep(10 * time.Millisecond)
	}

	gw.mu.Lock()
	ids := gw.cancelled[0]
	gw.mu.Unlock()
	if len(ids) != 1 || ids[0] != "mk-1" {
		t.Fatalf("cancelled wrong order: %v", ids)
	}
}

func TestFillClearsSideAndSignalsFreed(t *testing.T) {
	gw := &fakeGateway{}
	e, b := newTestEngine(t, gw)
	recordPrice(b, "100")
	e.Evaluate(t.Context())

	// drain the signals from the placements, if any
	for {
		select {
		case <-b.Freed():
			continue
		default:
		}
		break
	}

	e.ApplyOrderEvent(model.OrderEvent{
		ClOrdID: "mk-1",
		Side:    enum.SideBuy,
		Status:  enum.OrderStatusFilled,
	})

	select {
	case <-b.Freed():
	default:
		t.Fatal("fill should signal a freed slot")
	}
	if buy, _ := e.SideStates(); buy != StateNoOrder {
		t.Fatalf("filled side should be no_order, got %s", buy)
	}
}

func TestPartialFillShrinksOrder(t *testing.T) {
	gw := &fakeGateway{}
	e, b := newTestEngine(t, gw)
	restingOrder(e, enum.SideSell, "mk-1", "100.1")

	e.ApplyOrderEvent(model.OrderEvent{
		ClOrdID:   "mk-1",
		Side:      enum.SideSell,
		Status:    enum.OrderStatusPartialFilled,
		Price:     decimal.RequireFromString("100.1"),
		Quantity:  decimal.NewFromFloat(0.01),
		FilledQty: decimal.NewFromFloat(0.004),
	})

	order, ok := b.Order(enum.SideSell)
	if !ok {
		t.Fatal("partially filled order should stay tracked")
	}
	if !order.Quantity.Equal(decimal.NewFromFloat(0.006)) {
		t.Fatalf("remaining quantity mismatch! should be 0.006 but got %s", order.Quantity)
	}
	if _, sell := e.SideStates(); sell != StateResting {
		t.Fatalf("partially filled side should stay resting, got %s", sell)
	}
}

func TestCancelEventForOtherOrderIgnored(t *testing.T) {
	gw := &fakeGateway{}
	e, b := newTestEngine(t, gw)
	restingOrder(e, enum.SideBuy, "mk-1", "99.9")

	e.ApplyOrderEvent(model.OrderEvent{
		ClOrdID: "someone-else",
		Side:    enum.SideBuy,
		Status:  enum.OrderStatusCancelled,
	})

	if _, ok := b.Order(enum.SideBuy); !ok {
		t.Fatal("a cancel for an untracked id must not clear the slot")
	}
}

func TestCancelFailureStaysPending(t *testing.T) {
	gw := &fakeGateway{cancelErr: errors.New("boom")}
	e, b := newTestEngine(t, gw)
	restingOrder(e, enum.SideBuy, "mk-1", "99.90")
	recordPrice(b, "99.95")

	e.Evaluate(t.Context())

	if buy, _ := e.SideStates(); buy != StateCancelPending {
		t.Fatalf("unknown cancel outcome should stay pending, got %s", buy)
	}

	// pending side does not fire duplicate cancels
	e.Evaluate(t.Context())
	if gw.cancelCount() != 1 {
		t.Fatalf("pending side must not re-cancel, got %d", gw.cancelCount())
	}

	// the next reconcile resolves it: venue still shows the order
	e.ApplyReconcile(model.Position{}, []model.Order{
		{ClOrdID: "mk-1", Side: enum.SideBuy, Price: decimal.RequireFromString("99.90"), Quantity: decimal.NewFromFloat(0.01)},
	})
	if buy, _ := e.SideStates(); buy != StateResting {
		t.Fatalf("reconcile should restore resting, got %s", buy)
	}
}

func TestReconcileClearsGhostOrder(t *testing.T) {
	gw := &fakeGateway{}
	e, b := newTestEngine(t, gw)
	restingOrder(e, enum.SideBuy, "mk-1", "99.9")

	e.ApplyReconcile(model.Position{Quantity: decimal.NewFromFloat(0.02)}, nil)

	if buy, _ := e.SideStates(); buy != StateNoOrder {
		t.Fatalf("venue reports no order, side should clear, got %s", buy)
	}
	if _, ok := b.Order(enum.SideBuy); ok {
		t.Fatal("ghost order should be dropped from the book")
	}
	if !b.Position().Quantity.Equal(decimal.NewFromFloat(0.02)) {
		t.Fatalf("position should follow the venue, got %s", b.Position().Quantity)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	gw := &fakeGateway{}
	e, b := newTestEngine(t, gw)

	position := model.Position{Quantity: decimal.NewFromFloat(0.01)}
	orders := []model.Order{
		{ClOrdID: "mk-1", Side: enum.SideBuy, Price: decimal.RequireFromString("99.9"), Quantity: decimal.NewFromFloat(0.01)},
		{ClOrdID: "mk-2", Side: enum.SideSell, Price: decimal.RequireFromString("100.1"), Quantity: decimal.NewFromFloat(0.01)},
	}

	e.ApplyReconcile(position, orders)
	first := b.Snapshot()
	buy1, sell1 := e.SideStates()

	e.ApplyReconcile(position, orders)
	second := b.Snapshot()
	buy2, sell2 := e.SideStates()

	if buy1 != buy2 || sell1 != sell2 {
		t.Fatal("repeated reconcile should not change side states")
	}
	if *first.Buy != *second.Buy || *first.Sell != *second.Sell {
		t.Fatal("repeated reconcile should not change the book")
	}
}

func TestStopPlacingStillCancels(t *testing.T) {
	gw := &fakeGateway{}
	e, b := newTestEngine(t, gw)
	restingOrder(e, enum.SideBuy, "mk-1", "99.90")
	recordPrice(b, "99.95")

	e.StopPlacing()
	e.Evaluate(t.Context())

	if gw.placeCount() != 0 {
		t.Fatal("stop placing must block new quotes")
	}
	if gw.cancelCount() != 1 {
		t.Fatal("stop placing must not block cancels")
	}
}

func TestCancelAll(t *testing.T) {
	gw := &fakeGateway{}
	e, b := newTestEngine(t, gw)
	recordPrice(b, "100")
	e.Evaluate(t.Context())

	if err := e.CancelAll(t.Context()); err != nil {
		t.Fatalf("cancel all, err: %+v", err)
	}

	gw.mu.Lock()
	ids := gw.cancelled[len(gw.cancelled)-1]
	gw.mu.Unlock()
	if len(ids) != 2 {
		t.Fatalf("both tracked orders should be cancelled, got %v", ids)
	}

	buy, sell := e.SideStates()
	if buy != StateNoOrder || sell != StateNoOrder {
		t.Fatalf("both sides should clear, got %s / %s", buy, sell)
	}
	snap := b.Snapshot()
	if snap.Buy != nil || snap.Sell != nil {
		t.Fatal("book should be empty after cancel all")
	}
}

func TestTargetPrice(t *testing.T) {
	price := decimal.RequireFromString("100")

	if got := targetPrice(enum.SideBuy, price, 10); !got.Equal(decimal.RequireFromString("99.9")) {
		t.Fatalf("buy target mismatch! should be 99.9 but got %s", got)
	}
	if got := targetPrice(enum.SideSell, price, 10); !got.Equal(decimal.RequireFromString("100.1")) {
		t.Fatalf("sell target mismatch! should be 100.1 but got %s", got)
	}
}

func TestDistanceBps(t *testing.T) {
	testCases := []struct {
		desc     string
		order    string
		price    string
		expected string
	}{
		{"exact", "99.9", "100", "10"},
		{"rounds down", "99.90", "99.95", "5"},
		{"rounds up", "99.90", "100.10", "20"},
		{"zero", "100", "100", "0"},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			got := distanceBps(decimal.RequireFromString(tc.order), decimal.RequireFromString(tc.price))
			if !got.Equal(decimal.RequireFromString(tc.expected)) {
				t.Fatalf("distance mismatch! should be %s but got %s", tc.expected, got)
			}
		})
	}
}
