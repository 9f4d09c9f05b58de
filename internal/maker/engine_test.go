package maker

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"main/internal/config"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/stream"
	"main/pkg/exception"
)

type stubGateway struct {
	position   model.Position
	openOrders []model.Order
	rewards    model.Rewards
	posErr     error
	rewardsErr error
}

func (g *stubGateway) PlaceOrder(context.Context, enum.Side, decimal.Decimal, decimal.Decimal) (string, error) {
	return "", errors.New("not used")
}

func (g *stubGateway) CancelOrders(context.Context, []string) error {
	return nil
}

func (g *stubGateway) OpenOrders(context.Context, string) ([]model.Order, error) {
	return g.openOrders, nil
}

func (g *stubGateway) QueryPosition(context.Context, string) (model.Position, error) {
	return g.position, g.posErr
}

func (g *stubGateway) QueryRewards(context.Context) (model.Rewards, error) {
	return g.rewards, g.rewardsErr
}

func testStrategy(t *testing.T) config.Strategy {
	t.Helper()
	s, err := config.Resolve(config.FileConfig{
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
	return s
}

func TestInitializeSeedsFromVenue(t *testing.T) {
	gw := &stubGateway{
		position: model.Position{Quantity: decimal.NewFromFloat(0.02)},
		openOrders: []model.Order{
			{ClOrdID: "mk-1", Side: enum.SideBuy, Price: decimal.RequireFromString("99.9"), Quantity: decimal.NewFromFloat(0.01)},
		},
		rewards: model.Rewards{MakerPoints: decimal.NewFromInt(12)},
	}
	e := New(testStrategy(t), gw, nil, nil)

	if err := e.Initialize(t.Context()); err != nil {
		t.Fatalf("initialize, err: %+v", err)
	}

	status := e.Status()
	if !status.Initialized {
		t.Fatal("engine should report initialized")
	}
	if status.Buy == nil || status.Buy.ClOrdID != "mk-1" {
		t.Fatalf("buy slot should be seeded: %+v", status.Buy)
	}
	if !status.Position.Quantity.Equal(decimal.NewFromFloat(0.02)) {
		t.Fatalf("position should be seeded, got %s", status.Position.Quantity)
	}
	if !status.HasRewards || !status.Rewards.MakerPoints.Equal(decimal.NewFromInt(12)) {
		t.Fatalf("rewards should be seeded: %+v", status.Rewards)
	}
	if status.BuyState != "resting" || status.SellState != "no_order" {
		t.Fatalf("side states mismatch: %s / %s", status.BuyState, status.SellState)
	}
}

func TestInitializeFailsOnQueryError(t *testing.T) {
	gw := &stubGateway{posErr: errors.New("venue down")}
	e := New(testStrategy(t), gw, nil, nil)

	if err := e.Initialize(t.Context()); err == nil {
		t.Fatal("initialize should surface the query error")
	}
	if e.Status().Initialized {
		t.Fatal("engine must not report initialized after a failure")
	}
}

func TestInitializeToleratesRewardsFailure(t *testing.T) {
	gw := &stubGateway{rewardsErr: errors.New("campaign closed")}
	e := New(testStrategy(t), gw, nil, nil)

	if err := e.Initialize(t.Context()); err != nil {
		t.Fatalf("rewards failure must not fail initialize, err: %+v", err)
	}
	if e.Status().HasRewards {
		t.Fatal("no rewards should be reported")
	}
}

func TestStatusReportsDeadFeedDisconnected(t *testing.T) {
	price := stream.NewPrice(t.Context(), true)
	account := stream.NewAccount(t.Context(), true, "token")
	e := New(testStrategy(t), &stubGateway{}, price, account)

	// feeds marked up at startup, but no observe loop is consuming them
	e.mu.Lock()
	e.priceUp = true
	e.accountUp = true
	e.mu.Unlock()

	status := e.Status()
	if status.PriceConnected {
		t.Fatal("price feed with no observer must report disconnected")
	}
	if status.AccountConnected {
		t.Fatal("account feed with no observer must report disconnected")
	}
}

func TestRunRequiresInitialize(t *testing.T) {
	e := New(testStrategy(t), &stubGateway{}, nil, nil)

	err := e.Run(t.Context())
	if !errors.Is(err, exception.ErrEngineNotInitialized) {
		t.Fatalf("error mismatch, got %+v", err)
	}
}
