package gateway

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/model"
	"main/internal/model/enum"
	"main/pkg/exception"
)

const (
	_standxBaseUrl    = "https://api.standx.com"
	_standxBaseUrlDev = "https://api.testnet.standx.com"

	_pathPlaceOrder = "/v1/order/place"
	_pathCancel     = "/v1/order/cancel"
	_pathOpenOrders = "/v1/order/open"
	_pathPosition   = "/v1/position"
	_pathRewards    = "/v1/offchain/maker-campaign/points"

	_defaultTimeout = 10 * time.Second

	makerPointScale = 1_000_000
)

// Config holds the venue-facing parameters of the REST gateway.
type Config struct {
	BaseURL      string
	Token        string
	Symbol       string
	Leverage     int
	PriceTick    decimal.Decimal
	QuantityStep decimal.Decimal
	Timeout      time.Duration
	DevMode      bool
}

// StandX is the REST gateway against the StandX perp venue. All calls are
// bearer-token authenticated and carry a per-call timeout. Placement is the
// only non-idempotent operation: a transport failure whose outcome is
// unknown surfaces as ErrPlacementAmbiguous and must be resolved by
// re-querying open orders, never by a blind retry.
type StandX struct {
	client  *http.Client
	baseURL string
	cfg     Config
}

// NewStandX creates a StandX gateway.
func NewStandX(client *http.Client, cfg Config) (*StandX, error) {
	if cfg.Token == "" {
		return nil, exception.ErrGatewayMissingToken
	}
	base := cfg.BaseURL
	if base == "" {
		base = _standxBaseUrl
		if cfg.DevMode {
			base = _standxBaseUrlDev
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = _defaultTimeout
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &StandX{
		client:  client,
		baseURL: base,
		cfg:     cfg,
	}, nil
}

type placeOrderRequest struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"order_type"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	ClOrdID     string `json:"cl_ord_id"`
	Leverage    int    `json:"leverage"`
	TimeInForce string `json:"time_in_force"`
}

// PlaceOrder submits a post-only limit order and returns the client order
// id the venue accepted it under. The price is conformed to the venue tick
// away from the market (buy rounds down, sell rounds up) and the quantity
// down to the lot step.
func (g *StandX) PlaceOrder(ctx context.Context, side enum.Side, price, qty decimal.Decimal) (string, error) {
	clOrdID := "mk-" + uuid.NewString()

	req := placeOrderRequest{
		Symbol:      g.cfg.Symbol,
		Side:        side.String(),
		OrderType:   "limit",
		Price:       g.conformPrice(side, price).String(),
		Qty:         g.conformQty(qty).String(),
		ClOrdID:     clOrdID,
		Leverage:    g.cfg.Leverage,
		TimeInForce: "GTC",
	}

	var resp Response[ResponsePlaceOrder]
	if err := g.post(ctx, _pathPlaceOrder, req, &resp); err != nil {
		// The request may have reached the venue; the caller must re-query
		// open orders before quoting this side again.
		return "", errors.Wrap(exception.ErrPlacementAmbiguous, err.Error())
	}
	if resp.Code != 0 || resp.Data.Status == "rejected" {
		return "", errors.Wrapf(exception.ErrOrderRejected,
			"code: %d, msg: %s, reason: %s", resp.Code, resp.Msg, resp.Data.Reason)
	}
	if resp.Data.ClOrdID == "" {
		resp.Data.ClOrdID = clOrdID
	}
	return resp.Data.ClOrdID, nil
}

type cancelOrdersRequest struct {
	ClOrdIDs []string `json:"cl_ord_ids"`
}

// CancelOrders cancels the given client order ids. A partially failed batch
// surfaces ErrCancelPartialFailure with the failed ids in the message.
func (g *StandX) CancelOrders(ctx context.Context, clOrdIDs []string) error {
	if len(clOrdIDs) == 0 {
		return nil
	}

	var resp Response[ResponseCancelOrders]
	if err := g.post(ctx, _pathCancel, cancelOrdersRequest{ClOrdIDs: clOrdIDs}, &resp); err != nil {
		return err
	}
	if resp.Code != 0 {
		return errors.Wrapf(exception.ErrGatewayResponseCode, "code: %d, msg: %s", resp.Code, resp.Msg)
	}
	if len(resp.Data.Failed) != 0 {
		return errors.Wrapf(exception.ErrCancelPartialFailure, "failed: %v", resp.Data.Failed)
	}
	return nil
}

// OpenOrders queries the resting orders for the symbol.
func (g *StandX) OpenOrders(ctx context.Context, symbol string) ([]model.Order, error) {
	var resp Response[[]ResponseOrder]
	query := url.Values{"symbol": []string{symbol}}
	if err := g.get(ctx, _pathOpenOrders, query, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, errors.Wrapf(exception.ErrGatewayResponseCode, "code: %d, msg: %s", resp.Code, resp.Msg)
	}

	orders := make([]model.Order, 0, len(resp.Data))
	for _, row := range resp.Data {
		side := enum.ParseSide(row.Side)
		if !side.IsAvailable() {
			continue
		}
		price, err := decimal.NewFromString(row.Price)
		if err != nil {
			return nil, errors.Wrapf(exception.ErrGatewayDecodeBody, "order price: %s", row.Price)
		}
		qty, err := decimal.NewFromString(row.Qty)
		if err != nil {
			return nil, errors.Wrapf(exception.ErrGatewayDecodeBody, "order qty: %s", row.Qty)
		}
		orders = append(orders, model.Order{
			ClOrdID:  row.ClOrdID,
			Side:     side,
			Price:    price,
			Quantity: qty,
		})
	}
	return orders, nil
}

// QueryPosition queries the net position for the symbol. A flat account
// with no position row reports a zero position, not an error.
func (g *StandX) QueryPosition(ctx context.Context, symbol string) (model.Position, error) {
	var resp Response[[]ResponsePosition]
	query := url.Values{"symbol": []string{symbol}}
	if err := g.get(ctx, _pathPosition, query, &resp); err != nil {
		return model.Position{}, err
	}
	if resp.Code != 0 {
		return model.Position{}, errors.Wrapf(exception.ErrGatewayResponseCode, "code: %d, msg: %s", resp.Code, resp.Msg)
	}

	for _, row := range resp.Data {
		if row.Symbol != symbol {
			continue
		}
		qty, err := decimal.NewFromString(row.Qty)
		if err != nil {
			return model.Position{}, errors.Wrapf(exception.ErrGatewayDecodeBody, "position qty: %s", row.Qty)
		}
		upnl, err := decimal.NewFromString(row.UPnL)
		if err != nil {
			return model.Position{}, errors.Wrapf(exception.ErrGatewayDecodeBody, "position upnl: %s", row.UPnL)
		}
		return model.Position{Quantity: qty, UnrealizedPnL: upnl}, nil
	}
	return model.Position{Quantity: decimal.Zero, UnrealizedPnL: decimal.Zero}, nil
}

// QueryRewards queries the maker-campaign points balance. The endpoint has
// no envelope and reports points scaled by 1e6.
func (g *StandX) QueryRewards(ctx context.Context) (model.Rewards, error) {
	var resp ResponseRewards
	if err := g.get(ctx, _pathRewards, nil, &resp); err != nil {
		return model.Rewards{}, err
	}
	return model.Rewards{
		MakerPoints: decimal.NewFromInt(resp.MakerPoint).Div(decimal.NewFromInt(makerPointScale)),
	}, nil
}

func (g *StandX) conformPrice(side enum.Side, price decimal.Decimal) decimal.Decimal {
	tick := g.cfg.PriceTick
	if !tick.IsPositive() {
		return price
	}
	steps := price.Div(tick)
	if side == enum.SideSell {
		return steps.Ceil().Mul(tick)
	}
	return steps.Floor().Mul(tick)
}

func (g *StandX) conformQty(qty decimal.Decimal) decimal.Decimal {
	step := g.cfg.QuantityStep
	if !step.IsPositive() {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}

func (g *StandX) post(ctx context.Context, path string, body, out any) error {
	payload, err := sonic.ConfigFastest.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal request body")
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	r.Header.Set("Content-Type", "application/json")
	g.authorize(r)

	return g.do(r, out)
}

func (g *StandX) get(ctx context.Context, path string, query url.Values, out any) error {
	target := g.baseURL + path
	if len(query) != 0 {
		target += "?" + query.Encode()
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	r.Header.Set("Accept", "application/json")
	g.authorize(r)

	return g.do(r, out)
}

func (g *StandX) authorize(r *http.Request) {
	r.Header.Set("Authorization", "Bearer "+g.cfg.Token)
}

func (g *StandX) do(r *http.Request, out any) error {
	resp, err := g.client.Do(r)
	if err != nil {
		return errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Wrapf(exception.ErrGatewayStatus, "status: %d", resp.StatusCode)
	}
	if err := sonic.ConfigFastest.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(exception.ErrGatewayDecodeBody, err.Error())
	}
	return nil
}
