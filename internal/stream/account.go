package stream

import (
	"context"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"main/pkg/exception"
)

// Account consumes the private order and position channels of one account.
// Connection failure here is non-fatal to the engine: the reconciler keeps
// order and position truth current over REST while this feed is down.
type Account struct {
	wss       *ws.WebSocket
	token     string
	observers atomic.Int32
}

// NewAccount creates a private account feed client.
func NewAccount(ctx context.Context, devMode bool, token string) *Account {
	wsURL := _standxBaseWsUrl
	if devMode {
		wsURL = _standxBaseWsUrlDev
	}

	return &Account{
		wss:   ws.New(ctx, wsURL),
		token: token,
	}
}

// StartWebsocketAndAuth dials the private endpoint and authenticates with
// the bearer token. The auth sidecar is replayed after every reconnect.
func (repo *Account) StartWebsocketAndAuth(ctx context.Context) error {
	if err := repo.wss.Start(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, client *ws.WebSocket) error {
			if err := client.WriteJSON(map[string]any{
				"id":     standxWsMethodAuthID,
				"method": "server.auth",
				"params": []any{repo.token},
			}); err != nil {
				return errors.Wrap(err, "write auth payload")
			}

			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			resp, ok := ws.ReadMessage[SubscribeResponse](m)
			if !ok || resp.ID != standxWsMethodAuthID {
				return false, nil
			}

			if resp.Error != nil || resp.Result.Status != "success" {
				return false, exception.ErrStreamAuth
			}

			return true, nil
		},
	}); err != nil {
		return errors.Wrap(exception.ErrStreamHandshake, err.Error())
	}

	return nil
}

func (repo *Account) Close() {
	repo.wss.Close()
}

// Alive reports whether any observe loop is still consuming the feed.
func (repo *Account) Alive() bool {
	return repo.observers.Load() > 0
}

// SubscribeOrders subscribes this account's order events for the symbol.
func (repo *Account) SubscribeOrders(ctx context.Context, symbol string) error {
	return repo.subscribe(ctx, standxWsMethodOrderID, "order.subscribe", symbol)
}

// SubscribePositions subscribes this account's position events for the symbol.
func (repo *Account) SubscribePositions(ctx context.Context, symbol string) error {
	return repo.subscribe(ctx, standxWsMethodPosID, "position.subscribe", symbol)
}

func (repo *Account) subscribe(ctx context.Context, id int, method, symbol string) error {
	appendIntoRegister := true
	if err := repo.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, client *ws.WebSocket) error {
			if err := client.WriteJSON(map[string]any{
				"id":     id,
				"method": method,
				"params": []any{symbol},
			}); err != nil {
				return errors.Wrapf(err, "write %s payload", method)
			}

			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			resp, ok := ws.ReadMessage[SubscribeResponse](m)
			if !ok || resp.ID != id {
				return false, nil
			}

			if resp.Error != nil || resp.Result.Status != "success" {
				return false, errors.Wrapf(exception.ErrStreamSubscribe, "resp: %+v", resp)
			}

			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "send and wait")
	}

	return nil
}

// OrderUpdate is one order event on the private channel.
type OrderUpdate struct {
	ClOrdID   string          `json:"cl_ord_id"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Status    string          `json:"status"`
	Price     decimal.Decimal `json:"price"`
	Qty       decimal.Decimal `json:"qty"`
	FilledQty decimal.Decimal `json:"filled_qty"`
	Time      int64           `json:"time"`
}

// PositionUpdate is one position event on the private channel.
type PositionUpdate struct {
	Symbol string          `json:"symbol"`
	Qty    decimal.Decimal `json:"qty"`
	UPnL   decimal.Decimal `json:"upnl"`
	Time   int64           `json:"time"`
}

// ObserveOrder fans order events into the handler.
func (repo *Account) ObserveOrder(ctx context.Context, handler func(o OrderUpdate)) (unsubscribe func()) {
	ch, cancel := repo.wss.Subscribe()
	repo.observers.Add(1)
	go func() {
		defer repo.observers.Add(-1)
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					logs.Warnf("order feed ended, err: %+v", exception.ErrStreamClosed)
					return
				}

				resp, ok := ws.ReadMessage[StreamResponse](m)
				if !ok || resp.Method != "order.update" {
					continue
				}

				var update OrderUpdate
				if err := resp.Unmarshal(0, &update); err != nil {
					logs.Errorf("unmarshal order update, err: %+v", err)
					continue
				}

				handler(update)
			}
		}
	}()

	return cancel
}

// ObservePosition fans position events into the handler.
func (repo *Account) ObservePosition(ctx context.Context, handler func(p PositionUpdate)) (unsubscribe func()) {
	ch, cancel := repo.wss.Subscribe()
	repo.observers.Add(1)
	go func() {
		defer repo.observers.Add(-1)
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					logs.Warnf("position feed ended, err: %+v", exception.ErrStreamClosed)
					return
				}

				resp, ok := ws.ReadMessage[StreamResponse](m)
				if !ok || resp.Method != "position.update" {
					continue
				}

				var update PositionUpdate
				if err := resp.Unmarshal(0, &update); err != nil {
					logs.Errorf("unmarshal position update, err: %+v", err)
					continue
				}

				handler(update)
			}
		}
	}()

	return cancel
}
