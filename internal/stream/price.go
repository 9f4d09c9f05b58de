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

const (
	_standxBaseWsUrl    = "wss://ws.standx.com/ws"
	_standxBaseWsUrlDev = "wss://ws.testnet.standx.com/ws"

	standxWsMethodAuthID  = 1
	standxWsMethodPriceID = 2
	standxWsMethodOrderID = 3
	standxWsMethodPosID   = 4
)

// Price consumes the public last-trade price channel for one symbol.
// Reconnection and re-subscription are handled by the underlying client:
// the subscribe sidecar is registered and replayed after every reconnect.
type Price struct {
	wss       *ws.WebSocket
	observers atomic.Int32
}

// NewPrice creates a price feed client.
func NewPrice(ctx context.Context, devMode bool) *Price {
	wsURL := _standxBaseWsUrl
	if devMode {
		wsURL = _standxBaseWsUrlDev
	}

	return &Price{
		wss: ws.New(ctx, wsURL),
	}
}

// StartWebsocket dials the public endpoint.
func (repo *Price) StartWebsocket(ctx context.Context) error {
	if err := repo.wss.Start(ctx); err != nil {
		return errors.Wrap(exception.ErrStreamHandshake, err.Error())
	}

	return nil
}

func (repo *Price) Close() {
	repo.wss.Close()
}

// Alive reports whether any observe loop is still consuming the feed.
func (repo *Price) Alive() bool {
	return repo.observers.Load() > 0
}

// SubscribePrice subscribes the last-trade price channel for the symbol.
func (repo *Price) SubscribePrice(ctx context.Context, symbol string) error {
	appendIntoRegister := true
	if err := repo.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, client *ws.WebSocket) error {
			if err := client.WriteJSON(map[string]any{
				"id":     standxWsMethodPriceID,
				"method": "price.subscribe",
				"params": []any{symbol},
			}); err != nil {
				return errors.Wrap(err, "write subscribe price payload")
			}

			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			resp, ok := ws.ReadMessage[SubscribeResponse](m)
			if !ok || resp.ID != standxWsMethodPriceID {
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

// PriceUpdate is one last-trade price tick.
type PriceUpdate struct {
	Symbol    string          `json:"symbol"`
	LastPrice decimal.Decimal `json:"last_price"`
	Time      int64           `json:"time"`
}

// ObservePrice fans price ticks into the handler until the context or the
// connection ends.
func (repo *Price) ObservePrice(ctx context.Context, handler func(p PriceUpdate)) (unsubscribe func()) {
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
					logs.Warnf("price feed ended, err: %+v", exception.ErrStreamClosed)
					return
				}

				resp, ok := ws.ReadMessage[StreamResponse](m)
				if !ok || resp.Method != "price.update" {
					continue
				}

				var update PriceUpdate
				if err := resp.Unmarshal(0, &update); err != nil {
					logs.Errorf("unmarshal price update, err: %+v", err)
					continue
				}

				handler(update)
			}
		}
	}()

	return cancel
}
