package model

import (
	"github.com/shopspring/decimal"

	"main/internal/model/enum"
)

// Order is a resting limit order as the engine believes it exists on the
// venue book. Identity is the client order id.
type Order struct {
	ClOrdID  string
	Side     enum.Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// OrderEvent is a venue-reported change to one of this account's orders.
type OrderEvent struct {
	ClOrdID   string
	Side      enum.Side
	Status    enum.OrderStatus
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	FilledQty decimal.Decimal
	EventTsMs int64
}
