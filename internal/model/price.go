package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSample is one observed last-trade price.
type PriceSample struct {
	At    time.Time
	Price decimal.Decimal
}
