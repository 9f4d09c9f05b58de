package model

import "github.com/shopspring/decimal"

// Position is the venue-reported net position. Quantity is signed,
// positive long. It is never inferred locally from fill math.
type Position struct {
	Quantity      decimal.Decimal
	UnrealizedPnL decimal.Decimal
}
