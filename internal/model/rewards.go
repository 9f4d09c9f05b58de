package model

import "github.com/shopspring/decimal"

// Rewards is the maker-campaign points balance reported by the venue.
type Rewards struct {
	MakerPoints decimal.Decimal
}
