package risk

import (
	"github.com/shopspring/decimal"

	"main/internal/model/enum"
)

// Reason explains why a quote was suppressed.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonKillSwitch
	ReasonPositionLimit
	ReasonVolatility
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonKillSwitch:
		return "kill_switch"
	case ReasonPositionLimit:
		return "position_limit"
	case ReasonVolatility:
		return "volatility"
	default:
		return "unknown"
	}
}

// Config defines static placement limits.
type Config struct {
	KillSwitch             bool
	MaxPosition            decimal.Decimal
	VolatilityThresholdBps int64
}

// StateView is the slice of live state a placement check needs.
type StateView struct {
	Position      decimal.Decimal
	VolatilityBps decimal.Decimal
}

// Verdict is the outcome of a placement check.
type Verdict struct {
	Allow  bool
	Reason Reason
}

// Engine evaluates whether a new quote may be placed.
type Engine struct {
	cfg       Config
	threshold decimal.Decimal
}

// NewEngine creates a risk engine with static limits.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:       cfg,
		threshold: decimal.NewFromInt(cfg.VolatilityThresholdBps),
	}
}

// Check evaluates a would-be placement of qty on the given side.
// The position limit uses the worst case: the placement is denied when a
// full fill of the new order would push |position| past MaxPosition.
func (e *Engine) Check(side enum.Side, qty decimal.Decimal, view StateView) Verdict {
	if e.cfg.KillSwitch {
		return Verdict{Reason: ReasonKillSwitch}
	}

	if e.cfg.VolatilityThresholdBps > 0 && view.VolatilityBps.GreaterThanOrEqual(e.threshold) {
		return Verdict{Reason: ReasonVolatility}
	}

	next := view.Position
	switch side {
	case enum.SideBuy:
		next = next.Add(qty)
	case enum.SideSell:
		next = next.Sub(qty)
	}
	if e.cfg.MaxPosition.IsPositive() && next.Abs().GreaterThan(e.cfg.MaxPosition) {
		return Verdict{Reason: ReasonPositionLimit}
	}

	return Verdict{Allow: true, Reason: ReasonNone}
}

// VolatilityHigh reports whether the measured volatility is at or above the
// configured threshold.
func (e *Engine) VolatilityHigh(vol decimal.Decimal) bool {
	return e.cfg.VolatilityThresholdBps > 0 && vol.GreaterThanOrEqual(e.threshold)
}
