package exception

import "errors"

// Config errors are fatal at startup and never clamped away.
var (
	ErrConfigMissingSymbol    = errors.New("config: missing symbol")
	ErrConfigInvalidSize      = errors.New("config: order size must be positive")
	ErrConfigInvalidPosition  = errors.New("config: max position must be positive")
	ErrConfigInvalidLeverage  = errors.New("config: leverage must be positive")
	ErrConfigInvalidDistances = errors.New("config: require cancel < order < rebalance distance")
	ErrConfigInvalidWindow    = errors.New("config: volatility window must be positive")
	ErrConfigInvalidThreshold = errors.New("config: volatility threshold must be positive")
)
