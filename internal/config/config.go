package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/pkg/exception"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Symbol                 string          `json:"symbol"`
	OrderSize              decimal.Decimal `json:"order_size"`
	MaxPosition            decimal.Decimal `json:"max_position"`
	Leverage               int             `json:"leverage"`
	OrderDistanceBps       int64           `json:"order_distance_bps"`
	CancelDistanceBps      int64           `json:"cancel_distance_bps"`
	RebalanceDistanceBps   int64           `json:"rebalance_distance_bps"`
	VolatilityWindowSec    int             `json:"volatility_window_sec"`
	VolatilityThresholdBps int64           `json:"volatility_threshold_bps"`
	PriceTick              decimal.Decimal `json:"price_tick"`
	QuantityStep           decimal.Decimal `json:"quantity_step"`
	ReconcileIntervalSec   int             `json:"reconcile_interval_sec"`
	EvalMinIntervalMs      int             `json:"eval_min_interval_ms"`
	KillSwitch             bool            `json:"kill_switch"`
}

// Strategy is the resolved, immutable strategy configuration for one run.
type Strategy struct {
	Symbol                 string
	OrderSize              decimal.Decimal
	MaxPosition            decimal.Decimal
	Leverage               int
	OrderDistanceBps       int64
	CancelDistanceBps      int64
	RebalanceDistanceBps   int64
	VolatilityWindow       time.Duration
	VolatilityThresholdBps int64
	PriceTick              decimal.Decimal
	QuantityStep           decimal.Decimal
	ReconcileInterval      time.Duration
	EvalMinInterval        time.Duration
	KillSwitch             bool
}

// Load reads a JSON config file and validates it. Any violation is fatal;
// values are never clamped silently.
func Load(path string) (Strategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Strategy{}, errors.Wrap(err, "read config file")
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Strategy{}, errors.Wrap(err, "unmarshal config file")
	}
	return Resolve(cfg)
}

// Resolve validates a FileConfig and fills run defaults.
func Resolve(cfg FileConfig) (Strategy, error) {
	if cfg.Symbol == "" {
		return Strategy{}, exception.ErrConfigMissingSymbol
	}
	if !cfg.OrderSize.IsPositive() {
		return Strategy{}, exception.ErrConfigInvalidSize
	}
	if !cfg.MaxPosition.IsPositive() {
		return Strategy{}, exception.ErrConfigInvalidPosition
	}
	if cfg.Leverage <= 0 {
		return Strategy{}, exception.ErrConfigInvalidLeverage
	}
	if cfg.CancelDistanceBps <= 0 ||
		cfg.CancelDistanceBps >= cfg.OrderDistanceBps ||
		cfg.OrderDistanceBps >= cfg.RebalanceDistanceBps {
		return Strategy{}, errors.Wrapf(exception.ErrConfigInvalidDistances,
			"cancel: %d, order: %d, rebalance: %d",
			cfg.CancelDistanceBps, cfg.OrderDistanceBps, cfg.RebalanceDistanceBps)
	}
	if cfg.VolatilityWindowSec <= 0 {
		return Strategy{}, exception.ErrConfigInvalidWindow
	}
	if cfg.VolatilityThresholdBps <= 0 {
		return Strategy{}, exception.ErrConfigInvalidThreshold
	}

	reconcile := cfg.ReconcileIntervalSec
	if reconcile <= 0 {
		reconcile = 2
	}
	evalMin := cfg.EvalMinIntervalMs
	if evalMin <= 0 {
		evalMin = 200
	}
	tick := cfg.PriceTick
	if tick.IsZero() {
		tick = decimal.New(1, -1) // 0.1
	}
	step := cfg.QuantityStep
	if step.IsZero() {
		step = decimal.New(1, -3) // 0.001
	}

	return Strategy{
		Symbol:                 cfg.Symbol,
		OrderSize:              cfg.OrderSize,
		MaxPosition:            cfg.MaxPosition,
		Leverage:               cfg.Leverage,
		OrderDistanceBps:       cfg.OrderDistanceBps,
		CancelDistanceBps:      cfg.CancelDistanceBps,
		RebalanceDistanceBps:   cfg.RebalanceDistanceBps,
		VolatilityWindow:       time.Duration(cfg.VolatilityWindowSec) * time.Second,
		VolatilityThresholdBps: cfg.VolatilityThresholdBps,
		PriceTick:              tick,
		QuantityStep:           step,
		ReconcileInterval:      time.Duration(reconcile) * time.Second,
		EvalMinInterval:        time.Duration(evalMin) * time.Millisecond,
		KillSwitch:             cfg.KillSwitch,
	}, nil
}
