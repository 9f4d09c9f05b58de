package quote

import (
	"context"
	"time"

	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/obs"
)

// Reconciler periodically re-derives the engine's state from venue truth,
// correcting drift caused by missed push events. It is the correctness
// backstop: it runs whether or not the account feed is connected.
type Reconciler struct {
	engine   *Engine
	gw       Gateway
	symbol   string
	interval time.Duration
	metrics  *obs.Metrics
}

// NewReconciler creates a reconciler over the given engine and gateway.
func NewReconciler(engine *Engine, gw Gateway, symbol string, interval time.Duration, metrics *obs.Metrics) *Reconciler {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Reconciler{
		engine:   engine,
		gw:       gw,
		symbol:   symbol,
		interval: interval,
		metrics:  metrics,
	}
}

// Run reconciles on a fixed period until the context is done.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sys.Shutdown():
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Cycle(ctx)
		}
	}
}

// Cycle performs one reconciliation pass. A failed query skips the cycle:
// clearing local state is only correct when the venue actually answered,
// never on a transient transport error.
func (r *Reconciler) Cycle(ctx context.Context) {
	started := time.Now()

	position, err := r.gw.QueryPosition(ctx, r.symbol)
	if err != nil {
		r.metrics.IncReconcileSkip()
		logs.Warnf("reconcile: query position failed, skipping cycle, err: %+v", err)
		return
	}

	orders, err := r.gw.OpenOrders(ctx, r.symbol)
	if err != nil {
		r.metrics.IncReconcileSkip()
		logs.Warnf("reconcile: query open orders failed, skipping cycle, err: %+v", err)
		return
	}

	r.engine.ApplyReconcile(position, orders)
	r.metrics.IncReconcileOK()
	r.metrics.ObserveReconcile(time.Since(started))
}
