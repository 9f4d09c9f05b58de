package maker

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"main/internal/book"
	"main/internal/bus"
	"main/internal/config"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/obs"
	"main/internal/quote"
	"main/internal/risk"
	"main/internal/stream"
	"main/pkg/exception"
)

const (
	eventQueueCap          = 1024
	rewardsRefreshInterval = time.Minute
)

// Gateway is the full venue surface the engine host consumes.
type Gateway interface {
	quote.Gateway
	QueryRewards(ctx context.Context) (model.Rewards, error)
}

// Engine is the explicit handle the host owns: Initialize loads starting
// state from the venue, Run drives the reactive loop until Stop, and
// Status is a read-only snapshot for display. No module-level singletons.
type Engine struct {
	cfg     config.Strategy
	gw      Gateway
	price   *stream.Price
	account *stream.Account

	book    *book.State
	quote   *quote.Engine
	recon   *quote.Reconciler
	queue   *bus.Queue
	metrics *obs.Metrics

	mu          sync.Mutex
	initialized bool
	running     bool
	accountUp   bool
	priceUp     bool
	startedAt   time.Time
	lastErr     error
	rewards     model.Rewards
	hasRewards  bool
	stop        context.CancelFunc
}

// New wires an engine from its collaborators.
func New(cfg config.Strategy, gw Gateway, price *stream.Price, account *stream.Account) *Engine {
	metrics := obs.NewMetrics()
	b := book.New(cfg.VolatilityWindow)
	rk := risk.NewEngine(risk.Config{
		KillSwitch:             cfg.KillSwitch,
		MaxPosition:            cfg.MaxPosition,
		VolatilityThresholdBps: cfg.VolatilityThresholdBps,
	})
	qe := quote.NewEngine(cfg, b, gw, rk, metrics)

	return &Engine{
		cfg:     cfg,
		gw:      gw,
		price:   price,
		account: account,
		book:    b,
		quote:   qe,
		recon:   quote.NewReconciler(qe, gw, cfg.Symbol, cfg.ReconcileInterval, metrics),
		queue:   bus.NewQueue(eventQueueCap),
		metrics: metrics,
	}
}

// Initialize loads the starting position and open orders from the venue.
// Local belief is rebuilt from venue truth on every startup, never from a
// previous run.
func (e *Engine) Initialize(ctx context.Context) error {
	position, err := e.gw.QueryPosition(ctx, e.cfg.Symbol)
	if err != nil {
		return err
	}
	orders, err := e.gw.OpenOrders(ctx, e.cfg.Symbol)
	if err != nil {
		return err
	}
	e.quote.ApplyReconcile(position, orders)

	// points query is display-only; a failure here is ignorable
	if rewards, err := e.gw.QueryRewards(ctx); err != nil {
		logs.Warnf("query rewards failed, err: %+v", err)
	} else {
		e.setRewards(rewards)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.initialized = true
	return nil
}

// Run begins the reactive loop and blocks until Stop or a fatal startup
// error. The account feed failing to connect is not fatal: the engine
// degrades to price feed plus reconciler polling.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return exception.ErrEngineNotInitialized
	}
	if e.running {
		e.mu.Unlock()
		return exception.ErrEngineAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.startedAt = time.Now()
	e.stop = cancel
	e.mu.Unlock()

	defer e.shutdown()

	if err := e.price.StartWebsocket(runCtx); err != nil {
		e.setErr(err)
		return err
	}
	if err := e.price.SubscribePrice(runCtx, e.cfg.Symbol); err != nil {
		e.setErr(err)
		return err
	}
	e.setPriceUp(true)

	if err := e.startAccountFeed(runCtx); err != nil {
		logs.Warnf("account feed unavailable, running on price feed and reconciler only, err: %+v", err)
	}

	e.price.ObservePrice(runCtx, func(p stream.PriceUpdate) {
		if p.Symbol != e.cfg.Symbol {
			return
		}
		e.publish(bus.Event{
			Type:   bus.EventPriceUpdated,
			Price:  p.LastPrice,
			RecvAt: time.Now(),
		})
	})

	go e.recon.Run(runCtx)
	go e.refreshRewards(runCtx)

	logs.Infof("maker engine running, symbol: %s", e.cfg.Symbol)
	e.loop(runCtx)
	return nil
}

// Stop requests a graceful shutdown; Run returns after the sequence in
// shutdown completes. Safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	stop := e.stop
	e.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (e *Engine) startAccountFeed(ctx context.Context) error {
	if err := e.account.StartWebsocketAndAuth(ctx); err != nil {
		return err
	}
	if err := e.account.SubscribeOrders(ctx, e.cfg.Symbol); err != nil {
		return err
	}
	if err := e.account.SubscribePositions(ctx, e.cfg.Symbol); err != nil {
		return err
	}

	e.account.ObserveOrder(ctx, func(o stream.OrderUpdate) {
		if o.Symbol != e.cfg.Symbol {
			return
		}
		e.publish(bus.Event{
			Type: bus.EventOrderUpdated,
			Order: model.OrderEvent{
				ClOrdID:   o.ClOrdID,
				Side:      enum.ParseSide(o.Side),
				Status:    enum.ParseOrderStatus(o.Status),
				Price:     o.Price,
				Quantity:  o.Qty,
				FilledQty: o.FilledQty,
				EventTsMs: o.Time,
			},
			RecvAt: time.Now(),
		})
	})
	e.account.ObservePosition(ctx, func(p stream.PositionUpdate) {
		if p.Symbol != e.cfg.Symbol {
			return
		}
		e.publish(bus.Event{
			Type:     bus.EventPositionUpdated,
			Position: model.Position{Quantity: p.Qty, UnrealizedPnL: p.UPnL},
			RecvAt:   time.Now(),
		})
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	e.accountUp = true
	return nil
}

// loop is the single decision goroutine: it applies stream events in
// arrival order and runs an evaluation pass, rate-limited except when an
// order slot is freed, which re-quotes immediately.
func (e *Engine) loop(ctx context.Context) {
	var lastEval time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.book.Freed():
			e.quote.Evaluate(ctx)
			lastEval = time.Now()
		case ev, ok := <-e.queue.C():
			if !ok {
				return
			}
			e.applyEvent(ev)
			if time.Since(lastEval) >= e.cfg.EvalMinInterval {
				e.quote.Evaluate(ctx)
				lastEval = time.Now()
			}
		}
	}
}

func (e *Engine) applyEvent(ev bus.Event) {
	e.metrics.ObserveEvent(ev.Type)
	switch ev.Type {
	case bus.EventPriceUpdated:
		e.book.RecordPrice(model.PriceSample{At: ev.RecvAt, Price: ev.Price})
	case bus.EventOrderUpdated:
		e.quote.ApplyOrderEvent(ev.Order)
	case bus.EventPositionUpdated:
		e.quote.ApplyPosition(ev.Position)
	}
}

func (e *Engine) publish(ev bus.Event) {
	if err := e.queue.TryPublish(ev); err != nil {
		e.metrics.IncQueueDrop()
		logs.Warnf("drop %s event, err: %+v", ev.Type, err)
	}
}

// shutdown runs the ordered sequence: stop placing, cancel resting orders,
// close both streams. Every step is attempted even when an earlier one
// fails; failures are logged, never fatal to shutdown.
func (e *Engine) shutdown() {
	e.quote.StopPlacing()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.quote.CancelAll(ctx); err != nil {
		logs.Errorf("cancel resting orders on shutdown, err: %+v", err)
	}

	e.price.Close()
	e.account.Close()
	e.queue.Close()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	e.priceUp = false
	e.accountUp = false
	e.stop = nil
	logs.Info("maker engine stopped")
}

func (e *Engine) refreshRewards(ctx context.Context) {
	ticker := time.NewTicker(rewardsRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rewards, err := e.gw.QueryRewards(ctx)
			if err != nil {
				logs.Debugf("refresh rewards failed, err: %+v", err)
				continue
			}
			e.setRewards(rewards)
		}
	}
}

func (e *Engine) setRewards(r model.Rewards) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rewards = r
	e.hasRewards = true
}

func (e *Engine) setErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastErr = err
}

func (e *Engine) setPriceUp(up bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.priceUp = up
}

// Status is a read-only snapshot of the engine for display.
type Status struct {
	Running          bool
	Initialized      bool
	PriceConnected   bool
	AccountConnected bool
	StartedAt        time.Time

	LastPrice decimal.Decimal
	HasPrice  bool
	Position  model.Position
	Buy       *model.Order
	Sell      *model.Order
	BuyState  string
	SellState string

	Rewards    model.Rewards
	HasRewards bool

	LastError string
	Metrics   obs.Snapshot
}

// Status returns the current engine snapshot.
func (e *Engine) Status() Status {
	snap := e.book.Snapshot()
	buyState, sellState := e.quote.SideStates()

	e.mu.Lock()
	defer e.mu.Unlock()

	// a feed whose observe loops exited mid-run is down even though it
	// started cleanly
	status := Status{
		Running:          e.running,
		Initialized:      e.initialized,
		PriceConnected:   e.priceUp && e.price.Alive(),
		AccountConnected: e.accountUp && e.account.Alive(),
		StartedAt:        e.startedAt,
		LastPrice:        snap.Last,
		HasPrice:         snap.HasLast,
		Position:         snap.Position,
		Buy:              snap.Buy,
		Sell:             snap.Sell,
		BuyState:         buyState.String(),
		SellState:        sellState.String(),
		Rewards:          e.rewards,
		HasRewards:       e.hasRewards,
		Metrics:          e.metrics.Snapshot(),
	}
	if e.lastErr != nil {
		status.LastError = e.lastErr.Error()
	}
	return status
}
