// Package watcher implements PositionWatcher (spec §4.7): the
// continuous loop that updates running high/low, steps the trailing
// stop, evaluates exit conditions, and closes positions via the swap
// backend. The stepped trailing-stop state machine is grounded on
// internal/strategy.TrailingStopStrategy's peak/stop/target
// bookkeeping, lifted from a single backtest pass over history into a
// live, tick-driven state machine carried on the Position itself.
package watcher

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"mindmaptrader/internal/domain"
	"mindmaptrader/internal/observability"
	"mindmaptrader/internal/position"
	"mindmaptrader/internal/pricecache"
	"mindmaptrader/internal/swap"
)

const (
	tickPeriod      = 100 * time.Millisecond
	heartbeatPeriod = 60 * time.Second
	sellTimeout     = 30 * time.Second
	defaultSlippage = 0.01
	defaultFee      = 0.0001
)

// PaperLedger performs the debit/credit legs of a simulated sell
// against internal/paperledger.Ledger (spec §4.8: PaperLedger is
// "substitute balance-keeping and execution for dry runs"). Only
// consulted for positions with isSimulation set.
type PaperLedger interface {
	Withdraw(token domain.TokenId, amount float64) error
	Deposit(token domain.TokenId, amount float64)
}

// Watcher is the PositionWatcher.
type Watcher struct {
	store   *position.Store
	cache   *pricecache.Cache
	backend swap.Backend
	logger  *log.Logger

	mu       sync.Mutex
	inFlight map[domain.PositionId]struct{}

	ledger      PaperLedger
	nativeQuote domain.TokenId
	metrics     *observability.Metrics
}

// New creates a Watcher.
func New(store *position.Store, cache *pricecache.Cache, backend swap.Backend, logger *log.Logger) *Watcher {
	return &Watcher{
		store:    store,
		cache:    cache,
		backend:  backend,
		logger:   logger,
		inFlight: make(map[domain.PositionId]struct{}),
	}
}

// WithMetrics attaches a Prometheus metrics sink.
func (w *Watcher) WithMetrics(m *observability.Metrics) *Watcher {
	w.metrics = m
	return w
}

// WithPaperLedger wires the PaperLedger execution legs into sell: on a
// successful sell of a simulation position, the sold token amount is
// withdrawn and the proceeds are deposited into nativeQuote, instead of
// leaving the ledger untouched after the buy-time balance check
// (spec §4.8).
func (w *Watcher) WithPaperLedger(ledger PaperLedger, nativeQuote domain.TokenId) *Watcher {
	w.ledger = ledger
	w.nativeQuote = nativeQuote
	return w
}

// Run drives the 100ms tick loop and the 60s heartbeat until ctx is
// cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()
	heartbeat := time.NewTicker(heartbeatPeriod)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			start := time.Now()
			w.tick(ctx)
			if w.metrics != nil {
				w.metrics.WatcherTickDuration.Observe(time.Since(start).Seconds())
				w.metrics.LastWatcherTick.SetToCurrentTime()
			}
		case <-heartbeat.C:
			open := w.store.ListOpen(nil)
			w.logger.Printf("heartbeat: %d open positions", len(open))
		}
	}
}

// tick runs one PositionWatcher iteration (spec §4.7).
func (w *Watcher) tick(ctx context.Context) {
	open := w.store.ListOpen(nil)
	for _, pos := range open {
		w.cache.AddInterest(pos.TokenMint, pricecache.InterestTTL)
	}

	for _, pos := range open {
		if !w.startProcessing(pos.ID) {
			continue
		}
		w.evaluate(ctx, pos)
		w.stopProcessing(pos.ID)
	}
}

func (w *Watcher) startProcessing(id domain.PositionId) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.inFlight[id]; ok {
		return false
	}
	w.inFlight[id] = struct{}{}
	return true
}

func (w *Watcher) stopProcessing(id domain.PositionId) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inFlight, id)
}

// evaluate runs steps (a)-(g) of spec §4.7 for one open position.
func (w *Watcher) evaluate(ctx context.Context, pos *domain.Position) {
	// (a) Max-hold short-circuit: runs before price fetch so stale
	// pricing cannot delay a time-based exit.
	if pos.SellConditions.MaxHoldMinutes != nil {
		elapsed := time.Since(pos.OpenedAt).Minutes()
		if elapsed >= *pos.SellConditions.MaxHoldMinutes {
			price := pos.CurrentPrice
			reason := domain.SellReasonMaxHold
			w.sell(ctx, pos, price, &reason)
			return
		}
	}

	// (b) Fetch current price; force-close on a sticky pricing error.
	price, ok := w.cache.GetPrice(pos.TokenMint)
	if !ok {
		if w.cache.HasError(pos.TokenMint) {
			reason := domain.SellReasonPricingError
			w.forceClose(pos, 0, &reason)
		}
		return
	}

	// (c) Update high/low/current on the position (monotonic, I6).
	w.store.UpdatePrice(pos.ID, price)
	refreshed, ok := w.store.Get(pos.ID)
	if !ok || refreshed.Status != domain.StatusOpen {
		return
	}
	pos = refreshed

	// (d) Stepped trailing-stop state machine.
	stepTrailingStop(pos, price)
	w.store.Replace(pos)

	// (f) Exit evaluation, first match wins.
	reason := evaluateExit(pos, price)
	if reason == nil {
		return
	}

	w.sell(ctx, pos, price, reason)
}

// stepTrailingStop advances sellConditions.stepLevel/currStopPrice/
// nextTargetPrice per spec §4.7(d). Requires both takeProfitPct and
// trailingStopPct to be configured.
func stepTrailingStop(pos *domain.Position, price float64) {
	sc := &pos.SellConditions
	if sc.TakeProfitPct == nil || sc.TrailingStopPct == nil || pos.EntryPrice == 0 {
		return
	}

	pctChange := pos.PctChange(price)

	if !sc.TrailingStopActivated {
		if pctChange >= *sc.TakeProfitPct {
			sc.TrailingStopActivated = true
			sc.StepLevel = 1
			stop := price * (1 - *sc.TrailingStopPct/100)
			target := price * (1 + *sc.TakeProfitPct/100)
			sc.CurrStopPrice = &stop
			sc.NextTargetPrice = &target
		}
		return
	}

	if sc.NextTargetPrice != nil && price >= *sc.NextTargetPrice {
		sc.StepLevel++
		stop := price * (1 - *sc.TrailingStopPct/100)
		target := price * (1 + *sc.TakeProfitPct/100)
		sc.CurrStopPrice = &stop
		sc.NextTargetPrice = &target
	}
}

// evaluateExit applies the first-match-wins order from spec §4.7(f).
func evaluateExit(pos *domain.Position, price float64) *string {
	sc := pos.SellConditions
	pctChange := pos.PctChange(price)

	// Compared as a price threshold so a price exactly at the stop
	// (e.g. 0.80 on entry 1.00 with a 20% stop) is not missed by the
	// rounding in pctChange.
	if sc.StopLossPct != nil && pos.EntryPrice != 0 && price <= pos.EntryPrice*(1-*sc.StopLossPct/100) {
		reason := domain.SellReasonStopLoss
		return &reason
	}

	if sc.TakeProfitPct != nil && sc.TrailingStopPct == nil && pctChange >= *sc.TakeProfitPct {
		reason := domain.SellReasonTakeProfit
		return &reason
	}

	if sc.TrailingStopActivated && sc.CurrStopPrice != nil && price <= *sc.CurrStopPrice {
		reason := domain.SellReasonSteppedStop
		return &reason
	}

	if sc.TrailingStopPct != nil && sc.TakeProfitPct == nil && pos.HighestPrice > 0 {
		dropPct := (price - pos.HighestPrice) / pos.HighestPrice * 100
		if dropPct <= -*sc.TrailingStopPct {
			reason := domain.SellReasonTrailingStop
			return &reason
		}
	}

	return nil
}

// sell executes the swap-and-close step (spec §4.7(g)).
func (w *Watcher) sell(ctx context.Context, pos *domain.Position, price float64, reason *string) {
	sellCtx, cancel := context.WithTimeout(ctx, sellTimeout)
	defer cancel()

	if w.metrics != nil {
		label := "unknown"
		if reason != nil {
			label = *reason
		}
		w.metrics.SellAttempts.WithLabelValues(label).Inc()
	}

	start := time.Now()
	result, err := w.backend.Sell(sellCtx, pos.TokenMint, pos.EntryAmount, defaultSlippage, defaultFee)
	if w.metrics != nil {
		w.metrics.SellLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if isNoBalance(err.Error()) {
			w.forceClose(pos, 0, reason)
		} else {
			w.logger.Printf("sell failed for position %s, will retry next tick: %v", pos.ID, err)
		}
		return
	}
	if !result.Success {
		if isNoBalance(result.Message) {
			w.forceClose(pos, 0, reason)
		} else {
			w.logger.Printf("sell rejected for position %s, will retry next tick: %s", pos.ID, result.Message)
		}
		return
	}

	var txID *string
	if result.TxID != "" {
		id := result.TxID
		txID = &id
	}

	if pos.IsSimulation && w.ledger != nil {
		if err := w.ledger.Withdraw(pos.TokenMint, result.Amount); err != nil {
			w.logger.Printf("paper ledger withdraw failed for position %s: %v", pos.ID, err)
		} else {
			w.ledger.Deposit(w.nativeQuote, result.ExecutionPrice*result.Amount)
		}
	}

	if _, err := w.store.Close(pos.ID, result.ExecutionPrice, result.Amount, txID, reason); err != nil {
		w.logger.Printf("close failed for already-sold position %s: %v", pos.ID, err)
	}
}

// forceClose breaks the retry loop for a persistent error condition
// (spec §4.7(g), §7 policy).
func (w *Watcher) forceClose(pos *domain.Position, exitPrice float64, reason *string) {
	if _, err := w.store.Close(pos.ID, exitPrice, pos.EntryAmount, nil, reason); err != nil {
		w.logger.Printf("force-close failed for position %s: %v", pos.ID, err)
		return
	}
	if w.metrics != nil {
		w.metrics.ForceCloses.Inc()
	}
}

func isNoBalance(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "no balance") || strings.Contains(lower, "insufficient funds")
}
