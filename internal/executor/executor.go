// Package executor implements TradeExecutor (spec §4.6): the single-buy
// operation with fingerprint-level duplicate prevention and distributed
// lock acquisition. Grounded on the per-key single-writer pattern of
// internal/normalization.Runner, generalized from per-candidate
// normalization into a per-token buy lock with both an in-process guard
// and a pluggable DistLock.
package executor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"mindmaptrader/internal/apperrors"
	"mindmaptrader/internal/domain"
	"mindmaptrader/internal/observability"
	"mindmaptrader/internal/position"
	"mindmaptrader/internal/swap"
)

const lockTTL = 60 * time.Second
const buyTimeout = 30 * time.Second
const defaultSlippage = 0.01

// BalanceChecker validates that amount is available to spend, whether
// against a real wallet or the paper-trading ledger.
type BalanceChecker interface {
	CheckBalance(ctx context.Context, amount float64) (bool, error)
}

// PaperLedger performs the debit/credit legs of a simulated buy against
// internal/paperledger.Ledger (spec §4.8: PaperLedger is "substitute
// balance-keeping and execution for dry runs", not balance-check-only).
// Only consulted when the Executor is in simulation mode.
type PaperLedger interface {
	Withdraw(token domain.TokenId, amount float64) error
	Deposit(token domain.TokenId, amount float64)
}

// PostBuyHook lets the caller (Orchestrator) react to a successful buy
// without TradeExecutor owning the processed-set/mindmap-cache state
// itself (spec §4.6 step 5).
type PostBuyHook interface {
	OnBuySuccess(token domain.TokenId)
}

// RiskConfig carries the exit configuration a new position is opened
// with (spec §6 risk.*).
type RiskConfig struct {
	TakeProfitPct         *float64
	StopLossPct           *float64
	TrailingStopPct       *float64
	TrailingStopEnabled   bool
	MaxHoldMinutes        *float64
}

func (r RiskConfig) sellConditions() domain.SellConditions {
	sc := domain.SellConditions{
		TakeProfitPct:  r.TakeProfitPct,
		StopLossPct:    r.StopLossPct,
		MaxHoldMinutes: r.MaxHoldMinutes,
	}
	if r.TrailingStopEnabled {
		sc.TrailingStopPct = r.TrailingStopPct
	}
	return sc
}

// Executor is the TradeExecutor.
type Executor struct {
	store    *position.Store
	backend  swap.Backend
	balances BalanceChecker
	lock     DistLock
	fees     *feeCalculator
	hook     PostBuyHook
	logger   *log.Logger

	inProcMu sync.Mutex
	inProc   map[domain.TokenId]struct{}

	isSimulation bool
	ledger       PaperLedger
	nativeQuote  domain.TokenId
	metrics      *observability.Metrics
}

// WithSimulation marks every position this Executor opens as a
// simulation position (spec §3 Position.isSimulation), for wiring
// against internal/paperledger instead of a real wallet. Returns the
// same Executor for chaining at construction time.
func (e *Executor) WithSimulation(sim bool) *Executor {
	e.isSimulation = sim
	return e
}

// WithPaperLedger wires the PaperLedger execution legs into Buy: on a
// successful simulated buy, amount is withdrawn from nativeQuote and
// the received tokens are deposited, instead of leaving the ledger
// static after the initial balance check (spec §4.8).
func (e *Executor) WithPaperLedger(ledger PaperLedger, nativeQuote domain.TokenId) *Executor {
	e.ledger = ledger
	e.nativeQuote = nativeQuote
	return e
}

// WithMetrics attaches a Prometheus metrics sink.
func (e *Executor) WithMetrics(m *observability.Metrics) *Executor {
	e.metrics = m
	return e
}

// New creates an Executor.
func New(store *position.Store, backend swap.Backend, balances BalanceChecker, lock DistLock, fees FeeSampler, hook PostBuyHook, logger *log.Logger) *Executor {
	return &Executor{
		store:    store,
		backend:  backend,
		balances: balances,
		lock:     lock,
		fees:     newFeeCalculator(fees),
		hook:     hook,
		logger:   logger,
		inProc:   make(map[domain.TokenId]struct{}),
	}
}

// Buy executes TradeExecutor.buy (spec §4.6).
func (e *Executor) Buy(ctx context.Context, token domain.TokenId, agent domain.ActorId, amount float64, risk RiskConfig, prediction *domain.PredictionOutcome) (*domain.Position, error) {
	if e.metrics != nil {
		e.metrics.BuyAttempts.Inc()
	}

	if !e.tryInProcessGuard(token) {
		if e.metrics != nil {
			e.metrics.BuyDuplicates.Inc()
		}
		return nil, apperrors.ErrDuplicate
	}
	defer e.releaseInProcessGuard(token)

	if !e.lock.Acquire(token, lockTTL) {
		if e.metrics != nil {
			e.metrics.BuyDuplicates.Inc()
		}
		return nil, apperrors.ErrDuplicate
	}
	defer e.lock.Release(token)

	if e.store.HasOpenPosition(agent, token) {
		if e.metrics != nil {
			e.metrics.BuyDuplicates.Inc()
		}
		return nil, apperrors.ErrDuplicate
	}

	ok, err := e.balances.CheckBalance(ctx, amount)
	if err != nil {
		e.recordBuyFailure()
		return nil, apperrors.TradeExec("balance check failed", err)
	}
	if !ok {
		e.recordBuyFailure()
		return nil, apperrors.TradeExec("insufficient balance", nil)
	}

	fee, err := e.fees.compute(ctx)
	if err != nil {
		e.recordBuyFailure()
		return nil, apperrors.TradeExec("priority fee calculation failed", err)
	}
	if e.metrics != nil {
		e.metrics.PriorityFeeApplied.Set(fee)
	}

	buyCtx, cancel := context.WithTimeout(ctx, buyTimeout)
	defer cancel()

	start := time.Now()
	result, err := e.backend.Buy(buyCtx, token, amount, defaultSlippage, fee)
	if e.metrics != nil {
		e.metrics.BuyLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		e.recordBuyFailure()
		return nil, apperrors.TradeExec("swap backend buy failed", err)
	}
	if !result.Success {
		e.recordBuyFailure()
		return nil, apperrors.TradeExec("swap backend reported failure: "+result.Message, nil)
	}

	var buyTxID *string
	if result.TxID != "" {
		id := result.TxID
		buyTxID = &id
	}

	if e.isSimulation && e.ledger != nil {
		if err := e.ledger.Withdraw(e.nativeQuote, amount); err != nil {
			e.recordBuyFailure()
			return nil, apperrors.TradeExec("paper ledger withdraw failed", err)
		}
		e.ledger.Deposit(token, result.Amount)
	}

	pos := e.store.CreateOpen(position.CreateOpenParams{
		AgentID:        agent,
		TokenMint:      token,
		IsSimulation:   e.isSimulation,
		Prediction:     prediction,
		EntryPrice:     result.ExecutionPrice,
		EntryAmount:    result.Amount,
		BuyTxID:        buyTxID,
		SellConditions: risk.sellConditions(),
	})

	if e.hook != nil {
		e.hook.OnBuySuccess(token)
	}

	if e.metrics != nil {
		e.metrics.BuySuccesses.Inc()
	}
	return pos, nil
}

func (e *Executor) recordBuyFailure() {
	if e.metrics != nil {
		e.metrics.BuyFailures.Inc()
	}
}

func (e *Executor) tryInProcessGuard(token domain.TokenId) bool {
	e.inProcMu.Lock()
	defer e.inProcMu.Unlock()
	if _, held := e.inProc[token]; held {
		return false
	}
	e.inProc[token] = struct{}{}
	return true
}

func (e *Executor) releaseInProcessGuard(token domain.TokenId) {
	e.inProcMu.Lock()
	defer e.inProcMu.Unlock()
	delete(e.inProc, token)
}

// IsDuplicate reports whether err indicates a rejected duplicate buy.
func IsDuplicate(err error) bool {
	return errors.Is(err, apperrors.ErrDuplicate)
}
