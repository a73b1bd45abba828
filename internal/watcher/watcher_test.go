package watcher

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"mindmaptrader/internal/domain"
	"mindmaptrader/internal/paperledger"
	"mindmaptrader/internal/position"
	"mindmaptrader/internal/pricecache"
	"mindmaptrader/internal/swap"
)

func silentLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func ptr(f float64) *float64 { return &f }

func newTestWatcher() (*Watcher, *position.Store, *pricecache.Cache, *swap.Stub) {
	store := position.New()
	cache := pricecache.New()
	backend := swap.NewStub()
	w := New(store, cache, backend, silentLogger())
	return w, store, cache, backend
}

// S1 — Stepped trailing activation.
func TestSteppedTrailingActivationSequence(t *testing.T) {
	w, store, cache, _ := newTestWatcher()
	pos := store.CreateOpen(position.CreateOpenParams{
		AgentID: "a", TokenMint: "tok", EntryPrice: 100, EntryAmount: 100,
		SellConditions: domain.SellConditions{
			TakeProfitPct:   ptr(50),
			TrailingStopPct: ptr(10),
		},
	})

	step := func(price float64) *domain.Position {
		cache.SetPrice("tok", price, pricecache.PriceTTL)
		w.evaluate(context.Background(), mustGet(t, store, pos.ID))
		return mustGet(t, store, pos.ID)
	}

	p := step(140)
	if p.SellConditions.TrailingStopActivated {
		t.Fatalf("expected inactive after 140, highestPrice=%v", p.HighestPrice)
	}
	if p.HighestPrice != 140 {
		t.Errorf("expected highestPrice=140, got %v", p.HighestPrice)
	}

	p = step(150)
	if !p.SellConditions.TrailingStopActivated || p.SellConditions.StepLevel != 1 {
		t.Fatalf("expected active stepLevel=1 after 150, got %+v", p.SellConditions)
	}
	if *p.SellConditions.CurrStopPrice != 135 || *p.SellConditions.NextTargetPrice != 225 {
		t.Errorf("expected currStop=135 nextTarget=225, got %+v", p.SellConditions)
	}

	p = step(200)
	if p.SellConditions.StepLevel != 1 {
		t.Errorf("expected stepLevel still 1 after 200, got %d", p.SellConditions.StepLevel)
	}

	p = step(230)
	if p.SellConditions.StepLevel != 2 {
		t.Fatalf("expected stepLevel=2 after 230, got %d", p.SellConditions.StepLevel)
	}
	if *p.SellConditions.CurrStopPrice != 207 || *p.SellConditions.NextTargetPrice != 345 {
		t.Errorf("expected currStop=207 nextTarget=345, got %+v", p.SellConditions)
	}

	// Following price of 200 must trigger a "stepped stop" exit.
	p = step(200)
	if p.Status != domain.StatusClosed || p.SellReason == nil || *p.SellReason != domain.SellReasonSteppedStop {
		t.Fatalf("expected stepped stop exit, got status=%s reason=%v", p.Status, p.SellReason)
	}
}

// S2 — Hard stop-loss.
func TestHardStopLoss(t *testing.T) {
	w, store, cache, backend := newTestWatcher()
	pos := store.CreateOpen(position.CreateOpenParams{
		AgentID: "a", TokenMint: "tok", EntryPrice: 1.00, EntryAmount: 100,
		SellConditions: domain.SellConditions{
			StopLossPct:   ptr(20),
			TakeProfitPct: ptr(50),
		},
	})

	backend.SellResults["tok"] = swap.Result{Success: true, ExecutionPrice: 0.80, Amount: 100}
	cache.SetPrice("tok", 0.80, pricecache.PriceTTL)
	w.evaluate(context.Background(), pos)

	closed := mustGet(t, store, pos.ID)
	if closed.Status != domain.StatusClosed || closed.SellReason == nil || *closed.SellReason != domain.SellReasonStopLoss {
		t.Fatalf("expected stop loss exit, got status=%s reason=%v", closed.Status, closed.SellReason)
	}
	wantPnL := 0.80*100 - 1.00*100 // exitValue - entryValue
	if closed.RealizedPnL == nil || *closed.RealizedPnL != wantPnL {
		t.Errorf("expected realizedPnL=%v, got %v", wantPnL, closed.RealizedPnL)
	}
}

// S3 — Max hold.
func TestMaxHoldForcesExitEvenWithoutPrice(t *testing.T) {
	w, store, _, _ := newTestWatcher()
	pos := store.CreateOpen(position.CreateOpenParams{
		AgentID: "a", TokenMint: "tok", EntryPrice: 1, EntryAmount: 10,
		SellConditions: domain.SellConditions{MaxHoldMinutes: ptr(60)},
	})

	// Simulate elapsed time by rewriting openedAt directly in the store.
	aged := pos
	aged.OpenedAt = time.Now().Add(-61 * time.Minute)
	store.Replace(aged)

	w.evaluate(context.Background(), mustGet(t, store, pos.ID))

	closed := mustGet(t, store, pos.ID)
	if closed.Status != domain.StatusClosed || closed.SellReason == nil || *closed.SellReason != domain.SellReasonMaxHold {
		t.Fatalf("expected max-hold exit, got status=%s reason=%v", closed.Status, closed.SellReason)
	}
}

func TestForceCloseOnPersistentPricingError(t *testing.T) {
	w, store, cache, _ := newTestWatcher()
	pos := store.CreateOpen(position.CreateOpenParams{AgentID: "a", TokenMint: "tok", EntryPrice: 1, EntryAmount: 10})

	cache.MarkError("tok", pricecache.ErrorTTL)
	w.evaluate(context.Background(), pos)

	closed := mustGet(t, store, pos.ID)
	if closed.Status != domain.StatusClosed || closed.SellReason == nil || *closed.SellReason != domain.SellReasonPricingError {
		t.Fatalf("expected pricing-error force-close, got status=%s reason=%v", closed.Status, closed.SellReason)
	}
	if closed.ExitPrice == nil || *closed.ExitPrice != 0 {
		t.Errorf("expected exitPrice=0 on pricing-error force-close, got %v", closed.ExitPrice)
	}
}

func TestSellCreditsPaperLedgerForSimulationPosition(t *testing.T) {
	store := position.New()
	cache := pricecache.New()
	backend := swap.NewStub()
	ledger := paperledger.New("SOL", 0)
	ledger.Deposit("tok", 100)

	w := New(store, cache, backend, silentLogger()).WithPaperLedger(ledger, "SOL")

	pos := store.CreateOpen(position.CreateOpenParams{
		AgentID: "a", TokenMint: "tok", IsSimulation: true, EntryPrice: 1.00, EntryAmount: 100,
		SellConditions: domain.SellConditions{StopLossPct: ptr(20)},
	})

	backend.SellResults["tok"] = swap.Result{Success: true, ExecutionPrice: 0.80, Amount: 100}
	cache.SetPrice("tok", 0.80, pricecache.PriceTTL)
	w.evaluate(context.Background(), pos)

	closed := mustGet(t, store, pos.ID)
	if closed.Status != domain.StatusClosed {
		t.Fatalf("expected position to close, got status=%s", closed.Status)
	}

	balances := ledger.GetAll()
	if got := balances["tok"]; got != 0 {
		t.Errorf("expected tok balance debited to 0, got %v", got)
	}
	if got := balances["SOL"]; got != 80 {
		t.Errorf("expected SOL balance credited to 80, got %v", got)
	}
}

func mustGet(t *testing.T, store *position.Store, id domain.PositionId) *domain.Position {
	t.Helper()
	p, ok := store.Get(id)
	if !ok {
		t.Fatalf("expected position %s to exist", id)
	}
	return p
}
