package domain

import (
	"testing"
	"time"
)

func TestPctChangeZeroEntryPriceNeverDivides(t *testing.T) {
	pos := &Position{EntryPrice: 0}
	if got := pos.PctChange(123.45); got != 0 {
		t.Errorf("expected pctChange=0 for zero entry price, got %v", got)
	}
}

func TestPctChange(t *testing.T) {
	pos := &Position{EntryPrice: 100}
	if got := pos.PctChange(150); got != 50 {
		t.Errorf("expected 50%%, got %v", got)
	}
	if got := pos.PctChange(80); got != -20 {
		t.Errorf("expected -20%%, got %v", got)
	}
}

func TestCloneDeepCopiesPointerFields(t *testing.T) {
	stop := 90.0
	target := 110.0
	tp := 50.0
	orig := &Position{
		EntryPrice: 100,
		SellConditions: SellConditions{
			TakeProfitPct:         &tp,
			TrailingStopActivated: true,
			CurrStopPrice:         &stop,
			NextTargetPrice:       &target,
		},
	}

	clone := orig.Clone()

	// Mutating through the clone's pointers must never affect orig
	// (defensive-copy invariant relied on by concurrent readers).
	*clone.SellConditions.CurrStopPrice = 1
	*clone.SellConditions.TakeProfitPct = 1

	if *orig.SellConditions.CurrStopPrice != 90 {
		t.Errorf("expected orig.CurrStopPrice unaffected by clone mutation, got %v", *orig.SellConditions.CurrStopPrice)
	}
	if *orig.SellConditions.TakeProfitPct != 50 {
		t.Errorf("expected orig.TakeProfitPct unaffected by clone mutation, got %v", *orig.SellConditions.TakeProfitPct)
	}
}

func TestCloneNilPosition(t *testing.T) {
	var p *Position
	if got := p.Clone(); got != nil {
		t.Errorf("expected Clone of nil to return nil, got %+v", got)
	}
}

func TestMindmapSnapshotCloneIsIndependent(t *testing.T) {
	snap := NewMindmapSnapshot("tokenA", time.Now())
	snap.ActorConnections["actor1"] = &ActorConnection{
		TradeCount:  1,
		TotalVolume: 100,
		TradeKinds:  map[TradeKind]struct{}{TradeKindBuy: {}},
	}

	clone := snap.Clone()
	clone.ActorConnections["actor1"].TradeCount = 99
	clone.ActorConnections["actor1"].TradeKinds[TradeKindSell] = struct{}{}

	orig := snap.ActorConnections["actor1"]
	if orig.TradeCount != 1 {
		t.Errorf("expected original snapshot unaffected by clone mutation, got tradeCount=%d", orig.TradeCount)
	}
	if orig.HasTradeKind(TradeKindSell) {
		t.Errorf("expected original tradeKinds set unaffected by clone mutation")
	}
}

func TestFilterResultHasSignalNilSafe(t *testing.T) {
	var r *FilterResult
	if r.HasSignal(SignalViralSpike) {
		t.Errorf("expected nil FilterResult to report no signals")
	}

	r2 := &FilterResult{}
	if r2.HasSignal(SignalViralSpike) {
		t.Errorf("expected zero-value FilterResult to report no signals")
	}
}
