package admission

import (
	"context"
	"testing"
	"time"

	"mindmaptrader/internal/domain"
)

func snapshotWithActors(n int, influence, volume float64, recent bool) *domain.MindmapSnapshot {
	snap := domain.NewMindmapSnapshot("tok", time.Now())
	lastTrade := time.Now()
	if !recent {
		lastTrade = time.Now().Add(-10 * time.Minute)
	}
	for i := 0; i < n; i++ {
		id := domain.ActorId(string(rune('a' + i)))
		snap.ActorConnections[id] = &domain.ActorConnection{
			TradeCount:     1,
			TotalVolume:    volume,
			LastTradeTime:  lastTrade,
			InfluenceScore: influence,
			TradeKinds:     map[domain.TradeKind]struct{}{domain.TradeKindBuy: {}},
		}
	}
	return snap
}

func TestFilterEngineRejectsNativeQuote(t *testing.T) {
	fe := NewFilterEngine(FilterConfig{}, "NATIVE", nil, nil, nil)
	snap := snapshotWithActors(1, 100, 100, true)
	res := fe.Evaluate(context.Background(), "NATIVE", snap)
	if res.Passed {
		t.Fatalf("expected native-quote token to be rejected")
	}
}

func TestFilterEngineZeroConnectionsBoundary(t *testing.T) {
	fe := NewFilterEngine(FilterConfig{MinInfluenceScore: 1}, "NATIVE", nil, nil, nil)
	snap := domain.NewMindmapSnapshot("tok", time.Now())
	res := fe.Evaluate(context.Background(), "tok", snap)
	if res.Metrics.AvgInfluence != 0 || res.Metrics.ConsensusScore != 0 {
		t.Errorf("expected zero avgInfluence/consensusScore with no connections, got %+v", res.Metrics)
	}
	if res.Passed {
		t.Errorf("expected rejection on the influence floor with zero connections")
	}
}

// S4 — Viral override.
func TestFilterEngineViralOverride(t *testing.T) {
	minViral := 5
	cfg := FilterConfig{
		MinTradeVolume:     10000,
		MinConnectedActors: 5,
		MinInfluenceScore:  50,
		MinViralVelocity:   &minViral,
	}
	fe := NewFilterEngine(cfg, "NATIVE", nil, nil, nil)
	snap := snapshotWithActors(5, 60, 100, true) // totalVolume=500 < 10000

	res := fe.Evaluate(context.Background(), "tok", snap)
	if !res.Passed {
		t.Fatalf("expected viral override to pass despite low volume, got reason=%q", res.Reason)
	}
	if !res.HasSignal(domain.SignalViralSpike) {
		t.Errorf("expected VIRAL_SPIKE signal")
	}
}

type stubLiquidityProvider struct {
	liquidity float64
	err       error
}

func (s stubLiquidityProvider) Liquidity(context.Context, domain.TokenId) (float64, error) {
	return s.liquidity, s.err
}

func TestFilterEngineRejectsBelowLiquidityFloor(t *testing.T) {
	minLiquidity := 5000.0
	cfg := FilterConfig{MinInfluenceScore: 1, MinLiquidityUsd: &minLiquidity}
	fe := NewFilterEngine(cfg, "NATIVE", nil, nil, stubLiquidityProvider{liquidity: 1000})
	snap := snapshotWithActors(1, 100, 100, true)

	res := fe.Evaluate(context.Background(), "tok", snap)
	if res.Passed {
		t.Fatalf("expected rejection when liquidity is below the configured floor")
	}
	if res.Reason != "on-chain verification failed" {
		t.Errorf("expected on-chain verification failure reason, got %q", res.Reason)
	}
}

func TestFilterEnginePassesAboveLiquidityFloor(t *testing.T) {
	minLiquidity := 5000.0
	cfg := FilterConfig{MinInfluenceScore: 1, MinLiquidityUsd: &minLiquidity}
	fe := NewFilterEngine(cfg, "NATIVE", nil, nil, stubLiquidityProvider{liquidity: 10000})
	snap := snapshotWithActors(1, 100, 100, true)

	res := fe.Evaluate(context.Background(), "tok", snap)
	if !res.Passed {
		t.Fatalf("expected pass when liquidity clears the configured floor, got reason=%q", res.Reason)
	}
}

func TestFilterEngineRejectsLiquidityFloorWithoutProvider(t *testing.T) {
	minLiquidity := 5000.0
	cfg := FilterConfig{MinInfluenceScore: 1, MinLiquidityUsd: &minLiquidity}
	fe := NewFilterEngine(cfg, "NATIVE", nil, nil, nil)
	snap := snapshotWithActors(1, 100, 100, true)

	res := fe.Evaluate(context.Background(), "tok", snap)
	if res.Passed {
		t.Fatalf("expected rejection when a liquidity floor is configured without a LiquidityProvider")
	}
}

func TestFilterEngineRejectsBelowThresholdsWithoutSignal(t *testing.T) {
	cfg := FilterConfig{
		MinTradeVolume:     10000,
		MinConnectedActors: 5,
		MinInfluenceScore:  50,
	}
	fe := NewFilterEngine(cfg, "NATIVE", nil, nil, nil)
	snap := snapshotWithActors(5, 60, 100, false) // not recent: no viral signal

	res := fe.Evaluate(context.Background(), "tok", snap)
	if res.Passed {
		t.Fatalf("expected rejection when thresholds unmet and no signal present")
	}
	if res.Reason != "trade volume below threshold" {
		t.Errorf("expected volume rejection reason, got %q", res.Reason)
	}
}
