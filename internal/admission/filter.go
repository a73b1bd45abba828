// Package admission implements the AdmissionPipeline (spec §4.4):
// FilterEngine's aggregate-signal threshold gate composed with
// PredictionClient's confidence gate. FilterEngine's itemized
// criterion-list shape is grounded on internal/decision.Evaluator's
// GO/NO-GO CriterionResult pattern, collapsed to one FilterResult.
package admission

import (
	"context"
	"fmt"
	"time"

	"mindmaptrader/internal/domain"
	"mindmaptrader/internal/observability"
	"mindmaptrader/internal/oracle"
)

// FilterConfig carries the filter.* configuration keys (spec §6).
type FilterConfig struct {
	MinTradeVolume     float64
	MinConnectedActors int
	MinInfluenceScore  float64 // [0,100]
	MinTotalTrades     int
	MinViralVelocity   *int
	RequireSmartMoney  bool
	MinConsensusScore  *float64
	MinMarketCapUsd    *float64
	MinLiquidityUsd    *float64
}

// SupplyProvider resolves circulating supply for market-cap checks.
// On-chain supply lookup is a non-goal; this is the seam a real
// implementation plugs into.
type SupplyProvider interface {
	CirculatingSupply(ctx context.Context, token domain.TokenId) (float64, error)
}

// LiquidityProvider resolves pool liquidity for a token, denominated in
// the same quote-asset convention as price (Open Question, resolved in
// DESIGN.md). On-chain liquidity lookup is a non-goal; this is the seam
// a real implementation plugs into.
type LiquidityProvider interface {
	Liquidity(ctx context.Context, token domain.TokenId) (float64, error)
}

// FilterEngine computes aggregate mindmap signals and gates on
// configured thresholds.
type FilterEngine struct {
	cfg        FilterConfig
	nativeQuote domain.TokenId
	oracle     oracle.PriceOracle // optional, for market-cap checks
	supply     SupplyProvider     // optional, for market-cap checks
	liquidity  LiquidityProvider  // optional, for liquidity checks
	metrics    *observability.Metrics
}

// NewFilterEngine creates a FilterEngine. oracle/supply/liquidity may be
// nil when the corresponding on-chain check is not configured.
func NewFilterEngine(cfg FilterConfig, nativeQuote domain.TokenId, priceOracle oracle.PriceOracle, supply SupplyProvider, liquidity LiquidityProvider) *FilterEngine {
	return &FilterEngine{cfg: cfg, nativeQuote: nativeQuote, oracle: priceOracle, supply: supply, liquidity: liquidity}
}

// WithMetrics attaches a Prometheus metrics sink.
func (f *FilterEngine) WithMetrics(m *observability.Metrics) *FilterEngine {
	f.metrics = m
	return f
}

// computeMetrics derives FilterMetrics from a snapshot (spec §4.4).
func computeMetrics(snap *domain.MindmapSnapshot) domain.FilterMetrics {
	var m domain.FilterMetrics
	m.ConnectedActors = len(snap.ActorConnections)
	m.TotalTrades = snap.NetworkMetrics.TotalTrades

	now := time.Now()
	var influenceSum float64
	var buyers int
	for _, c := range snap.ActorConnections {
		m.TotalVolume += c.TotalVolume
		influenceSum += c.InfluenceScore
		m.WeightedVolume += c.TotalVolume * (c.InfluenceScore / 100)
		if c.LastTradeTime.After(now.Add(-60 * time.Second)) {
			m.ViralVelocity++
		}
		if c.HasTradeKind(domain.TradeKindBuy) {
			buyers++
		}
	}
	if m.ConnectedActors > 0 {
		m.AvgInfluence = influenceSum / float64(m.ConnectedActors)
		m.ConsensusScore = 100 * float64(buyers) / float64(m.ConnectedActors)
	}
	return m
}

func computeSignals(cfg FilterConfig, m domain.FilterMetrics) map[domain.Signal]struct{} {
	signals := make(map[domain.Signal]struct{})
	if cfg.MinViralVelocity != nil && m.ViralVelocity >= *cfg.MinViralVelocity {
		signals[domain.SignalViralSpike] = struct{}{}
	}
	if cfg.RequireSmartMoney && m.WeightedVolume > 0.6*m.TotalVolume {
		signals[domain.SignalSmartMoney] = struct{}{}
	}
	if cfg.MinConsensusScore != nil && m.ConsensusScore >= *cfg.MinConsensusScore && m.ConnectedActors >= 3 {
		signals[domain.SignalHighConsensus] = struct{}{}
	}
	return signals
}

// Evaluate runs the full FilterEngine gate for one token/snapshot.
func (f *FilterEngine) Evaluate(ctx context.Context, token domain.TokenId, snap *domain.MindmapSnapshot) domain.FilterResult {
	result := f.evaluate(ctx, token, snap)
	if f.metrics != nil {
		outcome := "reject"
		if result.Passed {
			outcome = "pass"
		}
		f.metrics.FilterEvaluations.WithLabelValues(outcome).Inc()
	}
	return result
}

func (f *FilterEngine) evaluate(ctx context.Context, token domain.TokenId, snap *domain.MindmapSnapshot) domain.FilterResult {
	if token == f.nativeQuote {
		return domain.FilterResult{Passed: false, Reason: "native-quote token is never tradeable"}
	}

	m := computeMetrics(snap)
	signals := computeSignals(f.cfg, m)

	if m.AvgInfluence < f.cfg.MinInfluenceScore {
		return domain.FilterResult{Passed: false, Reason: "influence floor not met", Metrics: m, Signals: signals}
	}

	if len(signals) == 0 {
		if m.TotalVolume < f.cfg.MinTradeVolume {
			return domain.FilterResult{Passed: false, Reason: "trade volume below threshold", Metrics: m, Signals: signals}
		}
		if m.ConnectedActors < f.cfg.MinConnectedActors {
			return domain.FilterResult{Passed: false, Reason: "connected actors below threshold", Metrics: m, Signals: signals}
		}
		if m.TotalTrades < f.cfg.MinTotalTrades {
			return domain.FilterResult{Passed: false, Reason: "total trades below threshold", Metrics: m, Signals: signals}
		}
	}

	if f.cfg.MinMarketCapUsd != nil || f.cfg.MinLiquidityUsd != nil {
		if err := f.checkOnChain(ctx, token); err != nil {
			return domain.FilterResult{Passed: false, Reason: "on-chain verification failed", Metrics: m, Signals: signals}
		}
	}

	return domain.FilterResult{Passed: true, Metrics: m, Signals: signals}
}

// checkOnChain resolves a quote-asset-denominated market cap (price ×
// circulating supply) and/or pool liquidity and compares each against
// its configured floor. The price-unit convention is quote-asset, not
// USD (Open Question, resolved per DESIGN.md): a USD conversion would
// need a second oracle this engine does not have a contract for. Per
// spec §9, a configured floor whose convention cannot be applied
// (missing collaborator, fetch failure) rejects rather than passing
// silently.
func (f *FilterEngine) checkOnChain(ctx context.Context, token domain.TokenId) error {
	if f.cfg.MinMarketCapUsd != nil {
		if f.oracle == nil || f.supply == nil {
			return fmt.Errorf("market cap check configured without an oracle+supply provider")
		}
		resolved, missing, err := f.oracle.FastBatchA(ctx, []domain.TokenId{token})
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return fmt.Errorf("price unavailable for %s", token)
		}
		price := resolved[token].Price

		supply, err := f.supply.CirculatingSupply(ctx, token)
		if err != nil {
			return err
		}

		marketCap := price * supply
		if marketCap < *f.cfg.MinMarketCapUsd {
			return fmt.Errorf("market cap %.4f below floor %.4f", marketCap, *f.cfg.MinMarketCapUsd)
		}
	}

	if f.cfg.MinLiquidityUsd != nil {
		if f.liquidity == nil {
			return fmt.Errorf("liquidity check configured without a liquidity provider")
		}
		liquidity, err := f.liquidity.Liquidity(ctx, token)
		if err != nil {
			return err
		}
		if liquidity < *f.cfg.MinLiquidityUsd {
			return fmt.Errorf("liquidity %.4f below floor %.4f", liquidity, *f.cfg.MinLiquidityUsd)
		}
	}

	return nil
}
