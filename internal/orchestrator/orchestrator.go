// Package orchestrator implements the Orchestrator (spec §4.5): the
// reactive handler for inbound MindmapUpdate and ActorTradeUpdate
// events. Keeps the teacher package's name and four-phase shape,
// repurposed from the teacher's batch normalize/simulate/aggregate/
// report pipeline into an event-driven admit-then-buy loop.
package orchestrator

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"mindmaptrader/internal/admission"
	"mindmaptrader/internal/domain"
	"mindmaptrader/internal/events"
	"mindmaptrader/internal/executor"
)

// RunResult summarizes one Orchestrator.Run invocation, in the spirit
// of the teacher's batch pipeline RunResult, repurposed to count
// event-handling outcomes instead of batch-stage counts.
type RunResult struct {
	MindmapUpdatesHandled int
	TradeUpdatesHandled   int
	BuysAttempted         int
	BuysApproved          int
}

// Orchestrator ties the inbound event stream to AdmissionPipeline and
// TradeExecutor.
type Orchestrator struct {
	stream   events.Stream
	pipeline *admission.Pipeline
	exec     *executor.Executor
	risk     executor.RiskConfig
	buyAmt   float64
	nativeQ  domain.TokenId
	logger   *log.Logger

	mu        sync.Mutex
	snapshots map[domain.TokenId]*domain.MindmapSnapshot
	processed map[domain.TokenId]struct{}

	result RunResult
}

// New creates an Orchestrator.
func New(stream events.Stream, pipeline *admission.Pipeline, exec *executor.Executor, risk executor.RiskConfig, buyAmount float64, nativeQuote domain.TokenId, logger *log.Logger) *Orchestrator {
	return &Orchestrator{
		stream:    stream,
		pipeline:  pipeline,
		exec:      exec,
		risk:      risk,
		buyAmt:    buyAmount,
		nativeQ:   nativeQuote,
		logger:    logger,
		snapshots: make(map[domain.TokenId]*domain.MindmapSnapshot),
		processed: make(map[domain.TokenId]struct{}),
	}
}

// Run subscribes to the inbound stream and dispatches every delivery
// until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	trades, maps, err := o.stream.Subscribe(ctx, nil)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case t, ok := <-trades:
			if !ok {
				return nil
			}
			o.handleActorTradeUpdate(t)
		case m, ok := <-maps:
			if !ok {
				return nil
			}
			o.handleMindmapUpdate(ctx, m)
		}
	}
}

// SetExecutor rebinds the TradeExecutor this Orchestrator calls on
// approval. Used at wiring time to break the Orchestrator<->Executor
// construction cycle: the Executor's PostBuyHook is the Orchestrator
// itself, so the Executor must be built after the Orchestrator it will
// notify, then attached here.
func (o *Orchestrator) SetExecutor(exec *executor.Executor) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.exec = exec
}

// Result returns a snapshot of the counters accumulated so far.
func (o *Orchestrator) Result() RunResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result
}

// OnBuySuccess implements executor.PostBuyHook: mark processed and
// drop the cached snapshot (spec §4.6 step 5).
func (o *Orchestrator) OnBuySuccess(token domain.TokenId) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.processed[token] = struct{}{}
	delete(o.snapshots, token)
}

// handleMindmapUpdate implements spec §4.5's MindmapUpdate handler.
func (o *Orchestrator) handleMindmapUpdate(ctx context.Context, u events.MindmapUpdate) {
	if u.TokenMint == o.nativeQ {
		return
	}

	snap := u.Snapshot()
	if snap == nil {
		return
	}

	o.mu.Lock()
	o.snapshots[u.TokenMint] = snap
	_, alreadyProcessed := o.processed[u.TokenMint]
	o.result.MindmapUpdatesHandled++
	o.mu.Unlock()

	if alreadyProcessed {
		return
	}

	decision := o.pipeline.Evaluate(ctx, u.TokenMint, snap)

	o.mu.Lock()
	o.result.BuysAttempted++
	if decision.Approved {
		o.result.BuysApproved++
	}
	o.mu.Unlock()

	if !decision.Approved {
		o.logger.Printf("admission rejected %s: %s", u.TokenMint, decision.Reason)
		return
	}

	var pred *domain.PredictionOutcome
	if decision.Prediction.Approved {
		pred = &decision.Prediction
	}

	if _, err := o.exec.Buy(ctx, u.TokenMint, "", o.buyAmt, o.risk, pred); err != nil {
		o.logger.Printf("buy failed for %s: %v", u.TokenMint, err)
	}
}

// handleActorTradeUpdate implements spec §4.5's ActorTradeUpdate
// handler: additive at the trade level, tolerant of duplicate
// deliveries (deduplication is the producer's responsibility).
func (o *Orchestrator) handleActorTradeUpdate(u events.ActorTradeUpdate) {
	td := u.Trade.TradeData
	affected := affectedTokens(td)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.result.TradeUpdatesHandled++

	for _, token := range affected {
		snap, ok := o.snapshots[token]
		if !ok {
			continue
		}
		snap = snap.Clone()

		conn, ok := snap.ActorConnections[u.Trade.ActorID]
		if !ok {
			conn = &domain.ActorConnection{TradeKinds: make(map[domain.TradeKind]struct{})}
			snap.ActorConnections[u.Trade.ActorID] = conn
		}

		conn.TradeCount++
		if td.TradeKind == domain.TradeKindBuy {
			conn.TotalVolume += td.AmountOut
		} else {
			conn.TotalVolume += td.AmountIn
		}
		conn.LastTradeTime = u.Timestamp
		conn.TradeKinds[td.TradeKind] = struct{}{}
		conn.InfluenceScore = math.Min(100, 10*float64(conn.TradeCount)+conn.TotalVolume/1000)

		snap.NetworkMetrics.TotalTrades++
		snap.LastUpdate = time.Now()

		o.snapshots[token] = snap
	}
}

func affectedTokens(td events.TradeData) []domain.TokenId {
	seen := make(map[domain.TokenId]struct{}, 3)
	var out []domain.TokenId
	add := func(t domain.TokenId) {
		if t == "" {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	add(td.Mint)
	add(td.TokenIn)
	add(td.TokenOut)
	return out
}
