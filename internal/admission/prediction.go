package admission

import (
	"context"
	"log"
	"sync"
	"time"

	"mindmaptrader/internal/apperrors"
	"mindmaptrader/internal/domain"
	"mindmaptrader/internal/observability"
	"mindmaptrader/internal/prediction"
)

// MaxPredictionRetries is the bounded number of consecutive
// non-approvals before a token is marked permanently failed (spec §4.4).
// This is a separate, cross-call admission counter from the transport-
// level RPC retries below.
const MaxPredictionRetries = 3

// retryTTL/failedTTL are the persistence windows for the per-token
// retry counter and the predictionFailed set (spec §4.4: "1h TTL").
const (
	retryTTL  = time.Hour
	failedTTL = time.Hour
)

// predictionRPCAttempts/predictionBackoffBase/predictionBackoffMax bound
// the transport-level retry of a single Predict() call (spec §5:
// "Prediction calls retry with exponential backoff up to 3 attempts,
// capped at 10s delay"), independent of the admission-level
// MaxPredictionRetries counter above.
const (
	predictionRPCAttempts = 3
	predictionBackoffBase = 250 * time.Millisecond
	predictionBackoffMax  = 10 * time.Second
)

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

func (e ttlEntry[V]) expired(now time.Time) bool { return now.After(e.expiresAt) }

// PredictionClient gates admission on the external prediction service's
// confidence, with a bounded-retry short-circuit (spec S5).
type PredictionClient struct {
	client prediction.Client
	logger *log.Logger

	mu       sync.Mutex
	retries  map[domain.TokenId]ttlEntry[int]
	failed   map[domain.TokenId]ttlEntry[struct{}]

	metrics *observability.Metrics
}

// NewPredictionClient wraps a prediction.Client with retry bookkeeping.
func NewPredictionClient(client prediction.Client, logger *log.Logger) *PredictionClient {
	return &PredictionClient{
		client:  client,
		logger:  logger,
		retries: make(map[domain.TokenId]ttlEntry[int]),
		failed:  make(map[domain.TokenId]ttlEntry[struct{}]),
	}
}

// WithMetrics attaches a Prometheus metrics sink.
func (p *PredictionClient) WithMetrics(m *observability.Metrics) *PredictionClient {
	p.metrics = m
	return p
}

// Approve reports whether token is approved for a buy, short-circuiting
// without calling the prediction service if permanently failed.
func (p *PredictionClient) Approve(ctx context.Context, token domain.TokenId) (domain.PredictionOutcome, bool) {
	now := time.Now()

	p.mu.Lock()
	if e, ok := p.failed[token]; ok && !e.expired(now) {
		p.mu.Unlock()
		p.logger.Printf("prediction permanently failed for %s, short-circuiting", token)
		p.recordOutcome("shortcircuit")
		return domain.PredictionOutcome{}, false
	}
	p.mu.Unlock()

	outcome, err := p.predictWithBackoff(ctx, token)
	if err != nil {
		p.recordNonApproval(token, now)
		p.recordOutcome("reject")
		return domain.PredictionOutcome{}, false
	}

	var confidence float64
	if outcome.Probability != nil {
		confidence = *outcome.Probability * 100
	}
	outcome.Confidence = confidence

	approved := outcome.ClassLabel != nil && *outcome.ClassLabel == "good" && confidence >= 65
	outcome.Approved = approved

	if !approved {
		p.recordNonApproval(token, now)
		p.recordOutcome("reject")
		return outcome, false
	}

	p.mu.Lock()
	delete(p.retries, token)
	p.mu.Unlock()
	p.recordOutcome("approve")
	return outcome, true
}

// predictWithBackoff retries a transient PredictionService failure up
// to predictionRPCAttempts times with jittered exponential backoff
// (spec §5), returning the last error if every attempt fails.
func (p *PredictionClient) predictWithBackoff(ctx context.Context, token domain.TokenId) (domain.PredictionOutcome, error) {
	var lastErr error
	for attempt := 0; attempt < predictionRPCAttempts; attempt++ {
		outcome, err := p.client.Predict(ctx, token)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		if attempt < predictionRPCAttempts-1 {
			delay := apperrors.Backoff(attempt, predictionBackoffBase, predictionBackoffMax)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return domain.PredictionOutcome{}, ctx.Err()
			}
		}
	}
	return domain.PredictionOutcome{}, lastErr
}

func (p *PredictionClient) recordOutcome(outcome string) {
	if p.metrics != nil {
		p.metrics.PredictionEvaluations.WithLabelValues(outcome).Inc()
	}
}

func (p *PredictionClient) recordNonApproval(token domain.TokenId, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.retries[token]
	count := 1
	if ok && !e.expired(now) {
		count = e.value + 1
	}
	p.retries[token] = ttlEntry[int]{value: count, expiresAt: now.Add(retryTTL)}
	if p.metrics != nil {
		p.metrics.PredictionRetries.Inc()
	}

	if count >= MaxPredictionRetries {
		p.failed[token] = ttlEntry[struct{}]{expiresAt: now.Add(failedTTL)}
		p.logger.Printf("token %s permanently failed after %d prediction retries", token, count)
	}
}

// IsPermanentlyFailed reports whether token is currently short-circuited.
func (p *PredictionClient) IsPermanentlyFailed(token domain.TokenId) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.failed[token]
	return ok && !e.expired(time.Now())
}
