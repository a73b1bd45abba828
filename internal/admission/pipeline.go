package admission

import (
	"context"

	"mindmaptrader/internal/domain"
)

// Decision is the outcome of a full AdmissionPipeline evaluation.
type Decision struct {
	Approved   bool
	Filter     domain.FilterResult
	Prediction domain.PredictionOutcome
	Reason     string
}

// Pipeline composes FilterEngine and PredictionClient into the single
// admit/reject gate the Orchestrator calls per candidate token.
type Pipeline struct {
	filter     *FilterEngine
	prediction *PredictionClient
}

// NewPipeline composes a FilterEngine and PredictionClient.
func NewPipeline(filter *FilterEngine, pred *PredictionClient) *Pipeline {
	return &Pipeline{filter: filter, prediction: pred}
}

// Evaluate runs FilterEngine then, on pass, PredictionClient.
func (p *Pipeline) Evaluate(ctx context.Context, token domain.TokenId, snap *domain.MindmapSnapshot) Decision {
	filterResult := p.filter.Evaluate(ctx, token, snap)
	if !filterResult.Passed {
		return Decision{Approved: false, Filter: filterResult, Reason: filterResult.Reason}
	}

	outcome, approved := p.prediction.Approve(ctx, token)
	if !approved {
		reason := "prediction did not approve"
		if p.prediction.IsPermanentlyFailed(token) {
			reason = "prediction permanently failed"
		}
		return Decision{Approved: false, Filter: filterResult, Prediction: outcome, Reason: reason}
	}

	return Decision{Approved: true, Filter: filterResult, Prediction: outcome}
}
