// Package prediction defines the PredictionService contract (spec §6):
// an opaque ML classification RPC consulted by the admission pipeline's
// PredictionClient gate. Colocated with a fixture-driven Stub, grounded
// on internal/solana/stub.RPCClient's pattern.
package prediction

import (
	"context"

	"mindmaptrader/internal/domain"
)

// Client calls the external prediction service.
type Client interface {
	Predict(ctx context.Context, token domain.TokenId) (domain.PredictionOutcome, error)
}

// Stub is a fixture-backed Client for tests and local runs.
type Stub struct {
	Outcomes map[domain.TokenId]domain.PredictionOutcome
	Err      error
}

// NewStub creates an empty Stub.
func NewStub() *Stub {
	return &Stub{Outcomes: make(map[domain.TokenId]domain.PredictionOutcome)}
}

func (s *Stub) Predict(_ context.Context, token domain.TokenId) (domain.PredictionOutcome, error) {
	if s.Err != nil {
		return domain.PredictionOutcome{}, s.Err
	}
	return s.Outcomes[token], nil
}

var _ Client = (*Stub)(nil)
