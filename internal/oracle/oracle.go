// Package oracle defines the PriceOracle contract (spec §6): an opaque
// on-chain price source with a batched fast path and a slower discovery
// path. Implementations are out of scope; this package colocates the
// interface with a fixture-driven Stub for tests and local runs,
// grounded on internal/solana/stub.RPCClient's implements-by-map
// pattern.
package oracle

import (
	"context"

	"mindmaptrader/internal/domain"
)

// Source identifies whether a discovered price came from a
// pre-graduation or post-graduation pricing regime.
type Source string

const (
	SourcePre  Source = "pre"
	SourcePost Source = "post"
)

// BatchAResult is one token's outcome from fastBatchA.
type BatchAResult struct {
	Price      float64
	SourceHint Source
}

// Discovery is the outcome of a successful discover() call.
type Discovery struct {
	Price     float64
	Source    Source
	RouteBlob []byte // nil if the source has none
}

// PriceOracle is the black-box on-chain pricing backend.
type PriceOracle interface {
	// FastBatchA resolves prices for tokens with no route hint or a
	// pre-graduation hint. Returns a per-token result map and the list
	// of tokens it could not resolve.
	FastBatchA(ctx context.Context, tokens []domain.TokenId) (map[domain.TokenId]BatchAResult, []domain.TokenId, error)

	// FastBatchB resolves prices for tokens with a known post-graduation
	// route hint, given the cached reserve blob for each.
	FastBatchB(ctx context.Context, tokens []domain.TokenId, routeBlobs map[domain.TokenId][]byte) (map[domain.TokenId]float64, error)

	// Discover performs the slower, rate-limited discovery path for one
	// token. Returns (nil, nil) when discovery yields nothing.
	Discover(ctx context.Context, token domain.TokenId) (*Discovery, error)
}

// Stub is a fixture-backed PriceOracle for tests and local runs.
type Stub struct {
	Prices     map[domain.TokenId]BatchAResult
	PostPrices map[domain.TokenId]float64
	Discovered map[domain.TokenId]*Discovery
	Err        error
}

// NewStub creates an empty Stub.
func NewStub() *Stub {
	return &Stub{
		Prices:     make(map[domain.TokenId]BatchAResult),
		PostPrices: make(map[domain.TokenId]float64),
		Discovered: make(map[domain.TokenId]*Discovery),
	}
}

func (s *Stub) FastBatchA(_ context.Context, tokens []domain.TokenId) (map[domain.TokenId]BatchAResult, []domain.TokenId, error) {
	if s.Err != nil {
		return nil, nil, s.Err
	}
	resolved := make(map[domain.TokenId]BatchAResult, len(tokens))
	var missing []domain.TokenId
	for _, t := range tokens {
		if r, ok := s.Prices[t]; ok {
			resolved[t] = r
		} else {
			missing = append(missing, t)
		}
	}
	return resolved, missing, nil
}

func (s *Stub) FastBatchB(_ context.Context, tokens []domain.TokenId, _ map[domain.TokenId][]byte) (map[domain.TokenId]float64, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	out := make(map[domain.TokenId]float64, len(tokens))
	for _, t := range tokens {
		if p, ok := s.PostPrices[t]; ok {
			out[t] = p
		}
	}
	return out, nil
}

func (s *Stub) Discover(_ context.Context, token domain.TokenId) (*Discovery, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Discovered[token], nil
}

var _ PriceOracle = (*Stub)(nil)
