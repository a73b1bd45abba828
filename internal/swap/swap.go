// Package swap defines the SwapBackend contract (spec §6): the opaque
// execution service TradeExecutor and PositionWatcher call to open and
// close positions. Colocated with a fixture-driven Stub, grounded on
// internal/solana/stub.RPCClient's pattern.
package swap

import (
	"context"

	"mindmaptrader/internal/domain"
)

// Result is the outcome of a buy or sell call.
type Result struct {
	Success        bool
	ExecutionPrice float64
	Amount         float64 // amountOut for buy, amountIn for sell
	TxID           string
	Message        string
}

// Backend executes swaps against the external trading venue.
type Backend interface {
	Buy(ctx context.Context, token domain.TokenId, amount, slippage, priorityFee float64) (Result, error)
	Sell(ctx context.Context, token domain.TokenId, amount, slippage, priorityFee float64) (Result, error)
}

// Stub is a fixture-backed Backend for tests and local runs. BuyResults
// and SellResults are consulted by token; when absent, a deterministic
// fill at the requested amount is returned.
type Stub struct {
	BuyResults  map[domain.TokenId]Result
	SellResults map[domain.TokenId]Result
	BuyErr      error
	SellErr     error
}

// NewStub creates an empty Stub.
func NewStub() *Stub {
	return &Stub{
		BuyResults:  make(map[domain.TokenId]Result),
		SellResults: make(map[domain.TokenId]Result),
	}
}

func (s *Stub) Buy(_ context.Context, token domain.TokenId, amount, _, _ float64) (Result, error) {
	if s.BuyErr != nil {
		return Result{}, s.BuyErr
	}
	if r, ok := s.BuyResults[token]; ok {
		return r, nil
	}
	return Result{Success: true, ExecutionPrice: 1, Amount: amount, TxID: "stub-buy-" + string(token)}, nil
}

func (s *Stub) Sell(_ context.Context, token domain.TokenId, amount, _, _ float64) (Result, error) {
	if s.SellErr != nil {
		return Result{}, s.SellErr
	}
	if r, ok := s.SellResults[token]; ok {
		return r, nil
	}
	return Result{Success: true, ExecutionPrice: 1, Amount: amount, TxID: "stub-sell-" + string(token)}, nil
}

var _ Backend = (*Stub)(nil)
