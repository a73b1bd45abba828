// Package paperledger implements PaperLedger (spec §4.8): a simple
// hash-map balance store substituting for a real wallet during
// simulation runs. Grounded on the map+mutex idiom shared by
// internal/storage/memory's stores.
package paperledger

import (
	"context"
	"sync"

	"mindmaptrader/internal/apperrors"
	"mindmaptrader/internal/domain"
)

// Ledger is an in-memory TokenId -> balance store.
type Ledger struct {
	mu       sync.Mutex
	balances map[domain.TokenId]float64
}

// New creates a Ledger, optionally seeded with an initial balance for
// the native-quote token (spec §6 simulation.initialBalance).
func New(nativeQuote domain.TokenId, initialBalance float64) *Ledger {
	l := &Ledger{balances: make(map[domain.TokenId]float64)}
	if initialBalance > 0 {
		l.balances[nativeQuote] = initialBalance
	}
	return l
}

// Deposit adds amount to a token's balance.
func (l *Ledger) Deposit(token domain.TokenId, amount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[token] += amount
}

// Withdraw subtracts amount from a token's balance, failing with
// InsufficientBalance when the balance would go negative.
func (l *Ledger) Withdraw(token domain.TokenId, amount float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[token] < amount {
		return apperrors.Validation("insufficient balance", nil)
	}
	l.balances[token] -= amount
	return nil
}

// GetAll returns a snapshot of all balances.
func (l *Ledger) GetAll() map[domain.TokenId]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[domain.TokenId]float64, len(l.balances))
	for k, v := range l.balances {
		out[k] = v
	}
	return out
}

// Reset clears all balances.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = make(map[domain.TokenId]float64)
}

// CheckBalance implements executor.BalanceChecker against the
// native-quote balance.
type BalanceChecker struct {
	ledger      *Ledger
	nativeQuote domain.TokenId
}

// NewBalanceChecker adapts a Ledger to executor.BalanceChecker.
func NewBalanceChecker(ledger *Ledger, nativeQuote domain.TokenId) *BalanceChecker {
	return &BalanceChecker{ledger: ledger, nativeQuote: nativeQuote}
}

func (b *BalanceChecker) CheckBalance(_ context.Context, amount float64) (bool, error) {
	balances := b.ledger.GetAll()
	return balances[b.nativeQuote] >= amount, nil
}
