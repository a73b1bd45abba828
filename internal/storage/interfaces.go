package storage

import (
	"context"

	"mindmaptrader/internal/domain"
)

// PositionStore is the durable persistence contract PositionStore's
// in-memory implementation can optionally be backed by (spec.md §1
// "durable map of positions"; SPEC_FULL §1 swappable in-memory/Postgres
// backend). It carries the same state a restart needs to recover:
// full position records, independent of the in-process secondary
// indices and pub/sub bus, which are rebuilt from this on load.
type PositionStore interface {
	// Insert durably records a newly opened position.
	Insert(ctx context.Context, p *domain.Position) error

	// Update overwrites a position's full record.
	Update(ctx context.Context, p *domain.Position) error

	// GetByID retrieves one position. Returns ErrNotFound if unknown.
	GetByID(ctx context.Context, id domain.PositionId) (*domain.Position, error)

	// ListOpen retrieves every open position. Startup rebuild uses
	// ListAll, not ListOpen.
	ListOpen(ctx context.Context) ([]*domain.Position, error)

	// ListAll retrieves every position, newest first.
	ListAll(ctx context.Context) ([]*domain.Position, error)

	// Delete removes a position record permanently.
	Delete(ctx context.Context, id domain.PositionId) error
}
