package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"mindmaptrader/internal/domain"
	"mindmaptrader/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
// Nested structures (sellConditions, prediction, tags) are stored as
// JSONB rather than normalized columns: they are opaque to every query
// this store runs and are only ever read back whole.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

var _ storage.PositionStore = (*PositionStore)(nil)

// Insert durably records a newly opened position. Returns
// storage.ErrDuplicateKey if the id already exists.
func (s *PositionStore) Insert(ctx context.Context, p *domain.Position) error {
	row, err := toRow(p)
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}

	query := `
		INSERT INTO positions (
			id, agent_id, token_mint, is_simulation, prediction, status,
			opened_at, closed_at, entry_price, entry_amount, entry_value,
			buy_tx_id, exit_price, exit_amount, exit_value, sell_tx_id,
			sell_reason, realized_pnl, realized_pnl_pct, highest_price,
			lowest_price, current_price, last_price_update, sell_conditions,
			ledger_id, original_trade_id, watch_job_id, tags, notes,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26,
			$27, $28, $29, $30, $31
		)
	`
	_, err = s.pool.Exec(ctx, query,
		row.id, row.agentID, row.tokenMint, row.isSimulation, row.prediction, row.status,
		row.openedAt, row.closedAt, row.entryPrice, row.entryAmount, row.entryValue,
		row.buyTxID, row.exitPrice, row.exitAmount, row.exitValue, row.sellTxID,
		row.sellReason, row.realizedPnL, row.realizedPnLPct, row.highestPrice,
		row.lowestPrice, row.currentPrice, row.lastPriceUpdate, row.sellConditions,
		row.ledgerID, row.originalTradeID, row.watchJobID, row.tags, row.notes,
		row.createdAt, row.updatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// Update overwrites a position's full record.
func (s *PositionStore) Update(ctx context.Context, p *domain.Position) error {
	row, err := toRow(p)
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}

	query := `
		UPDATE positions SET
			status = $2, closed_at = $3, exit_price = $4, exit_amount = $5,
			exit_value = $6, sell_tx_id = $7, sell_reason = $8, realized_pnl = $9,
			realized_pnl_pct = $10, highest_price = $11, lowest_price = $12,
			current_price = $13, last_price_update = $14, sell_conditions = $15,
			tags = $16, notes = $17, updated_at = $18
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query,
		row.id, row.status, row.closedAt, row.exitPrice, row.exitAmount,
		row.exitValue, row.sellTxID, row.sellReason, row.realizedPnL,
		row.realizedPnLPct, row.highestPrice, row.lowestPrice,
		row.currentPrice, row.lastPriceUpdate, row.sellConditions,
		row.tags, row.notes, row.updatedAt,
	)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByID retrieves one position.
func (s *PositionStore) GetByID(ctx context.Context, id domain.PositionId) (*domain.Position, error) {
	query := selectColumns + ` WHERE id = $1`
	row := s.pool.QueryRow(ctx, query, id)
	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position by id: %w", err)
	}
	return p, nil
}

// ListOpen retrieves every open position.
func (s *PositionStore) ListOpen(ctx context.Context) ([]*domain.Position, error) {
	query := selectColumns + ` WHERE status = $1 ORDER BY opened_at ASC`
	rows, err := s.pool.Query(ctx, query, domain.StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// ListAll retrieves every position, newest first.
func (s *PositionStore) ListAll(ctx context.Context) ([]*domain.Position, error) {
	query := selectColumns + ` ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list all positions: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// Delete removes a position record permanently.
func (s *PositionStore) Delete(ctx context.Context, id domain.PositionId) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const selectColumns = `
	SELECT
		id, agent_id, token_mint, is_simulation, prediction, status,
		opened_at, closed_at, entry_price, entry_amount, entry_value,
		buy_tx_id, exit_price, exit_amount, exit_value, sell_tx_id,
		sell_reason, realized_pnl, realized_pnl_pct, highest_price,
		lowest_price, current_price, last_price_update, sell_conditions,
		ledger_id, original_trade_id, watch_job_id, tags, notes,
		created_at, updated_at
	FROM positions
`

type positionRow struct {
	id              domain.PositionId
	agentID         domain.ActorId
	tokenMint       domain.TokenId
	isSimulation    bool
	prediction      []byte
	status          domain.Status
	openedAt        time.Time
	closedAt        *time.Time
	entryPrice      float64
	entryAmount     float64
	entryValue      float64
	buyTxID         *string
	exitPrice       *float64
	exitAmount      *float64
	exitValue       *float64
	sellTxID        *string
	sellReason      *string
	realizedPnL     *float64
	realizedPnLPct  *float64
	highestPrice    float64
	lowestPrice     float64
	currentPrice    float64
	lastPriceUpdate time.Time
	sellConditions  []byte
	ledgerID        *string
	originalTradeID *string
	watchJobID      *string
	tags            []string
	notes           *string
	createdAt       time.Time
	updatedAt       time.Time
}

func toRow(p *domain.Position) (positionRow, error) {
	pred, err := json.Marshal(p.Prediction)
	if err != nil {
		return positionRow{}, err
	}
	sc, err := json.Marshal(p.SellConditions)
	if err != nil {
		return positionRow{}, err
	}
	return positionRow{
		id: p.ID, agentID: p.AgentID, tokenMint: p.TokenMint, isSimulation: p.IsSimulation,
		prediction: pred, status: p.Status, openedAt: p.OpenedAt, closedAt: p.ClosedAt,
		entryPrice: p.EntryPrice, entryAmount: p.EntryAmount, entryValue: p.EntryValue,
		buyTxID: p.BuyTxID, exitPrice: p.ExitPrice, exitAmount: p.ExitAmount, exitValue: p.ExitValue,
		sellTxID: p.SellTxID, sellReason: p.SellReason, realizedPnL: p.RealizedPnL,
		realizedPnLPct: p.RealizedPnLPct, highestPrice: p.HighestPrice, lowestPrice: p.LowestPrice,
		currentPrice: p.CurrentPrice, lastPriceUpdate: p.LastPriceUpdate, sellConditions: sc,
		ledgerID: p.LedgerID, originalTradeID: p.OriginalTradeID, watchJobID: p.WatchJobID,
		tags: p.Tags, notes: p.Notes, createdAt: p.CreatedAt, updatedAt: p.UpdatedAt,
	}, nil
}

func scanPosition(row pgx.Row) (*domain.Position, error) {
	var p domain.Position
	var pred, sc []byte

	err := row.Scan(
		&p.ID, &p.AgentID, &p.TokenMint, &p.IsSimulation, &pred, &p.Status,
		&p.OpenedAt, &p.ClosedAt, &p.EntryPrice, &p.EntryAmount, &p.EntryValue,
		&p.BuyTxID, &p.ExitPrice, &p.ExitAmount, &p.ExitValue, &p.SellTxID,
		&p.SellReason, &p.RealizedPnL, &p.RealizedPnLPct, &p.HighestPrice,
		&p.LowestPrice, &p.CurrentPrice, &p.LastPriceUpdate, &sc,
		&p.LedgerID, &p.OriginalTradeID, &p.WatchJobID, &p.Tags, &p.Notes,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalNested(&p, pred, sc); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPositions(rows pgx.Rows) ([]*domain.Position, error) {
	var out []*domain.Position
	for rows.Next() {
		var p domain.Position
		var pred, sc []byte
		err := rows.Scan(
			&p.ID, &p.AgentID, &p.TokenMint, &p.IsSimulation, &pred, &p.Status,
			&p.OpenedAt, &p.ClosedAt, &p.EntryPrice, &p.EntryAmount, &p.EntryValue,
			&p.BuyTxID, &p.ExitPrice, &p.ExitAmount, &p.ExitValue, &p.SellTxID,
			&p.SellReason, &p.RealizedPnL, &p.RealizedPnLPct, &p.HighestPrice,
			&p.LowestPrice, &p.CurrentPrice, &p.LastPriceUpdate, &sc,
			&p.LedgerID, &p.OriginalTradeID, &p.WatchJobID, &p.Tags, &p.Notes,
			&p.CreatedAt, &p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		if err := unmarshalNested(&p, pred, sc); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}
	return out, nil
}

func unmarshalNested(p *domain.Position, pred, sc []byte) error {
	if len(pred) > 0 && string(pred) != "null" {
		if err := json.Unmarshal(pred, &p.Prediction); err != nil {
			return fmt.Errorf("unmarshal prediction: %w", err)
		}
	}
	if len(sc) > 0 {
		if err := json.Unmarshal(sc, &p.SellConditions); err != nil {
			return fmt.Errorf("unmarshal sellConditions: %w", err)
		}
	}
	return nil
}
