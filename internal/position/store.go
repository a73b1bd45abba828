// Package position implements PositionStore (spec §4.1): a durable map
// of positions plus secondary indices by actor, token, and open/closed
// status, publishing change events. Generalized from the
// sync.RWMutex+map+defensive-copy idiom used throughout the teacher
// repo's internal/storage/memory package.
package position

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mindmaptrader/internal/apperrors"
	"mindmaptrader/internal/domain"
	"mindmaptrader/internal/observability"
	"mindmaptrader/internal/storage"
)

// TTL is the configured persisted-state lifetime for positions (spec §6).
// Neither Store nor the Postgres backend expires positions by it.
const TTL = 90 * 24 * time.Hour

// Stats summarizes store contents for health/status reporting.
type Stats struct {
	Total  int
	Open   int
	Closed int
	Failed int
}

// Store is an in-memory PositionStore. All operations are individually
// atomic; index updates are atomic with the position write (invariant:
// index updates are atomic with the position write, spec §3).
type Store struct {
	mu sync.RWMutex

	positions map[domain.PositionId]*domain.Position
	byAgent   map[domain.ActorId]map[domain.PositionId]struct{}
	byToken   map[domain.TokenId]map[domain.PositionId]struct{}
	openSet   map[domain.PositionId]struct{}
	closedSet map[domain.PositionId]struct{}

	bus *bus

	persister storage.PositionStore
	logger    *log.Logger
	metrics   *observability.Metrics
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		positions: make(map[domain.PositionId]*domain.Position),
		byAgent:   make(map[domain.ActorId]map[domain.PositionId]struct{}),
		byToken:   make(map[domain.TokenId]map[domain.PositionId]struct{}),
		openSet:   make(map[domain.PositionId]struct{}),
		closedSet: make(map[domain.PositionId]struct{}),
		bus:       newBus(),
		logger:    log.Default(),
	}
}

// WithMetrics attaches a Prometheus metrics sink. Safe to call once,
// before the store serves any traffic.
func (s *Store) WithMetrics(m *observability.Metrics) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
	return s
}

// SetPersister attaches an optional durable backend (e.g.
// internal/storage/postgres.PositionStore). When set, every write is
// mirrored to it in the background; failures are logged, never
// propagated, since the in-memory map is the live source of truth
// (spec.md §1 "durable map of positions" with a swappable backend).
func (s *Store) SetPersister(p storage.PositionStore, logger *log.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persister = p
	if logger != nil {
		s.logger = logger
	}
}

// LoadFromPersister rebuilds the in-memory map and all secondary
// indices from the durable backend, for use on startup before the
// store serves any traffic.
func (s *Store) LoadFromPersister(ctx context.Context) error {
	s.mu.Lock()
	persister := s.persister
	s.mu.Unlock()
	if persister == nil {
		return nil
	}

	positions, err := persister.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("load positions from persister: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range positions {
		s.writeLocked(p)
	}
	return nil
}

// Persist mirror writes are retried with backoff before being dropped
// (spec §4.1 "storage I/O errors are retried with backoff (§7)"; §7
// classes StoreError retryable).
const (
	persistMaxAttempts = 3
	persistBackoffBase = 200 * time.Millisecond
	persistBackoffMax  = 5 * time.Second
)

// persistRetry runs op up to persistMaxAttempts times, sleeping an
// apperrors.Backoff delay between attempts, and returns the last error
// if every attempt fails.
func persistRetry(op func() error) error {
	var err error
	for attempt := 0; attempt < persistMaxAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt < persistMaxAttempts-1 {
			time.Sleep(apperrors.Backoff(attempt, persistBackoffBase, persistBackoffMax))
		}
	}
	return err
}

func (s *Store) persistInsert(pos *domain.Position) {
	s.mu.RLock()
	persister := s.persister
	m := s.metrics
	s.mu.RUnlock()
	if persister == nil {
		return
	}
	go func() {
		err := persistRetry(func() error { return persister.Insert(context.Background(), pos) })
		if err != nil {
			s.logger.Printf("position persist insert failed for %s after %d attempts: %v", pos.ID, persistMaxAttempts, err)
			if m != nil {
				m.PositionStoreErrors.Inc()
			}
		}
	}()
}

func (s *Store) persistUpdate(pos *domain.Position) {
	s.mu.RLock()
	persister := s.persister
	m := s.metrics
	s.mu.RUnlock()
	if persister == nil {
		return
	}
	go func() {
		err := persistRetry(func() error { return persister.Update(context.Background(), pos) })
		if err != nil {
			s.logger.Printf("position persist update failed for %s after %d attempts: %v", pos.ID, persistMaxAttempts, err)
			if m != nil {
				m.PositionStoreErrors.Inc()
			}
		}
	}()
}

func (s *Store) persistDelete(id domain.PositionId) {
	s.mu.RLock()
	persister := s.persister
	m := s.metrics
	s.mu.RUnlock()
	if persister == nil {
		return
	}
	go func() {
		err := persistRetry(func() error { return persister.Delete(context.Background(), id) })
		if err != nil {
			s.logger.Printf("position persist delete failed for %s after %d attempts: %v", id, persistMaxAttempts, err)
			if m != nil {
				m.PositionStoreErrors.Inc()
			}
		}
	}()
}

// Subscribe registers for position_update/price_update events. The
// returned cancel func must be called to release the subscription.
func (s *Store) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bus.subscribe(64)
}

// newPositionID generates a globally unique id that sorts monotonically
// with creation order, without depending on a deleted teacher-only
// candidate-id hashing package.
func newPositionID(now time.Time) domain.PositionId {
	return domain.PositionId(fmt.Sprintf("pos_%d_%s", now.UnixNano(), uuid.NewString()[:8]))
}

// CreateOpenParams are the inputs to CreateOpen.
type CreateOpenParams struct {
	AgentID        domain.ActorId
	TokenMint      domain.TokenId
	IsSimulation   bool
	Prediction     *domain.PredictionOutcome
	EntryPrice     float64
	EntryAmount    float64
	BuyTxID        *string
	SellConditions domain.SellConditions

	LedgerID        *string
	OriginalTradeID *string
	WatchJobID      *string
	Tags            []string
	Notes           *string
}

// CreateOpen constructs a Position with status=open, timestamps set to
// now, highestPrice=lowestPrice=currentPrice=entryPrice, writes the
// position and updates all four indices atomically, then emits
// position_update.
func (s *Store) CreateOpen(p CreateOpenParams) *domain.Position {
	now := time.Now()
	pos := &domain.Position{
		ID:              newPositionID(now),
		AgentID:         p.AgentID,
		TokenMint:       p.TokenMint,
		IsSimulation:    p.IsSimulation,
		Prediction:      p.Prediction,
		Status:          domain.StatusOpen,
		OpenedAt:        now,
		EntryPrice:      p.EntryPrice,
		EntryAmount:     p.EntryAmount,
		EntryValue:      p.EntryPrice * p.EntryAmount,
		BuyTxID:         p.BuyTxID,
		HighestPrice:    p.EntryPrice,
		LowestPrice:     p.EntryPrice,
		CurrentPrice:    p.EntryPrice,
		LastPriceUpdate: now,
		SellConditions:  p.SellConditions,
		LedgerID:        p.LedgerID,
		OriginalTradeID: p.OriginalTradeID,
		WatchJobID:      p.WatchJobID,
		Tags:            p.Tags,
		Notes:           p.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	s.mu.Lock()
	s.writeLocked(pos)
	m := s.metrics
	s.mu.Unlock()

	if m != nil {
		m.PositionsCreated.Inc()
		m.PositionsOpen.Inc()
	}

	s.persistInsert(pos.Clone())
	s.publish(Event{Type: EventPositionUpdate, Position: pos.Clone()})
	return pos.Clone()
}

// writeLocked stores pos and reconciles all indices. Caller must hold
// s.mu for writing.
func (s *Store) writeLocked(pos *domain.Position) {
	s.positions[pos.ID] = pos

	if s.byAgent[pos.AgentID] == nil {
		s.byAgent[pos.AgentID] = make(map[domain.PositionId]struct{})
	}
	s.byAgent[pos.AgentID][pos.ID] = struct{}{}

	if s.byToken[pos.TokenMint] == nil {
		s.byToken[pos.TokenMint] = make(map[domain.PositionId]struct{})
	}
	s.byToken[pos.TokenMint][pos.ID] = struct{}{}

	switch pos.Status {
	case domain.StatusOpen:
		s.openSet[pos.ID] = struct{}{}
		delete(s.closedSet, pos.ID)
	default:
		delete(s.openSet, pos.ID)
		s.closedSet[pos.ID] = struct{}{}
	}
}

func (s *Store) publish(e Event) {
	s.mu.Lock()
	s.bus.publish(e)
	s.mu.Unlock()
}

// Get retrieves a position by id.
func (s *Store) Get(id domain.PositionId) (*domain.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

func sortedByCreatedDesc(ps []*domain.Position) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].CreatedAt.After(ps[j].CreatedAt) })
}

func (s *Store) filterByIDs(ids map[domain.PositionId]struct{}, status *domain.Status) []*domain.Position {
	out := make([]*domain.Position, 0, len(ids))
	for id := range ids {
		p := s.positions[id]
		if p == nil {
			continue
		}
		if status != nil && p.Status != *status {
			continue
		}
		out = append(out, p.Clone())
	}
	sortedByCreatedDesc(out)
	return out
}

// GetByActor returns positions for an actor, optionally filtered by
// status, sorted by createdAt descending.
func (s *Store) GetByActor(actor domain.ActorId, status *domain.Status) []*domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterByIDs(s.byAgent[actor], status)
}

// GetByToken returns positions for a token, optionally filtered by
// status, sorted by createdAt descending.
func (s *Store) GetByToken(token domain.TokenId, status *domain.Status) []*domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterByIDs(s.byToken[token], status)
}

// ListOpen returns all open positions, optionally restricted to one
// actor.
func (s *Store) ListOpen(actor *domain.ActorId) []*domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Position, 0, len(s.openSet))
	for id := range s.openSet {
		p := s.positions[id]
		if p == nil {
			continue
		}
		if actor != nil && p.AgentID != *actor {
			continue
		}
		out = append(out, p.Clone())
	}
	sortedByCreatedDesc(out)
	return out
}

// HasOpenPosition reports whether (agent, token) already has an open
// position, for duplicate-prevention (invariant I8).
func (s *Store) HasOpenPosition(agent domain.ActorId, token domain.TokenId) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id := range s.byToken[token] {
		p := s.positions[id]
		if p != nil && p.AgentID == agent && p.Status == domain.StatusOpen {
			return true
		}
	}
	return false
}

// UpdatePrice is a no-op if the position is not open; otherwise it
// updates currentPrice/lastPriceUpdate, extends highestPrice/
// lowestPrice monotonically (invariant I6), persists, and emits
// price_update then position_update.
func (s *Store) UpdatePrice(id domain.PositionId, price float64) {
	s.mu.Lock()
	p, ok := s.positions[id]
	if !ok || p.Status != domain.StatusOpen {
		s.mu.Unlock()
		return
	}
	p.CurrentPrice = price
	p.LastPriceUpdate = time.Now()
	if price > p.HighestPrice {
		p.HighestPrice = price
	}
	if price < p.LowestPrice {
		p.LowestPrice = price
	}
	p.UpdatedAt = time.Now()
	out := p.Clone()
	s.mu.Unlock()

	s.persistUpdate(out.Clone())
	s.publish(Event{Type: EventPriceUpdate, Token: p.TokenMint, Price: price})
	s.publish(Event{Type: EventPositionUpdate, Position: out})
}

// Replace does a full write-through of pos, reconciling indices
// (open<->closed transitions are atomic), and emits position_update.
func (s *Store) Replace(pos *domain.Position) {
	cp := pos.Clone()
	cp.UpdatedAt = time.Now()

	s.mu.Lock()
	s.writeLocked(cp)
	s.mu.Unlock()

	s.persistUpdate(cp.Clone())
	s.publish(Event{Type: EventPositionUpdate, Position: cp.Clone()})
}

// Close transitions a position to closed: sets status, closedAt,
// exitValue, realizedPnL, realizedPnLPct, moves the id from the open
// to the closed set, persists and emits. Returns apperrors.ErrNotFound
// for an unknown id (never re-opens an already-closed position: the
// caller is the single writer of open->closed transitions, spec §5).
func (s *Store) Close(id domain.PositionId, exitPrice, exitAmount float64, sellTxID, sellReason *string) (*domain.Position, error) {
	s.mu.Lock()
	p, ok := s.positions[id]
	if !ok {
		s.mu.Unlock()
		return nil, apperrors.ErrNotFound
	}

	now := time.Now()
	exitValue := exitPrice * exitAmount
	realizedPnL := exitValue - p.EntryValue
	var realizedPnLPct float64
	if p.EntryValue != 0 {
		realizedPnLPct = realizedPnL / p.EntryValue * 100
	}

	p.Status = domain.StatusClosed
	p.ClosedAt = &now
	p.ExitPrice = &exitPrice
	p.ExitAmount = &exitAmount
	p.ExitValue = &exitValue
	p.SellTxID = sellTxID
	p.SellReason = sellReason
	p.RealizedPnL = &realizedPnL
	p.RealizedPnLPct = &realizedPnLPct
	p.UpdatedAt = now

	s.writeLocked(p)
	out := p.Clone()
	m := s.metrics
	s.mu.Unlock()

	if m != nil {
		m.PositionsOpen.Dec()
		reason := "unknown"
		if sellReason != nil {
			reason = *sellReason
		}
		m.PositionsClosed.WithLabelValues(reason).Inc()
	}

	s.persistUpdate(out.Clone())
	s.publish(Event{Type: EventPositionUpdate, Position: out})
	return out, nil
}

// Delete removes a position from all indices. Returns false if it did
// not exist.
func (s *Store) Delete(id domain.PositionId) bool {
	s.mu.Lock()
	p, ok := s.positions[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.positions, id)
	delete(s.byAgent[p.AgentID], id)
	delete(s.byToken[p.TokenMint], id)
	delete(s.openSet, id)
	delete(s.closedSet, id)
	s.mu.Unlock()

	s.persistDelete(id)
	return true
}

// ClearAll removes every position and index entry. For test/reset use.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = make(map[domain.PositionId]*domain.Position)
	s.byAgent = make(map[domain.ActorId]map[domain.PositionId]struct{})
	s.byToken = make(map[domain.TokenId]map[domain.PositionId]struct{})
	s.openSet = make(map[domain.PositionId]struct{})
	s.closedSet = make(map[domain.PositionId]struct{})
}

// StatsSnapshot returns position counts by status.
func (s *Store) StatsSnapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Total: len(s.positions), Open: len(s.openSet)}
	for id := range s.closedSet {
		if p := s.positions[id]; p != nil && p.Status == domain.StatusFailed {
			st.Failed++
		} else {
			st.Closed++
		}
	}
	return st
}
