package position

import (
	"context"
	"sync"
	"testing"
	"time"

	"mindmaptrader/internal/domain"
	"mindmaptrader/internal/storage"
)

// fakePersister is a minimal in-memory storage.PositionStore for
// testing the optional durable-backend wiring.
type fakePersister struct {
	mu        sync.Mutex
	inserted  map[domain.PositionId]*domain.Position
	updated   int
	deleted   map[domain.PositionId]struct{}
}

func newFakePersister() *fakePersister {
	return &fakePersister{
		inserted: make(map[domain.PositionId]*domain.Position),
		deleted:  make(map[domain.PositionId]struct{}),
	}
}

func (f *fakePersister) Insert(_ context.Context, p *domain.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted[p.ID] = p
	return nil
}

func (f *fakePersister) Update(_ context.Context, p *domain.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated++
	return nil
}

func (f *fakePersister) GetByID(_ context.Context, id domain.PositionId) (*domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.inserted[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p, nil
}

func (f *fakePersister) ListOpen(_ context.Context) ([]*domain.Position, error) {
	return nil, nil
}

func (f *fakePersister) ListAll(_ context.Context) ([]*domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.Position, 0, len(f.inserted))
	for _, p := range f.inserted {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakePersister) Delete(_ context.Context, id domain.PositionId) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted[id] = struct{}{}
	return nil
}

var _ storage.PositionStore = (*fakePersister)(nil)

func TestPersisterReceivesInsertAndDelete(t *testing.T) {
	s := New()
	fp := newFakePersister()
	s.SetPersister(fp, nil)

	pos := s.CreateOpen(CreateOpenParams{AgentID: "a", TokenMint: "t", EntryPrice: 1, EntryAmount: 1})

	// Persistence happens on a background goroutine; poll briefly.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		fp.mu.Lock()
		_, ok := fp.inserted[pos.ID]
		fp.mu.Unlock()
		if ok {
			break
		}
		time.Sleep(time.Millisecond)
	}

	fp.mu.Lock()
	_, ok := fp.inserted[pos.ID]
	fp.mu.Unlock()
	if !ok {
		t.Fatalf("expected persister to receive insert for %s", pos.ID)
	}

	s.Delete(pos.ID)
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		fp.mu.Lock()
		_, ok := fp.deleted[pos.ID]
		fp.mu.Unlock()
		if ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected persister to receive delete for %s", pos.ID)
}

func TestCreateOpenSetsDefaults(t *testing.T) {
	s := New()
	pos := s.CreateOpen(CreateOpenParams{
		AgentID:     "agentA",
		TokenMint:   "tokenA",
		EntryPrice:  2.0,
		EntryAmount: 10,
	})

	if pos.Status != domain.StatusOpen {
		t.Fatalf("expected open status, got %s", pos.Status)
	}
	if pos.HighestPrice != 2.0 || pos.LowestPrice != 2.0 || pos.CurrentPrice != 2.0 {
		t.Errorf("expected high/low/current seeded to entry price, got %+v", pos)
	}
	if pos.EntryValue != 20 {
		t.Errorf("expected entryValue=20, got %v", pos.EntryValue)
	}
	if pos.ClosedAt != nil {
		t.Errorf("expected closedAt nil on open position")
	}
}

func TestHasOpenPositionDuplicateDetection(t *testing.T) {
	s := New()
	s.CreateOpen(CreateOpenParams{AgentID: "a", TokenMint: "t", EntryPrice: 1, EntryAmount: 1})

	if !s.HasOpenPosition("a", "t") {
		t.Fatalf("expected duplicate open position detected (invariant I8)")
	}
	if s.HasOpenPosition("a", "other") {
		t.Errorf("expected no open position for different token")
	}
}

func TestUpdatePriceMonotonicHighLow(t *testing.T) {
	s := New()
	pos := s.CreateOpen(CreateOpenParams{AgentID: "a", TokenMint: "t", EntryPrice: 10, EntryAmount: 1})

	s.UpdatePrice(pos.ID, 15)
	s.UpdatePrice(pos.ID, 5)
	s.UpdatePrice(pos.ID, 12)

	got, ok := s.Get(pos.ID)
	if !ok {
		t.Fatalf("expected position to exist")
	}
	if got.HighestPrice != 15 {
		t.Errorf("expected highestPrice=15, got %v", got.HighestPrice)
	}
	if got.LowestPrice != 5 {
		t.Errorf("expected lowestPrice=5, got %v", got.LowestPrice)
	}
	if got.CurrentPrice != 12 {
		t.Errorf("expected currentPrice=12, got %v", got.CurrentPrice)
	}
}

func TestUpdatePriceNoOpOnClosedPosition(t *testing.T) {
	s := New()
	pos := s.CreateOpen(CreateOpenParams{AgentID: "a", TokenMint: "t", EntryPrice: 10, EntryAmount: 1})
	s.Close(pos.ID, 11, 1, nil, nil)

	s.UpdatePrice(pos.ID, 999)

	got, _ := s.Get(pos.ID)
	if got.CurrentPrice == 999 {
		t.Errorf("expected UpdatePrice to be a no-op on a closed position")
	}
}

func TestCloseComputesRealizedPnL(t *testing.T) {
	s := New()
	pos := s.CreateOpen(CreateOpenParams{AgentID: "a", TokenMint: "t", EntryPrice: 10, EntryAmount: 2})
	reason := domain.SellReasonTakeProfit

	closed, err := s.Close(pos.ID, 15, 2, nil, &reason)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if closed.Status != domain.StatusClosed {
		t.Fatalf("expected closed status, got %s", closed.Status)
	}
	if closed.ClosedAt == nil {
		t.Fatalf("expected closedAt set (invariant I1)")
	}
	if closed.ExitValue == nil || *closed.ExitValue != 30 {
		t.Errorf("expected exitValue=30, got %+v", closed.ExitValue)
	}
	if closed.RealizedPnL == nil || *closed.RealizedPnL != 10 {
		t.Errorf("expected realizedPnL=10, got %+v", closed.RealizedPnL)
	}
	if closed.RealizedPnLPct == nil || *closed.RealizedPnLPct != 50 {
		t.Errorf("expected realizedPnLPct=50, got %+v", closed.RealizedPnLPct)
	}

	open := s.ListOpen(nil)
	if len(open) != 0 {
		t.Errorf("expected closed position removed from open set")
	}
}

func TestCloseUnknownIDReturnsNotFound(t *testing.T) {
	s := New()
	_, err := s.Close("missing", 1, 1, nil, nil)
	if err == nil {
		t.Fatalf("expected error for unknown position id")
	}
}

func TestGetByActorAndTokenSortedByCreatedDesc(t *testing.T) {
	s := New()
	first := s.CreateOpen(CreateOpenParams{AgentID: "a", TokenMint: "t1", EntryPrice: 1, EntryAmount: 1})
	second := s.CreateOpen(CreateOpenParams{AgentID: "a", TokenMint: "t2", EntryPrice: 1, EntryAmount: 1})

	byActor := s.GetByActor("a", nil)
	if len(byActor) != 2 {
		t.Fatalf("expected 2 positions for actor, got %d", len(byActor))
	}
	if byActor[0].ID != second.ID || byActor[1].ID != first.ID {
		t.Errorf("expected newest-first ordering, got %v then %v", byActor[0].ID, byActor[1].ID)
	}

	byToken := s.GetByToken("t1", nil)
	if len(byToken) != 1 || byToken[0].ID != first.ID {
		t.Errorf("expected t1 to resolve to the first position only")
	}
}

func TestDeleteAndClearAll(t *testing.T) {
	s := New()
	pos := s.CreateOpen(CreateOpenParams{AgentID: "a", TokenMint: "t", EntryPrice: 1, EntryAmount: 1})

	if !s.Delete(pos.ID) {
		t.Fatalf("expected delete to succeed")
	}
	if s.Delete(pos.ID) {
		t.Errorf("expected second delete to report not found")
	}

	s.CreateOpen(CreateOpenParams{AgentID: "b", TokenMint: "t2", EntryPrice: 1, EntryAmount: 1})
	s.ClearAll()
	if stats := s.StatsSnapshot(); stats.Total != 0 {
		t.Errorf("expected ClearAll to empty the store, got %+v", stats)
	}
}

func TestStatsSnapshotCountsByStatus(t *testing.T) {
	s := New()
	open := s.CreateOpen(CreateOpenParams{AgentID: "a", TokenMint: "t1", EntryPrice: 1, EntryAmount: 1})
	_ = open
	closed := s.CreateOpen(CreateOpenParams{AgentID: "a", TokenMint: "t2", EntryPrice: 1, EntryAmount: 1})
	s.Close(closed.ID, 1, 1, nil, nil)

	stats := s.StatsSnapshot()
	if stats.Total != 2 || stats.Open != 1 || stats.Closed != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestQueryFiltersByStatusAndPaginates(t *testing.T) {
	s := New()
	for i := 0; i < 5; i++ {
		s.CreateOpen(CreateOpenParams{AgentID: "a", TokenMint: "t", EntryPrice: 1, EntryAmount: 1})
	}
	closedReason := domain.SellReasonTakeProfit
	extra := s.CreateOpen(CreateOpenParams{AgentID: "a", TokenMint: "t", EntryPrice: 1, EntryAmount: 1})
	s.Close(extra.ID, 2, 1, nil, &closedReason)

	open := domain.StatusOpen
	all := s.Query(QueryFilter{Status: &open})
	if len(all) != 5 {
		t.Fatalf("expected 5 open positions, got %d", len(all))
	}

	page := s.Query(QueryFilter{Status: &open, Offset: 2, Limit: 2})
	if len(page) != 2 {
		t.Fatalf("expected a page of 2, got %d", len(page))
	}
	if page[0].ID != all[2].ID || page[1].ID != all[3].ID {
		t.Errorf("expected page to align with offset into the full ordering")
	}

	closedStatus := domain.StatusClosed
	minPnL := 0.5
	closedMatches := s.Query(QueryFilter{Status: &closedStatus, MinPnL: &minPnL})
	if len(closedMatches) != 1 || closedMatches[0].ID != extra.ID {
		t.Errorf("expected MinPnL filter to match the single profitable closed position")
	}
}

func TestSubscribePublishesPositionUpdate(t *testing.T) {
	s := New()
	ch, cancel := s.Subscribe()
	defer cancel()

	s.CreateOpen(CreateOpenParams{AgentID: "a", TokenMint: "t", EntryPrice: 1, EntryAmount: 1})

	select {
	case ev := <-ch:
		if ev.Type != EventPositionUpdate || ev.Position == nil {
			t.Errorf("expected position_update event, got %+v", ev)
		}
	default:
		t.Fatalf("expected an event to be published synchronously on CreateOpen")
	}
}
