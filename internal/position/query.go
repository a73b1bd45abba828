package position

import (
	"time"

	"mindmaptrader/internal/domain"
)

// QueryFilter composes the optional predicates PositionStore.Query
// applies (spec §4.1). Nil/zero fields are unconstrained.
type QueryFilter struct {
	Agent  *domain.ActorId
	Token  *domain.TokenId
	Status *domain.Status

	From *time.Time // createdAt >= From
	To   *time.Time // createdAt <= To

	MinPnL *float64 // realizedPnL >= MinPnL (closed positions only)
	MaxPnL *float64 // realizedPnL <= MaxPnL (closed positions only)

	Tags []string // position must carry every listed tag

	// Offset/Limit paginate the (already status/date/pnl/tag filtered)
	// result set, ordered by createdAt descending. Limit<=0 means
	// unbounded.
	Offset int
	Limit  int
}

func (f QueryFilter) matches(p *domain.Position) bool {
	if f.Agent != nil && p.AgentID != *f.Agent {
		return false
	}
	if f.Token != nil && p.TokenMint != *f.Token {
		return false
	}
	if f.Status != nil && p.Status != *f.Status {
		return false
	}
	if f.From != nil && p.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && p.CreatedAt.After(*f.To) {
		return false
	}
	if f.MinPnL != nil {
		if p.RealizedPnL == nil || *p.RealizedPnL < *f.MinPnL {
			return false
		}
	}
	if f.MaxPnL != nil {
		if p.RealizedPnL == nil || *p.RealizedPnL > *f.MaxPnL {
			return false
		}
	}
	for _, want := range f.Tags {
		found := false
		for _, got := range p.Tags {
			if got == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Query returns positions matching filter, newest-created first, with
// offset/limit pagination applied after filtering (spec §4.1).
func (s *Store) Query(filter QueryFilter) []*domain.Position {
	s.mu.RLock()
	matched := make([]*domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if filter.matches(p) {
			matched = append(matched, p.Clone())
		}
	}
	s.mu.RUnlock()

	sortedByCreatedDesc(matched)

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched
}
