// Package events defines the inbound event stream contract (spec §6):
// ActorTradeUpdate and MindmapUpdate deliveries the Orchestrator
// consumes. Grounded on the per-actor raw-event shape in
// 0xRichardL-vibe-copy-trading's internal domain package, generalized
// from a single-venue influencer feed into a subscribe-by-actor-list
// stream with an in-memory fan-in implementation.
package events

import (
	"context"
	"sync"
	"time"

	"mindmaptrader/internal/domain"
)

// TradeKind mirrors domain.TradeKind for wire-level clarity.
type TradeKind = domain.TradeKind

// TradeData is the swap payload carried by an ActorTradeUpdate.
type TradeData struct {
	TokenIn    domain.TokenId
	TokenOut   domain.TokenId
	Mint       domain.TokenId
	AmountIn   float64
	AmountOut  float64
	TradeKind  TradeKind
}

// Trade identifies one actor trade event.
type Trade struct {
	ID        string
	ActorID   domain.ActorId
	Signature string
	Timestamp time.Time
	TradeData TradeData
}

// ActorTradeUpdate is delivered whenever a tracked actor executes a
// trade.
type ActorTradeUpdate struct {
	Trade     Trade
	EventID   string
	Timestamp time.Time
}

// MindmapUpdate is delivered whenever a token's full mindmap snapshot
// is (re)computed upstream. Either field name may be populated; Data
// takes precedence, matching spec.md §6's "both field names accepted"
// note.
type MindmapUpdate struct {
	TokenMint domain.TokenId
	Data      *domain.MindmapSnapshot
	MindmapData *domain.MindmapSnapshot
	Timestamp time.Time
}

// Snapshot returns whichever populated snapshot field is set.
func (u MindmapUpdate) Snapshot() *domain.MindmapSnapshot {
	if u.Data != nil {
		return u.Data
	}
	return u.MindmapData
}

// Stream is the inbound event source, subscribed by actor list.
type Stream interface {
	// Subscribe registers interest in the given actors (nil/empty means
	// all actors) and returns channels of trade and mindmap updates.
	// Both channels close when ctx is cancelled.
	Subscribe(ctx context.Context, actors []domain.ActorId) (<-chan ActorTradeUpdate, <-chan MindmapUpdate, error)
}

// FanIn is an in-memory Stream for tests and local runs: callers push
// events via Publish* and every active subscriber receives them,
// filtered by its actor list.
type FanIn struct {
	mu   sync.Mutex
	subs []fanInSub
}

type fanInSub struct {
	actors map[domain.ActorId]struct{} // nil means all
	trades chan ActorTradeUpdate
	maps   chan MindmapUpdate
}

// NewFanIn creates an empty FanIn.
func NewFanIn() *FanIn { return &FanIn{} }

func (f *FanIn) Subscribe(ctx context.Context, actors []domain.ActorId) (<-chan ActorTradeUpdate, <-chan MindmapUpdate, error) {
	var set map[domain.ActorId]struct{}
	if len(actors) > 0 {
		set = make(map[domain.ActorId]struct{}, len(actors))
		for _, a := range actors {
			set[a] = struct{}{}
		}
	}

	sub := fanInSub{
		actors: set,
		trades: make(chan ActorTradeUpdate, 256),
		maps:   make(chan MindmapUpdate, 256),
	}

	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, s := range f.subs {
			if s.trades == sub.trades {
				f.subs = append(f.subs[:i], f.subs[i+1:]...)
				close(s.trades)
				close(s.maps)
				return
			}
		}
	}()

	return sub.trades, sub.maps, nil
}

// PublishTrade delivers an ActorTradeUpdate to every subscriber whose
// actor list includes (or is unrestricted for) the trade's actor.
// Non-blocking: a full subscriber channel drops the event rather than
// stalling the publisher.
func (f *FanIn) PublishTrade(u ActorTradeUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.actors != nil {
			if _, ok := s.actors[u.Trade.ActorID]; !ok {
				continue
			}
		}
		select {
		case s.trades <- u:
		default:
		}
	}
}

// PublishMindmap delivers a MindmapUpdate to every subscriber.
func (f *FanIn) PublishMindmap(u MindmapUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		select {
		case s.maps <- u:
		default:
		}
	}
}

var _ Stream = (*FanIn)(nil)
