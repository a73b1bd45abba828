package domain

import "time"

// TradeKind is the direction of a single actor trade.
type TradeKind string

const (
	TradeKindBuy  TradeKind = "buy"
	TradeKindSell TradeKind = "sell"
)

// ActorConnection is one actor's aggregate activity against a token.
type ActorConnection struct {
	TradeCount     int
	TotalVolume    float64
	LastTradeTime  time.Time
	InfluenceScore float64 // [0,100]
	TradeKinds     map[TradeKind]struct{}
}

// HasTradeKind reports whether the connection has seen the given kind.
func (c *ActorConnection) HasTradeKind(k TradeKind) bool {
	if c == nil || c.TradeKinds == nil {
		return false
	}
	_, ok := c.TradeKinds[k]
	return ok
}

// NetworkMetrics holds token-wide aggregate counters.
type NetworkMetrics struct {
	TotalTrades int
}

// MindmapSnapshot is the per-token graph of actor activity used by the
// admission pipeline. Overwritten wholesale on a full MindmapUpdate,
// mutated incrementally by ActorTradeUpdate (see Orchestrator).
type MindmapSnapshot struct {
	Token            TokenId
	ActorConnections map[ActorId]*ActorConnection
	NetworkMetrics   NetworkMetrics
	LastUpdate       time.Time
}

// Clone returns a deep copy suitable for copy-on-write mutation, keeping
// the AdmissionPipeline's view of an in-flight snapshot stable (spec §9).
func (m *MindmapSnapshot) Clone() *MindmapSnapshot {
	if m == nil {
		return nil
	}
	out := &MindmapSnapshot{
		Token:          m.Token,
		NetworkMetrics: m.NetworkMetrics,
		LastUpdate:     m.LastUpdate,
	}
	out.ActorConnections = make(map[ActorId]*ActorConnection, len(m.ActorConnections))
	for id, c := range m.ActorConnections {
		cc := *c
		cc.TradeKinds = make(map[TradeKind]struct{}, len(c.TradeKinds))
		for k := range c.TradeKinds {
			cc.TradeKinds[k] = struct{}{}
		}
		out.ActorConnections[id] = &cc
	}
	return out
}

// NewMindmapSnapshot creates an empty snapshot for a token.
func NewMindmapSnapshot(token TokenId, now time.Time) *MindmapSnapshot {
	return &MindmapSnapshot{
		Token:            token,
		ActorConnections: make(map[ActorId]*ActorConnection),
		LastUpdate:       now,
	}
}
