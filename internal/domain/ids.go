// Package domain defines the core types shared across the decision-and-
// position-lifecycle engine: mindmap snapshots, positions, filter and
// prediction outcomes.
package domain

// TokenId identifies a fungible token. Opaque to the engine.
type TokenId string

// ActorId identifies a tracked external trader (a "KOL" in pack parlance).
type ActorId string

// PositionId uniquely identifies a Position. Monotonically increasing
// enough for secondary sort by creation order.
type PositionId string

// NativeQuote is the sentinel TokenId the engine never trades directly —
// the blockchain's wrapped native asset, used as the quote side of most
// pools.
const NativeQuote TokenId = "So11111111111111111111111111111111111111112"
