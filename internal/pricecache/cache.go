// Package pricecache is the shared key/value store for current prices,
// a "recently failed" negative cache, route hints, route vault blobs,
// and the per-token interest set that drives what PriceMonitor polls
// (spec §4.2). Every operation is individually atomic and non-blocking
// for readers; a Pipeline primitive lets PriceMonitor commit a tick's
// worth of price writes without partial visibility.
//
// Generalized from the generic TTL map in a pack reference
// implementation's cache package into the five namespaces this engine
// needs.
package pricecache

import (
	"sync"
	"time"

	"mindmaptrader/internal/domain"
	"mindmaptrader/internal/observability"
)

const (
	PriceTTL             = 60 * time.Second
	ErrorTTL             = 30 * time.Second
	SourcePreGradTTL     = 5 * time.Minute
	SourcePostGradTTL    = 24 * time.Hour
	InterestTTL          = 60 * time.Second
)

// RouteKind is the pricing regime a route hint resolves to.
type RouteKind string

const (
	RouteAmmA         RouteKind = "ammA"
	RouteAmmB         RouteKind = "ammB"
	RouteCPMM         RouteKind = "cpmm"
	RouteBondingCurve RouteKind = "bondingCurve"
)

// Route is a cached routing hint for a token: which pricing path to use
// and whether it is pre- or post-graduation.
type Route struct {
	Kind           RouteKind
	PostGraduation bool
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

func (e entry[V]) expired(now time.Time) bool { return now.After(e.expiresAt) }

type routeVaultKey struct {
	kind  RouteKind
	token domain.TokenId
}

// Cache is the passive, TTL'd store backing PriceCache operations.
type Cache struct {
	mu sync.RWMutex

	price    map[domain.TokenId]entry[float64]
	errorAt  map[domain.TokenId]entry[struct{}]
	source   map[domain.TokenId]entry[Route]
	interest map[domain.TokenId]entry[struct{}]
	vaults   map[routeVaultKey]entry[[]byte]

	metrics *observability.Metrics
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{
		price:    make(map[domain.TokenId]entry[float64]),
		errorAt:  make(map[domain.TokenId]entry[struct{}]),
		source:   make(map[domain.TokenId]entry[Route]),
		interest: make(map[domain.TokenId]entry[struct{}]),
		vaults:   make(map[routeVaultKey]entry[[]byte]),
	}
}

// WithMetrics attaches a Prometheus metrics sink.
func (c *Cache) WithMetrics(m *observability.Metrics) *Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
	return c
}

// AddInterest registers interest in a token for the given TTL.
func (c *Cache) AddInterest(token domain.TokenId, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interest[token] = entry[struct{}]{expiresAt: time.Now().Add(ttl)}
}

// HasInterest reports whether a token currently has live interest.
func (c *Cache) HasInterest(token domain.TokenId) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.interest[token]
	return ok && !e.expired(time.Now())
}

// ListInterest returns all tokens with live interest.
func (c *Cache) ListInterest() []domain.TokenId {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := time.Now()
	out := make([]domain.TokenId, 0, len(c.interest))
	for t, e := range c.interest {
		if !e.expired(now) {
			out = append(out, t)
		}
	}
	return out
}

// GetPrice returns the cached price for a token, if present and fresh.
func (c *Cache) GetPrice(token domain.TokenId) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.price[token]
	if !ok || e.expired(time.Now()) {
		if c.metrics != nil {
			c.metrics.PriceCacheMisses.Inc()
		}
		return 0, false
	}
	if c.metrics != nil {
		c.metrics.PriceCacheHits.Inc()
	}
	return e.value, true
}

// SetPrice caches a price with the given TTL and clears any error entry,
// so that at most one of (price present, error present) holds.
func (c *Cache) SetPrice(token domain.TokenId, price float64, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.price[token] = entry[float64]{value: price, expiresAt: time.Now().Add(ttl)}
	delete(c.errorAt, token)
}

// MarkError records a negative-cache entry for a token.
func (c *Cache) MarkError(token domain.TokenId, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorAt[token] = entry[struct{}]{expiresAt: time.Now().Add(ttl)}
	if c.metrics != nil {
		c.metrics.PriceCacheErrors.Inc()
	}
}

// HasError reports whether a token currently carries a fresh negative
// cache entry.
func (c *Cache) HasError(token domain.TokenId) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.errorAt[token]
	return ok && !e.expired(time.Now())
}

// GetRoute returns the cached route hint for a token, if fresh.
func (c *Cache) GetRoute(token domain.TokenId) (Route, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.source[token]
	if !ok || e.expired(time.Now()) {
		return Route{}, false
	}
	return e.value, true
}

// SetRoute caches a route hint with the appropriate TTL (5min
// pre-graduation, 24h post-graduation).
func (c *Cache) SetRoute(token domain.TokenId, route Route) {
	ttl := SourcePreGradTTL
	if route.PostGraduation {
		ttl = SourcePostGradTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source[token] = entry[Route]{value: route, expiresAt: time.Now().Add(ttl)}
}

// ClearRoute removes a token's cached route hint (e.g. after a
// discovery re-attempt supersedes it).
func (c *Cache) ClearRoute(token domain.TokenId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.source, token)
}

// GetRouteVaults returns the cached reserve blob for (kind, token).
func (c *Cache) GetRouteVaults(kind RouteKind, token domain.TokenId) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.vaults[routeVaultKey{kind, token}]
	if !ok || e.expired(time.Now()) {
		return nil, false
	}
	return e.value, true
}

// SetRouteVaults caches a reserve blob for (kind, token), with the same
// TTL as the token's route hint.
func (c *Cache) SetRouteVaults(kind RouteKind, token domain.TokenId, blob []byte, postGraduation bool) {
	ttl := SourcePreGradTTL
	if postGraduation {
		ttl = SourcePostGradTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vaults[routeVaultKey{kind, token}] = entry[[]byte]{value: blob, expiresAt: time.Now().Add(ttl)}
}
