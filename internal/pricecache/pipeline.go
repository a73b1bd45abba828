package pricecache

import (
	"time"

	"mindmaptrader/internal/domain"
)

// priceWrite is one queued price observation.
type priceWrite struct {
	token domain.TokenId
	price float64
	ttl   time.Duration
}

// errorWrite is one queued negative-cache observation.
type errorWrite struct {
	token domain.TokenId
	ttl   time.Duration
}

// Pipeline batches a tick's worth of price/error/route writes so callers
// (PriceMonitor's fast loop) can commit them atomically with
// respect to readers: no reader observes half of a tick's writes.
type Pipeline struct {
	prices []priceWrite
	errs   []errorWrite
	routes []routeWrite
}

type routeWrite struct {
	token domain.TokenId
	route Route
}

// NewPipeline creates an empty write batch.
func NewPipeline() *Pipeline { return &Pipeline{} }

// SetPrice queues a price write.
func (p *Pipeline) SetPrice(token domain.TokenId, price float64, ttl time.Duration) {
	p.prices = append(p.prices, priceWrite{token, price, ttl})
}

// MarkError queues a negative-cache write.
func (p *Pipeline) MarkError(token domain.TokenId, ttl time.Duration) {
	p.errs = append(p.errs, errorWrite{token, ttl})
}

// SetRoute queues a route-hint write.
func (p *Pipeline) SetRoute(token domain.TokenId, route Route) {
	p.routes = append(p.routes, routeWrite{token, route})
}

// Len reports the number of queued writes, for logging/metrics.
func (p *Pipeline) Len() int { return len(p.prices) + len(p.errs) + len(p.routes) }

// Commit applies all queued writes to the cache under a single
// logical operation: routes first, then prices (each clearing the
// token's error entry), then errors. Within each kind, a later queued
// write for the same token replaces an earlier one.
func (c *Cache) Commit(p *Pipeline) {
	if p == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for _, w := range p.routes {
		c.source[w.token] = entry[Route]{value: w.route, expiresAt: now.Add(routeTTL(w.route))}
	}
	for _, w := range p.prices {
		c.price[w.token] = entry[float64]{value: w.price, expiresAt: now.Add(w.ttl)}
		delete(c.errorAt, w.token)
	}
	for _, w := range p.errs {
		c.errorAt[w.token] = entry[struct{}]{expiresAt: now.Add(w.ttl)}
	}
}

func routeTTL(r Route) time.Duration {
	if r.PostGraduation {
		return SourcePostGradTTL
	}
	return SourcePreGradTTL
}
