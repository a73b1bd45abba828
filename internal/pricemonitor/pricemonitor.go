// Package pricemonitor implements PriceMonitor (spec §4.3): a pair of
// cooperating loops that refresh PriceCache for every token in the
// interest set. Grounded on cmd/ingest's checkInterval/ticker shutdown
// shape, generalized into two interleaved tickers coordinated by
// golang.org/x/sync/errgroup, with golang.org/x/time/rate pacing slow-
// loop discovery calls per oracle rate limits.
package pricemonitor

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"mindmaptrader/internal/domain"
	"mindmaptrader/internal/observability"
	"mindmaptrader/internal/oracle"
	"mindmaptrader/internal/pricecache"
)

const (
	fastPeriod = 100 * time.Millisecond
	slowPeriod = 1 * time.Second
)

// Monitor runs the fast and slow price-refresh loops.
type Monitor struct {
	cache    *pricecache.Cache
	oracle   oracle.PriceOracle
	limiter  *rate.Limiter
	discover singleflight.Group
	logger   *log.Logger
	metrics  *observability.Metrics
}

// WithMetrics attaches a Prometheus metrics sink.
func (m *Monitor) WithMetrics(metrics *observability.Metrics) *Monitor {
	m.metrics = metrics
	return m
}

// New creates a Monitor. discoveryRate bounds the slow loop's
// PriceOracle.Discover calls per second.
func New(cache *pricecache.Cache, priceOracle oracle.PriceOracle, discoveryRate rate.Limit, logger *log.Logger) *Monitor {
	return &Monitor{
		cache:   cache,
		oracle:  priceOracle,
		limiter: rate.NewLimiter(discoveryRate, 1),
		logger:  logger,
	}
}

// Run launches the fast and slow loops, returning when ctx is
// cancelled or either loop returns a non-nil error.
func (m *Monitor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.runFastLoop(ctx) })
	g.Go(func() error { return m.runSlowLoop(ctx) })
	return g.Wait()
}

func (m *Monitor) runFastLoop(ctx context.Context) error {
	ticker := time.NewTicker(fastPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.fastTick(ctx)
			if m.metrics != nil {
				m.metrics.LastMonitorTick.SetToCurrentTime()
			}
		}
	}
}

func (m *Monitor) runSlowLoop(ctx context.Context) error {
	ticker := time.NewTicker(slowPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.slowTick(ctx)
		}
	}
}

// fastTick partitions the interest set by cached route hint and
// resolves as many tokens as possible in one pipelined commit (spec
// §4.3 fast loop).
func (m *Monitor) fastTick(ctx context.Context) {
	tokens := m.cache.ListInterest()
	if len(tokens) == 0 {
		return
	}

	var noHint []domain.TokenId
	postByKind := make(map[pricecache.RouteKind][]domain.TokenId)

	for _, t := range tokens {
		route, ok := m.cache.GetRoute(t)
		if !ok || !route.PostGraduation {
			noHint = append(noHint, t)
			continue
		}
		postByKind[route.Kind] = append(postByKind[route.Kind], t)
	}

	p := pricecache.NewPipeline()

	if len(noHint) > 0 {
		resolved, missing, err := m.oracle.FastBatchA(ctx, noHint)
		if err != nil {
			m.logger.Printf("fastBatchA error: %v", err)
		} else {
			for token, r := range resolved {
				p.SetPrice(token, r.Price, pricecache.PriceTTL)
			}
			if m.metrics != nil {
				m.metrics.FastLoopResolved.Add(float64(len(resolved)))
				m.metrics.FastLoopUnresolved.Add(float64(len(missing)))
			}
		}
	}

	for kind, toks := range postByKind {
		blobs := make(map[domain.TokenId][]byte, len(toks))
		for _, t := range toks {
			if b, ok := m.cache.GetRouteVaults(kind, t); ok {
				blobs[t] = b
			}
		}
		prices, err := m.oracle.FastBatchB(ctx, toks, blobs)
		if err != nil {
			m.logger.Printf("fastBatchB error (kind=%s): %v", kind, err)
			continue
		}
		for token, price := range prices {
			p.SetPrice(token, price, pricecache.PriceTTL)
		}
		if m.metrics != nil {
			m.metrics.FastLoopResolved.Add(float64(len(prices)))
			m.metrics.FastLoopUnresolved.Add(float64(len(toks) - len(prices)))
		}
	}

	m.cache.Commit(p)
}

// slowTick runs PriceOracle.Discover for every interest-set token that
// currently has neither a price nor an error entry (spec §4.3 slow
// loop), pacing itself with the discovery rate limiter.
func (m *Monitor) slowTick(ctx context.Context) {
	for _, token := range m.cache.ListInterest() {
		if _, ok := m.cache.GetPrice(token); ok {
			continue
		}
		if m.cache.HasError(token) {
			continue
		}

		if err := m.limiter.Wait(ctx); err != nil {
			return
		}

		// singleflight collapses concurrent Discover calls for the same
		// token into one oracle round-trip; slowTick is its only caller.
		start := time.Now()
		v, err, _ := m.discover.Do(string(token), func() (any, error) {
			return m.oracle.Discover(ctx, token)
		})
		if m.metrics != nil {
			m.metrics.DiscoveryLatency.Observe(time.Since(start).Seconds())
		}
		if err != nil {
			m.cache.MarkError(token, pricecache.ErrorTTL)
			if m.metrics != nil {
				m.metrics.SlowLoopDiscoveries.WithLabelValues("failure").Inc()
			}
			continue
		}
		discovery, _ := v.(*oracle.Discovery)
		if discovery == nil {
			m.cache.MarkError(token, pricecache.ErrorTTL)
			if m.metrics != nil {
				m.metrics.SlowLoopDiscoveries.WithLabelValues("failure").Inc()
			}
			continue
		}
		if m.metrics != nil {
			m.metrics.SlowLoopDiscoveries.WithLabelValues("success").Inc()
		}

		m.cache.SetPrice(token, discovery.Price, pricecache.PriceTTL)
		route := pricecache.Route{
			PostGraduation: discovery.Source == oracle.SourcePost,
		}
		switch discovery.Source {
		case oracle.SourcePost:
			route.Kind = pricecache.RouteCPMM
		default:
			route.Kind = pricecache.RouteBondingCurve
		}
		m.cache.SetRoute(token, route)
		if discovery.RouteBlob != nil {
			m.cache.SetRouteVaults(route.Kind, token, discovery.RouteBlob, route.PostGraduation)
		}
	}
}
