package pricecache

import (
	"testing"
	"time"

	"mindmaptrader/internal/domain"
)

func TestSetPriceClearsError(t *testing.T) {
	c := New()
	tok := domain.TokenId("tokA")

	c.MarkError(tok, ErrorTTL)
	if !c.HasError(tok) {
		t.Fatalf("expected error cached")
	}

	c.SetPrice(tok, 1.23, PriceTTL)
	if c.HasError(tok) {
		t.Errorf("expected error cleared after SetPrice")
	}
	price, ok := c.GetPrice(tok)
	if !ok || price != 1.23 {
		t.Errorf("expected price 1.23, got %v ok=%v", price, ok)
	}
}

func TestPriceExpiresAfterTTL(t *testing.T) {
	c := New()
	tok := domain.TokenId("tokB")
	c.SetPrice(tok, 5, 1*time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.GetPrice(tok); ok {
		t.Errorf("expected price to have expired")
	}
}

func TestInterestTTL(t *testing.T) {
	c := New()
	tok := domain.TokenId("tokC")
	if c.HasInterest(tok) {
		t.Fatalf("expected no interest initially")
	}
	c.AddInterest(tok, InterestTTL)
	if !c.HasInterest(tok) {
		t.Errorf("expected interest registered")
	}
	list := c.ListInterest()
	if len(list) != 1 || list[0] != tok {
		t.Errorf("expected interest list [%s], got %v", tok, list)
	}
}

func TestRouteTTLByGraduation(t *testing.T) {
	c := New()
	tok := domain.TokenId("tokD")
	c.SetRoute(tok, Route{Kind: RouteBondingCurve, PostGraduation: false})
	r, ok := c.GetRoute(tok)
	if !ok || r.Kind != RouteBondingCurve {
		t.Fatalf("expected pre-graduation route cached")
	}

	c.SetRoute(tok, Route{Kind: RouteCPMM, PostGraduation: true})
	r, ok = c.GetRoute(tok)
	if !ok || r.Kind != RouteCPMM || !r.PostGraduation {
		t.Fatalf("expected post-graduation route cached, got %+v ok=%v", r, ok)
	}
}

func TestPipelineCommitAppliesAllWrites(t *testing.T) {
	c := New()
	p := NewPipeline()
	p.SetPrice("a", 1, PriceTTL)
	p.SetPrice("b", 2, PriceTTL)
	p.MarkError("c", ErrorTTL)
	p.SetRoute("d", Route{Kind: RouteAmmA})

	c.Commit(p)

	if price, ok := c.GetPrice("a"); !ok || price != 1 {
		t.Errorf("expected a=1, got %v ok=%v", price, ok)
	}
	if price, ok := c.GetPrice("b"); !ok || price != 2 {
		t.Errorf("expected b=2, got %v ok=%v", price, ok)
	}
	if !c.HasError("c") {
		t.Errorf("expected c to carry error entry")
	}
	if _, ok := c.GetRoute("d"); !ok {
		t.Errorf("expected route for d")
	}
}

func TestPipelineCommitNil(t *testing.T) {
	c := New()
	c.Commit(nil) // must not panic
}
