package pricemonitor

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"mindmaptrader/internal/oracle"
	"mindmaptrader/internal/pricecache"
)

func silentLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestFastTickResolvesUnhintedTokensViaBatchA(t *testing.T) {
	cache := pricecache.New()
	cache.AddInterest("tok", pricecache.InterestTTL)

	stub := oracle.NewStub()
	stub.Prices["tok"] = oracle.BatchAResult{Price: 1.5, SourceHint: oracle.SourcePre}

	m := New(cache, stub, rate.Every(time.Millisecond), silentLogger())
	m.fastTick(context.Background())

	price, ok := cache.GetPrice("tok")
	if !ok || price != 1.5 {
		t.Fatalf("expected price 1.5 cached, got %v ok=%v", price, ok)
	}
}

func TestFastTickUsesPostGraduationRouteForBatchB(t *testing.T) {
	cache := pricecache.New()
	cache.AddInterest("tok", pricecache.InterestTTL)
	cache.SetRoute("tok", pricecache.Route{Kind: pricecache.RouteCPMM, PostGraduation: true})
	cache.SetRouteVaults(pricecache.RouteCPMM, "tok", []byte("reserves"), true)

	stub := oracle.NewStub()
	stub.PostPrices["tok"] = 2.25

	m := New(cache, stub, rate.Every(time.Millisecond), silentLogger())
	m.fastTick(context.Background())

	price, ok := cache.GetPrice("tok")
	if !ok || price != 2.25 {
		t.Fatalf("expected price 2.25 cached via fastBatchB, got %v ok=%v", price, ok)
	}
}

func TestSlowTickMarksErrorOnEmptyDiscovery(t *testing.T) {
	cache := pricecache.New()
	cache.AddInterest("tok", pricecache.InterestTTL)

	stub := oracle.NewStub() // no discovery entry for "tok"
	m := New(cache, stub, rate.Every(time.Millisecond), silentLogger())
	m.slowTick(context.Background())

	if !cache.HasError("tok") {
		t.Fatalf("expected negative cache entry after empty discovery")
	}
}

func TestSlowTickSkipsTokensWithFreshPriceOrError(t *testing.T) {
	cache := pricecache.New()
	cache.AddInterest("priced", pricecache.InterestTTL)
	cache.AddInterest("errored", pricecache.InterestTTL)
	cache.SetPrice("priced", 9, pricecache.PriceTTL)
	cache.MarkError("errored", pricecache.ErrorTTL)

	stub := oracle.NewStub()
	stub.Discovered["priced"] = &oracle.Discovery{Price: 999}
	stub.Discovered["errored"] = &oracle.Discovery{Price: 999}

	m := New(cache, stub, rate.Every(time.Millisecond), silentLogger())
	m.slowTick(context.Background())

	if price, _ := cache.GetPrice("priced"); price != 9 {
		t.Errorf("expected priced token untouched by slow loop, got %v", price)
	}
	if _, ok := cache.GetPrice("errored"); ok {
		t.Errorf("expected errored token skipped by slow loop, got a price")
	}
}
