package events

import (
	"context"
	"testing"
	"time"

	"mindmaptrader/internal/domain"
)

func TestFanInPublishTradeFiltersByActorList(t *testing.T) {
	f := NewFanIn()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trades, _, err := f.Subscribe(ctx, []domain.ActorId{"actorA"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.PublishTrade(ActorTradeUpdate{Trade: Trade{ActorID: "actorB"}})
	f.PublishTrade(ActorTradeUpdate{Trade: Trade{ActorID: "actorA"}})

	select {
	case u := <-trades:
		if u.Trade.ActorID != "actorA" {
			t.Errorf("expected only actorA's trade to be delivered, got %s", u.Trade.ActorID)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a trade delivery")
	}

	select {
	case u := <-trades:
		t.Fatalf("expected no further delivery, got %+v", u)
	default:
	}
}

func TestFanInSubscribeAllActors(t *testing.T) {
	f := NewFanIn()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trades, _, err := f.Subscribe(ctx, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.PublishTrade(ActorTradeUpdate{Trade: Trade{ActorID: "anyone"}})

	select {
	case <-trades:
	case <-time.After(time.Second):
		t.Fatalf("expected unrestricted subscriber to receive the trade")
	}
}

func TestFanInClosesChannelsOnContextCancel(t *testing.T) {
	f := NewFanIn()
	ctx, cancel := context.WithCancel(context.Background())

	trades, maps, err := f.Subscribe(ctx, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cancel()

	waitClosed := func(name string, ch <-chan struct{}) {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("expected %s channel to close after cancellation", name)
		}
	}

	closedTrades := make(chan struct{})
	closedMaps := make(chan struct{})
	go func() {
		for range trades {
		}
		close(closedTrades)
	}()
	go func() {
		for range maps {
		}
		close(closedMaps)
	}()

	waitClosed("trades", closedTrades)
	waitClosed("maps", closedMaps)
}

func TestMindmapUpdateSnapshotPrefersData(t *testing.T) {
	dataSnap := domain.NewMindmapSnapshot("t", time.Now())
	altSnap := domain.NewMindmapSnapshot("t", time.Now())

	u := MindmapUpdate{Data: dataSnap, MindmapData: altSnap}
	if u.Snapshot() != dataSnap {
		t.Errorf("expected Snapshot() to prefer Data over MindmapData")
	}

	u2 := MindmapUpdate{MindmapData: altSnap}
	if u2.Snapshot() != altSnap {
		t.Errorf("expected Snapshot() to fall back to MindmapData")
	}
}
