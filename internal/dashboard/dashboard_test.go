package dashboard

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"mindmaptrader/internal/domain"
	"mindmaptrader/internal/position"
)

func TestBroadcasterForwardsPositionEvents(t *testing.T) {
	store := position.New()
	b := New(nil)

	stop := make(chan struct{})
	defer close(stop)
	go b.Run(stop, store)

	server := httptest.NewServer(b)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the server a moment to register the client before publishing,
	// since ServeHTTP registers asynchronously relative to Dial returning.
	time.Sleep(20 * time.Millisecond)

	store.CreateOpen(position.CreateOpenParams{
		AgentID: "a", TokenMint: "t", EntryPrice: 1, EntryAmount: 1,
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("expected a broadcast message, got error: %v", err)
	}
	if msg.Type != "trade_update" || msg.Position == nil {
		t.Errorf("expected trade_update with a position, got %+v", msg)
	}
	if msg.Position.TokenMint != domain.TokenId("t") {
		t.Errorf("expected tokenMint 't', got %v", msg.Position.TokenMint)
	}
}
