// Package dashboard implements the outbound WebSocket broadcast (spec
// §6 "Outbound broadcast (dashboard)"): trade_update(Position) and
// price_update({mint, price}) messages fanned out to every connected
// client. Grounded on gorilla/websocket's server-upgrade idiom (the
// teacher only exercises the client side in
// internal/solana/ws_client_test.go's upgrader; this package is the
// server side the test stood in for), and on spec §9's explicit
// "avoid bidirectional references" note: the Broadcaster only ever
// subscribes to internal/position.Store's publish/subscribe bus, never
// holds a reference back into it beyond that subscription.
package dashboard

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mindmaptrader/internal/domain"
	"mindmaptrader/internal/position"
)

const (
	writeTimeout = 10 * time.Second
	clientBuffer = 128
)

// Message is one outbound dashboard event.
type Message struct {
	Type     string           `json:"type"` // "trade_update" | "price_update"
	Position *domain.Position `json:"position,omitempty"`
	Mint     domain.TokenId   `json:"mint,omitempty"`
	Price    float64          `json:"price,omitempty"`
}

// Broadcaster subscribes to a position.Store's event bus and fans every
// event out to connected WebSocket clients.
type Broadcaster struct {
	upgrader websocket.Upgrader
	logger   *log.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan Message
}

// New creates a Broadcaster. It does not start consuming events until
// Run is called.
func New(logger *log.Logger) *Broadcaster {
	if logger == nil {
		logger = log.Default()
	}
	return &Broadcaster{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Run subscribes to store's event bus and forwards every event as a
// dashboard Message until stop is closed or the subscription closes.
func (b *Broadcaster) Run(stop <-chan struct{}, store *position.Store) {
	events, cancel := store.Subscribe()
	defer cancel()

	for {
		select {
		case <-stop:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.broadcast(eventToMessage(ev))
		}
	}
}

func eventToMessage(ev position.Event) Message {
	switch ev.Type {
	case position.EventPriceUpdate:
		return Message{Type: "price_update", Mint: ev.Token, Price: ev.Price}
	default:
		return Message{Type: "trade_update", Position: ev.Position}
	}
}

// ServeHTTP upgrades the connection and registers it as a broadcast
// recipient until it disconnects.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Printf("dashboard: upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan Message, clientBuffer)}
	b.addClient(c)
	defer b.removeClient(c)

	// Drain inbound frames (the dashboard is read-only from the
	// client's perspective) so pongs/closes are observed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for msg := range c.send {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (b *Broadcaster) addClient(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[c] = struct{}{}
}

func (b *Broadcaster) removeClient(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
	c.conn.Close()
}

// broadcast fans msg out to every connected client, dropping it for any
// client whose send buffer is full rather than blocking the bus.
func (b *Broadcaster) broadcast(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// MarshalJSON-friendly helper for tests and CLI status output.
func (m Message) String() string {
	b, _ := json.Marshal(m)
	return string(b)
}
