// Package stream fans marketplace events out to websocket subscribers.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/maksimarefev/nft-marketplace/internal/event"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browsers connect straight to the daemon; origin policy is the
	// deployment's concern.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// envelope is the wire format sent to subscribers.
type envelope struct {
	Type  string      `json:"type"`
	Event event.Event `json:"event"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts emitted events to every connected subscriber. It implements
// event.Sink; a slow subscriber is dropped rather than allowed to stall the
// marketplace.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	clients    map[*client]bool
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		clients:    make(map[*client]bool),
	}
}

// Run owns the client set. Start it in its own goroutine before serving.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				close(c.send)
				delete(h.clients, c)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Subscriber too slow, cut it loose.
					close(c.send)
					delete(h.clients, c)
				}
			}
		}
	}
}

// Emit implements event.Sink.
func (h *Hub) Emit(ctx context.Context, ev event.Event) error {
	msg, err := json.Marshal(envelope{Type: ev.GetType().String(), Event: ev})
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- msg:
	default:
		slog.Warn("Stream broadcast buffer full, dropping event",
			slog.Uint64("seq", ev.GetSeq()))
	}
	return nil
}

// ServeWS upgrades the request and subscribes the connection to the event
// stream. Inbound messages are ignored; the stream is one-way.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.register <- c

	go c.writeLoop()
	go c.readLoop(h)
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readLoop(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * pingPeriod))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * pingPeriod))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
