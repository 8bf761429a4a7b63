package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/kokistudios/sidecar/internal/learning"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 32
)

// eventSource is anything that feeds session events; the registry fans in
// every scope's coordinator.
type eventSource interface {
	Subscribe() (<-chan learning.Event, func())
}

// Hub pushes session state changes to connected browsers. It relays its
// source's event feed; a slow client drops events rather than holding up
// session transitions.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]bool
	cancel  func()
}

type client struct {
	conn *websocket.Conn
	send chan learning.Event
}

// NewHub creates a hub wired to the source's event feed.
func NewHub(src eventSource) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The server binds to loopback; cross-origin pages on the same
			// machine are the expected callers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]bool),
	}

	events, cancel := src.Subscribe()
	h.cancel = cancel
	go h.relay(events)
	return h
}

func (h *Hub) relay(events <-chan learning.Event) {
	for ev := range events {
		h.mu.Lock()
		for c := range h.clients {
			select {
			case c.send <- ev:
			default:
				log.Warn("websocket client lagging, dropping event", "session", ev.SessionID)
			}
		}
		h.mu.Unlock()
	}
}

// HandleWebSocket upgrades the connection and streams session events until
// the client goes away.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn, send: make(chan learning.Event, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	log.Debug("websocket client connected", "remote", r.RemoteAddr)

	go c.writePump()
	h.readPump(c)
}

// readPump drains the connection. Clients only send pongs and the eventual
// close frame; any read error tears the client down.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
		c.conn.Close()
		log.Debug("websocket client disconnected")
	}
}

// ActiveConnections reports how many browsers are attached.
func (h *Hub) ActiveConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all clients and unsubscribes from the coordinator.
func (h *Hub) Close() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		c.conn.Close()
	}
	h.clients = make(map[*client]bool)
}
