// Package hub pushes job status events to websocket subscribers.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oriys/cloudcode/internal/domain"
	"github.com/oriys/cloudcode/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

type message struct {
	ev   domain.JobEvent
	data []byte
}

type client struct {
	conn  *websocket.Conn
	runID string // empty subscribes to every run
	once  sync.Once

	// Guarded by Hub.mu. Until ready, live events are held and send is nil.
	send  chan []byte
	ready bool
	held  []message
}

func (c *client) close() {
	c.once.Do(func() {
		if c.send != nil {
			close(c.send)
		}
	})
}

// Hub fans job events out to connected websocket clients.
type Hub struct {
	mu         sync.Mutex
	clients    map[*client]bool
	broadcast  chan message
	unregister chan *client
	upgrader   websocket.Upgrader
}

// New creates a hub accepting browser connections from allowedOrigins and
// localhost.
func New(allowedOrigins []string) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan message, 256),
		unregister: make(chan *client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true // non-browser clients (CLI, curl)
				}
				if allowed[origin] || allowed["*"] {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				host := u.Hostname()
				return host == "localhost" || host == "127.0.0.1" || host == "::1"
			},
		},
	}
}

// Run dispatches events until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				c.close()
			}
			h.mu.Unlock()
			return
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.close()
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.dispatch(msg)
		}
	}
}

func (h *Hub) dispatch(msg message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.runID != "" && c.runID != msg.ev.RunID {
			continue
		}
		if !c.ready {
			c.held = append(c.held, msg)
			continue
		}
		select {
		case c.send <- msg.data:
		default:
			// Slow consumer.
			delete(h.clients, c)
			c.close()
			continue
		}
		if msg.ev.Terminal() && c.runID != "" {
			delete(h.clients, c)
			c.close()
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Emit queues ev for delivery. It never blocks the job: when the queue is
// full the event is dropped.
func (h *Hub) Emit(_ context.Context, ev domain.JobEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- message{ev: ev, data: data}:
	default:
		logging.Op().Warn("hub: dropping job event", "run_id", ev.RunID, "kind", ev.Kind)
	}
	return nil
}

// HandleConnect upgrades the request and subscribes the connection to
// runID (every run when empty). The subscription starts before backlog is
// called, so an event emitted while the backlog loads is still delivered,
// after the backlog and without duplicating it.
func (h *Hub) HandleConnect(w http.ResponseWriter, r *http.Request, runID string, backlog func() []domain.JobEvent) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Op().Debug("ws upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, runID: runID}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	var past []domain.JobEvent
	if backlog != nil {
		past = backlog()
	}

	h.mu.Lock()
	if !h.clients[c] {
		// Hub stopped while the backlog loaded.
		h.mu.Unlock()
		conn.Close()
		return
	}
	pending := merge(past, c.held)
	c.send = make(chan []byte, sendBuffer+len(pending))
	c.held, c.ready = nil, true
	finished := false
	for _, m := range pending {
		c.send <- m.data
		finished = finished || m.ev.Terminal()
	}
	if finished && runID != "" {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()

	go c.writePump()
	go c.readPump(h)
}

// merge returns the backlog followed by the live events it does not
// already cover: progress at or below the backlog's count, and any terminal
// event once the backlog has one, are dropped.
func merge(backlog []domain.JobEvent, live []message) []message {
	out := make([]message, 0, len(backlog)+len(live))
	lastProgress, terminal := -1, false
	for _, ev := range backlog {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		out = append(out, message{ev: ev, data: data})
		if ev.Terminal() {
			terminal = true
		} else if ev.Processed > lastProgress {
			lastProgress = ev.Processed
		}
	}
	for _, m := range live {
		switch {
		case m.ev.Terminal() && terminal:
			continue
		case !m.ev.Terminal() && m.ev.Processed <= lastProgress:
			continue
		}
		out = append(out, m)
		if m.ev.Terminal() {
			terminal = true
		}
	}
	return out
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (c *client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-time.After(writeWait):
		}
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
