// Package ws pushes engine snapshots to dashboard clients over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

const (
	// DefaultInterval is how often snapshots are pushed.
	DefaultInterval = time.Second
	// DefaultMaxClients caps concurrent dashboard connections.
	DefaultMaxClients = 32
)

// SnapshotSource is the read side of the engine.
type SnapshotSource interface {
	Snapshot() domain.EngineSnapshot
}

// envelope is the frame every message travels in. Seq increases by one per
// broadcast so a client can spot dropped frames.
type envelope struct {
	Type    string                `json:"type"`
	Seq     uint64                `json:"seq"`
	Payload domain.EngineSnapshot `json:"payload"`
}

// Config controls the hub.
type Config struct {
	// Interval between snapshot pushes. Zero means DefaultInterval.
	Interval time.Duration
	// AllowedOrigins restricts browser upgrades; empty allows all.
	AllowedOrigins []string
	// MaxClients caps connections. Zero means DefaultMaxClients.
	MaxClients int
}

// Hub broadcasts the engine snapshot to every connected client on a fixed
// interval.
type Hub struct {
	source     SnapshotSource
	interval   time.Duration
	maxClients int
	upgrader   websocket.Upgrader
	logger     *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	seq     uint64
	closed  bool
}

// NewHub creates a hub that reads snapshots from source.
func NewHub(source SnapshotSource, cfg Config, logger *slog.Logger) *Hub {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultMaxClients
	}
	return &Hub{
		source:     source,
		interval:   cfg.Interval,
		maxClients: cfg.MaxClients,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  512,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		clients: make(map[*client]struct{}),
		logger:  logger.With(slog.String("component", "ws")),
	}
}

// originChecker allows requests without an Origin header (non-browser
// clients) and browser origins on the list.
func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 || allowed["*"] {
			return true
		}
		return allowed[strings.ToLower(origin)]
	}
}

// Run broadcasts until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case <-ticker.C:
			h.broadcast()
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) broadcast() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return
	}
	h.seq++
	msg := h.frame(h.seq)
	if msg == nil {
		return
	}
	for c := range h.clients {
		c.push(msg)
	}
}

func (h *Hub) frame(seq uint64) []byte {
	msg, err := json.Marshal(envelope{Type: "status", Seq: seq, Payload: h.source.Snapshot()})
	if err != nil {
		h.logger.Error("marshal snapshot", slog.String("error", err.Error()))
		return nil
	}
	return msg
}

// add registers c and queues the current snapshot for it. It reports false
// when the hub is full or shut down.
func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || len(h.clients) >= h.maxClients {
		return false
	}
	h.clients[c] = struct{}{}
	c.push(h.frame(h.seq))
	h.logger.Info("client connected", slog.Int("clients", len(h.clients)))
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.logger.Info("client disconnected", slog.Int("clients", len(h.clients)))
}

// HandleWS upgrades the request and starts the client's pumps.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	if h.ClientCount() >= h.maxClients {
		http.Error(w, "too many dashboard connections", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn)
	if !h.add(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "hub unavailable"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
