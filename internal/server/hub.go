package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"auxite-wallet/internal/market"
	"auxite-wallet/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	clientBuffer   = 16
)

// SnapshotSource provides the state pushed to stream clients.
type SnapshotSource interface {
	Snapshot() service.Snapshot
}

// Message is one frame on the snapshot stream.
type Message struct {
	Type     string            `json:"type"`
	Update   *market.TokenRow  `json:"update,omitempty"`
	Snapshot *service.Snapshot `json:"snapshot"`
}

// Hub fans accepted updates out to WebSocket clients. It is registered as an
// aggregator sink and pushes a fresh snapshot after every update.
type Hub struct {
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	source  SnapshotSource
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub constructs an empty hub. Bind must be called before updates are pushed.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger: logger.With().Str("component", "ws_hub").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*client]struct{}),
	}
}

// Bind sets the snapshot source.
func (h *Hub) Bind(src SnapshotSource) {
	h.mu.Lock()
	h.source = src
	h.mu.Unlock()
}

// Name identifies the hub as an update sink.
func (h *Hub) Name() string {
	return "websocket"
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleUpdate broadcasts the new snapshot to every client.
func (h *Hub) HandleUpdate(_ context.Context, row market.TokenRow) error {
	h.mu.Lock()
	src := h.source
	n := len(h.clients)
	h.mu.Unlock()
	if src == nil || n == 0 {
		return nil
	}

	snap := src.Snapshot()
	payload, err := json.Marshal(Message{Type: "update", Update: &row, Snapshot: &snap})
	if err != nil {
		return err
	}
	h.broadcast(payload)
	return nil
}

func (h *Hub) broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		select {
		case cl.send <- payload:
		default:
			h.logger.Warn().Msg("stream client too slow, disconnecting")
			h.removeLocked(cl)
		}
	}
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for cl := range h.clients {
		h.removeLocked(cl)
	}
}

func (h *Hub) removeLocked(cl *client) {
	if _, ok := h.clients[cl]; !ok {
		return
	}
	delete(h.clients, cl)
	close(cl.send)
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	h.removeLocked(cl)
	h.mu.Unlock()
}

// serve upgrades the request and streams until the client goes away.
func (h *Hub) serve(w http.ResponseWriter, r *http.Request, checkOrigin func(*http.Request) bool) {
	up := h.upgrader
	up.CheckOrigin = checkOrigin
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	cl := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	h.mu.Lock()
	src := h.source
	h.mu.Unlock()
	// Queue the initial snapshot before the client becomes visible to broadcast.
	if src != nil {
		snap := src.Snapshot()
		if payload, err := json.Marshal(Message{Type: "snapshot", Snapshot: &snap}); err == nil {
			cl.send <- payload
		}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[cl] = struct{}{}
	h.mu.Unlock()

	go h.writePump(cl)
	h.readPump(cl)
}

func (h *Hub) readPump(cl *client) {
	defer func() {
		h.remove(cl)
		_ = cl.conn.Close()
	}()
	cl.conn.SetReadLimit(maxMessageSize)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) stream(c *gin.Context) {
	if s.deps.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream not configured"})
		return
	}
	s.deps.Hub.serve(c.Writer, c.Request, func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || s.originAllowed(origin)
	})
}
