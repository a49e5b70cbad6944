package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cliprelay/internal/core/cache"
	"cliprelay/internal/core/queue"
	"cliprelay/internal/shared/logger"
	"cliprelay/proxypool"
)

// Message is the envelope for every frame the hub sends.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// StatsPayload is the periodic dashboard update: one point-in-time view
// across the pool, supplier, queue and cache.
type StatsPayload struct {
	Timestamp time.Time                `json:"timestamp"`
	Pool      proxypool.Stats          `json:"pool"`
	Supplier  proxypool.SupplierStatus `json:"supplier"`
	Queue     queue.Stats              `json:"queue"`
	Cache     cache.Stats              `json:"cache"`
}

// Hub maintains the set of live dashboard connections and broadcasts
// stats frames to them.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn

	stopChan chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		stopChan:   make(chan struct{}),
	}
}

// Run owns the client set until Close. It is the only goroutine that
// mutates h.clients.
func (h *Hub) Run() {
	l := logger.WithComponent("WebSocket")
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			l.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("Dashboard client connected.")

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				l.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("Dashboard client disconnected.")
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					l.Warn().Err(err).Str("remote_addr", conn.RemoteAddr().String()).
						Msg("Write to dashboard client failed.")
					// The read pump notices the dead connection and
					// unregisters it.
				}
			}
			h.mu.Unlock()

		case <-h.stopChan:
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Close shuts the hub down and drops every client connection.
func (h *Hub) Close() {
	h.stopOnce.Do(func() {
		close(h.stopChan)
	})
}

// BroadcastStats queues a stats frame for delivery. A full broadcast
// channel drops the frame; the next tick carries fresher numbers
// anyway.
func (h *Hub) BroadcastStats(payload *StatsPayload) {
	msg := Message{Type: "stats", Data: payload}
	jsonMsg, err := json.Marshal(msg)
	if err != nil {
		logger.WithComponent("WebSocket").Error().Err(err).Msg("Failed to marshal stats payload.")
		return
	}

	select {
	case h.broadcast <- jsonMsg:
	case <-h.stopChan:
	default:
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWs upgrades a dashboard request and hands the connection to the
// hub.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithComponent("WebSocket").Error().Err(err).Msg("Websocket upgrade failed.")
		return
	}
	select {
	case hub.register <- conn:
	case <-hub.stopChan:
		conn.Close()
		return
	}

	// Read pump: its only job is to notice the client going away.
	go func() {
		defer func() {
			select {
			case hub.unregister <- conn:
			case <-hub.stopChan:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logger.WithComponent("WebSocket").Warn().Err(err).Msg("Unexpected websocket close.")
				}
				break
			}
		}
	}()
}
