package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenCounterCore/internal/types"
)

// SnapshotProvider interface for getting the current system snapshot
type SnapshotProvider interface {
	SystemSnapshot() types.SystemSnapshot
}

// Hub maintains active WebSocket clients and broadcasts messages
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Inbound messages to broadcast
	broadcast chan Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Mutex for thread-safe operations
	mu sync.RWMutex

	// Logger
	logger *zap.Logger

	// Default per-client snapshot interval
	updateInterval time.Duration

	// Snapshot provider (optional)
	snapshotProvider SnapshotProvider
}

// NewHub creates a new Hub instance
func NewHub(logger *zap.Logger, updateInterval time.Duration) *Hub {
	return &Hub{
		broadcast:      make(chan Message, 256),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		clients:        make(map[*Client]bool),
		logger:         logger,
		updateInterval: updateInterval,
	}
}

// SetSnapshotProvider sets the system snapshot provider
func (h *Hub) SetSnapshotProvider(provider SnapshotProvider) {
	h.snapshotProvider = provider
}

// Run starts the hub's main event loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket Hub started")
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("WebSocket client registered",
				zap.String("client_id", client.id.String()),
				zap.String("remote_addr", client.conn.RemoteAddr().String()),
				zap.Int("total_clients", len(h.clients)))

			// New clients get the current state right away
			h.sendSnapshot(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("WebSocket client unregistered",
					zap.String("client_id", client.id.String()),
					zap.Int("total_clients", len(h.clients)))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			// write lock: slow clients get evicted mid-iteration
			h.mu.Lock()
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.Error("Failed to marshal broadcast message",
					zap.Error(err))
				h.mu.Unlock()
				continue
			}

			for client := range h.clients {
				select {
				case client.send <- data:
					// Message sent successfully
				default:
					// Client send channel full - unregister slow/dead client
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("Client send buffer full, unregistering",
						zap.String("client_id", client.id.String()))
				}
			}
			h.mu.Unlock()
		}
	}
}

// sendSnapshot pushes the current system snapshot to a single client
func (h *Hub) sendSnapshot(client *Client) {
	if h.snapshotProvider == nil {
		return
	}

	msg := NewSystemSnapshotMessage(h.snapshotProvider.SystemSnapshot())
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal snapshot message", zap.Error(err))
		return
	}

	select {
	case client.send <- data:
	default:
		h.logger.Warn("Client send buffer full, snapshot skipped",
			zap.String("client_id", client.id.String()))
	}
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
		// Message queued for broadcast
	default:
		h.logger.Warn("Hub broadcast channel full, message dropped",
			zap.String("message_type", string(msg.Type)))
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
