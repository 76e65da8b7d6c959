package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Send channel buffer size
	sendBufferSize = 256

	// Bounds for the client-selected snapshot interval
	minUpdateInterval = 1 * time.Second
	maxUpdateInterval = 300 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking for production
		return true
	},
}

// clientCommand is the envelope for messages sent by clients
type clientCommand struct {
	Type            string `json:"type"`
	IntervalSeconds int    `json:"interval_seconds"`
}

// Client represents a WebSocket client connection
type Client struct {
	hub            *Hub
	conn           *websocket.Conn
	send           chan []byte
	logger         *zap.Logger
	id             uuid.UUID
	updateInterval time.Duration
	setInterval    chan time.Duration
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg clientCommand
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", c.id.String()))
			}
			break
		}

		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg clientCommand) {
	switch msg.Type {
	case "set_interval":
		interval := time.Duration(msg.IntervalSeconds) * time.Second
		if interval < minUpdateInterval {
			interval = minUpdateInterval
		}
		if interval > maxUpdateInterval {
			interval = maxUpdateInterval
		}

		select {
		case c.setInterval <- interval:
			c.logger.Info("Client snapshot interval changed",
				zap.String("client_id", c.id.String()),
				zap.Duration("interval", interval))
		default:
			// Previous change still pending, ignore
		}

	default:
		c.logger.Debug("Ignoring unknown client message",
			zap.String("client_id", c.id.String()),
			zap.String("type", msg.Type))
	}
}

// writePump handles writing messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	update := time.NewTicker(c.updateInterval)
	defer func() {
		ticker.Stop()
		update.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Coalesce queued messages into current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case interval := <-c.setInterval:
			update.Reset(interval)

			// Acknowledge on the connection-owning goroutine
			ack, err := json.Marshal(NewMessage(MessageTypeIntervalChanged, IntervalChangedData{
				IntervalSeconds: int(interval / time.Second),
			}))
			if err != nil {
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, ack); err != nil {
				return
			}

		case <-update.C:
			provider := c.hub.snapshotProvider
			if provider == nil {
				continue
			}
			data, err := json.Marshal(NewSystemSnapshotMessage(provider.SystemSnapshot()))
			if err != nil {
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

// ServeWs handles WebSocket upgrade requests
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		hub:            hub,
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		logger:         hub.logger, // <- Logger vom Hub übernehmen
		id:             uuid.New(),
		updateInterval: hub.updateInterval,
		setInterval:    make(chan time.Duration, 1),
	}

	client.hub.register <- client

	// Start read and write pumps in separate goroutines
	go client.writePump()
	go client.readPump()
}
