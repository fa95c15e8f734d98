package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/treehealth/ndvi-monitor/internal/geo"
	"github.com/treehealth/ndvi-monitor/internal/logger"
	"github.com/treehealth/ndvi-monitor/internal/processor"
)

// Message types pushed to dashboards
const (
	TypeRunCompleted = "run_completed"
	TypeAlerts       = "alerts"
	TypePong         = "pong"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 45 * time.Second
	writeWait    = 10 * time.Second
)

// Message sent over WebSocket
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client is one dashboard connection. Writes are serialized.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
}

func (c *Client) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *Client) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Hub fans run notifications out to connected dashboards
type Hub struct {
	clients   map[*Client]struct{}
	broadcast chan *Message
	mu        sync.RWMutex
	upgrader  websocket.Upgrader
}

// NewHub creates a hub. Requests without an Origin header are always accepted;
// otherwise the origin must be listed.
func NewHub(allowedOrigins ...string) *Hub {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return &Hub{
		clients:   make(map[*Client]struct{}),
		broadcast: make(chan *Message, 256),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

// Run owns the client set until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	logger.Info().Msg("Starting WebSocket hub")

	for {
		select {
		case message := <-h.broadcast:
			for _, client := range h.snapshot() {
				if err := client.writeJSON(message); err != nil {
					logger.Warn().Err(err).Msg("WebSocket write failed, dropping client")
					h.remove(client)
				}
			}

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.done)
				client.conn.Close()
			}
			h.clients = make(map[*Client]struct{})
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	logger.Debug().Int("clients", n).Msg("WebSocket client registered")
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.done)
		client.conn.Close()
		logger.Debug().Int("clients", len(h.clients)).Msg("WebSocket client unregistered")
	}
}

// ClientCount returns the number of connected dashboards
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues msg for every client; it drops the message when the queue is full
func (h *Hub) Broadcast(msg *Message) {
	select {
	case h.broadcast <- msg:
	default:
		logger.Warn().Str("type", msg.Type).Msg("Broadcast channel full, message dropped")
	}
}

func newMessage(msgType string, payload interface{}, ts time.Time) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Type: msgType, Payload: data, Timestamp: ts}, nil
}

// OnRun pushes the run summary and, when the run counted any, its alerts as GeoJSON
func (h *Hub) OnRun(ctx context.Context, event *processor.RunEvent) error {
	msg, err := newMessage(TypeRunCompleted, event.Run, event.Timestamp)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to marshal run for WebSocket broadcast")
		return err
	}
	h.Broadcast(msg)

	if len(event.Alerts) == 0 {
		return nil
	}
	msg, err = newMessage(TypeAlerts, geo.AlertCollection(event.Alerts), event.Timestamp)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to marshal alerts for WebSocket broadcast")
		return err
	}
	h.Broadcast(msg)
	return nil
}

// ServeWS upgrades the request and keeps the connection alive with pings
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{conn: conn, done: make(chan struct{})}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	h.add(client)

	go h.readLoop(client)
	go h.pingLoop(client)
}

// readLoop only answers client pings; anything else is ignored
func (h *Hub) readLoop(client *Client) {
	defer h.remove(client)

	for {
		var msg struct {
			Type string `json:"type"`
		}
		if err := client.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug().Err(err).Msg("WebSocket closed unexpectedly")
			}
			return
		}
		if msg.Type != "ping" {
			continue
		}
		pong := &Message{Type: TypePong, Payload: json.RawMessage(`{}`), Timestamp: time.Now()}
		if err := client.writeJSON(pong); err != nil {
			return
		}
	}
}

func (h *Hub) pingLoop(client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := client.ping(); err != nil {
				return
			}
		case <-client.done:
			return
		}
	}
}
