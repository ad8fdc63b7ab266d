package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Message types sent to clients.
const (
	TypeConnection  = "connection"
	TypeJobSnapshot = "job:snapshot"
)

// Message is the envelope of every frame the hub sends.
type Message struct {
	Type      string      `json:"type"`
	JobID     string      `json:"job_id,omitempty"`
	Status    string      `json:"status,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
}

type outbound struct {
	jobID   string
	payload []byte
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client

	mu       sync.RWMutex
	running  bool
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// greeting, when set, supplies messages sent to each new client after
	// the connection message (for example the active job's snapshot).
	greeting func() []Message

	logger  *slog.Logger
	metrics *HubMetrics

	messagesSent int64
}

// NewHub creates a hub. metrics may be nil.
func NewHub(logger *slog.Logger, metrics *HubMetrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		metrics:    metrics,
	}
}

// SetGreeting installs fn; it must be called before Start.
func (h *Hub) SetGreeting(fn func() []Message) {
	h.greeting = fn
}

// Start runs the hub loop in a goroutine.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	select {
	case <-h.quit:
		return
	default:
	}
	h.running = true
	go h.run()
}

func (h *Hub) run() {
	defer close(h.done)
	ctx := context.Background()
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.logger.Info("Hub shutting down")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.metrics.connected(ctx)

			h.logger.Info("Client registered",
				slog.Int("total_clients", count),
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr),
				slog.String("watching", client.Watching()))

			h.greet(client)

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client]
			if ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			if ok {
				h.metrics.disconnected(ctx, time.Since(client.connectedAt))
				h.logger.Info("Client unregistered",
					slog.Int("total_clients", count),
					slog.String("client_id", client.id),
					slog.Duration("connection_duration", time.Since(client.connectedAt)))
			}

		case msg := <-h.broadcast:
			h.fanOut(ctx, msg)
		}
	}
}

func (h *Hub) greet(client *Client) {
	msgs := []Message{{
		Type: TypeConnection,
		Data: map[string]string{
			"status":    "connected",
			"client_id": client.id,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}}
	if h.greeting != nil {
		msgs = append(msgs, h.greeting()...)
	}
	for _, msg := range msgs {
		if !client.wants(msg.JobID) {
			continue
		}
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		select {
		case client.send <- data:
		default:
			h.logger.Warn("Failed to send greeting, client buffer full",
				slog.String("client_id", client.id))
			return
		}
	}
}

func (h *Hub) fanOut(ctx context.Context, msg outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if !client.wants(msg.jobID) {
			continue
		}
		select {
		case client.send <- msg.payload:
			h.messagesSent++
			h.metrics.message(ctx, "out", len(msg.payload))
		default:
			close(client.send)
			delete(h.clients, client)
			h.metrics.droppedClient(ctx)
			h.logger.Warn("Client send buffer full, disconnecting",
				slog.String("client_id", client.id))
		}
	}
}

// BroadcastUpdate sends an event to every client following jobID. It never
// blocks on a stopped hub.
func (h *Hub) BroadcastUpdate(eventType, jobID, status string, data interface{}) {
	msg := Message{
		Type:      eventType,
		JobID:     jobID,
		Status:    status,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Error marshaling message",
			slog.String("error", err.Error()),
			slog.String("message_type", eventType))
		return
	}

	select {
	case h.broadcast <- outbound{jobID: jobID, payload: payload}:
	case <-h.quit:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// MessagesSent returns the number of frames queued to clients.
func (h *Hub) MessagesSent() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.messagesSent
}

// Stop closes every client and ends the hub loop. Broadcasts after Stop
// are dropped.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if running {
		<-h.done
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}
