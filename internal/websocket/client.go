package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"posextract/internal/config"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512
	sendBuffer     = 256
)

// Inbound frame types. Anything else is ignored.
const (
	inHeartbeat   = "heartbeat"
	inSubscribe   = "subscribe"
	inUnsubscribe = "unsubscribe"
)

type inbound struct {
	Type  string `json:"type"`
	JobID string `json:"job_id"`
}

// Client is one websocket connection. It receives every job's updates
// unless it has subscribed to a single job.
type Client struct {
	hub  *Hub
	conn Connection
	send chan []byte

	// watch holds the job ID the client follows; "" means all jobs.
	watch atomic.Pointer[string]

	id          string
	remoteAddr  string
	connectedAt time.Time
	logger      *slog.Logger
}

// NewClient creates a client for conn following jobID ("" for all jobs).
// The caller registers it.
func NewClient(hub *Hub, conn Connection, jobID string) *Client {
	id := uuid.NewString()
	c := &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		id:          id,
		remoteAddr:  conn.RemoteAddr(),
		connectedAt: time.Now(),
		logger:      hub.logger.With(slog.String("client_id", id)),
	}
	c.follow(jobID)
	return c
}

// ID returns the client id.
func (c *Client) ID() string { return c.id }

// Watching returns the job the client follows, or "" for all jobs.
func (c *Client) Watching() string { return *c.watch.Load() }

func (c *Client) follow(jobID string) { c.watch.Store(&jobID) }

// wants reports whether a message about jobID should reach the client.
// Messages without a job always do.
func (c *Client) wants(jobID string) bool {
	w := c.Watching()
	return w == "" || jobID == "" || w == jobID
}

// ReadPump handles inbound frames until the connection fails, then
// unregisters the client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(config.WebSocketPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(config.WebSocketPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket closed unexpectedly", slog.String("error", err.Error()))
			}
			return
		}
		c.hub.metrics.message(context.Background(), "in", len(data))

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("Ignoring malformed client frame", slog.Int("bytes", len(data)))
			continue
		}
		switch msg.Type {
		case inHeartbeat:
			c.conn.SetReadDeadline(time.Now().Add(config.WebSocketPongWait))
		case inSubscribe:
			c.follow(msg.JobID)
			c.logger.Debug("Client subscribed", slog.String("job_id", msg.JobID))
		case inUnsubscribe:
			c.follow("")
		}
	}
}

// WritePump writes queued frames and pings until the hub closes send or a
// write fails.
func (c *Client) WritePump() {
	ping := time.NewTicker(config.WebSocketPingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("WebSocket write failed", slog.String("error", err.Error()))
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("WebSocket ping failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}
