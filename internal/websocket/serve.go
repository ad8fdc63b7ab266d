package websocket

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"posextract/internal/config"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  config.WebSocketReadBufferSize,
	WriteBufferSize: config.WebSocketWriteBufferSize,
	// Status push is read-only and served on the same origin as the API.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades the request and attaches a client to hub. A job_id query
// parameter limits the client to that job's updates.
func Handler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Warn("WebSocket upgrade failed",
				slog.String("error", err.Error()),
				slog.String("remote_addr", r.RemoteAddr))
			return
		}
		ServeConn(hub, gorillaConn{conn}, r.URL.Query().Get("job_id"))
	}
}

// ServeConn registers a client for conn and starts its pumps.
func ServeConn(hub *Hub, conn Connection, jobID string) *Client {
	client := NewClient(hub, conn, jobID)
	hub.Register(client)
	go client.WritePump()
	go client.ReadPump()
	return client
}
