package models

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketManager handles WebSocket connections and broadcasts
type WebSocketManager struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.Mutex
	logger     *zap.Logger
}

// NewWebSocketManager creates a new WebSocket manager
func NewWebSocketManager(logger *zap.Logger) *WebSocketManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketManager{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Start begins the WebSocket manager
func (wsm *WebSocketManager) Start() {
	go func() {
		for {
			select {
			case <-wsm.done:
				wsm.closeAll()
				return
			case client := <-wsm.register:
				wsm.mu.Lock()
				wsm.clients[client] = true
				total := len(wsm.clients)
				wsm.mu.Unlock()
				wsm.logger.Info("websocket client connected", zap.Int("clients", total))
			case client := <-wsm.unregister:
				wsm.mu.Lock()
				if _, ok := wsm.clients[client]; ok {
					delete(wsm.clients, client)
					client.Close()
				}
				total := len(wsm.clients)
				wsm.mu.Unlock()
				wsm.logger.Info("websocket client disconnected", zap.Int("clients", total))
			case message := <-wsm.broadcast:
				wsm.mu.Lock()
				for client := range wsm.clients {
					if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
						wsm.logger.Warn("websocket send failed", zap.Error(err))
						client.Close()
						delete(wsm.clients, client)
					}
				}
				wsm.mu.Unlock()
			}
		}
	}()
}

// ClientCount returns the number of registered clients
func (wsm *WebSocketManager) ClientCount() int {
	wsm.mu.Lock()
	defer wsm.mu.Unlock()
	return len(wsm.clients)
}

// Stop closes every client and ends the manager loop. Later calls do nothing.
func (wsm *WebSocketManager) Stop() {
	wsm.stopOnce.Do(func() {
		close(wsm.done)
	})
}

func (wsm *WebSocketManager) closeAll() {
	wsm.mu.Lock()
	defer wsm.mu.Unlock()
	for client := range wsm.clients {
		client.Close()
		delete(wsm.clients, client)
	}
}

// JobUpdateMessage builds the payload broadcast for a job change
func JobUpdateMessage(job *Job) ([]byte, error) {
	update := map[string]interface{}{
		"type":      "job_update",
		"job_id":    job.ID,
		"status":    job.Status,
		"timestamp": job.UpdatedAt,
	}
	if job.OutputPath != "" {
		update["output_path"] = job.OutputPath
	}
	if job.Status == StatusFailed && job.ErrorMessage != "" {
		update["error"] = job.ErrorMessage
	}
	return json.Marshal(update)
}

// BroadcastJobUpdate sends a job update to all connected clients
func (wsm *WebSocketManager) BroadcastJobUpdate(job *Job) {
	jsonData, err := JobUpdateMessage(job)
	if err != nil {
		wsm.logger.Error("failed to marshal job update", zap.Error(err))
		return
	}
	wsm.Broadcast(jsonData)
}

// Broadcast queues a raw message for every client. Drops the message when the manager is stopped.
func (wsm *WebSocketManager) Broadcast(message []byte) {
	select {
	case wsm.broadcast <- message:
	case <-wsm.done:
	}
}

// RegisterClient registers a new WebSocket client
func (wsm *WebSocketManager) RegisterClient(conn *websocket.Conn) {
	select {
	case wsm.register <- conn:
	case <-wsm.done:
		conn.Close()
	}
}

// UnregisterClient unregisters a WebSocket client
func (wsm *WebSocketManager) UnregisterClient(conn *websocket.Conn) {
	select {
	case wsm.unregister <- conn:
	case <-wsm.done:
	}
}
