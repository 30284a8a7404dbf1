package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/delverhq/delver/internal/job"
)

// wsMessage is the frame pushed to subscribers on every job change.
type wsMessage struct {
	Type     string     `json:"type"`
	JobID    string     `json:"jobId"`
	Status   job.Status `json:"status"`
	Progress int        `json:"progress"`
	Error    string     `json:"error,omitempty"`
}

// client is one WebSocket subscriber for one job.
type client struct {
	jobID string
	conn  *websocket.Conn
	send  chan []byte
}

// broadcastMessage carries a serialized frame to a job's subscribers.
type broadcastMessage struct {
	jobID    string
	payload  []byte
	terminal bool
}

// Hub fans job snapshots out to WebSocket subscribers grouped by job ID.
// Terminal snapshots close the job's connections after delivery.
type Hub struct {
	clients    map[string]map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan *broadcastMessage
	done       chan struct{}
	logger     *slog.Logger

	mu sync.RWMutex
}

// NewHub creates a hub. Run must be started for it to do anything.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[string]map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan *broadcastMessage, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run drives the hub's event loop until Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return

		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.jobID] == nil {
				h.clients[c.jobID] = make(map[*client]bool)
			}
			h.clients[c.jobID][c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[c.jobID]; ok {
				if _, ok := clients[c]; ok {
					delete(clients, c)
					close(c.send)
					if len(clients) == 0 {
						delete(h.clients, c.jobID)
					}
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			if clients, ok := h.clients[msg.jobID]; ok {
				for c := range clients {
					select {
					case c.send <- msg.payload:
					default:
						close(c.send)
						delete(clients, c)
					}
					if msg.terminal {
						// Delivered the final state; the writer drains send
						// and closes the connection when the channel closes.
						if _, live := clients[c]; live {
							close(c.send)
							delete(clients, c)
						}
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.jobID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop terminates the event loop.
func (h *Hub) Stop() {
	close(h.done)
}

// Broadcast pushes a job snapshot to its subscribers.
func (h *Hub) Broadcast(snap job.Snapshot) {
	msg := wsMessage{
		Type:     "job.update",
		JobID:    snap.ID,
		Status:   snap.Status,
		Progress: snap.Progress,
		Error:    snap.Error,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("marshaling ws message", "error", err)
		return
	}

	bm := &broadcastMessage{jobID: snap.ID, payload: payload, terminal: snap.Status.Terminal()}
	if bm.terminal {
		// The terminal frame is what ends subscriber streams; it must be
		// delivered even when the buffer is saturated with progress updates.
		select {
		case h.broadcast <- bm:
		case <-h.done:
		}
		return
	}
	select {
	case h.broadcast <- bm:
	default:
		h.logger.Warn("ws broadcast buffer full, dropping update", "job_id", snap.ID)
	}
}

// handleConnection serves one subscriber until the job finishes or the peer
// goes away.
func (h *Hub) handleConnection(conn *websocket.Conn, jobID string, initial job.Snapshot) {
	c := &client{
		jobID: jobID,
		conn:  conn,
		send:  make(chan []byte, 64),
	}

	select {
	case h.register <- c:
	case <-h.done:
		return
	}
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()

	// Push the current state immediately so late subscribers are not stuck
	// waiting for the next change.
	h.Broadcast(initial)

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case payload, ok := <-c.send:
				if !ok {
					conn.WriteMessage(websocket.CloseMessage, []byte{})
					conn.Close()
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("ws read error", "job_id", jobID, "error", err)
			}
			return
		}
	}
}
