package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/cardsnap/internal/app"
	"github.com/ayusman/cardsnap/internal/geometry"
	"github.com/ayusman/cardsnap/internal/logger"
)

const writeTimeout = 2 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// Event types pushed to websocket clients.
const (
	EventOutline    = "outline"
	EventClear      = "clear"
	EventStatus     = "status"
	EventCard       = "card"
	EventFace       = "face"
	EventAttempt    = "attempt"
	EventCaptured   = "captured"
	EventSessionEnd = "session_end"
)

// Event is one message pushed to websocket clients.
type Event struct {
	Type      string               `json:"type"`
	Corners   *[4]geometry.Point2D `json:"corners,omitempty"`
	Status    string               `json:"status,omitempty"`
	Data      any                  `json:"data,omitempty"`
	Timestamp int64                `json:"timestamp"`
}

// Hub broadcasts pipeline events to websocket clients. It implements
// display.Sink and display.StatusSink.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]bool)}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.L().Warn("websocket upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends e to every client. Clients that cannot keep up are dropped.
func (h *Hub) Broadcast(e Event) {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	msg, err := json.Marshal(e)
	if err != nil {
		logger.L().Warn("failed to encode event", zap.String("type", e.Type), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// DrawOutline pushes the candidate outline.
func (h *Hub) DrawOutline(corners [4]geometry.Point2D) {
	h.Broadcast(Event{Type: EventOutline, Corners: &corners})
}

// Clear tells clients the candidate is gone.
func (h *Hub) Clear() {
	h.Broadcast(Event{Type: EventClear})
}

// ShowCard tells clients a card preview is available.
func (h *Hub) ShowCard(gocv.Mat) {
	h.Broadcast(Event{Type: EventCard, Data: "/api/preview/card.jpg"})
}

// ShowFace tells clients a face preview is available.
func (h *Hub) ShowFace(gocv.Mat) {
	h.Broadcast(Event{Type: EventFace, Data: "/api/preview/face.jpg"})
}

// SetStatus pushes the status line.
func (h *Hub) SetStatus(status string) {
	h.Broadcast(Event{Type: EventStatus, Status: status})
}

// Attach forwards the pipeline's attempts, captures and session ends.
func (h *Hub) Attach(p *app.Pipeline) {
	p.OnAttempt(func(a app.Attempt) {
		h.Broadcast(Event{Type: EventAttempt, Data: a})
	})
	p.OnCapture(func(c *app.Capture) {
		h.Broadcast(Event{Type: EventCaptured, Data: c})
	})
	p.OnEnd(func(e app.SessionEnd) {
		h.Broadcast(Event{Type: EventSessionEnd, Data: map[string]any{
			"session_id": e.SessionID,
			"reason":     e.Reason.String(),
		}})
	})
}
