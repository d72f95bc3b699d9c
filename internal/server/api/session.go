package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ayusman/cardsnap/internal/app"
)

// Scanner is the session control surface of the pipeline.
type Scanner interface {
	Start(ctx context.Context) error
	Stop()
	State() app.State
	SessionID() string
	Progress() float64
	Result() (*app.Capture, bool)
}

// SessionHandler starts, stops and reports on scanning sessions.
type SessionHandler struct {
	scanner Scanner
	ctx     context.Context
}

// NewSessionHandler creates a SessionHandler. Sessions started over HTTP
// live until Stop, a capture, or ctx is cancelled.
func NewSessionHandler(ctx context.Context, s Scanner) *SessionHandler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &SessionHandler{scanner: s, ctx: ctx}
}

// Register mounts the session routes on r.
func (h *SessionHandler) Register(r *mux.Router) {
	r.HandleFunc("/api/session", h.status).Methods(http.MethodGet)
	r.HandleFunc("/api/session/start", h.start).Methods(http.MethodPost)
	r.HandleFunc("/api/session/stop", h.stop).Methods(http.MethodPost)
}

type sessionResponse struct {
	State     string  `json:"state"`
	SessionID string  `json:"session_id,omitempty"`
	Progress  float64 `json:"progress"`
	CaptureID string  `json:"capture_id,omitempty"`
}

func (h *SessionHandler) snapshot() sessionResponse {
	resp := sessionResponse{
		State:     h.scanner.State().String(),
		SessionID: h.scanner.SessionID(),
		Progress:  h.scanner.Progress(),
	}
	if c, ok := h.scanner.Result(); ok && c.SessionID == resp.SessionID {
		resp.CaptureID = c.ID
	}
	return resp
}

// status handles GET /api/session.
func (h *SessionHandler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.snapshot())
}

// start handles POST /api/session/start.
func (h *SessionHandler) start(w http.ResponseWriter, r *http.Request) {
	if err := h.scanner.Start(h.ctx); err != nil {
		if errors.Is(err, app.ErrResourceUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "Camera unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to start session")
		return
	}
	writeJSON(w, http.StatusAccepted, h.snapshot())
}

// stop handles POST /api/session/stop.
func (h *SessionHandler) stop(w http.ResponseWriter, r *http.Request) {
	h.scanner.Stop()
	writeJSON(w, http.StatusOK, h.snapshot())
}
