package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ayusman/cardsnap/internal/detector"
	"github.com/ayusman/cardsnap/internal/geometry"
	"github.com/ayusman/cardsnap/internal/store"
)

// CaptureHandler serves the capture archive.
type CaptureHandler struct {
	store *store.Store
}

// NewCaptureHandler creates a new CaptureHandler with the given store.
func NewCaptureHandler(s *store.Store) *CaptureHandler {
	return &CaptureHandler{store: s}
}

// Register mounts the archive routes on r.
func (h *CaptureHandler) Register(r *mux.Router) {
	r.HandleFunc("/api/captures", h.list).Methods(http.MethodGet)
	r.HandleFunc("/api/captures/latest", h.latest).Methods(http.MethodGet)
	r.HandleFunc("/api/captures/{id}", h.get).Methods(http.MethodGet)
	r.HandleFunc("/api/captures/{id}", h.delete).Methods(http.MethodDelete)
	r.HandleFunc("/api/captures/{id}/card.jpg", h.cardImage).Methods(http.MethodGet)
	r.HandleFunc("/api/captures/{id}/face.jpg", h.faceImage).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions", h.listSessions).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}/attempts", h.listAttempts).Methods(http.MethodGet)
}

type captureResponse struct {
	ID         string               `json:"id"`
	SessionID  string               `json:"session_id"`
	Width      int                  `json:"width"`
	Height     int                  `json:"height"`
	Sharpness  float64              `json:"sharpness"`
	HasGlare   bool                 `json:"has_glare"`
	Rect       geometry.RotatedRect `json:"rect"`
	FaceBox    *detector.FaceBox    `json:"face_box,omitempty"`
	Attempts   int                  `json:"attempts"`
	CapturedAt string               `json:"captured_at"`
	CardURL    string               `json:"card_url"`
	FaceURL    string               `json:"face_url,omitempty"`
}

type listCapturesResponse struct {
	Captures []captureResponse `json:"captures"`
}

func toResponse(c *store.Capture) captureResponse {
	resp := captureResponse{
		ID:         c.ID,
		SessionID:  c.SessionID,
		Width:      c.CardWidth,
		Height:     c.CardHeight,
		Sharpness:  c.Sharpness,
		HasGlare:   c.HasGlare,
		Rect:       c.Rect,
		FaceBox:    c.FaceBox,
		Attempts:   c.Attempts,
		CapturedAt: c.CapturedAt.Format(time.RFC3339),
		CardURL:    "/api/captures/" + c.ID + "/card.jpg",
	}
	if c.HasFace() {
		resp.FaceURL = "/api/captures/" + c.ID + "/face.jpg"
	}
	return resp
}

// list handles GET /api/captures.
func (h *CaptureHandler) list(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	captures, err := h.store.Captures().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list captures")
		return
	}

	response := listCapturesResponse{Captures: make([]captureResponse, 0, len(captures))}
	for _, c := range captures {
		response.Captures = append(response.Captures, toResponse(c))
	}
	writeJSON(w, http.StatusOK, response)
}

// latest handles GET /api/captures/latest.
func (h *CaptureHandler) latest(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.Captures().Latest()
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(c))
}

// get handles GET /api/captures/{id}.
func (h *CaptureHandler) get(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.Captures().GetByID(mux.Vars(r)["id"])
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(c))
}

// delete handles DELETE /api/captures/{id}.
func (h *CaptureHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Captures().Delete(mux.Vars(r)["id"]); err != nil {
		h.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CaptureHandler) cardImage(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.Captures().GetByID(mux.Vars(r)["id"])
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeJPEG(w, c.CardJPEG)
}

func (h *CaptureHandler) faceImage(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.Captures().GetByID(mux.Vars(r)["id"])
	if err != nil {
		h.storeError(w, err)
		return
	}
	if !c.HasFace() {
		writeError(w, http.StatusNotFound, "Capture has no face")
		return
	}
	writeJPEG(w, c.FaceJPEG)
}

// listSessions handles GET /api/sessions.
func (h *CaptureHandler) listSessions(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	sessions, err := h.store.Sessions().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*store.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// listAttempts handles GET /api/sessions/{id}/attempts.
func (h *CaptureHandler) listAttempts(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.store.Sessions().GetByID(id); err != nil {
		h.storeError(w, err)
		return
	}

	attempts, err := h.store.Attempts().ListBySession(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list attempts")
		return
	}
	if attempts == nil {
		attempts = []*store.Attempt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

func (h *CaptureHandler) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "Failed to read archive")
}
