// Package hook runs external programs when a scanning session captures a
// card or ends.
package hook

import (
	"encoding/json"
	"time"

	"github.com/ayusman/cardsnap/internal/detector"
	"github.com/ayusman/cardsnap/internal/geometry"
)

// Event types a hook can subscribe to.
const (
	EventCaptured   = "captured"
	EventSessionEnd = "session_end"
)

// Manifest describes a hook's metadata and the events it wants.
type Manifest struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description string          `json:"description"`
	Executable  string          `json:"executable"`
	Events      []string        `json:"events"`
	Config      json.RawMessage `json:"config,omitempty"`
}

// Wants reports whether the hook subscribes to eventType. A manifest
// without events gets captures only.
func (m Manifest) Wants(eventType string) bool {
	if len(m.Events) == 0 {
		return eventType == EventCaptured
	}
	for _, e := range m.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// CaptureInfo is the capture part of an Event.
type CaptureInfo struct {
	ID        string               `json:"id"`
	CardPath  string               `json:"card_path,omitempty"`
	FacePath  string               `json:"face_path,omitempty"`
	Width     int                  `json:"width"`
	Height    int                  `json:"height"`
	Sharpness float64              `json:"sharpness"`
	Rect      geometry.RotatedRect `json:"rect"`
	FaceBox   *detector.FaceBox    `json:"face_box,omitempty"`
	Attempts  int                  `json:"attempts"`
}

// Event is written to a hook's stdin as JSON.
type Event struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Reason    string          `json:"reason,omitempty"`
	Capture   *CaptureInfo    `json:"capture,omitempty"`
	Config    json.RawMessage `json:"config,omitempty"`
	Time      time.Time       `json:"time"`
}

// Response is what a hook prints on stdout.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Hook is a discovered hook with its manifest and location.
type Hook struct {
	Manifest   Manifest
	Path       string
	Executable string
}
