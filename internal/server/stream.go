package server

import (
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/cardsnap/internal/display"
	"github.com/ayusman/cardsnap/internal/geometry"
	"github.com/ayusman/cardsnap/internal/logger"
)

// Preview keeps the latest camera frame, card and face as JPEG so HTTP
// clients can poll or stream them. It implements display.Sink and
// display.FrameSink.
type Preview struct {
	mu      sync.Mutex
	outline *[4]geometry.Point2D
	frame   []byte
	card    []byte
	face    []byte
	updated chan struct{}
}

// NewPreview returns an empty Preview.
func NewPreview() *Preview {
	return &Preview{updated: make(chan struct{})}
}

// ShowFrame encodes frame with the current outline drawn on it. The outline
// comes from the previous tick, so it trails the frame by one tick.
func (p *Preview) ShowFrame(frame gocv.Mat) {
	if frame.Empty() {
		return
	}

	p.mu.Lock()
	outline := p.outline
	p.mu.Unlock()

	img := frame
	if outline != nil {
		img = frame.Clone()
		defer img.Close()
		display.DrawOutline(&img, *outline)
	}

	buf, err := display.EncodeJPEG(img)
	if err != nil {
		logger.L().Debug("preview frame encode failed", zap.Error(err))
		return
	}

	p.mu.Lock()
	p.frame = buf
	close(p.updated)
	p.updated = make(chan struct{})
	p.mu.Unlock()
}

// DrawOutline sets the outline drawn on subsequent frames.
func (p *Preview) DrawOutline(corners [4]geometry.Point2D) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outline = &corners
}

// Clear removes the outline and the card and face previews.
func (p *Preview) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outline = nil
	p.card = nil
	p.face = nil
}

// ShowCard stores the card preview.
func (p *Preview) ShowCard(card gocv.Mat) {
	p.store(card, &p.card)
}

// ShowFace stores the face preview.
func (p *Preview) ShowFace(face gocv.Mat) {
	p.store(face, &p.face)
}

func (p *Preview) store(img gocv.Mat, dst *[]byte) {
	buf, err := display.EncodeJPEG(img)
	if err != nil {
		logger.L().Debug("preview encode failed", zap.Error(err))
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	*dst = buf
}

// Frame returns the latest frame and a channel closed when a newer one arrives.
func (p *Preview) Frame() ([]byte, <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frame, p.updated
}

// Card returns the latest card preview, if any.
func (p *Preview) Card() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.card
}

// Face returns the latest face preview, if any.
func (p *Preview) Face() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.face
}

// StreamHandler serves the preview frames as MJPEG.
type StreamHandler struct {
	preview *Preview
}

// NewStreamHandler creates a new StreamHandler over preview.
func NewStreamHandler(preview *Preview) *StreamHandler {
	return &StreamHandler{preview: preview}
}

// ServeHTTP streams MJPEG frames until the client goes away.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for {
		buf, updated := h.preview.Frame()
		if buf != nil {
			if err := writePart(w, buf); err != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}

		select {
		case <-r.Context().Done():
			return
		case <-updated:
		}
	}
}

func writePart(w http.ResponseWriter, buf []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(buf)); err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\r\n")
	return err
}

// imageHandler serves one preview image, or 404 while there is none.
func imageHandler(get func() []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buf := get()
		if buf == nil {
			http.Error(w, "No image", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(buf)
	}
}
