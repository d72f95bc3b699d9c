package hook

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/cardsnap/internal/app"
	"github.com/ayusman/cardsnap/internal/display"
	"github.com/ayusman/cardsnap/internal/logger"
)

// Dispatcher turns pipeline events into hook runs. Images are written to
// OutputDir before the hooks start; hooks run in the background.
type Dispatcher struct {
	manager   *Manager
	executor  *Executor
	outputDir string
	ctx       context.Context
	wg        sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. When outputDir is empty, capture
// events carry no image paths.
func NewDispatcher(ctx context.Context, m *Manager, e *Executor, outputDir string) *Dispatcher {
	return &Dispatcher{manager: m, executor: e, outputDir: outputDir, ctx: ctx}
}

// Attach registers the dispatcher's hooks on p.
func (d *Dispatcher) Attach(p *app.Pipeline) {
	p.OnCapture(func(c *app.Capture) {
		event, err := d.CaptureEvent(c)
		if err != nil {
			logger.L().Warn("failed to prepare capture event", zap.String("capture", c.ID), zap.Error(err))
			return
		}
		d.Dispatch(event)
	})
	p.OnEnd(func(e app.SessionEnd) {
		d.Dispatch(&Event{
			Type:      EventSessionEnd,
			SessionID: e.SessionID,
			Reason:    e.Reason.String(),
			Time:      e.EndedAt,
		})
	})
}

// CaptureEvent builds the event for c, writing its images when an output
// directory is configured.
func (d *Dispatcher) CaptureEvent(c *app.Capture) (*Event, error) {
	info := &CaptureInfo{
		ID:        c.ID,
		Width:     c.Card.Cols(),
		Height:    c.Card.Rows(),
		Sharpness: c.Metrics.Sharpness,
		Rect:      c.Rect,
		Attempts:  c.Attempts,
	}
	if c.HasFace() {
		box := c.FaceBox
		info.FaceBox = &box
	}

	if d.outputDir != "" {
		paths, err := WriteImages(d.outputDir, c)
		if err != nil {
			return nil, err
		}
		info.CardPath = paths.Card
		info.FacePath = paths.Face
	}

	return &Event{
		Type:      EventCaptured,
		SessionID: c.SessionID,
		Capture:   info,
		Time:      c.CapturedAt,
	}, nil
}

// Dispatch runs every subscribed hook for event in the background.
func (d *Dispatcher) Dispatch(event *Event) {
	for _, h := range d.manager.Subscribers(event.Type) {
		d.wg.Add(1)
		go func(h *Hook) {
			defer d.wg.Done()
			start := time.Now()
			if _, err := d.executor.Execute(d.ctx, h, event); err != nil {
				logger.L().Warn("hook run failed",
					zap.String("hook", h.Manifest.Name),
					zap.String("event", event.Type),
					zap.Error(err))
				return
			}
			logger.L().Debug("hook ran",
				zap.String("hook", h.Manifest.Name),
				zap.String("event", event.Type),
				zap.Duration("took", time.Since(start)))
		}(h)
	}
}

// Wait blocks until all dispatched hooks have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// ImagePaths are the files written for one capture.
type ImagePaths struct {
	Card string
	Face string
}

// WriteImages writes c's card and, when present, face crop as JPEG into
// dir/<capture id>/.
func WriteImages(dir string, c *app.Capture) (ImagePaths, error) {
	var paths ImagePaths

	target := filepath.Join(dir, c.ID)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return paths, fmt.Errorf("failed to create capture directory: %w", err)
	}

	card, err := display.EncodeJPEG(c.Card)
	if err != nil {
		return paths, err
	}
	paths.Card = filepath.Join(target, "card.jpg")
	if err := os.WriteFile(paths.Card, card, 0o644); err != nil {
		return paths, fmt.Errorf("failed to write card: %w", err)
	}

	if c.HasFace() {
		face, err := display.EncodeJPEG(c.Face)
		if err != nil {
			return paths, err
		}
		paths.Face = filepath.Join(target, "face.jpg")
		if err := os.WriteFile(paths.Face, face, 0o644); err != nil {
			return paths, fmt.Errorf("failed to write face: %w", err)
		}
	}

	return paths, nil
}
