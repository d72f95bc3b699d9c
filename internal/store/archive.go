package store

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ayusman/cardsnap/internal/app"
	"github.com/ayusman/cardsnap/internal/display"
	"github.com/ayusman/cardsnap/internal/logger"
)

// Archiver records a pipeline's attempts and captures.
type Archiver struct {
	store *Store
}

// NewArchiver returns an Archiver writing to s.
func NewArchiver(s *Store) *Archiver {
	return &Archiver{store: s}
}

// Attach registers the archiver's hooks on p.
func (a *Archiver) Attach(p *app.Pipeline) {
	p.OnAttempt(func(at app.Attempt) {
		if err := a.RecordAttempt(at); err != nil {
			logger.L().Warn("failed to archive attempt", zap.String("session", at.SessionID), zap.Error(err))
		}
	})
	p.OnCapture(func(c *app.Capture) {
		if _, err := a.RecordCapture(c); err != nil {
			logger.L().Error("failed to archive capture", zap.String("capture", c.ID), zap.Error(err))
		}
	})
	p.OnEnd(func(e app.SessionEnd) {
		if err := a.RecordEnd(e); err != nil {
			logger.L().Warn("failed to archive session end", zap.String("session", e.SessionID), zap.Error(err))
		}
	})
}

// RecordEnd archives the session and its outcome. A captured session was
// already closed by RecordCapture and is left alone.
func (a *Archiver) RecordEnd(e app.SessionEnd) error {
	if err := a.store.Sessions().Ensure(e.SessionID, e.StartedAt); err != nil {
		return err
	}
	if e.Reason == app.EndCaptured {
		return nil
	}

	outcome := OutcomeStopped
	if e.Reason == app.EndExhausted {
		outcome = OutcomeExhausted
	}
	return a.EndSession(e.SessionID, outcome)
}

// RecordAttempt stores one quality-gate evaluation.
func (a *Archiver) RecordAttempt(at app.Attempt) error {
	if err := a.store.Sessions().Ensure(at.SessionID, at.At); err != nil {
		return err
	}
	return a.store.Attempts().Create(&Attempt{
		SessionID: at.SessionID,
		Sharpness: at.Metrics.Sharpness,
		HasGlare:  at.Metrics.HasGlare,
		Accepted:  at.Accepted,
		Rect:      at.Rect,
		CreatedAt: at.At,
	})
}

// RecordCapture encodes the capture's images, stores them and marks the
// session captured.
func (a *Archiver) RecordCapture(c *app.Capture) (*Capture, error) {
	card, err := display.EncodeJPEG(c.Card)
	if err != nil {
		return nil, fmt.Errorf("failed to encode card: %w", err)
	}

	rec := &Capture{
		ID:         c.ID,
		SessionID:  c.SessionID,
		CardJPEG:   card,
		CardWidth:  c.Card.Cols(),
		CardHeight: c.Card.Rows(),
		Sharpness:  c.Metrics.Sharpness,
		HasGlare:   c.Metrics.HasGlare,
		Rect:       c.Rect,
		Attempts:   c.Attempts,
		CapturedAt: c.CapturedAt,
	}
	if c.HasFace() {
		face, err := display.EncodeJPEG(c.Face)
		if err != nil {
			return nil, fmt.Errorf("failed to encode face: %w", err)
		}
		box := c.FaceBox
		rec.FaceBox = &box
		rec.FaceJPEG = face
	}

	if err := a.store.Sessions().Ensure(c.SessionID, c.CapturedAt); err != nil {
		return nil, err
	}
	if err := a.store.Captures().Create(rec); err != nil {
		return nil, err
	}
	if err := a.store.Sessions().End(c.SessionID, OutcomeCaptured); err != nil {
		return nil, err
	}
	return rec, nil
}

// EndSession records a session that ended without a capture. Unknown or
// already ended sessions are ignored.
func (a *Archiver) EndSession(id, outcome string) error {
	if id == "" {
		return nil
	}
	err := a.store.Sessions().End(id, outcome)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
