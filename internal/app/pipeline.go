package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/cardsnap/internal/capture"
	"github.com/ayusman/cardsnap/internal/debounce"
	"github.com/ayusman/cardsnap/internal/deskew"
	"github.com/ayusman/cardsnap/internal/display"
	"github.com/ayusman/cardsnap/internal/geometry"
	"github.com/ayusman/cardsnap/internal/logger"
)

// Outcome is the result of one pipeline tick.
type Outcome int

const (
	// OutcomeNoCandidate means no contour passed validation; the counter was reset.
	OutcomeNoCandidate Outcome = iota
	// OutcomeTracking means a valid candidate was seen but the session is not yet armed.
	OutcomeTracking
	// OutcomeOutOfBounds means the armed crop would leave the frame.
	OutcomeOutOfBounds
	// OutcomeRejected means the crop failed the quality gate; the counter was reset.
	OutcomeRejected
	// OutcomeCaptured means the session produced its final capture.
	OutcomeCaptured
	// OutcomeDiscarded means the session stopped while the tick was in flight.
	OutcomeDiscarded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoCandidate:
		return "no-candidate"
	case OutcomeTracking:
		return "tracking"
	case OutcomeOutOfBounds:
		return "out-of-bounds"
	case OutcomeRejected:
		return "rejected"
	case OutcomeCaptured:
		return "captured"
	case OutcomeDiscarded:
		return "discarded"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// run is the tick loop. One frame is processed per tick and ticks never
// overlap. The loop exits on cancellation, on a final capture or when a
// finite frame source runs dry.
func (p *Pipeline) run(ctx context.Context, sessionID string, done chan struct{}) {
	defer close(done)

	end := SessionEnd{SessionID: sessionID, Reason: EndStopped, StartedAt: time.Now()}
	defer func() { p.notifyEnd(end) }()

	ticker := time.NewTicker(p.frameInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, err := p.camera.ReadFrame()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if errors.Is(err, capture.ErrNoMoreFrames) {
					logger.L().Info("frame source exhausted", zap.String("session", sessionID))
					end.Reason = EndExhausted
					p.finish()
					return
				}
				logger.L().Debug("error reading frame", zap.Error(err))
				continue
			}

			outcome, err := p.processFrame(ctx, *frame)
			frame.Close()

			if err != nil {
				logger.L().Warn("tick abandoned", zap.Stringer("outcome", outcome), zap.Error(err))
				continue
			}
			if outcome == OutcomeCaptured {
				end.Reason = EndCaptured
				return
			}
			if outcome == OutcomeDiscarded {
				return
			}
		}
	}
}

func (p *Pipeline) frameInterval() time.Duration {
	fps := p.cfg.FPS
	if fps <= 0 {
		fps = p.camera.FPS()
	}
	if fps <= 0 {
		fps = capture.DefaultFPS
	}
	return time.Second / time.Duration(fps)
}

// processFrame runs one tick over frame. Every Mat allocated here is
// released before it returns. Errors are per-tick and never end the session.
func (p *Pipeline) processFrame(ctx context.Context, frame gocv.Mat) (Outcome, error) {
	var a arena
	defer a.release()

	if fs, ok := p.sink.(display.FrameSink); ok {
		fs.ShowFrame(frame)
	}

	prob, err := p.segmenter.Segment(ctx, frame)
	a.track(prob)
	if ctx.Err() != nil {
		return OutcomeDiscarded, nil
	}
	if err != nil {
		return OutcomeNoCandidate, fmt.Errorf("segment: %w", err)
	}

	frameSize := image.Pt(frame.Cols(), frame.Rows())
	contours, err := p.interp.Contours(prob, frameSize)
	if err != nil {
		return OutcomeNoCandidate, fmt.Errorf("interpret mask: %w", err)
	}

	p.validator.SetFrameSize(frameSize.X, frameSize.Y)
	rect, ok := p.validator.Select(contours)
	phase := p.observe(ok)
	if !ok {
		p.sink.Clear()
		p.setState(StateSearching)
		return OutcomeNoCandidate, nil
	}

	p.sink.DrawOutline(geometry.Corners(rect))
	if phase != debounce.Armed {
		p.setState(StateSearching)
		return OutcomeTracking, nil
	}
	p.setState(StateArmed)

	cardImg, err := p.corrector.Crop(frame, rect)
	a.track(cardImg)
	if errors.Is(err, deskew.ErrOutOfBounds) {
		// The counter is kept so the next in-bounds frame retries at once.
		logger.L().Debug("card crop out of bounds", zap.Any("rect", rect))
		p.sink.Clear()
		return OutcomeOutOfBounds, nil
	}
	if err != nil {
		return OutcomeNoCandidate, fmt.Errorf("crop card: %w", err)
	}

	metrics, err := p.gate.Assess(cardImg)
	if err != nil {
		return OutcomeNoCandidate, fmt.Errorf("assess card: %w", err)
	}
	p.status.SetStatus(metrics.Status())

	attempt := Attempt{
		SessionID: p.SessionID(),
		Metrics:   metrics,
		Rect:      rect,
		Accepted:  !metrics.Reject(),
		At:        time.Now(),
	}
	p.notifyAttempt(attempt)

	if metrics.Reject() {
		p.reject()
		p.sink.Clear()
		p.setState(StateSearching)
		logger.L().Info("capture rejected",
			zap.Float64("sharpness", metrics.Sharpness),
			zap.Bool("blurred", metrics.Blurred()),
			zap.Bool("glare", metrics.HasGlare))
		return OutcomeRejected, nil
	}

	// Pause the feed: the capture is final for this session.
	if err := p.camera.Close(); err != nil {
		logger.L().Warn("error closing camera", zap.Error(err))
	}
	p.sink.ShowCard(cardImg)

	face, box, found := p.locateFace(ctx, cardImg)
	if ctx.Err() != nil {
		face.Close()
		return OutcomeDiscarded, nil
	}
	if found {
		p.sink.ShowFace(face)
	}

	c := &Capture{
		ID:         uuid.New().String(),
		SessionID:  attempt.SessionID,
		Card:       cardImg.Clone(),
		Face:       face,
		FaceBox:    box,
		Metrics:    metrics,
		Rect:       rect,
		Attempts:   p.attemptCount(),
		CapturedAt: attempt.At,
	}
	logger.L().Info("card captured",
		zap.String("id", c.ID),
		zap.Int("cols", c.Card.Cols()),
		zap.Int("rows", c.Card.Rows()),
		zap.Bool("face", found),
		zap.Float64("sharpness", metrics.Sharpness))

	p.complete(c)
	return OutcomeCaptured, nil
}

// observe feeds one frame's validity to the debouncer.
func (p *Pipeline) observe(valid bool) debounce.Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, phase := p.debouncer.Observe(p.counter, valid)
	p.counter = s
	return phase
}

func (p *Pipeline) reject() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counter = p.debouncer.Rejected(p.counter)
}

func (p *Pipeline) attemptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

func (p *Pipeline) notifyAttempt(a Attempt) {
	p.mu.Lock()
	p.attempts++
	hooks := append([]func(Attempt){}, p.onAttempt...)
	p.mu.Unlock()

	for _, fn := range hooks {
		fn(a)
	}
}

func (p *Pipeline) notifyEnd(e SessionEnd) {
	e.EndedAt = time.Now()

	p.mu.Lock()
	hooks := append([]func(SessionEnd){}, p.onEnd...)
	p.mu.Unlock()

	for _, fn := range hooks {
		fn(e)
	}
}

// complete stores c as the session result, stops the session and runs the
// capture hooks.
func (p *Pipeline) complete(c *Capture) {
	p.mu.Lock()
	if p.result != nil {
		p.result.Close()
	}
	p.result = c
	p.state = StateStopped
	hooks := append([]func(*Capture){}, p.onCapture...)
	p.mu.Unlock()

	for _, fn := range hooks {
		fn(c)
	}
}

// finish ends a session that produced no capture.
func (p *Pipeline) finish() {
	p.mu.Lock()
	p.state = StateStopped
	p.mu.Unlock()

	if err := p.camera.Close(); err != nil {
		logger.L().Warn("error closing camera", zap.Error(err))
	}
	p.sink.Clear()
}
