// Package app orchestrates a card scanning session: it reads frames, tracks a
// stable card candidate, captures and quality-checks it and locates the face.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/cardsnap/internal/capture"
	"github.com/ayusman/cardsnap/internal/card"
	"github.com/ayusman/cardsnap/internal/debounce"
	"github.com/ayusman/cardsnap/internal/deskew"
	"github.com/ayusman/cardsnap/internal/detector"
	"github.com/ayusman/cardsnap/internal/display"
	"github.com/ayusman/cardsnap/internal/geometry"
	"github.com/ayusman/cardsnap/internal/logger"
	"github.com/ayusman/cardsnap/internal/mask"
	"github.com/ayusman/cardsnap/internal/quality"
)

// ErrResourceUnavailable is returned by Start when the frame source cannot be opened.
var ErrResourceUnavailable = errors.New("frame source unavailable")

// State is the session state.
type State int

const (
	StateIdle State = iota
	StateSearching
	StateArmed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StateArmed:
		return "armed"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Running reports whether a session is in progress.
func (s State) Running() bool {
	return s == StateSearching || s == StateArmed
}

// Config holds the pipeline thresholds.
type Config struct {
	MaskThreshold     float32
	DebounceThreshold int
	MinAreaDivisor    float64
	MinAspect         float64
	MaxAspect         float64
	BlurThreshold     float64
	LaplacianScale    float64
	GlareIntensity    float64
	GlareArea         float64
	// FPS overrides the camera frame rate for the tick loop when positive.
	FPS int
}

// DefaultConfig returns the reference thresholds.
func DefaultConfig() Config {
	return Config{
		MaskThreshold:     mask.DefaultThreshold,
		DebounceThreshold: debounce.DefaultThreshold,
		MinAreaDivisor:    card.DefaultMinAreaDivisor,
		MinAspect:         card.DefaultMinAspect,
		MaxAspect:         card.DefaultMaxAspect,
		BlurThreshold:     quality.DefaultBlurThreshold,
		LaplacianScale:    quality.DefaultLaplacianScale,
		GlareIntensity:    quality.DefaultGlareIntensity,
		GlareArea:         quality.DefaultGlareArea,
	}
}

// Deps are the collaborators injected into a Pipeline.
// Camera and Segmenter are required; the rest default to no-ops.
type Deps struct {
	Camera    capture.Camera
	Segmenter detector.Segmenter
	Faces     detector.FaceLocator
	Sink      display.Sink
	Status    display.StatusSink
}

// Capture is the final output of a successful session.
// Card and Face are owned by the pipeline until the next Start or Close.
type Capture struct {
	ID         string               `json:"id"`
	SessionID  string               `json:"session_id"`
	Card       gocv.Mat             `json:"-"`
	Face       gocv.Mat             `json:"-"`
	FaceBox    detector.FaceBox     `json:"face_box"`
	Metrics    quality.Metrics      `json:"metrics"`
	Rect       geometry.RotatedRect `json:"rect"`
	Attempts   int                  `json:"attempts"`
	CapturedAt time.Time            `json:"captured_at"`
}

// HasFace reports whether a face crop was produced.
func (c *Capture) HasFace() bool {
	return !c.Face.Empty()
}

// Close releases the card and face images.
func (c *Capture) Close() {
	c.Card.Close()
	c.Face.Close()
}

// Attempt describes one quality-gate evaluation.
type Attempt struct {
	SessionID string               `json:"session_id"`
	Metrics   quality.Metrics      `json:"metrics"`
	Rect      geometry.RotatedRect `json:"rect"`
	Accepted  bool                 `json:"accepted"`
	At        time.Time            `json:"at"`
}

// EndReason says why a session's tick loop exited.
type EndReason int

const (
	// EndStopped means Stop or context cancellation ended the session.
	EndStopped EndReason = iota
	// EndCaptured means the session produced its final capture.
	EndCaptured
	// EndExhausted means a finite frame source ran out of frames.
	EndExhausted
)

func (r EndReason) String() string {
	switch r {
	case EndStopped:
		return "stopped"
	case EndCaptured:
		return "captured"
	case EndExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("EndReason(%d)", int(r))
	}
}

// SessionEnd is reported once per session when its tick loop exits.
type SessionEnd struct {
	SessionID string    `json:"session_id"`
	Reason    EndReason `json:"reason"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Pipeline runs one scanning session at a time.
type Pipeline struct {
	cfg       Config
	camera    capture.Camera
	segmenter detector.Segmenter
	faces     detector.FaceLocator
	sink      display.Sink
	status    display.StatusSink

	interp    *mask.Interpreter
	validator *card.Validator
	debouncer *debounce.Debouncer
	corrector *deskew.Corrector
	gate      *quality.Gate

	// counter is only touched by the tick goroutine and by Start before it launches.
	counter  debounce.State
	attempts int

	mu        sync.Mutex
	state     State
	sessionID string
	result    *Capture
	cancel    context.CancelFunc
	done      chan struct{}
	onCapture []func(*Capture)
	onAttempt []func(Attempt)
	onEnd     []func(SessionEnd)
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaskThreshold <= 0 {
		c.MaskThreshold = d.MaskThreshold
	}
	if c.DebounceThreshold <= 0 {
		c.DebounceThreshold = d.DebounceThreshold
	}
	if c.MinAreaDivisor <= 0 {
		c.MinAreaDivisor = d.MinAreaDivisor
	}
	if c.MinAspect <= 0 {
		c.MinAspect = d.MinAspect
	}
	if c.MaxAspect <= 0 {
		c.MaxAspect = d.MaxAspect
	}
	if c.BlurThreshold <= 0 {
		c.BlurThreshold = d.BlurThreshold
	}
	if c.LaplacianScale <= 0 {
		c.LaplacianScale = d.LaplacianScale
	}
	if c.GlareIntensity <= 0 {
		c.GlareIntensity = d.GlareIntensity
	}
	if c.GlareArea <= 0 {
		c.GlareArea = d.GlareArea
	}
	return c
}

// New creates a Pipeline in the Idle state. Zero thresholds in cfg take
// their default values.
func New(cfg Config, deps Deps) *Pipeline {
	cfg = cfg.withDefaults()
	p := &Pipeline{
		cfg:       cfg,
		camera:    deps.Camera,
		segmenter: deps.Segmenter,
		faces:     deps.Faces,
		sink:      deps.Sink,
		status:    deps.Status,
		interp:    &mask.Interpreter{Threshold: cfg.MaskThreshold},
		validator: &card.Validator{
			MinAreaDivisor: cfg.MinAreaDivisor,
			MinAspect:      cfg.MinAspect,
			MaxAspect:      cfg.MaxAspect,
		},
		debouncer: debounce.New(cfg.DebounceThreshold),
		corrector: deskew.New(),
		gate: &quality.Gate{
			BlurThreshold:  cfg.BlurThreshold,
			LaplacianScale: cfg.LaplacianScale,
			GlareIntensity: cfg.GlareIntensity,
			GlareArea:      cfg.GlareArea,
		},
		state: StateIdle,
		done:  closedChan(),
	}

	if p.sink == nil {
		p.sink = display.Nop{}
	}
	if p.status == nil {
		if ss, ok := p.sink.(display.StatusSink); ok {
			p.status = ss
		} else {
			p.status = display.Nop{}
		}
	}

	return p
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// OnCapture registers fn to be called with the final capture of each session.
// fn runs on the tick goroutine and must not retain the Mats past the next Start.
func (p *Pipeline) OnCapture(fn func(*Capture)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCapture = append(p.onCapture, fn)
}

// OnAttempt registers fn to be called after every quality-gate evaluation.
func (p *Pipeline) OnAttempt(fn func(Attempt)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onAttempt = append(p.onAttempt, fn)
}

// OnEnd registers fn to be called when a session's tick loop exits. It runs
// before Done is closed.
func (p *Pipeline) OnEnd(fn func(SessionEnd)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEnd = append(p.onEnd, fn)
}

// Start opens the camera and begins a fresh session. A failure to open the
// camera is returned wrapped in ErrResourceUnavailable. Starting a running
// pipeline is a no-op.
//
// Start waits for the previous session's tick loop, including its capture
// and end hooks, so hooks must not call Start themselves.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state.Running() {
		p.mu.Unlock()
		return nil
	}
	prev := p.done
	p.mu.Unlock()

	<-prev

	p.mu.Lock()
	defer p.mu.Unlock()

	// Another Start may have won while we waited.
	if p.state.Running() {
		return nil
	}
	if p.camera == nil || p.segmenter == nil {
		return fmt.Errorf("%w: pipeline has no camera or segmenter", ErrResourceUnavailable)
	}

	if err := p.camera.Open(); err != nil {
		p.status.SetStatus("Camera unavailable")
		return fmt.Errorf("%w: %v", ErrResourceUnavailable, err)
	}

	if p.result != nil {
		p.result.Close()
		p.result = nil
	}
	p.counter = debounce.State{}
	p.attempts = 0
	p.sessionID = uuid.New().String()
	p.state = StateSearching

	if p.cancel != nil {
		p.cancel()
	}
	sessionCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.run(sessionCtx, p.sessionID, p.done)

	logger.L().Info("scan session started", zap.String("session", p.sessionID))
	return nil
}

// Stop cancels the session, releases the camera and waits for the tick
// loop to exit. Overlays are cleared.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	wasRunning := p.state.Running()
	if p.state != StateIdle {
		p.state = StateStopped
	}
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	if err := p.camera.Close(); err != nil {
		logger.L().Warn("error closing camera", zap.Error(err))
	}
	<-done

	p.sink.Clear()

	if wasRunning {
		logger.L().Info("scan session stopped", zap.String("session", p.SessionID()))
	}
}

// Close stops the pipeline and releases the last result.
func (p *Pipeline) Close() {
	p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.result != nil {
		p.result.Close()
		p.result = nil
	}
}

// Run starts a session and blocks until it ends or ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) (*Capture, error) {
	if err := p.Start(ctx); err != nil {
		return nil, err
	}

	select {
	case <-p.Done():
	case <-ctx.Done():
		p.Stop()
		return nil, ctx.Err()
	}

	if c, ok := p.Result(); ok {
		return c, nil
	}
	return nil, nil
}

// State returns the current session state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SessionID returns the ID of the current or last session.
func (p *Pipeline) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// Done is closed when the current session's tick loop exits.
func (p *Pipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Result returns the capture of the last successful session.
func (p *Pipeline) Result() (*Capture, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result, p.result != nil
}

// Progress returns how far the current session is towards arming, in [0, 1].
func (p *Pipeline) Progress() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.debouncer.Progress(p.counter)
}

// setState moves between running states. It never leaves Stopped.
func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateStopped {
		return
	}
	p.state = s
}
