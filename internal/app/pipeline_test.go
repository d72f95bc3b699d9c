package app

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"strings"
	"testing"

	"gocv.io/x/gocv"

	"github.com/ayusman/cardsnap/internal/capture"
	"github.com/ayusman/cardsnap/internal/detector"
	"github.com/ayusman/cardsnap/internal/display"
	"github.com/ayusman/cardsnap/internal/geometry"
	"github.com/ayusman/cardsnap/testdata"
)

type fixture struct {
	pipeline  *Pipeline
	camera    *capture.MockCamera
	segmenter *detector.MockSegmenter
	faces     *detector.MockFaceLocator
	recorder  *display.Recorder
}

func newFixture(t *testing.T, prob gocv.Mat) *fixture {
	t.Helper()

	f := &fixture{
		camera:    capture.NewMockCamera(nil, true),
		segmenter: detector.NewMockSegmenter(),
		faces:     detector.NewMockFaceLocator(),
		recorder:  display.NewRecorder(false),
	}
	f.segmenter.SetMap(prob)
	t.Cleanup(func() { f.segmenter.Close() })
	if err := f.camera.Open(); err != nil {
		t.Fatalf("camera.Open() error = %v", err)
	}

	f.pipeline = New(DefaultConfig(), Deps{
		Camera:    f.camera,
		Segmenter: f.segmenter,
		Faces:     f.faces,
		Sink:      f.recorder,
	})
	t.Cleanup(f.pipeline.Close)
	return f
}

// feed runs n ticks over frame and returns the outcomes.
func (f *fixture) feed(t *testing.T, frame gocv.Mat, n int) []Outcome {
	t.Helper()
	outcomes := make([]Outcome, n)
	for i := range outcomes {
		o, err := f.pipeline.processFrame(context.Background(), frame)
		if err != nil {
			t.Fatalf("tick %d: processFrame() error = %v", i+1, err)
		}
		outcomes[i] = o
	}
	return outcomes
}

func near(got, want, tol int) bool {
	return int(math.Abs(float64(got-want))) <= tol
}

func TestPipeline_CapturesOnEleventhValidFrame(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	prob := testdata.CardMap(testdata.FrameSize, testdata.ReferenceCard)
	defer prob.Close()
	frame := testdata.CardFrame(testdata.FrameSize, testdata.ReferenceCard)
	defer frame.Close()

	f := newFixture(t, prob)

	var attempts []Attempt
	f.pipeline.OnAttempt(func(a Attempt) { attempts = append(attempts, a) })
	var captured *Capture
	f.pipeline.OnCapture(func(c *Capture) { captured = c })

	outcomes := f.feed(t, frame, 10)
	for i, o := range outcomes {
		if o != OutcomeTracking {
			t.Fatalf("tick %d outcome = %v, want tracking", i+1, o)
		}
	}
	if f.pipeline.State() != StateSearching {
		t.Errorf("state after 10 valid frames = %v, want searching", f.pipeline.State())
	}
	if len(attempts) != 0 {
		t.Fatalf("got %d capture attempts before arming, want 0", len(attempts))
	}

	if o := f.feed(t, frame, 1)[0]; o != OutcomeCaptured {
		t.Fatalf("11th tick outcome = %v, want captured", o)
	}

	if len(attempts) != 1 || !attempts[0].Accepted {
		t.Errorf("attempts = %+v, want one accepted attempt", attempts)
	}
	if f.pipeline.State() != StateStopped {
		t.Errorf("state after capture = %v, want stopped", f.pipeline.State())
	}

	result, ok := f.pipeline.Result()
	if !ok || result != captured {
		t.Fatal("Result() does not match the OnCapture callback")
	}
	if !near(result.Card.Rows(), 300, 2) || !near(result.Card.Cols(), 480, 2) {
		t.Errorf("card = %d rows x %d cols, want about 300 x 480", result.Card.Rows(), result.Card.Cols())
	}
	if result.Card.Channels() != 3 {
		t.Errorf("card channels = %d, want 3", result.Card.Channels())
	}
	if result.HasFace() {
		t.Error("no face was configured, HasFace() should be false")
	}
	if result.Metrics.Reject() {
		t.Errorf("captured card metrics %+v should pass the gate", result.Metrics)
	}

	if got := f.recorder.Count(display.EventOutline); got != 11 {
		t.Errorf("outline events = %d, want 11", got)
	}
	if got := f.recorder.Count(display.EventCard); got != 1 {
		t.Errorf("card preview events = %d, want 1", got)
	}
	if f.camera.IsOpen() {
		t.Error("camera should be closed once the capture is final")
	}
	if f.faces.Calls() != 1 {
		t.Errorf("face locator calls = %d, want 1", f.faces.Calls())
	}
}

func TestPipeline_InvalidFrameResetsCounter(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	prob := testdata.CardMap(testdata.FrameSize, testdata.ReferenceCard)
	defer prob.Close()
	empty := testdata.ProbabilityMap(testdata.ModelSize, image.Rectangle{}, 0)
	defer empty.Close()
	frame := testdata.CardFrame(testdata.FrameSize, testdata.ReferenceCard)
	defer frame.Close()

	f := newFixture(t, prob)
	f.feed(t, frame, 9)

	f.segmenter.SetMap(empty)
	if o := f.feed(t, frame, 1)[0]; o != OutcomeNoCandidate {
		t.Fatalf("outcome = %v, want no-candidate", o)
	}
	if f.pipeline.Progress() != 0 {
		t.Errorf("Progress() = %f, want 0 after an invalid frame", f.pipeline.Progress())
	}
	if f.recorder.Count(display.EventClear) != 1 {
		t.Errorf("clear events = %d, want 1", f.recorder.Count(display.EventClear))
	}

	// Ten more valid frames are needed before arming again.
	f.segmenter.SetMap(prob)
	for i, o := range f.feed(t, frame, 10) {
		if o != OutcomeTracking {
			t.Fatalf("tick %d after reset outcome = %v, want tracking", i+1, o)
		}
	}
	if o := f.feed(t, frame, 1)[0]; o != OutcomeCaptured {
		t.Errorf("outcome = %v, want captured", o)
	}
}

func TestPipeline_QualityRejectResetsCounter(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	tests := []struct {
		name      string
		frame     func() gocv.Mat
		wantBlur  bool
		wantGlare bool
	}{
		{
			name:     "flat card is blurred",
			frame:    func() gocv.Mat { return testdata.FlatCardFrame(testdata.FrameSize, testdata.ReferenceCard) },
			wantBlur: true,
		},
		{
			name:      "highlight is glare",
			frame:     func() gocv.Mat { return testdata.GlareCardFrame(testdata.FrameSize, testdata.ReferenceCard) },
			wantGlare: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prob := testdata.CardMap(testdata.FrameSize, testdata.ReferenceCard)
			defer prob.Close()
			frame := tt.frame()
			defer frame.Close()

			f := newFixture(t, prob)
			var attempts []Attempt
			f.pipeline.OnAttempt(func(a Attempt) { attempts = append(attempts, a) })

			f.feed(t, frame, 10)
			if o := f.feed(t, frame, 1)[0]; o != OutcomeRejected {
				t.Fatalf("outcome = %v, want rejected", o)
			}

			if len(attempts) != 1 || attempts[0].Accepted {
				t.Fatalf("attempts = %+v, want one rejected attempt", attempts)
			}
			m := attempts[0].Metrics
			if m.Blurred() != tt.wantBlur || m.HasGlare != tt.wantGlare {
				t.Errorf("metrics blurred=%v glare=%v, want %v %v", m.Blurred(), m.HasGlare, tt.wantBlur, tt.wantGlare)
			}

			status, ok := f.recorder.Last(display.EventStatus)
			if !ok || !strings.HasPrefix(status.Status, "Sharpness:") {
				t.Errorf("status = %+v, want a sharpness line", status)
			}
			if f.pipeline.State() != StateSearching {
				t.Errorf("state = %v, want searching", f.pipeline.State())
			}
			if _, ok := f.pipeline.Result(); ok {
				t.Error("rejected attempt must not produce a result")
			}

			// The counter restarted: the next frame only tracks.
			if o := f.feed(t, frame, 1)[0]; o != OutcomeTracking {
				t.Errorf("outcome after reject = %v, want tracking", o)
			}
			if !f.camera.IsOpen() {
				t.Error("camera must keep running after a rejected capture")
			}
		})
	}
}

func TestPipeline_OutOfBoundsKeepsCounter(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	// A card rotated by 80 degrees fits inside the frame, but its deskewed
	// crop would start left of x=0.
	r := geometry.RotatedRect{
		Center: geometry.Point2D{X: 200, Y: 320},
		Size:   geometry.Size2D{Width: 480, Height: 300},
		Angle:  80,
	}
	prob := rotatedMap(r, float64(testdata.ModelSize)/testdata.FrameSize)
	defer prob.Close()
	frame := testdata.BlankFrame(testdata.FrameSize)
	defer frame.Close()

	f := newFixture(t, prob)
	f.feed(t, frame, 10)

	for i, o := range f.feed(t, frame, 2) {
		if o != OutcomeOutOfBounds {
			t.Fatalf("armed tick %d outcome = %v, want out-of-bounds", i+1, o)
		}
	}
	if f.pipeline.Progress() != 1 {
		t.Errorf("Progress() = %f, want 1: out-of-bounds does not reset the counter", f.pipeline.Progress())
	}
	if f.pipeline.State() != StateArmed {
		t.Errorf("state = %v, want armed", f.pipeline.State())
	}
	if f.recorder.Count(display.EventClear) != 2 {
		t.Errorf("clear events = %d, want 2", f.recorder.Count(display.EventClear))
	}
}

// colorOne fills CV_32F maps with probability 1.
var colorOne = color.RGBA{R: 1, G: 1, B: 1, A: 1}

// rotatedMap paints r, scaled into model coordinates, onto a probability map.
func rotatedMap(r geometry.RotatedRect, scale float64) gocv.Mat {
	m := testdata.ProbabilityMap(testdata.ModelSize, image.Rectangle{}, 0)
	corners := geometry.Corners(r)
	pts := make([]image.Point, len(corners))
	for i, c := range corners {
		pts[i] = geometry.Point2D{X: c.X * scale, Y: c.Y * scale}.Image()
	}
	pv := gocv.NewPointsVectorFromPoints([][]image.Point{pts})
	defer pv.Close()
	gocv.FillPoly(&m, pv, colorOne)
	return m
}

func TestPipeline_SegmenterFailureIsPerTick(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	prob := testdata.CardMap(testdata.FrameSize, testdata.ReferenceCard)
	defer prob.Close()
	frame := testdata.CardFrame(testdata.FrameSize, testdata.ReferenceCard)
	defer frame.Close()

	f := newFixture(t, prob)
	f.feed(t, frame, 3)

	f.segmenter.SetError(errors.New("model crashed"))
	if _, err := f.pipeline.processFrame(context.Background(), frame); err == nil {
		t.Fatal("expected tick error when segmentation fails")
	}

	f.segmenter.SetError(nil)
	f.feed(t, frame, 7)
	if o := f.feed(t, frame, 1)[0]; o != OutcomeCaptured {
		t.Errorf("outcome = %v, want captured: a failed tick leaves the counter alone", o)
	}
}

func TestPipeline_DiscardsAfterCancel(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	prob := testdata.CardMap(testdata.FrameSize, testdata.ReferenceCard)
	defer prob.Close()
	frame := testdata.CardFrame(testdata.FrameSize, testdata.ReferenceCard)
	defer frame.Close()

	f := newFixture(t, prob)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o, err := f.pipeline.processFrame(ctx, frame)
	if err != nil || o != OutcomeDiscarded {
		t.Errorf("processFrame() = %v, %v; want discarded, nil", o, err)
	}
	if f.recorder.Count(display.EventOutline) != 0 {
		t.Error("a discarded tick must not draw")
	}
}

func TestPipeline_FaceLocator(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	tests := []struct {
		name     string
		setup    func(*detector.MockFaceLocator)
		wantFace bool
		wantBox  detector.FaceBox
	}{
		{
			name: "box inside card",
			setup: func(m *detector.MockFaceLocator) {
				m.SetBox(detector.FaceBox{X: 20, Y: 30, Width: 80, Height: 100, Score: 0.9})
			},
			wantFace: true,
			wantBox:  detector.FaceBox{X: 20, Y: 30, Width: 80, Height: 100, Score: 0.9},
		},
		{
			name: "box clipped to card",
			setup: func(m *detector.MockFaceLocator) {
				m.SetBox(detector.FaceBox{X: -10, Y: -10, Width: 60, Height: 50, Score: 0.8})
			},
			wantFace: true,
			wantBox:  detector.FaceBox{X: 0, Y: 0, Width: 50, Height: 40, Score: 0.8},
		},
		{
			name: "box outside card",
			setup: func(m *detector.MockFaceLocator) {
				m.SetBox(detector.FaceBox{X: 2000, Y: 2000, Width: 10, Height: 10})
			},
		},
		{
			name:  "no face",
			setup: func(m *detector.MockFaceLocator) { m.SetNone() },
		},
		{
			name:  "locator error",
			setup: func(m *detector.MockFaceLocator) { m.SetError(errors.New("face model failed")) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prob := testdata.CardMap(testdata.FrameSize, testdata.ReferenceCard)
			defer prob.Close()
			frame := testdata.CardFrame(testdata.FrameSize, testdata.ReferenceCard)
			defer frame.Close()

			f := newFixture(t, prob)
			tt.setup(f.faces)

			f.feed(t, frame, 10)
			if o := f.feed(t, frame, 1)[0]; o != OutcomeCaptured {
				t.Fatalf("outcome = %v, want captured regardless of the face result", o)
			}

			result, _ := f.pipeline.Result()
			if result.HasFace() != tt.wantFace {
				t.Fatalf("HasFace() = %v, want %v", result.HasFace(), tt.wantFace)
			}
			if !tt.wantFace {
				if f.recorder.Count(display.EventFace) != 0 {
					t.Error("face preview shown without a face")
				}
				return
			}

			if result.FaceBox != tt.wantBox {
				t.Errorf("FaceBox = %+v, want %+v", result.FaceBox, tt.wantBox)
			}
			if result.Face.Cols() != tt.wantBox.Width || result.Face.Rows() != tt.wantBox.Height {
				t.Errorf("face = %dx%d, want %dx%d", result.Face.Cols(), result.Face.Rows(), tt.wantBox.Width, tt.wantBox.Height)
			}
			if ev, _ := f.recorder.Last(display.EventFace); ev.Cols != tt.wantBox.Width {
				t.Errorf("face preview width = %d, want %d", ev.Cols, tt.wantBox.Width)
			}
		})
	}
}
