// Package display defines the render targets the pipeline writes to:
// the live outline overlay, the card and face previews and a status line.
package display

import (
	"fmt"
	"image/color"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/cardsnap/internal/geometry"
)

// OutlineColor is the color of the card outline overlay.
var OutlineColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}

// Sink receives the pipeline's visual output.
// Implementations must copy any Mat they keep; the pipeline closes it after the call.
type Sink interface {
	DrawOutline(corners [4]geometry.Point2D)
	Clear()
	ShowCard(card gocv.Mat)
	ShowFace(face gocv.Mat)
}

// FrameSink optionally receives every raw frame for live preview.
type FrameSink interface {
	ShowFrame(frame gocv.Mat)
}

// StatusSink receives advisory status text.
type StatusSink interface {
	SetStatus(status string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) DrawOutline([4]geometry.Point2D) {}
func (Nop) Clear()                          {}
func (Nop) ShowCard(gocv.Mat)               {}
func (Nop) ShowFace(gocv.Mat)               {}
func (Nop) ShowFrame(gocv.Mat)              {}
func (Nop) SetStatus(string)                {}

// Fanout forwards every call to each of its sinks. Sinks that also implement
// FrameSink or StatusSink receive those calls too.
type Fanout []Sink

func (f Fanout) DrawOutline(corners [4]geometry.Point2D) {
	for _, s := range f {
		s.DrawOutline(corners)
	}
}

func (f Fanout) Clear() {
	for _, s := range f {
		s.Clear()
	}
}

func (f Fanout) ShowCard(card gocv.Mat) {
	for _, s := range f {
		s.ShowCard(card)
	}
}

func (f Fanout) ShowFace(face gocv.Mat) {
	for _, s := range f {
		s.ShowFace(face)
	}
}

func (f Fanout) ShowFrame(frame gocv.Mat) {
	for _, s := range f {
		if fs, ok := s.(FrameSink); ok {
			fs.ShowFrame(frame)
		}
	}
}

func (f Fanout) SetStatus(status string) {
	for _, s := range f {
		if ss, ok := s.(StatusSink); ok {
			ss.SetStatus(status)
		}
	}
}

// StatusFanout forwards status lines to several sinks.
type StatusFanout []StatusSink

func (f StatusFanout) SetStatus(status string) {
	for _, s := range f {
		s.SetStatus(status)
	}
}

// StatusFunc adapts a function to StatusSink.
type StatusFunc func(status string)

func (fn StatusFunc) SetStatus(status string) {
	fn(status)
}

// DrawOutline draws the closed quadrilateral through corners onto img.
func DrawOutline(img *gocv.Mat, corners [4]geometry.Point2D) {
	for i := range corners {
		a := corners[i].Image()
		b := corners[(i+1)%len(corners)].Image()
		gocv.Line(img, a, b, OutlineColor, 2)
	}
}

// EncodeJPEG encodes img as JPEG bytes.
func EncodeJPEG(img gocv.Mat) ([]byte, error) {
	if img.Empty() {
		return nil, fmt.Errorf("encode jpeg: empty image")
	}
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Event kinds recorded by Recorder.
const (
	EventOutline = "outline"
	EventClear   = "clear"
	EventCard    = "card"
	EventFace    = "face"
	EventFrame   = "frame"
	EventStatus  = "status"
)

// Event is one recorded sink call.
type Event struct {
	Kind    string
	Corners [4]geometry.Point2D
	Status  string
	Cols    int
	Rows    int
}

// Recorder records every call it receives. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	frames bool
}

// NewRecorder creates a Recorder. Frame events are only kept when
// recordFrames is true, since they arrive on every tick.
func NewRecorder(recordFrames bool) *Recorder {
	return &Recorder{frames: recordFrames}
}

func (r *Recorder) add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) DrawOutline(corners [4]geometry.Point2D) {
	r.add(Event{Kind: EventOutline, Corners: corners})
}

func (r *Recorder) Clear() {
	r.add(Event{Kind: EventClear})
}

func (r *Recorder) ShowCard(card gocv.Mat) {
	r.add(Event{Kind: EventCard, Cols: card.Cols(), Rows: card.Rows()})
}

func (r *Recorder) ShowFace(face gocv.Mat) {
	r.add(Event{Kind: EventFace, Cols: face.Cols(), Rows: face.Rows()})
}

func (r *Recorder) ShowFrame(frame gocv.Mat) {
	if !r.frames {
		return
	}
	r.add(Event{Kind: EventFrame, Cols: frame.Cols(), Rows: frame.Rows()})
}

func (r *Recorder) SetStatus(status string) {
	r.add(Event{Kind: EventStatus, Status: status})
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events of kind were recorded.
func (r *Recorder) Count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Last returns the most recent event of kind.
func (r *Recorder) Last(kind string) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == kind {
			return r.events[i], true
		}
	}
	return Event{}, false
}

// Reset discards recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
