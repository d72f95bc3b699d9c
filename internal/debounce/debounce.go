// Package debounce requires a card to be seen on consecutive frames before a
// capture is attempted, suppressing single-frame false positives.
//
// The state is an explicit value: the orchestrator passes it in and stores
// what comes back, so the logic is testable without a camera.
package debounce

// DefaultThreshold is the number of consecutive valid frames that must be
// exceeded before a capture attempt.
const DefaultThreshold = 10

// Phase is the logical debouncer state after observing a frame.
type Phase int

const (
	// Searching means no capture should be attempted on this frame.
	Searching Phase = iota
	// Armed means the candidate has been stable long enough to attempt a capture.
	Armed
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case Armed:
		return "armed"
	default:
		return "searching"
	}
}

// State is the only data carried between frames.
type State struct {
	ValidCount int `json:"valid_count"`
}

// Debouncer holds the stability threshold.
type Debouncer struct {
	Threshold int
}

// New creates a Debouncer. Non-positive thresholds fall back to DefaultThreshold.
func New(threshold int) *Debouncer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Debouncer{Threshold: threshold}
}

// Observe advances the state by one frame.
//
// A frame without a valid candidate resets the count. A valid frame increments
// it, and the result is Armed once the count exceeds the threshold.
func (d *Debouncer) Observe(s State, valid bool) (State, Phase) {
	if !valid {
		return State{}, Searching
	}

	s.ValidCount++
	if s.ValidCount > d.Threshold {
		return s, Armed
	}
	return s, Searching
}

// Rejected returns the state after a capture attempt failed its quality gate.
// The user has to present a stable card again from scratch.
func (d *Debouncer) Rejected(State) State {
	return State{}
}

// Progress returns how far the state is towards arming, in [0,1].
func (d *Debouncer) Progress(s State) float64 {
	if d.Threshold <= 0 {
		return 1
	}
	p := float64(s.ValidCount) / float64(d.Threshold+1)
	if p > 1 {
		return 1
	}
	return p
}
