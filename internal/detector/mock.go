package detector

import (
	"context"
	"sync"

	"gocv.io/x/gocv"
)

// MockSegmenter is a test implementation of the Segmenter interface.
// It returns a clone of a configured map, or the result of a configured func.
type MockSegmenter struct {
	mu    sync.Mutex
	prob  gocv.Mat
	fn    func(frame gocv.Mat) (gocv.Mat, error)
	err   error
	calls int
}

// NewMockSegmenter creates a new MockSegmenter that returns an empty map.
func NewMockSegmenter() *MockSegmenter {
	return &MockSegmenter{prob: gocv.NewMat()}
}

// SetMap stores a copy of prob to be returned by every Segment call.
func (m *MockSegmenter) SetMap(prob gocv.Mat) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prob.Close()
	m.prob = prob.Clone()
}

// SetFunc makes Segment delegate to fn. It takes precedence over SetMap.
func (m *MockSegmenter) SetFunc(fn func(frame gocv.Mat) (gocv.Mat, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
}

// SetError sets the error that will be returned by Segment.
func (m *MockSegmenter) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Segment was called.
func (m *MockSegmenter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Segment returns the configured map or error.
func (m *MockSegmenter) Segment(ctx context.Context, frame gocv.Mat) (gocv.Mat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return gocv.NewMat(), m.err
	}
	if m.fn != nil {
		return m.fn(frame)
	}
	return m.prob.Clone(), nil
}

// Close releases the stored map.
func (m *MockSegmenter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prob.Close()
}

// MockFaceLocator is a test implementation of the FaceLocator interface.
type MockFaceLocator struct {
	mu    sync.Mutex
	box   FaceBox
	found bool
	err   error
	calls int
}

// NewMockFaceLocator creates a MockFaceLocator that finds no face.
func NewMockFaceLocator() *MockFaceLocator {
	return &MockFaceLocator{}
}

// SetBox makes Locate report box.
func (m *MockFaceLocator) SetBox(box FaceBox) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.box, m.found = box, true
}

// SetNone makes Locate report no face.
func (m *MockFaceLocator) SetNone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.box, m.found = FaceBox{}, false
}

// SetError sets the error that will be returned by Locate.
func (m *MockFaceLocator) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Locate was called.
func (m *MockFaceLocator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Locate returns the configured box or error.
func (m *MockFaceLocator) Locate(ctx context.Context, img gocv.Mat) (FaceBox, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return FaceBox{}, false, m.err
	}
	return m.box, m.found, nil
}

// Close is a no-op for the mock locator.
func (m *MockFaceLocator) Close() error {
	return nil
}
