package detector

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// DNNSegmenter runs a card segmentation network through the OpenCV dnn module.
type DNNSegmenter struct {
	net       gocv.Net
	inputSize image.Point
	mu        sync.Mutex
}

// NewDNNSegmenter loads the model at cfg.SegmenterModel.
func NewDNNSegmenter(cfg Config) (*DNNSegmenter, error) {
	if _, err := os.Stat(cfg.SegmenterModel); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelNotLoaded, cfg.SegmenterModel, err)
	}

	net := gocv.ReadNet(cfg.SegmenterModel, "")
	if net.Empty() {
		return nil, fmt.Errorf("%w: cannot read %s", ErrModelNotLoaded, cfg.SegmenterModel)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	size := cfg.SegmenterInput
	if size.X <= 0 || size.Y <= 0 {
		size = image.Pt(256, 256)
	}

	return &DNNSegmenter{net: net, inputSize: size}, nil
}

// Segment resizes the frame to the network input, runs a forward pass and
// returns the single-channel output as an inputSize map.
func (s *DNNSegmenter) Segment(ctx context.Context, frame gocv.Mat) (gocv.Mat, error) {
	if err := ctx.Err(); err != nil {
		return gocv.NewMat(), err
	}
	if frame.Empty() {
		return gocv.NewMat(), fmt.Errorf("segment: empty frame")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Input is RGB scaled to [0, 1].
	blob := gocv.BlobFromImage(frame, 1.0/255.0, s.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	s.net.SetInput(blob, "")
	output := s.net.Forward("")
	defer output.Close()

	return toProbabilityMap(output, s.inputSize)
}

// Close releases the network.
func (s *DNNSegmenter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.net.Close()
}

// toProbabilityMap copies the first size.X*size.Y floats of a network output
// into a 2-D CV_32FC1 Mat.
func toProbabilityMap(output gocv.Mat, size image.Point) (gocv.Mat, error) {
	data, err := output.DataPtrFloat32()
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("read network output: %w", err)
	}

	n := size.X * size.Y
	if len(data) < n {
		return gocv.NewMat(), fmt.Errorf("network output has %d values, want at least %d", len(data), n)
	}

	return floatsToMat(data[:n], size)
}

// floatsToMat builds a CV_32FC1 Mat of the given size from row-major values.
func floatsToMat(values []float32, size image.Point) (gocv.Mat, error) {
	if len(values) != size.X*size.Y {
		return gocv.NewMat(), fmt.Errorf("got %d values for a %dx%d map", len(values), size.X, size.Y)
	}

	prob := gocv.NewMatWithSize(size.Y, size.X, gocv.MatTypeCV32F)
	dst, err := prob.DataPtrFloat32()
	if err != nil {
		prob.Close()
		return gocv.NewMat(), err
	}
	copy(dst, values)
	return prob, nil
}
