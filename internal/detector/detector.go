// Package detector defines the inference contracts used by the card pipeline
// and provides gocv, subprocess and mock implementations of them.
package detector

import (
	"context"
	"errors"
	"image"

	"gocv.io/x/gocv"
)

// ErrModelNotLoaded is returned when a model file is missing or unreadable.
var ErrModelNotLoaded = errors.New("model not loaded")

// Segmenter produces a per-pixel card probability map for a frame.
type Segmenter interface {
	// Segment returns a CV_32FC1 map at model resolution with values in [0, 1].
	// The caller owns the returned Mat.
	Segment(ctx context.Context, frame gocv.Mat) (gocv.Mat, error)

	// Close releases any resources held by the segmenter.
	Close() error
}

// FaceLocator finds at most one face in an image.
type FaceLocator interface {
	// Locate returns the highest scoring face box in img coordinates.
	// The bool is false when no face was found.
	Locate(ctx context.Context, img gocv.Mat) (FaceBox, bool, error)

	// Close releases any resources held by the locator.
	Close() error
}

// FaceBox is an axis-aligned face bounding box in pixel coordinates.
type FaceBox struct {
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Score  float32 `json:"score"`
}

// Rect returns the box as an image.Rectangle.
func (b FaceBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Config holds model settings shared by the gocv implementations.
type Config struct {
	// SegmenterModel is the path of the card segmentation network.
	SegmenterModel string
	// SegmenterInput is the network input size (default 256x256).
	SegmenterInput image.Point

	// FaceModel is the path of the YuNet face detection model.
	FaceModel string
	// FaceScoreThreshold is the minimum face confidence (0.0-1.0).
	FaceScoreThreshold float32
	// FaceNMSThreshold is the non-maximum suppression threshold.
	FaceNMSThreshold float32
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		SegmenterModel:     "models/card_segmenter.onnx",
		SegmenterInput:     image.Pt(256, 256),
		FaceModel:          "models/face_detection_yunet_2023mar.onnx",
		FaceScoreThreshold: 0.6,
		FaceNMSThreshold:   0.3,
	}
}
