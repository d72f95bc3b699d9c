package detector

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// YuNetLocator finds faces with OpenCV's YuNet detector.
type YuNetLocator struct {
	detector gocv.FaceDetectorYN
	mu       sync.Mutex
}

// NewYuNetLocator loads the YuNet model at cfg.FaceModel.
func NewYuNetLocator(cfg Config) (*YuNetLocator, error) {
	if _, err := os.Stat(cfg.FaceModel); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelNotLoaded, cfg.FaceModel, err)
	}

	d := gocv.NewFaceDetectorYN(cfg.FaceModel, "", image.Pt(320, 320))
	d.SetScoreThreshold(cfg.FaceScoreThreshold)
	d.SetNMSThreshold(cfg.FaceNMSThreshold)
	d.SetTopK(50)

	return &YuNetLocator{detector: d}, nil
}

// Locate returns the highest scoring face.
func (l *YuNetLocator) Locate(ctx context.Context, img gocv.Mat) (FaceBox, bool, error) {
	if err := ctx.Err(); err != nil {
		return FaceBox{}, false, err
	}
	if img.Empty() {
		return FaceBox{}, false, fmt.Errorf("locate: empty image")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.detector.SetInputSize(image.Pt(img.Cols(), img.Rows()))

	faces := gocv.NewMat()
	defer faces.Close()
	l.detector.Detect(img, &faces)

	box, ok := bestFace(faces)
	return box, ok, nil
}

// Close releases the detector.
func (l *YuNetLocator) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.detector.Close()
	return nil
}

// bestFace picks the highest scoring row of a YuNet result.
// Row layout: x, y, w, h, five landmark pairs, score.
func bestFace(faces gocv.Mat) (FaceBox, bool) {
	if faces.Empty() || faces.Rows() == 0 {
		return FaceBox{}, false
	}

	var best FaceBox
	found := false
	for i := 0; i < faces.Rows(); i++ {
		score := faces.GetFloatAt(i, 14)
		if found && score <= best.Score {
			continue
		}
		box := FaceBox{
			X:      int(faces.GetFloatAt(i, 0)),
			Y:      int(faces.GetFloatAt(i, 1)),
			Width:  int(faces.GetFloatAt(i, 2)),
			Height: int(faces.GetFloatAt(i, 3)),
			Score:  score,
		}
		if box.Width <= 0 || box.Height <= 0 {
			continue
		}
		best, found = box, true
	}
	return best, found
}
