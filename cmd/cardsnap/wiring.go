package main

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ayusman/cardsnap/internal/app"
	"github.com/ayusman/cardsnap/internal/capture"
	"github.com/ayusman/cardsnap/internal/config"
	"github.com/ayusman/cardsnap/internal/detector"
	"github.com/ayusman/cardsnap/internal/display"
	"github.com/ayusman/cardsnap/internal/logger"
)

// scanner bundles the pipeline with the collaborators it does not own.
type scanner struct {
	pipeline  *app.Pipeline
	segmenter detector.Segmenter
	faces     detector.FaceLocator
}

// newScanner builds the camera, inference backends and pipeline from c.
func newScanner(c config.Config, sink display.Sink, status display.StatusSink) (*scanner, error) {
	segmenter, err := newSegmenter(c)
	if err != nil {
		return nil, err
	}

	faces, err := newFaceLocator(c)
	if err != nil {
		segmenter.Close()
		return nil, err
	}

	p := app.New(c.App(), app.Deps{
		Camera:    capture.NewCamera(c.Capture()),
		Segmenter: segmenter,
		Faces:     faces,
		Sink:      sink,
		Status:    status,
	})

	return &scanner{pipeline: p, segmenter: segmenter, faces: faces}, nil
}

// Close stops the pipeline and releases the inference backends.
func (s *scanner) Close() error {
	s.pipeline.Close()

	var errs []error
	errs = append(errs, s.segmenter.Close())
	if s.faces != nil {
		errs = append(errs, s.faces.Close())
	}
	return errors.Join(errs...)
}

func newSegmenter(c config.Config) (detector.Segmenter, error) {
	switch c.Inference.Segmenter {
	case config.BackendDNN:
		return detector.NewDNNSegmenter(c.Detector())
	case config.BackendService:
		return detector.NewServiceSegmenter(c.Inference.SegmenterScript)
	case config.BackendMock:
		logger.L().Warn("using mock segmenter, no card will ever be found")
		return detector.NewMockSegmenter(), nil
	default:
		return nil, fmt.Errorf("unknown segmenter backend %q", c.Inference.Segmenter)
	}
}

// newFaceLocator returns nil for the "none" backend. A face model that
// fails to load disables face extraction instead of failing the scan.
func newFaceLocator(c config.Config) (detector.FaceLocator, error) {
	var (
		faces detector.FaceLocator
		err   error
	)
	switch c.Inference.Faces {
	case config.BackendNone:
		return nil, nil
	case config.BackendYuNet:
		faces, err = detector.NewYuNetLocator(c.Detector())
	case config.BackendService:
		faces, err = detector.NewServiceFaceLocator(c.Inference.FaceScript)
	default:
		return nil, fmt.Errorf("unknown face backend %q", c.Inference.Faces)
	}

	if err != nil {
		logger.L().Warn("face locator unavailable, captures will have no face crop",
			zap.String("backend", c.Inference.Faces), zap.Error(err))
		return nil, nil
	}
	return faces, nil
}
