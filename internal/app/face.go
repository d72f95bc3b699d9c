package app

import (
	"context"
	"image"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/cardsnap/internal/detector"
	"github.com/ayusman/cardsnap/internal/logger"
)

// locateFace asks the face locator for a box on card and crops it.
// The returned Mat is empty when no face was found; a locator failure is
// logged and treated as no face.
func (p *Pipeline) locateFace(ctx context.Context, card gocv.Mat) (gocv.Mat, detector.FaceBox, bool) {
	if p.faces == nil {
		return gocv.NewMat(), detector.FaceBox{}, false
	}

	box, found, err := p.faces.Locate(ctx, card)
	if err != nil {
		logger.L().Warn("face locator failed", zap.Error(err))
		return gocv.NewMat(), detector.FaceBox{}, false
	}
	if !found {
		return gocv.NewMat(), detector.FaceBox{}, false
	}

	face, clipped, ok := cropFace(card, box)
	if !ok {
		logger.L().Debug("face box outside card", zap.Any("box", box))
		return face, detector.FaceBox{}, false
	}
	return face, clipped, true
}

// cropFace clips box to the card bounds and clones that region.
func cropFace(card gocv.Mat, box detector.FaceBox) (gocv.Mat, detector.FaceBox, bool) {
	r := box.Rect().Intersect(image.Rect(0, 0, card.Cols(), card.Rows()))
	if r.Empty() {
		return gocv.NewMat(), detector.FaceBox{}, false
	}

	region := card.Region(r)
	defer region.Close()

	clipped := detector.FaceBox{
		X:      r.Min.X,
		Y:      r.Min.Y,
		Width:  r.Dx(),
		Height: r.Dy(),
		Score:  box.Score,
	}
	return region.Clone(), clipped, true
}
