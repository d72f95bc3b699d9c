// Package mask turns the probability map produced by the segmentation model
// into candidate card contours.
package mask

import (
	"errors"
	"image"

	"gocv.io/x/gocv"
)

// DefaultThreshold is the probability cut separating card from background.
const DefaultThreshold = 0.5

// ErrEmptyMap is returned when the probability map has no data.
var ErrEmptyMap = errors.New("probability map is empty")

// Interpreter converts probability maps into external contours.
type Interpreter struct {
	// Threshold is the probability above which a pixel belongs to the card.
	Threshold float32
}

// NewInterpreter creates an Interpreter with the default threshold.
func NewInterpreter() *Interpreter {
	return &Interpreter{Threshold: DefaultThreshold}
}

// Contours resamples prob to frameSize, binarises it and returns the outer
// boundaries of the foreground regions as simplified polygons.
//
// prob must be a single-channel CV_32F map with values in [0,1]. Finding no
// contour is the normal "nothing detected" case and returns an empty slice.
func (in *Interpreter) Contours(prob gocv.Mat, frameSize image.Point) ([][]image.Point, error) {
	if prob.Empty() {
		return nil, ErrEmptyMap
	}

	binary, err := in.Binarize(prob, frameSize)
	if err != nil {
		return nil, err
	}
	defer binary.Close()

	contours := gocv.FindContours(binary, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	return contours.ToPoints(), nil
}

// Binarize returns an 8-bit mask at frameSize where card pixels are 255.
// The caller owns the returned Mat.
func (in *Interpreter) Binarize(prob gocv.Mat, frameSize image.Point) (gocv.Mat, error) {
	if prob.Empty() {
		return gocv.NewMat(), ErrEmptyMap
	}

	probF := prob
	if prob.Type() != gocv.MatTypeCV32F {
		converted := gocv.NewMat()
		defer converted.Close()
		prob.ConvertTo(&converted, gocv.MatTypeCV32F)
		probF = converted
	}

	resized := gocv.NewMat()
	defer resized.Close()
	if frameSize.X > 0 && frameSize.Y > 0 && (probF.Cols() != frameSize.X || probF.Rows() != frameSize.Y) {
		gocv.Resize(probF, &resized, frameSize, 0, 0, gocv.InterpolationLinear)
	} else {
		probF.CopyTo(&resized)
	}

	thresholded := gocv.NewMat()
	defer thresholded.Close()
	gocv.Threshold(resized, &thresholded, in.threshold(), 1, gocv.ThresholdBinary)

	binary := gocv.NewMat()
	thresholded.ConvertToWithParams(&binary, gocv.MatTypeCV8U, 255, 0)

	return binary, nil
}

func (in *Interpreter) threshold() float32 {
	if in.Threshold <= 0 || in.Threshold >= 1 {
		return DefaultThreshold
	}
	return in.Threshold
}
