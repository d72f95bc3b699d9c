// Package deskew rotates a frame so a detected card becomes axis-aligned and
// crops it out in canonical landscape orientation.
package deskew

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"

	"github.com/ayusman/cardsnap/internal/geometry"
)

var (
	// ErrOutOfBounds is returned when the deskewed crop would leave the frame.
	// The crop is never clamped: a clamped crop would have the wrong size.
	ErrOutOfBounds = errors.New("card crop exceeds frame bounds")
	// ErrEmptyFrame is returned for an empty source frame.
	ErrEmptyFrame = errors.New("frame is empty")
	// ErrDegenerateRect is returned for a rect with a non-positive side.
	ErrDegenerateRect = errors.New("rotated rect is degenerate")
)

// Corrector deskews and crops card regions.
type Corrector struct {
	// Interpolation used when rotating the frame.
	Interpolation gocv.InterpolationFlags
}

// New creates a Corrector using bilinear interpolation.
func New() *Corrector {
	return &Corrector{Interpolation: gocv.InterpolationLinear}
}

// CropRect returns the axis-aligned crop rectangle for r in the rotated frame,
// or ErrOutOfBounds if it does not fit inside a frame of the given size.
func CropRect(r geometry.RotatedRect, frameSize image.Point) (image.Rectangle, error) {
	if r.Empty() {
		return image.Rectangle{}, ErrDegenerateRect
	}

	x := r.Center.X - r.Size.Width/2
	y := r.Center.Y - r.Size.Height/2
	if x < 0 || y < 0 ||
		x+r.Size.Width > float64(frameSize.X) ||
		y+r.Size.Height > float64(frameSize.Y) {
		return image.Rectangle{}, ErrOutOfBounds
	}

	x0, y0 := int(math.Round(x)), int(math.Round(y))
	w, h := int(math.Round(r.Size.Width)), int(math.Round(r.Size.Height))
	rect := image.Rect(x0, y0, x0+w, y0+h)

	if rect.Empty() || !rect.In(image.Rect(0, 0, frameSize.X, frameSize.Y)) {
		return image.Rectangle{}, ErrOutOfBounds
	}
	return rect, nil
}

// Crop rotates frame about the rect center so the card is axis-aligned, cuts
// the card out and returns it as a 3-channel landscape image.
//
// The caller owns the returned Mat. No Mat is returned on error.
func (c *Corrector) Crop(frame gocv.Mat, r geometry.RotatedRect) (gocv.Mat, error) {
	if frame.Empty() {
		return gocv.NewMat(), ErrEmptyFrame
	}

	frameSize := image.Pt(frame.Cols(), frame.Rows())
	cropRect, err := CropRect(r, frameSize)
	if err != nil {
		return gocv.NewMat(), err
	}

	transform := toMat(geometry.RotationMatrix(r.Center, r.Angle))
	defer transform.Close()

	rotated := gocv.NewMat()
	defer rotated.Close()
	gocv.WarpAffineWithParams(frame, &rotated, transform, frameSize,
		c.Interpolation, gocv.BorderConstant, color.RGBA{})

	region := rotated.Region(cropRect)
	defer region.Close()

	card, err := ToBGR(region)
	if err != nil {
		return gocv.NewMat(), err
	}

	oriented := Orient(card)
	card.Close()

	return oriented, nil
}

// Orient returns a landscape copy of img. Portrait images are transposed and
// flipped vertically; landscape images are cloned unchanged.
func Orient(img gocv.Mat) gocv.Mat {
	if img.Cols() >= img.Rows() {
		return img.Clone()
	}

	transposed := gocv.NewMat()
	defer transposed.Close()
	gocv.Transpose(img, &transposed)

	flipped := gocv.NewMat()
	gocv.Flip(transposed, &flipped, 0)
	return flipped
}

// ToBGR returns a 3-channel copy of img.
func ToBGR(img gocv.Mat) (gocv.Mat, error) {
	dst := gocv.NewMat()

	switch img.Channels() {
	case 3:
		img.CopyTo(&dst)
	case 4:
		gocv.CvtColor(img, &dst, gocv.ColorBGRAToBGR)
	case 1:
		gocv.CvtColor(img, &dst, gocv.ColorGrayToBGR)
	default:
		dst.Close()
		return gocv.NewMat(), fmt.Errorf("unsupported channel count %d", img.Channels())
	}

	return dst, nil
}

// toMat copies a 2x3 gonum matrix into a CV_64F Mat for warpAffine.
func toMat(m *mat.Dense) gocv.Mat {
	rows, cols := m.Dims()
	out := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV64F)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.SetDoubleAt(i, j, m.At(i, j))
		}
	}
	return out
}
