// Package card decides which contour, if any, is a card-shaped candidate.
package card

import (
	"image"

	"github.com/ayusman/cardsnap/internal/geometry"
)

// Default acceptance constants. The aspect band brackets the ISO/IEC 7810
// ID-1 ratio of about 1.586.
const (
	DefaultMinAreaDivisor = 5.0
	DefaultMinAspect      = 1.4
	DefaultMaxAspect      = 1.8
)

// Validator scores rotated rectangles against frame bounds and card shape.
type Validator struct {
	FrameWidth  int
	FrameHeight int

	// MinAreaDivisor sets the smallest accepted card: min(w,h)^2 must be at
	// least frameArea/MinAreaDivisor.
	MinAreaDivisor float64
	MinAspect      float64
	MaxAspect      float64
}

// NewValidator creates a Validator for the given frame size with default
// shape constraints.
func NewValidator(frameWidth, frameHeight int) *Validator {
	return &Validator{
		FrameWidth:     frameWidth,
		FrameHeight:    frameHeight,
		MinAreaDivisor: DefaultMinAreaDivisor,
		MinAspect:      DefaultMinAspect,
		MaxAspect:      DefaultMaxAspect,
	}
}

// SetFrameSize updates the frame dimensions used by the bounds and area checks.
func (v *Validator) SetFrameSize(width, height int) {
	v.FrameWidth = width
	v.FrameHeight = height
}

// InBounds reports whether every corner of r lies within [0,W]x[0,H].
func (v *Validator) InBounds(r geometry.RotatedRect) bool {
	w, h := float64(v.FrameWidth), float64(v.FrameHeight)
	for _, c := range geometry.Corners(r) {
		if c.X < 0 || c.X > w || c.Y < 0 || c.Y > h {
			return false
		}
	}
	return true
}

// ShapeOK reports whether r is large enough, no larger than the frame and
// within the card aspect band. Degenerate rects never pass.
func (v *Validator) ShapeOK(r geometry.RotatedRect) bool {
	if r.Empty() {
		return false
	}

	frameArea := float64(v.FrameWidth) * float64(v.FrameHeight)
	minSide, maxSide := r.MinSide(), r.MaxSide()
	ratio := maxSide / minSide

	return minSide*minSide >= frameArea/v.divisor() &&
		minSide*maxSide <= frameArea &&
		ratio >= v.MinAspect &&
		ratio <= v.MaxAspect
}

// Valid combines the bounds and shape checks.
func (v *Validator) Valid(r geometry.RotatedRect) bool {
	return v.InBounds(r) && v.ShapeOK(r)
}

// Select returns the rotated rectangle of the card candidate among contours.
//
// When several contours pass, the last one in scan order wins rather than the
// largest or best-scoring one. Callers depend on this tie-breaking.
func (v *Validator) Select(contours [][]image.Point) (geometry.RotatedRect, bool) {
	var (
		chosen geometry.RotatedRect
		found  bool
	)

	for _, contour := range contours {
		r := geometry.MinAreaRect(contour)
		if v.Valid(r) {
			chosen = r
			found = true
		}
	}

	return chosen, found
}

func (v *Validator) divisor() float64 {
	if v.MinAreaDivisor <= 0 {
		return DefaultMinAreaDivisor
	}
	return v.MinAreaDivisor
}
