// Package testdata builds synthetic frames and probability maps for tests.
package testdata

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Reference scene: a 640x640 frame holding an axis-aligned card 300 px wide
// and 480 px tall, centred.
const (
	FrameSize = 640
	ModelSize = 256
)

// ReferenceCard is the card rectangle of the reference scene.
var ReferenceCard = image.Rect(170, 80, 470, 560)

var (
	dark  = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	light = color.RGBA{R: 200, G: 200, B: 200, A: 255}
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// BlankFrame returns a black size x size BGR frame.
func BlankFrame(size int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), size, size, gocv.MatTypeCV8UC3)
}

// CardFrame returns a black frame with a crisp striped card filling r.
// The stripes keep the Laplacian response high and stay below the glare cut.
func CardFrame(size int, r image.Rectangle) gocv.Mat {
	frame := BlankFrame(size)
	gocv.Rectangle(&frame, r, dark, -1)
	for x := r.Min.X; x < r.Max.X; x += 8 {
		stripe := image.Rect(x, r.Min.Y, min(x+4, r.Max.X), r.Max.Y)
		gocv.Rectangle(&frame, stripe, light, -1)
	}
	return frame
}

// FlatCardFrame returns a frame whose card is a flat mid-gray, which the
// quality gate always reports as blurred.
func FlatCardFrame(size int, r image.Rectangle) gocv.Mat {
	frame := BlankFrame(size)
	gocv.Rectangle(&frame, r, color.RGBA{R: 128, G: 128, B: 128, A: 255}, -1)
	return frame
}

// GlareCardFrame returns a striped card with a saturated highlight inside it.
func GlareCardFrame(size int, r image.Rectangle) gocv.Mat {
	frame := CardFrame(size, r)
	c := image.Pt((r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2)
	gocv.Rectangle(&frame, image.Rect(c.X-20, c.Y-20, c.X+20, c.Y+20), white, -1)
	return frame
}

// ProbabilityMap returns a size x size CV_32F map with value p inside r and 0 elsewhere.
func ProbabilityMap(size int, r image.Rectangle, p float32) gocv.Mat {
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), size, size, gocv.MatTypeCV32F)
	r = r.Intersect(image.Rect(0, 0, size, size))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			m.SetFloatAt(y, x, p)
		}
	}
	return m
}

// CardMap returns the model-resolution map a perfect segmenter would produce
// for a card occupying r in a frameSize x frameSize frame.
func CardMap(frameSize int, r image.Rectangle) gocv.Mat {
	scale := func(v int) int { return v * ModelSize / frameSize }
	mr := image.Rect(scale(r.Min.X), scale(r.Min.Y), scale(r.Max.X), scale(r.Max.Y))
	return ProbabilityMap(ModelSize, mr, 1)
}

// Repeat returns n pointers to frame, suitable for capture.NewMockCamera.
func Repeat(frame *gocv.Mat, n int) []*gocv.Mat {
	frames := make([]*gocv.Mat, n)
	for i := range frames {
		frames[i] = frame
	}
	return frames
}
