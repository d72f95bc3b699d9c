// Package geometry provides the point and rotated-rectangle math used to
// interpret card contours. It is pure Go and does not depend on OpenCV, so the
// angle and corner conventions stay fixed regardless of the gocv version.
package geometry

import (
	"image"
	"math"
)

// Point2D represents a 2D point with float coordinates in image space
// (x grows to the right, y grows downwards).
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size2D holds the side lengths of a rectangle.
type Size2D struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// FromImage converts an integer image point to a Point2D.
func FromImage(p image.Point) Point2D {
	return Point2D{X: float64(p.X), Y: float64(p.Y)}
}

// Image rounds the point to the nearest integer pixel.
func (p Point2D) Image() image.Point {
	return image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
}

// Distance returns the Euclidean distance between two points.
func (p Point2D) Distance(q Point2D) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// ContourArea returns the area enclosed by a contour using the shoelace
// formula. Orientation does not matter: the absolute value is returned.
// Contours with fewer than three points have zero area.
func ContourArea(contour []image.Point) float64 {
	n := len(contour)
	if n < 3 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		a := contour[i]
		b := contour[(i+1)%n]
		sum += float64(a.X)*float64(b.Y) - float64(b.X)*float64(a.Y)
	}

	return math.Abs(sum) / 2
}
