package geometry

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// RotationMatrix returns the 2x3 affine matrix that rotates the image plane
// about center so that an edge pointing at angle degrees becomes horizontal.
//
// The layout matches OpenCV's getRotationMatrix2D with unit scale, but keeps
// sub-pixel precision for the center.
func RotationMatrix(center Point2D, angle float64) *mat.Dense {
	rad := angle * math.Pi / 180
	alpha, beta := math.Cos(rad), math.Sin(rad)

	return mat.NewDense(2, 3, []float64{
		alpha, beta, (1-alpha)*center.X - beta*center.Y,
		-beta, alpha, beta*center.X + (1-alpha)*center.Y,
	})
}

// Apply maps a point through a 2x3 affine matrix.
func Apply(m mat.Matrix, p Point2D) Point2D {
	return Point2D{
		X: m.At(0, 0)*p.X + m.At(0, 1)*p.Y + m.At(0, 2),
		Y: m.At(1, 0)*p.X + m.At(1, 1)*p.Y + m.At(1, 2),
	}
}
