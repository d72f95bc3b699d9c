package geometry

import (
	"image"
	"math"
)

// RotatedRect is a rectangle that may be rotated relative to the image axes.
//
// Angle is the direction of the Width edge in degrees, normalised to [0, 90),
// measured in image coordinates. A rect with a non-positive side is treated as
// "no shape" by every consumer (see Empty).
type RotatedRect struct {
	Center Point2D `json:"center"`
	Size   Size2D  `json:"size"`
	Angle  float64 `json:"angle"`
}

// Empty reports whether the rect is degenerate.
func (r RotatedRect) Empty() bool {
	return r.Size.Width <= 0 || r.Size.Height <= 0
}

// Area returns width * height, or 0 for a degenerate rect.
func (r RotatedRect) Area() float64 {
	if r.Empty() {
		return 0
	}
	return r.Size.Width * r.Size.Height
}

// MinSide returns the shorter side length.
func (r RotatedRect) MinSide() float64 {
	return math.Min(r.Size.Width, r.Size.Height)
}

// MaxSide returns the longer side length.
func (r RotatedRect) MaxSide() float64 {
	return math.Max(r.Size.Width, r.Size.Height)
}

// AspectRatio returns MaxSide/MinSide, or 0 for a degenerate rect.
func (r RotatedRect) AspectRatio() float64 {
	if r.Empty() {
		return 0
	}
	return r.MaxSide() / r.MinSide()
}

// Corners returns the four corners of the rect.
//
// The order is stable: it starts at the corner with the lowest y (lowest x on
// ties) and proceeds clockwise as seen on screen. Drawing and cropping code
// index into this array, so the order must not change.
func Corners(r RotatedRect) [4]Point2D {
	rad := r.Angle * math.Pi / 180
	ux, uy := math.Cos(rad), math.Sin(rad)
	vx, vy := -uy, ux
	hw, hh := r.Size.Width/2, r.Size.Height/2

	pts := [4]Point2D{
		{X: r.Center.X - hw*ux - hh*vx, Y: r.Center.Y - hw*uy - hh*vy},
		{X: r.Center.X + hw*ux - hh*vx, Y: r.Center.Y + hw*uy - hh*vy},
		{X: r.Center.X + hw*ux + hh*vx, Y: r.Center.Y + hw*uy + hh*vy},
		{X: r.Center.X - hw*ux + hh*vx, Y: r.Center.Y - hw*uy + hh*vy},
	}

	start := 0
	for i := 1; i < 4; i++ {
		if pts[i].Y < pts[start].Y || (pts[i].Y == pts[start].Y && pts[i].X < pts[start].X) {
			start = i
		}
	}

	var ordered [4]Point2D
	for i := 0; i < 4; i++ {
		ordered[i] = pts[(start+i)%4]
	}
	return ordered
}

// MinAreaRect returns the minimum-area rotated rectangle enclosing the
// contour, computed with rotating calipers over the convex hull.
//
// An empty contour yields the zero rect. Collinear contours yield a rect with
// zero height, which Empty reports as degenerate.
func MinAreaRect(contour []image.Point) RotatedRect {
	hull := convexHull(contour)
	switch len(hull) {
	case 0:
		return RotatedRect{}
	case 1:
		return RotatedRect{Center: hull[0]}
	}

	var best RotatedRect
	bestArea := math.Inf(1)

	for i := range hull {
		a := hull[i]
		b := hull[(i+1)%len(hull)]
		length := a.Distance(b)
		if length == 0 {
			continue
		}
		ux, uy := (b.X-a.X)/length, (b.Y-a.Y)/length

		minU, maxU := math.Inf(1), math.Inf(-1)
		minV, maxV := math.Inf(1), math.Inf(-1)
		for _, p := range hull {
			u := p.X*ux + p.Y*uy
			v := -p.X*uy + p.Y*ux
			minU, maxU = math.Min(minU, u), math.Max(maxU, u)
			minV, maxV = math.Min(minV, v), math.Max(maxV, v)
		}

		w, h := maxU-minU, maxV-minV
		if area := w * h; area < bestArea-1e-9 {
			bestArea = area
			cu, cv := (minU+maxU)/2, (minV+maxV)/2
			center := Point2D{X: cu*ux - cv*uy, Y: cu*uy + cv*ux}
			best = normalizeRect(center, w, h, math.Atan2(uy, ux)*180/math.Pi)
		}
	}

	return best
}

// normalizeRect folds an edge direction into [0, 90), swapping the sides when
// the edge it was measured along becomes the height edge.
func normalizeRect(center Point2D, w, h, angle float64) RotatedRect {
	angle = math.Mod(angle, 180)
	if angle < 0 {
		angle += 180
	}
	if angle >= 90 {
		angle -= 90
		w, h = h, w
	}
	return RotatedRect{
		Center: center,
		Size:   Size2D{Width: w, Height: h},
		Angle:  angle,
	}
}
