package geometry

import (
	"image"
	"sort"
)

// convexHull returns the convex hull of the points using Andrew's monotone
// chain. Duplicate points are removed; collinear points on the hull boundary
// are dropped.
func convexHull(points []image.Point) []Point2D {
	if len(points) == 0 {
		return nil
	}

	pts := make([]Point2D, 0, len(points))
	seen := make(map[image.Point]struct{}, len(points))
	for _, p := range points {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		pts = append(pts, FromImage(p))
	}

	if len(pts) < 3 {
		return pts
	}

	sort.Slice(pts, func(i, j int) bool {
		if pts[i].X != pts[j].X {
			return pts[i].X < pts[j].X
		}
		return pts[i].Y < pts[j].Y
	})

	hull := make([]Point2D, 0, 2*len(pts))

	// Lower hull
	for _, p := range pts {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	// Upper hull
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	return hull[:len(hull)-1]
}

// cross returns the z component of (a - o) x (b - o).
func cross(o, a, b Point2D) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}
