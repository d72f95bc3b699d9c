package mask

import (
	"image"
	"testing"

	"gocv.io/x/gocv"
)

// probabilityMap builds a size x size CV_32F map with value p inside r.
func probabilityMap(size int, r image.Rectangle, p float32) gocv.Mat {
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), size, size, gocv.MatTypeCV32F)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			m.SetFloatAt(y, x, p)
		}
	}
	return m
}

func TestInterpreter_Contours_Empty(t *testing.T) {
	in := NewInterpreter()

	empty := gocv.NewMat()
	defer empty.Close()

	_, err := in.Contours(empty, image.Pt(640, 640))
	if err != ErrEmptyMap {
		t.Errorf("expected ErrEmptyMap, got %v", err)
	}
}

func TestInterpreter_Contours_NothingDetected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	in := NewInterpreter()
	prob := probabilityMap(256, image.Rectangle{}, 0)
	defer prob.Close()

	contours, err := in.Contours(prob, image.Pt(640, 640))
	if err != nil {
		t.Fatalf("Contours() error = %v", err)
	}
	if len(contours) != 0 {
		t.Errorf("expected no contours for an all-background map, got %d", len(contours))
	}
}

func TestInterpreter_Contours_BelowThreshold(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	in := NewInterpreter()
	prob := probabilityMap(256, image.Rect(68, 32, 188, 224), 0.4)
	defer prob.Close()

	contours, err := in.Contours(prob, image.Pt(640, 640))
	if err != nil {
		t.Fatalf("Contours() error = %v", err)
	}
	if len(contours) != 0 {
		t.Errorf("expected no contours below the 0.5 cut, got %d", len(contours))
	}
}

func TestInterpreter_Contours_ResamplesToFrame(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	in := NewInterpreter()

	// 68..188 x 32..224 at 256px maps to 170..470 x 80..560 at 640px.
	prob := probabilityMap(256, image.Rect(68, 32, 188, 224), 0.9)
	defer prob.Close()

	contours, err := in.Contours(prob, image.Pt(640, 640))
	if err != nil {
		t.Fatalf("Contours() error = %v", err)
	}
	if len(contours) != 1 {
		t.Fatalf("expected 1 contour, got %d", len(contours))
	}

	bounds := image.Rectangle{Min: contours[0][0], Max: contours[0][0]}
	for _, p := range contours[0] {
		bounds = bounds.Union(image.Rectangle{Min: p, Max: p.Add(image.Pt(1, 1))})
	}

	want := image.Rect(170, 80, 470, 560)
	const tol = 3
	if abs(bounds.Min.X-want.Min.X) > tol || abs(bounds.Min.Y-want.Min.Y) > tol ||
		abs(bounds.Max.X-want.Max.X) > tol || abs(bounds.Max.Y-want.Max.Y) > tol {
		t.Errorf("contour bounds = %v, want about %v", bounds, want)
	}

	// CHAIN_APPROX_SIMPLE compresses an axis-aligned rectangle to its corners.
	if len(contours[0]) > 8 {
		t.Errorf("expected a simplified polygon, got %d points", len(contours[0]))
	}
}

func TestInterpreter_Contours_ExternalOnly(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	in := NewInterpreter()

	// A ring: the hole must not produce its own contour.
	prob := probabilityMap(256, image.Rect(40, 40, 200, 200), 1)
	defer prob.Close()
	for y := 80; y < 160; y++ {
		for x := 80; x < 160; x++ {
			prob.SetFloatAt(y, x, 0)
		}
	}

	contours, err := in.Contours(prob, image.Pt(256, 256))
	if err != nil {
		t.Fatalf("Contours() error = %v", err)
	}
	if len(contours) != 1 {
		t.Errorf("expected only the outer contour, got %d", len(contours))
	}
}

func TestInterpreter_Threshold_Default(t *testing.T) {
	tests := []struct {
		name      string
		threshold float32
		want      float32
	}{
		{name: "unset", threshold: 0, want: DefaultThreshold},
		{name: "out of range", threshold: 1.5, want: DefaultThreshold},
		{name: "custom", threshold: 0.7, want: 0.7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &Interpreter{Threshold: tt.threshold}
			if got := in.threshold(); got != tt.want {
				t.Errorf("threshold() = %f, want %f", got, tt.want)
			}
		})
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
