package deskew

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"gocv.io/x/gocv"

	"github.com/ayusman/cardsnap/internal/geometry"
)

func blackFrame(rows, cols int, mt gocv.MatType) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), rows, cols, mt)
}

// fillRotated paints the rotated rect onto img with the given gray level.
func fillRotated(img *gocv.Mat, r geometry.RotatedRect, level uint8) {
	corners := geometry.Corners(r)
	pts := make([]image.Point, 0, 4)
	for _, c := range corners {
		pts = append(pts, c.Image())
	}
	pv := gocv.NewPointsVectorFromPoints([][]image.Point{pts})
	defer pv.Close()
	gocv.FillPoly(img, pv, color.RGBA{R: level, G: level, B: level, A: 255})
}

func TestCropRect(t *testing.T) {
	frame := image.Pt(640, 640)

	tests := []struct {
		name    string
		r       geometry.RotatedRect
		want    image.Rectangle
		wantErr error
	}{
		{
			name: "centered card",
			r: geometry.RotatedRect{
				Center: geometry.Point2D{X: 320, Y: 320},
				Size:   geometry.Size2D{Width: 300, Height: 480},
			},
			want: image.Rect(170, 80, 470, 560),
		},
		{
			name: "touches every edge",
			r: geometry.RotatedRect{
				Center: geometry.Point2D{X: 320, Y: 320},
				Size:   geometry.Size2D{Width: 640, Height: 640},
			},
			want: image.Rect(0, 0, 640, 640),
		},
		{
			name: "rotated card whose deskewed box leaves the frame",
			r: geometry.RotatedRect{
				Center: geometry.Point2D{X: 100, Y: 320},
				Size:   geometry.Size2D{Width: 300, Height: 150},
				Angle:  80,
			},
			wantErr: ErrOutOfBounds,
		},
		{
			name: "off the bottom",
			r: geometry.RotatedRect{
				Center: geometry.Point2D{X: 320, Y: 600},
				Size:   geometry.Size2D{Width: 300, Height: 100},
			},
			wantErr: ErrOutOfBounds,
		},
		{
			name:    "degenerate",
			r:       geometry.RotatedRect{Center: geometry.Point2D{X: 320, Y: 320}},
			wantErr: ErrDegenerateRect,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CropRect(tt.r, frame)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("CropRect() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("CropRect() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("CropRect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCorrector_Crop_RotatedRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	frame := blackFrame(480, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	r := geometry.RotatedRect{
		Center: geometry.Point2D{X: 320, Y: 240},
		Size:   geometry.Size2D{Width: 240, Height: 150},
		Angle:  20,
	}
	fillRotated(&frame, r, 200)

	card, err := New().Crop(frame, r)
	if err != nil {
		t.Fatalf("Crop() error = %v", err)
	}
	defer card.Close()

	if math.Abs(float64(card.Cols())-r.Size.Width) > 1 || math.Abs(float64(card.Rows())-r.Size.Height) > 1 {
		t.Errorf("card size = %dx%d (cols x rows), want %.0fx%.0f", card.Cols(), card.Rows(), r.Size.Width, r.Size.Height)
	}
	if card.Channels() != 3 {
		t.Errorf("card channels = %d, want 3", card.Channels())
	}

	// After deskewing, the card should be almost entirely the painted level.
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(card, &gray, gocv.ColorBGRToGray)
	mean := gray.Mean()
	if mean.Val1 < 180 {
		t.Errorf("mean level inside deskewed crop = %f, want close to 200", mean.Val1)
	}
}

func TestCorrector_Crop_OutOfBounds(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	frame := blackFrame(640, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	r := geometry.RotatedRect{
		Center: geometry.Point2D{X: 630, Y: 320},
		Size:   geometry.Size2D{Width: 300, Height: 480},
	}

	card, err := New().Crop(frame, r)
	defer card.Close()

	if !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("Crop() error = %v, want ErrOutOfBounds", err)
	}
	if !card.Empty() {
		t.Error("Crop() returned a non-empty Mat on error")
	}
}

func TestCorrector_Crop_PortraitBecomesLandscape(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	frame := blackFrame(640, 640, gocv.MatTypeCV8UC3)
	defer frame.Close()

	// Portrait card at 170..470 x 80..560 with a marker in its top-left corner.
	gocv.Rectangle(&frame, image.Rect(170, 80, 470, 560), color.RGBA{R: 90, G: 90, B: 90, A: 255}, -1)
	gocv.Rectangle(&frame, image.Rect(170, 80, 200, 110), color.RGBA{R: 230, G: 230, B: 230, A: 255}, -1)

	r := geometry.RotatedRect{
		Center: geometry.Point2D{X: 320, Y: 320},
		Size:   geometry.Size2D{Width: 300, Height: 480},
	}

	card, err := New().Crop(frame, r)
	if err != nil {
		t.Fatalf("Crop() error = %v", err)
	}
	defer card.Close()

	if card.Cols() != 480 || card.Rows() != 300 {
		t.Fatalf("card = %d cols x %d rows, want 480 x 300", card.Cols(), card.Rows())
	}

	// Transpose + vertical flip moves the original top-left to bottom-left.
	bottomLeft := card.GetVecbAt(card.Rows()-5, 5)
	if bottomLeft[0] < 200 {
		t.Errorf("marker not found at bottom-left after orientation, got %v", bottomLeft)
	}
	topLeft := card.GetVecbAt(5, 5)
	if topLeft[0] > 120 {
		t.Errorf("top-left should be card body after orientation, got %v", topLeft)
	}
}

func TestOrient_LandscapeUnchanged(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	img := blackFrame(100, 160, gocv.MatTypeCV8UC3)
	defer img.Close()

	out := Orient(img)
	defer out.Close()

	if out.Cols() != 160 || out.Rows() != 100 {
		t.Errorf("Orient() = %dx%d, want 160x100", out.Cols(), out.Rows())
	}
}

func TestToBGR(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	tests := []struct {
		name string
		mt   gocv.MatType
	}{
		{name: "gray", mt: gocv.MatTypeCV8UC1},
		{name: "bgr", mt: gocv.MatTypeCV8UC3},
		{name: "bgra", mt: gocv.MatTypeCV8UC4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := blackFrame(20, 30, tt.mt)
			defer img.Close()

			out, err := ToBGR(img)
			if err != nil {
				t.Fatalf("ToBGR() error = %v", err)
			}
			defer out.Close()

			if out.Channels() != 3 {
				t.Errorf("channels = %d, want 3", out.Channels())
			}
			if out.Cols() != 30 || out.Rows() != 20 {
				t.Errorf("size = %dx%d, want 30x20", out.Cols(), out.Rows())
			}
		})
	}
}
