// Package quality decides whether a deskewed card is sharp enough and free of
// specular glare to be accepted as a capture.
package quality

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

// Default gate parameters.
const (
	DefaultBlurThreshold  = 120.0
	DefaultLaplacianScale = 3.0
	DefaultGlareIntensity = 250.0
	DefaultGlareArea      = 10.0
)

// ErrEmptyImage is returned when an empty image is assessed.
var ErrEmptyImage = errors.New("image is empty")

// Metrics are the measurements taken from one card image.
type Metrics struct {
	Sharpness float64 `json:"sharpness"`
	HasGlare  bool    `json:"has_glare"`

	blurThreshold float64
}

// Blurred reports whether the sharpness is at or below the gate's threshold.
func (m Metrics) Blurred() bool {
	return m.Sharpness <= m.blurThreshold
}

// Reject reports whether the capture must be discarded.
func (m Metrics) Reject() bool {
	return m.Blurred() || m.HasGlare
}

// Status renders the advisory status line shown to the operator.
func (m Metrics) Status() string {
	s := fmt.Sprintf("Sharpness: %.1f", m.Sharpness)
	if m.Blurred() {
		s += " (blurry)"
	}
	if m.HasGlare {
		s += ", glare detected"
	}
	return s
}

// Gate holds the thresholds used by Assess.
type Gate struct {
	BlurThreshold  float64
	LaplacianScale float64
	GlareIntensity float64
	GlareArea      float64
}

// NewGate returns a Gate with the default thresholds.
func NewGate() *Gate {
	return &Gate{
		BlurThreshold:  DefaultBlurThreshold,
		LaplacianScale: DefaultLaplacianScale,
		GlareIntensity: DefaultGlareIntensity,
		GlareArea:      DefaultGlareArea,
	}
}

// Assess measures sharpness and glare on img, which may be gray, BGR or BGRA.
func (g *Gate) Assess(img gocv.Mat) (Metrics, error) {
	if img.Empty() {
		return Metrics{}, ErrEmptyImage
	}

	gray, err := toGray(img)
	if err != nil {
		return Metrics{}, err
	}
	defer gray.Close()

	return Metrics{
		Sharpness:     g.sharpness(gray),
		HasGlare:      g.glare(gray),
		blurThreshold: g.BlurThreshold,
	}, nil
}

// sharpness is the standard deviation of the Laplacian response.
func (g *Gate) sharpness(gray gocv.Mat) float64 {
	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV64F, 3, g.LaplacianScale, 0, gocv.BorderDefault)

	mean := gocv.NewMat()
	defer mean.Close()
	stddev := gocv.NewMat()
	defer stddev.Close()
	gocv.MeanStdDev(lap, &mean, &stddev)

	return stddev.GetDoubleAt(0, 0)
}

// glare reports whether any saturated blob is larger than GlareArea.
func (g *Gate) glare(gray gocv.Mat) bool {
	bright := gocv.NewMat()
	defer bright.Close()
	gocv.Threshold(gray, &bright, float32(g.GlareIntensity), 255, gocv.ThresholdBinary)

	contours := gocv.FindContours(bright, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	for i := 0; i < contours.Size(); i++ {
		if gocv.ContourArea(contours.At(i)) > g.GlareArea {
			return true
		}
	}
	return false
}

func toGray(img gocv.Mat) (gocv.Mat, error) {
	gray := gocv.NewMat()
	switch img.Channels() {
	case 1:
		img.CopyTo(&gray)
	case 3:
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	case 4:
		gocv.CvtColor(img, &gray, gocv.ColorBGRAToGray)
	default:
		gray.Close()
		return gocv.NewMat(), fmt.Errorf("unsupported channel count %d", img.Channels())
	}
	return gray, nil
}
