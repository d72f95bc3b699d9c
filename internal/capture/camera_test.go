package capture

import (
	"errors"
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"

	"github.com/ayusman/cardsnap/testdata"
)

func TestNewCamera(t *testing.T) {
	tests := []struct {
		name       string
		cfg        Config
		wantFPS    int
		wantWidth  int
		wantHeight int
	}{
		{"default config", DefaultConfig(), DefaultFPS, DefaultWidth, DefaultHeight},
		{"zero values fall back to defaults", Config{DeviceID: 1}, DefaultFPS, DefaultWidth, DefaultHeight},
		{"explicit fps", Config{DeviceID: 2, FPS: 30}, 30, DefaultWidth, DefaultHeight},
		{"hd request capped to square", Config{Width: 1920, Height: 1080}, DefaultFPS, MaxSide, MaxSide},
		{"smaller sides kept", Config{Width: 320, Height: 240}, DefaultFPS, 320, 240},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cam := NewCamera(tt.cfg)

			if got := cam.FPS(); got != tt.wantFPS {
				t.Errorf("FPS() = %d, want %d", got, tt.wantFPS)
			}
			impl := cam.(*cameraImpl)
			if impl.cfg.Width != tt.wantWidth || impl.cfg.Height != tt.wantHeight {
				t.Errorf("resolution = %dx%d, want %dx%d", impl.cfg.Width, impl.cfg.Height, tt.wantWidth, tt.wantHeight)
			}
			if cam.IsOpen() {
				t.Error("a new camera must not be open")
			}
		})
	}
}

func TestCamera_SetFPS(t *testing.T) {
	cam := NewCamera(DefaultConfig())

	// Each step builds on the previous one; non-positive values are ignored.
	steps := []struct {
		fps  int
		want int
	}{
		{10, 10},
		{30, 30},
		{1, 1},
		{0, 1},
		{-5, 1},
	}

	for _, s := range steps {
		cam.SetFPS(s.fps)
		if got := cam.FPS(); got != s.want {
			t.Errorf("after SetFPS(%d): FPS() = %d, want %d", s.fps, got, s.want)
		}
	}
}

func TestCamera_NotOpened(t *testing.T) {
	cam := NewCamera(DefaultConfig())

	if _, err := cam.ReadFrame(); !errors.Is(err, ErrCameraNotOpen) {
		t.Errorf("ReadFrame() error = %v, want ErrCameraNotOpen", err)
	}
	if err := cam.Close(); err != nil {
		t.Errorf("Close() on a closed camera = %v, want nil", err)
	}
}

func TestCamera_VideoSource(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	const frames = 3
	path := filepath.Join(t.TempDir(), "card.avi")

	writer, err := gocv.VideoWriterFile(path, "MJPG", 10, testdata.FrameSize, testdata.FrameSize, true)
	if err != nil {
		t.Skipf("video writer unavailable: %v", err)
	}
	frame := testdata.CardFrame(testdata.FrameSize, testdata.ReferenceCard)
	defer frame.Close()
	for i := 0; i < frames; i++ {
		if err := writer.Write(frame); err != nil {
			writer.Close()
			t.Fatalf("Write() error = %v", err)
		}
	}
	writer.Close()

	cam := NewCamera(Config{Source: path})
	if err := cam.Open(); err != nil {
		t.Skipf("video file not readable by this OpenCV build: %v", err)
	}
	defer cam.Close()

	for i := 0; i < frames; i++ {
		mat, err := cam.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame() #%d error = %v", i, err)
		}
		if mat.Cols() != testdata.FrameSize || mat.Rows() != testdata.FrameSize {
			t.Errorf("frame #%d is %dx%d", i, mat.Cols(), mat.Rows())
		}
		mat.Close()
	}

	if _, err := cam.ReadFrame(); !errors.Is(err, ErrNoMoreFrames) {
		t.Errorf("ReadFrame() past the end error = %v, want ErrNoMoreFrames", err)
	}
}

func TestCamera_Device(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cam := NewCamera(DefaultConfig())
	if err := cam.Open(); err != nil {
		t.Skipf("skipping test - camera not available: %v", err)
	}
	if !cam.IsOpen() {
		t.Error("IsOpen() should return true after Open()")
	}

	mat, err := cam.ReadFrame()
	if err != nil {
		t.Errorf("ReadFrame() failed: %v", err)
	} else {
		if mat.Empty() {
			t.Error("ReadFrame() returned empty mat")
		}
		if mat.Cols() > MaxSide || mat.Rows() > MaxSide {
			t.Logf("frame is %dx%d; the device ignored the %d px cap", mat.Cols(), mat.Rows(), MaxSide)
		}
		mat.Close()
	}

	if err := cam.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
	if cam.IsOpen() {
		t.Error("IsOpen() should return false after Close()")
	}
}
