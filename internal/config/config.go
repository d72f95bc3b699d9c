// Package config loads cardsnap settings from defaults, an optional .env
// file and CARDSNAP_* environment variables.
package config

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/ayusman/cardsnap/internal/app"
	"github.com/ayusman/cardsnap/internal/capture"
	"github.com/ayusman/cardsnap/internal/detector"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "CARDSNAP_"

// Inference backends.
const (
	BackendDNN     = "dnn"
	BackendService = "service"
	BackendMock    = "mock"
	BackendYuNet   = "yunet"
	BackendNone    = "none"
)

// Config is the full application configuration.
type Config struct {
	DataDir string `validate:"required"`
	DBPath  string `validate:"required"`
	HookDir string
	WebDir  string
	Addr    string `validate:"required,hostname_port"`
	Debug   bool
	Tray    bool

	Camera    CameraConfig
	Inference InferenceConfig
	Pipeline  PipelineConfig

	HookTimeout time.Duration `validate:"gt=0"`
}

// CameraConfig selects the frame source.
type CameraConfig struct {
	DeviceID int `validate:"gte=0"`
	Width    int `validate:"gte=0,lte=640"`
	Height   int `validate:"gte=0,lte=640"`
	FPS      int `validate:"gte=1,lte=120"`
	// Source is an optional video file or stream URL used instead of DeviceID.
	Source string
}

// InferenceConfig selects the segmentation and face backends.
type InferenceConfig struct {
	Segmenter      string  `validate:"oneof=dnn service mock"`
	SegmenterModel string  `validate:"required_if=Segmenter dnn"`
	Faces          string  `validate:"oneof=yunet service none"`
	FaceModel      string  `validate:"required_if=Faces yunet"`
	FaceScore      float32 `validate:"gt=0,lte=1"`

	// Script paths for the service backends; empty means search the defaults.
	SegmenterScript string
	FaceScript      string
}

// PipelineConfig holds the scanning thresholds.
type PipelineConfig struct {
	MaskThreshold     float32 `validate:"gt=0,lt=1"`
	DebounceThreshold int     `validate:"gte=1"`
	MinAreaDivisor    float64 `validate:"gt=0"`
	MinAspect         float64 `validate:"gte=1"`
	MaxAspect         float64 `validate:"gtfield=MinAspect"`
	BlurThreshold     float64 `validate:"gt=0"`
	GlareIntensity    float64 `validate:"gt=0,lte=255"`
	GlareArea         float64 `validate:"gt=0"`
}

// Default returns the built-in configuration rooted at ~/.cardsnap.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dataDir := filepath.Join(home, ".cardsnap")
	det := detector.DefaultConfig()
	cam := capture.DefaultConfig()
	pipe := app.DefaultConfig()

	return Config{
		DataDir: dataDir,
		DBPath:  filepath.Join(dataDir, "cardsnap.db"),
		HookDir: filepath.Join(dataDir, "hooks"),
		Addr:    "127.0.0.1:8080",
		Camera: CameraConfig{
			DeviceID: cam.DeviceID,
			Width:    cam.Width,
			Height:   cam.Height,
			FPS:      cam.FPS,
		},
		Inference: InferenceConfig{
			Segmenter:      BackendDNN,
			SegmenterModel: filepath.Join(dataDir, det.SegmenterModel),
			Faces:          BackendYuNet,
			FaceModel:      filepath.Join(dataDir, det.FaceModel),
			FaceScore:      det.FaceScoreThreshold,
		},
		Pipeline: PipelineConfig{
			MaskThreshold:     pipe.MaskThreshold,
			DebounceThreshold: pipe.DebounceThreshold,
			MinAreaDivisor:    pipe.MinAreaDivisor,
			MinAspect:         pipe.MinAspect,
			MaxAspect:         pipe.MaxAspect,
			BlurThreshold:     pipe.BlurThreshold,
			GlareIntensity:    pipe.GlareIntensity,
			GlareArea:         pipe.GlareArea,
		},
		HookTimeout: 5 * time.Second,
	}
}

// Load returns Default overlaid with envFile (if it exists) and the process
// environment, then validates the result. An empty envFile means ".env".
func Load(envFile string) (Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Default()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

type lookupFunc func(key string) (string, bool)

// applyEnv overlays CARDSNAP_* variables. DATA_DIR also moves the derived
// paths unless they are set explicitly.
func (c *Config) applyEnv(lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	if dir, ok := e.string("DATA_DIR"); ok {
		c.DataDir = dir
		c.DBPath = filepath.Join(dir, "cardsnap.db")
		c.HookDir = filepath.Join(dir, "hooks")
		c.Inference.SegmenterModel = filepath.Join(dir, filepath.Base(c.Inference.SegmenterModel))
		c.Inference.FaceModel = filepath.Join(dir, filepath.Base(c.Inference.FaceModel))
	}
	e.setString("DB_PATH", &c.DBPath)
	e.setString("HOOK_DIR", &c.HookDir)
	e.setString("WEB_DIR", &c.WebDir)
	e.setString("ADDR", &c.Addr)
	e.setBool("DEBUG", &c.Debug)
	e.setBool("TRAY", &c.Tray)
	e.setDuration("HOOK_TIMEOUT", &c.HookTimeout)

	e.setInt("CAMERA_DEVICE", &c.Camera.DeviceID)
	e.setString("CAMERA_SOURCE", &c.Camera.Source)
	e.setInt("CAMERA_WIDTH", &c.Camera.Width)
	e.setInt("CAMERA_HEIGHT", &c.Camera.Height)
	e.setInt("CAMERA_FPS", &c.Camera.FPS)

	e.setString("SEGMENTER", &c.Inference.Segmenter)
	e.setString("SEGMENTER_MODEL", &c.Inference.SegmenterModel)
	e.setString("SEGMENTER_SCRIPT", &c.Inference.SegmenterScript)
	e.setString("FACES", &c.Inference.Faces)
	e.setString("FACE_MODEL", &c.Inference.FaceModel)
	e.setString("FACE_SCRIPT", &c.Inference.FaceScript)
	e.setFloat32("FACE_SCORE", &c.Inference.FaceScore)

	e.setFloat32("MASK_THRESHOLD", &c.Pipeline.MaskThreshold)
	e.setInt("DEBOUNCE_THRESHOLD", &c.Pipeline.DebounceThreshold)
	e.setFloat("MIN_AREA_DIVISOR", &c.Pipeline.MinAreaDivisor)
	e.setFloat("MIN_ASPECT", &c.Pipeline.MinAspect)
	e.setFloat("MAX_ASPECT", &c.Pipeline.MaxAspect)
	e.setFloat("BLUR_THRESHOLD", &c.Pipeline.BlurThreshold)
	e.setFloat("GLARE_INTENSITY", &c.Pipeline.GlareIntensity)
	e.setFloat("GLARE_AREA", &c.Pipeline.GlareArea)

	return errors.Join(e.errs...)
}

// App returns the pipeline thresholds.
func (c Config) App() app.Config {
	return app.Config{
		MaskThreshold:     c.Pipeline.MaskThreshold,
		DebounceThreshold: c.Pipeline.DebounceThreshold,
		MinAreaDivisor:    c.Pipeline.MinAreaDivisor,
		MinAspect:         c.Pipeline.MinAspect,
		MaxAspect:         c.Pipeline.MaxAspect,
		BlurThreshold:     c.Pipeline.BlurThreshold,
		LaplacianScale:    app.DefaultConfig().LaplacianScale,
		GlareIntensity:    c.Pipeline.GlareIntensity,
		GlareArea:         c.Pipeline.GlareArea,
		FPS:               c.Camera.FPS,
	}
}

// Capture returns the camera settings.
func (c Config) Capture() capture.Config {
	return capture.Config{
		DeviceID: c.Camera.DeviceID,
		Source:   c.Camera.Source,
		Width:    c.Camera.Width,
		Height:   c.Camera.Height,
		FPS:      c.Camera.FPS,
	}
}

// Detector returns the model settings.
func (c Config) Detector() detector.Config {
	d := detector.DefaultConfig()
	d.SegmenterModel = c.Inference.SegmenterModel
	d.SegmenterInput = image.Pt(256, 256)
	d.FaceModel = c.Inference.FaceModel
	d.FaceScoreThreshold = c.Inference.FaceScore
	return d
}

// envReader parses prefixed variables and collects parse errors.
type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) string(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) setString(key string, dst *string) {
	if v, ok := e.string(key); ok {
		*dst = v
	}
}

func (e *envReader) setBool(key string, dst *bool) {
	if v, ok := e.string(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = b
	}
}

func (e *envReader) setInt(key string, dst *int) {
	if v, ok := e.string(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) setFloat(key string, dst *float64) {
	if v, ok := e.string(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = f
	}
}

func (e *envReader) setFloat32(key string, dst *float32) {
	f := float64(*dst)
	e.setFloat(key, &f)
	*dst = float32(f)
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	if v, ok := e.string(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = d
	}
}
