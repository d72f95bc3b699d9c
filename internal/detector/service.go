package detector

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Script names looked up when no explicit path is configured.
const (
	SegmenterScript = "segmenter_service.py"
	FaceScript      = "face_service.py"
)

const serviceIdleTimeout = 30 * time.Second

// service runs an inference script as a long-lived subprocess.
// Requests are a 4-byte big-endian length followed by a JPEG image;
// each response is one JSON line.
// The process is started lazily and shut down after an idle period.
type service struct {
	script    string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	idleTimer *time.Timer
}

func newService(script, name string) (*service, error) {
	if script == "" {
		script = findScript(name)
	}
	if script == "" {
		return nil, fmt.Errorf("%w: %s not found", ErrModelNotLoaded, name)
	}
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelNotLoaded, script, err)
	}
	return &service{script: script}, nil
}

// call sends img to the subprocess and decodes the JSON reply into out.
func (s *service) call(ctx context.Context, img gocv.Mat, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureStarted(); err != nil {
		return err
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return fmt.Errorf("encode image: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()

	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := s.stdin.Write(length); err != nil {
		s.shutdown()
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := s.stdin.Write(data); err != nil {
		s.shutdown()
		return fmt.Errorf("write data: %w", err)
	}

	line, err := s.stdout.ReadString('\n')
	if err != nil {
		s.shutdown()
		return fmt.Errorf("read response: %w", err)
	}

	s.resetIdleTimer()

	// A reply that arrives after cancellation belongs to a stopped session.
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(line), out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func (s *service) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown()
}

func (s *service) ensureStarted() error {
	if s.started {
		return nil
	}

	pythonPath := findVenvPython()
	if pythonPath == "" {
		pythonPath = "python3"
	}

	s.cmd = exec.Command(pythonPath, s.script)

	stdin, err := s.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := s.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	s.cmd.Stderr = os.Stderr

	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", filepath.Base(s.script), err)
	}

	s.stdin = stdin
	s.stdout = bufio.NewReader(stdout)
	s.started = true

	return nil
}

func (s *service) shutdown() error {
	if !s.started {
		return nil
	}

	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}

	if s.stdin != nil {
		s.stdin.Close()
	}

	err := s.cmd.Wait()
	s.started = false
	s.cmd = nil
	s.stdin = nil
	s.stdout = nil

	return err
}

func (s *service) resetIdleTimer() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(serviceIdleTimeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.shutdown()
	})
}

// ServiceSegmenter implements Segmenter with a Python subprocess.
type ServiceSegmenter struct {
	svc *service
}

// NewServiceSegmenter creates a subprocess segmenter. An empty script path
// searches the usual script locations for SegmenterScript.
func NewServiceSegmenter(script string) (*ServiceSegmenter, error) {
	svc, err := newService(script, SegmenterScript)
	if err != nil {
		return nil, err
	}
	return &ServiceSegmenter{svc: svc}, nil
}

// segmentResponse carries the map as little-endian float32, base64 encoded.
type segmentResponse struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Mask   []byte `json:"mask"`
}

// Segment implements Segmenter.
func (s *ServiceSegmenter) Segment(ctx context.Context, frame gocv.Mat) (gocv.Mat, error) {
	var resp segmentResponse
	if err := s.svc.call(ctx, frame, &resp); err != nil {
		return gocv.NewMat(), err
	}
	return decodeMask(resp)
}

// Close shuts down the subprocess.
func (s *ServiceSegmenter) Close() error {
	return s.svc.close()
}

func decodeMask(resp segmentResponse) (gocv.Mat, error) {
	n := resp.Width * resp.Height
	if n <= 0 || len(resp.Mask) != 4*n {
		return gocv.NewMat(), fmt.Errorf("mask payload has %d bytes for a %dx%d map", len(resp.Mask), resp.Width, resp.Height)
	}

	values := make([]float32, n)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(resp.Mask[4*i:]))
	}
	return floatsToMat(values, image.Pt(resp.Width, resp.Height))
}

// ServiceFaceLocator implements FaceLocator with a Python subprocess.
type ServiceFaceLocator struct {
	svc *service
}

// NewServiceFaceLocator creates a subprocess face locator. An empty script
// path searches the usual script locations for FaceScript.
func NewServiceFaceLocator(script string) (*ServiceFaceLocator, error) {
	svc, err := newService(script, FaceScript)
	if err != nil {
		return nil, err
	}
	return &ServiceFaceLocator{svc: svc}, nil
}

// Locate implements FaceLocator.
func (l *ServiceFaceLocator) Locate(ctx context.Context, img gocv.Mat) (FaceBox, bool, error) {
	var resp struct {
		Face *FaceBox `json:"face"`
	}
	if err := l.svc.call(ctx, img, &resp); err != nil {
		return FaceBox{}, false, err
	}
	if resp.Face == nil || resp.Face.Width <= 0 || resp.Face.Height <= 0 {
		return FaceBox{}, false, nil
	}
	return *resp.Face, true, nil
}

// Close shuts down the subprocess.
func (l *ServiceFaceLocator) Close() error {
	return l.svc.close()
}

func findScript(name string) string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", name),
		filepath.Join("..", "scripts", name),
		filepath.Join(execDir, "scripts", name),
		filepath.Join(os.Getenv("HOME"), ".cardsnap", "scripts", name),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".cardsnap/venv/bin/python"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}
