package server

import (
	"bufio"
	"context"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/cardsnap/internal/display"
	"github.com/ayusman/cardsnap/internal/geometry"
)

var (
	_ display.Sink       = (*Preview)(nil)
	_ display.FrameSink  = (*Preview)(nil)
	_ display.Sink       = (*Hub)(nil)
	_ display.StatusSink = (*Hub)(nil)
)

func testFrame(t *testing.T) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSize(120, 160, gocv.MatTypeCV8UC3)
	gocv.Rectangle(&m, image.Rect(40, 30, 120, 90), color.RGBA{200, 200, 200, 0}, -1)
	t.Cleanup(func() { m.Close() })
	return m
}

var testCorners = [4]geometry.Point2D{{X: 40, Y: 30}, {X: 120, Y: 30}, {X: 120, Y: 90}, {X: 40, Y: 90}}

func TestPreview_Frame(t *testing.T) {
	p := NewPreview()

	buf, updated := p.Frame()
	if buf != nil {
		t.Fatal("new preview should have no frame")
	}

	p.ShowFrame(testFrame(t))

	select {
	case <-updated:
	default:
		t.Fatal("ShowFrame() should signal waiting streams")
	}

	buf, _ = p.Frame()
	if len(buf) < 2 || buf[0] != 0xFF || buf[1] != 0xD8 {
		t.Error("frame should be JPEG encoded")
	}
}

func TestPreview_OutlineDoesNotTouchSource(t *testing.T) {
	p := NewPreview()
	frame := testFrame(t)
	before := frame.Clone()
	defer before.Close()

	p.DrawOutline(testCorners)
	p.ShowFrame(frame)

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(frame, before, &diff)
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(diff, &gray, gocv.ColorBGRToGray)
	if gocv.CountNonZero(gray) != 0 {
		t.Error("ShowFrame() should draw the outline on a copy")
	}
}

func TestPreview_CardFaceAndClear(t *testing.T) {
	p := NewPreview()
	img := testFrame(t)

	p.ShowCard(img)
	p.ShowFace(img)
	if p.Card() == nil || p.Face() == nil {
		t.Fatal("card and face previews should be stored")
	}

	empty := gocv.NewMat()
	defer empty.Close()
	p.ShowFace(empty)
	if p.Face() == nil {
		t.Error("an empty face image should not replace the preview")
	}

	p.DrawOutline(testCorners)
	p.Clear()
	if p.Card() != nil || p.Face() != nil {
		t.Error("Clear() should drop card and face previews")
	}
	p.mu.Lock()
	outline := p.outline
	p.mu.Unlock()
	if outline != nil {
		t.Error("Clear() should drop the outline")
	}
}

func TestServer_PreviewImages(t *testing.T) {
	p := NewPreview()
	s := New(Config{Preview: p})

	tests := []struct {
		name     string
		path     string
		prepare  func()
		wantCode int
	}{
		{"card before capture", "/api/preview/card.jpg", func() {}, http.StatusNotFound},
		{"card after capture", "/api/preview/card.jpg", func() { p.ShowCard(testFrame(t)) }, http.StatusOK},
		{"face missing", "/api/preview/face.jpg", func() {}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.prepare()
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantCode == http.StatusOK && rec.Header().Get("Content-Type") != "image/jpeg" {
				t.Errorf("Content-Type = %q, want image/jpeg", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestStreamHandler_MJPEG(t *testing.T) {
	p := NewPreview()
	p.ShowFrame(testFrame(t))

	ts := httptest.NewServer(New(Config{Preview: p}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/stream", nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("GET /api/stream error = %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("Content-Type = %q, want multipart stream", ct)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read stream: %v", err)
	}
	if strings.TrimSpace(line) != "--frame" {
		t.Errorf("first line = %q, want boundary", line)
	}
	line, _ = reader.ReadString('\n')
	if strings.TrimSpace(line) != "Content-Type: image/jpeg" {
		t.Errorf("part header = %q, want image/jpeg", line)
	}
}
