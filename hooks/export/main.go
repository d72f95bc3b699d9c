// Package main provides a capture hook that copies card and face images
// into a folder, named by capture time.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Event is the subset of the capture event this hook reads.
type Event struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Config    json.RawMessage `json:"config"`
	Time      time.Time       `json:"time"`
	Capture   *struct {
		ID       string `json:"id"`
		CardPath string `json:"card_path"`
		FacePath string `json:"face_path"`
	} `json:"capture"`
}

// Config selects the destination folder.
type Config struct {
	Folder string `json:"folder"`
}

// Response represents the output to the hook executor.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func main() {
	var ev Event
	if err := json.NewDecoder(os.Stdin).Decode(&ev); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode event: %v", err))
		return
	}
	if ev.Type != "captured" || ev.Capture == nil {
		writeSuccessResponse(nil)
		return
	}
	if ev.Capture.CardPath == "" {
		writeErrorResponse("event has no card image; set an output directory")
		return
	}

	cfg := Config{Folder: "exports"}
	if len(ev.Config) > 0 {
		if err := json.Unmarshal(ev.Config, &cfg); err != nil {
			writeErrorResponse(fmt.Sprintf("invalid config: %v", err))
			return
		}
	}
	if err := os.MkdirAll(cfg.Folder, 0o755); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to create folder: %v", err))
		return
	}

	stamp := ev.Time.Format("20060102-150405")
	written := []string{}

	card := filepath.Join(cfg.Folder, stamp+"-card.jpg")
	if err := copyFile(ev.Capture.CardPath, card); err != nil {
		writeErrorResponse(err.Error())
		return
	}
	written = append(written, card)

	if ev.Capture.FacePath != "" {
		face := filepath.Join(cfg.Folder, stamp+"-face.jpg")
		if err := copyFile(ev.Capture.FacePath, face); err != nil {
			writeErrorResponse(err.Error())
			return
		}
		written = append(written, face)
	}

	data, _ := json.Marshal(map[string]any{"files": written})
	writeSuccessResponse(data)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy to %s: %w", dst, err)
	}
	return out.Close()
}

// writeErrorResponse writes an error response to stdout.
func writeErrorResponse(errMsg string) {
	json.NewEncoder(os.Stdout).Encode(Response{Success: false, Error: errMsg})
}

// writeSuccessResponse writes a success response to stdout.
func writeSuccessResponse(data json.RawMessage) {
	json.NewEncoder(os.Stdout).Encode(Response{Success: true, Data: data})
}
