// Package main provides a hook that shows a desktop notification when a
// card is captured or a session ends without one.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// Event is the subset of the hook event this hook reads.
type Event struct {
	Type    string `json:"type"`
	Reason  string `json:"reason"`
	Capture *struct {
		ID        string  `json:"id"`
		Sharpness float64 `json:"sharpness"`
		FacePath  string  `json:"face_path"`
	} `json:"capture"`
}

// Response represents the output to the hook executor.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func main() {
	var ev Event
	if err := json.NewDecoder(os.Stdin).Decode(&ev); err != nil {
		writeResponse(fmt.Errorf("failed to decode event: %w", err))
		return
	}

	title, body := message(ev)
	if title == "" {
		writeResponse(nil)
		return
	}
	writeResponse(notify(title, body))
}

func message(ev Event) (string, string) {
	switch ev.Type {
	case "captured":
		if ev.Capture == nil {
			return "", ""
		}
		body := fmt.Sprintf("Sharpness %.1f", ev.Capture.Sharpness)
		if ev.Capture.FacePath == "" {
			body += ", no face found"
		}
		return "Card captured", body
	case "session_end":
		if ev.Reason == "captured" {
			return "", ""
		}
		return "Scan ended", "Session " + ev.Reason + " without a capture"
	}
	return "", ""
}

func notify(title, body string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf("display notification %q with title %q", body, title)
		cmd = exec.Command("osascript", "-e", script)
	default:
		cmd = exec.Command("notify-send", title, body)
	}

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}

func writeResponse(err error) {
	resp := Response{Success: err == nil}
	if err != nil {
		resp.Error = err.Error()
	}
	json.NewEncoder(os.Stdout).Encode(resp)
}
