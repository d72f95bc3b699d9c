// Package tray provides a system tray menu for controlling card scanning.
package tray

import (
	"fmt"
	"sync"
	"time"

	"github.com/getlantern/systray"
)

// Tray is the system tray application. It implements display.StatusSink
// so the pipeline's status line shows up in the menu.
type Tray struct {
	onToggle  func(scanning bool)
	onPreview func()
	onQuit    func()
	scanning  bool
	mu        sync.RWMutex

	// Menu items stored for later updates
	menuToggle      *systray.MenuItem
	menuStatus      *systray.MenuItem
	menuLastCapture *systray.MenuItem
}

// New creates a new Tray instance. Scanning is off until toggled.
func New() *Tray {
	return &Tray{}
}

// OnToggle sets the callback called when scanning is started or stopped from the menu.
func (t *Tray) OnToggle(fn func(scanning bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnPreview sets the callback called when the preview menu item is clicked.
func (t *Tray) OnPreview(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onPreview = fn
}

// OnQuit sets the callback called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray from outside the menu.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("cardsnap")
	systray.SetTooltip("cardsnap ID card scanner")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.scanning), "Start or stop scanning")
	systray.AddSeparator()

	t.menuStatus = systray.AddMenuItem("Idle", "Scanner status")
	t.menuStatus.Disable()
	t.menuLastCapture = systray.AddMenuItem(lastCaptureTitle("", time.Time{}), "Last captured card")
	t.menuLastCapture.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuPreview := systray.AddMenuItem("Open Preview...", "Open the live preview in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit cardsnap")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuPreview.ClickedCh:
				t.handlePreview()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

// handleToggle flips the scanning state and reports it.
func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.scanning = !t.scanning
	scanning := t.scanning
	setTitle(t.menuToggle, toggleTitle(scanning))
	callback := t.onToggle
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(scanning)
	}
}

func (t *Tray) handlePreview() {
	t.mu.RLock()
	callback := t.onPreview
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetScanning syncs the toggle with the pipeline, for example after a
// session ends on its own.
func (t *Tray) SetScanning(scanning bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scanning = scanning
	setTitle(t.menuToggle, toggleTitle(scanning))
}

// SetStatus shows the pipeline status line.
func (t *Tray) SetStatus(status string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	setTitle(t.menuStatus, status)
}

// SetLastCapture updates the last capture entry.
func (t *Tray) SetLastCapture(id string, at time.Time) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	setTitle(t.menuLastCapture, lastCaptureTitle(id, at))
}

// IsScanning returns the current toggle state.
func (t *Tray) IsScanning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.scanning
}

func setTitle(item *systray.MenuItem, title string) {
	if item != nil {
		item.SetTitle(title)
	}
}

func toggleTitle(scanning bool) string {
	if scanning {
		return "● Scanning (click to stop)"
	}
	return "○ Start Scanning"
}

func lastCaptureTitle(id string, at time.Time) string {
	if id == "" {
		return "Last: none"
	}
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("Last: %s at %s", short, at.Format("15:04:05"))
}
