package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ayusman/cardsnap/internal/app"
	"github.com/ayusman/cardsnap/internal/display"
	"github.com/ayusman/cardsnap/internal/hook"
	"github.com/ayusman/cardsnap/internal/logger"
	"github.com/ayusman/cardsnap/internal/server"
	"github.com/ayusman/cardsnap/internal/store"
	"github.com/ayusman/cardsnap/internal/tray"
)

var (
	flagTray bool
	flagWeb  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the preview server and scan on demand",
	Long: `Serves the live preview, the capture archive and the session API.
Sessions are started from the web page, the API or the tray menu. Every
capture is archived and handed to the installed hooks.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&flagTray, "tray", false, "Show a system tray menu")
	serveCmd.Flags().StringVar(&flagWeb, "web", "", "Directory of static files for the preview page")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := logger.L()

	st, err := store.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	var t *tray.Tray
	if flagTray || cfg.Tray {
		t = tray.New()
	}

	preview := server.NewPreview()
	hub := server.NewHub()
	status := display.StatusFanout{hub}
	if t != nil {
		status = append(status, t)
	}

	sc, err := newScanner(cfg, display.Fanout{preview, hub}, status)
	if err != nil {
		return err
	}
	defer sc.Close()
	p := sc.pipeline

	store.NewArchiver(st).Attach(p)
	hub.Attach(p)

	hooks := hook.NewManager(cfg.HookDir)
	if err := hooks.Discover(); err != nil {
		log.Warn("hook discovery failed", zap.String("dir", cfg.HookDir), zap.Error(err))
	}
	dispatcher := hook.NewDispatcher(ctx, hooks, hook.NewExecutor(cfg.HookTimeout), filepath.Join(cfg.DataDir, "captures"))
	dispatcher.Attach(p)
	defer dispatcher.Wait()

	webDir := flagWeb
	if webDir == "" {
		webDir = findWebDir(cfg.WebDir, cfg.DataDir)
	}
	if webDir != "" {
		log.Info("serving static files", zap.String("dir", webDir))
	}

	srv := server.New(server.Config{
		StaticDir: webDir,
		Store:     st,
		Scanner:   p,
		Preview:   preview,
		Hub:       hub,
		Context:   ctx,
	})

	log.Info("starting server",
		zap.String("addr", cfg.Addr),
		zap.Int("hooks", len(hooks.List())))

	if t == nil {
		return srv.ListenAndServe(ctx, cfg.Addr)
	}
	return serveWithTray(ctx, srv, t, p)
}

// serveWithTray runs the server in the background while the tray owns
// the main goroutine. Quitting the tray or cancelling ctx stops both.
func serveWithTray(ctx context.Context, srv *server.Server, t *tray.Tray, p *app.Pipeline) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.OnToggle(func(scanning bool) {
		if !scanning {
			p.Stop()
			return
		}
		if err := p.Start(ctx); err != nil {
			logger.L().Error("failed to start scanning", zap.Error(err))
			t.SetScanning(false)
		}
	})
	t.OnPreview(func() {
		if err := openBrowser(previewURL(cfg.Addr)); err != nil {
			logger.L().Warn("failed to open browser", zap.Error(err))
		}
	})
	t.OnQuit(cancel)

	p.OnCapture(func(c *app.Capture) {
		t.SetLastCapture(c.ID, c.CapturedAt)
	})
	p.OnEnd(func(app.SessionEnd) {
		t.SetScanning(false)
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx, cfg.Addr)
		t.Quit()
	}()

	go func() {
		<-ctx.Done()
		t.Quit()
	}()

	t.Run()
	cancel()
	return <-errCh
}

// previewURL turns a listen address into a browsable URL.
func previewURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

// findWebDir searches for the web directory in common locations.
// It checks the configured directory, "web", "../web", "../../web" and
// <dataDir>/web. Returns the first existing directory or empty string if
// none found.
func findWebDir(configured, dataDir string) string {
	candidates := []string{"web", "../web", "../../web"}
	if dataDir != "" {
		candidates = append(candidates, filepath.Join(dataDir, "web"))
	}
	if configured != "" {
		candidates = append([]string{configured}, candidates...)
	}

	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}
	return ""
}
