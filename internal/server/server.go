// Package server provides the HTTP preview server for cardsnap.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ayusman/cardsnap/internal/logger"
	"github.com/ayusman/cardsnap/internal/server/api"
	"github.com/ayusman/cardsnap/internal/store"
)

// Config holds the server configuration. Every field is optional; routes
// whose dependency is missing are not mounted.
type Config struct {
	StaticDir string
	Store     *store.Store
	Scanner   api.Scanner
	Preview   *Preview
	Hub       *Hub
	// Context bounds sessions started over HTTP.
	Context context.Context
}

// Server is the HTTP preview server.
type Server struct {
	config Config
	router *mux.Router
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		router: mux.NewRouter(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)

	if s.config.Store != nil {
		api.NewCaptureHandler(s.config.Store).Register(s.router)
	}

	if s.config.Scanner != nil {
		api.NewSessionHandler(s.config.Context, s.config.Scanner).Register(s.router)
	}

	if s.config.Preview != nil {
		s.router.Handle("/api/stream", NewStreamHandler(s.config.Preview)).Methods(http.MethodGet)
		s.router.HandleFunc("/api/preview/card.jpg", imageHandler(s.config.Preview.Card)).Methods(http.MethodGet)
		s.router.HandleFunc("/api/preview/face.jpg", imageHandler(s.config.Preview.Face)).Methods(http.MethodGet)
	}

	if s.config.Hub != nil {
		s.router.Handle("/api/events", s.config.Hub)
	}

	if s.config.StaticDir != "" {
		s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(s.config.StaticDir)))
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if s.config.Hub != nil {
		response["clients"] = s.config.Hub.Clients()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("preview server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
