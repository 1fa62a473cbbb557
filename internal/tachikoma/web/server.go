// Package web exposes Tachikoma over HTTP: health and status endpoints plus
// the webchat websocket channel.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bdobrica/Tachikoma/common/version"
)

// statusProvider is the minimal interface the server needs from the store.
type statusProvider interface {
	Count(ctx context.Context, collection string) (int, error)
}

// healthResponse is returned by GET /health.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// statusResponse is returned by GET /status.
type statusResponse struct {
	Status       string    `json:"status"`
	Version      string    `json:"version"`
	Commit       string    `json:"commit"`
	BuildTime    string    `json:"build_time"`
	StartedAt    time.Time `json:"started_at"`
	UptimeSecs   float64   `json:"uptime_seconds"`
	Summaries    int       `json:"summaries"`
	Interactions int       `json:"interactions"`
}

// Server hosts the HTTP surface. It is optional; Tachikoma runs Matrix-only
// when the HTTP address is empty.
type Server struct {
	addr      string
	store     statusProvider
	webchat   *Webchat
	logger    *slog.Logger
	startedAt time.Time
	router    chi.Router
	server    *http.Server

	summariesCollection    string
	interactionsCollection string
}

// NewServer creates and configures the HTTP server (does not start it).
func NewServer(addr string, sp statusProvider, webchat *Webchat, summariesCollection, interactionsCollection string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:                   addr,
		store:                  sp,
		webchat:                webchat,
		logger:                 logger,
		startedAt:              time.Now(),
		summariesCollection:    summariesCollection,
		interactionsCollection: interactionsCollection,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	if webchat != nil {
		r.Get("/ws/{conversationID}", webchat.Handle)
	}
	s.router = r

	return s
}

// ServeHTTP implements http.Handler so the server can be tested without a
// live network listener (e.g. with httptest.NewRecorder).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start begins listening in the background. Blocks until the listener is
// established so the caller knows the port is open before returning.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("web server: listen %s: %w", s.addr, err)
	}

	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.logger.Info("web server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("web server stopped", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("web server shutdown error", "err", err)
		}
	}()

	return nil
}

// Stop shuts down the HTTP server.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("web server shutdown error", "err", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.Count(r.Context(), s.summariesCollection)
	if err != nil {
		s.logger.Error("status: count summaries", "err", err)
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	interactions, err := s.store.Count(r.Context(), s.interactionsCollection)
	if err != nil {
		s.logger.Error("status: count interactions", "err", err)
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Status:       "ok",
		Version:      version.Version,
		Commit:       version.GitCommit,
		BuildTime:    version.BuildTime,
		StartedAt:    s.startedAt,
		UptimeSecs:   time.Since(s.startedAt).Seconds(),
		Summaries:    summaries,
		Interactions: interactions,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
