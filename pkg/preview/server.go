// Package preview serves a small local HTTP surface so the live browser
// view and command session can be watched from a normal web browser
// alongside the terminal UI.
package preview

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/periscope-dev/periscope/pkg/logging"
	"github.com/periscope-dev/periscope/pkg/session"
	"github.com/periscope-dev/periscope/pkg/stream"
	"github.com/periscope-dev/periscope/pkg/viewer"
)

// FrameSource exposes the live frame stream to the preview page.
type FrameSource interface {
	Latest() *stream.Frame
	State() stream.State
}

// ModeController exposes the view-mode switch.
type ModeController interface {
	Mode() viewer.Mode
	SetMode(viewer.Mode)
}

// CommandRunner is the slice of the session the preview page drives.
type CommandRunner interface {
	Execute(ctx context.Context, text string) (*session.Record, error)
	Snapshot() session.Snapshot
}

// ServerConfig configures the preview server.
type ServerConfig struct {
	// Bind address, e.g. 127.0.0.1:8090.
	Bind string

	Session  CommandRunner
	Frames   FrameSource
	Modes    ModeController
	Display  *viewer.Display
	Gatherer prometheus.Gatherer
	Logger   *logging.Logger
}

// Server is the local preview HTTP server.
type Server struct {
	cfg    ServerConfig
	router chi.Router
	logger *logging.Logger

	mu   sync.Mutex
	addr net.Addr
}

// NewServer creates a preview server. Call Serve to start it.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Bind == "" {
		cfg.Bind = "127.0.0.1:8090"
	}

	s := &Server{cfg: cfg, logger: cfg.Logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/frame", s.handleFrame)
	r.Get("/state", s.handleState)
	r.Post("/mode", s.handleMode)
	r.Post("/execute", s.handleExecute)
	if cfg.Gatherer != nil {
		r.Get("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}).ServeHTTP)
	}

	s.router = r
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the bound listen address once Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Serve runs the server until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Bind)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(logging.CategoryPreview, "preview_listening", "preview server listening",
		map[string]any{"addr": ln.Addr().String()})

	err = srv.Serve(ln)
	<-done
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// stateResponse is the /state payload.
type stateResponse struct {
	session.Snapshot
	Mode       string `json:"mode"`
	Connection string `json:"connection"`
	PollURL    string `json:"poll_url,omitempty"`
	FrameAgeMS int64  `json:"frame_age_ms,omitempty"`
	FrameBytes int    `json:"frame_bytes,omitempty"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	resp := stateResponse{
		Snapshot:   s.cfg.Session.Snapshot(),
		Mode:       s.cfg.Modes.Mode().String(),
		Connection: s.cfg.Frames.State().String(),
	}
	if s.cfg.Display != nil {
		if url, _ := s.cfg.Display.Current(); url != "" {
			resp.PollURL = url
		}
	}
	if frame := s.cfg.Frames.Latest(); frame != nil {
		resp.FrameAgeMS = time.Since(frame.ReceivedAt).Milliseconds()
		resp.FrameBytes = len(frame.Data)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	frame := s.cfg.Frames.Latest()
	if frame == nil {
		writeError(w, http.StatusNotFound, "no frame received yet")
		return
	}
	w.Header().Set("Content-Type", frame.MIME)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(frame.Data)
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	mode, err := viewer.ParseMode(body.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.cfg.Modes.SetMode(mode)
	writeJSON(w, http.StatusOK, map[string]string{"mode": mode.String()})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rec, err := s.cfg.Session.Execute(r.Context(), body.Command)
	switch {
	case errors.Is(err, session.ErrEmptyCommand):
		writeError(w, http.StatusBadRequest, "command is empty")
	case errors.Is(err, session.ErrBusy):
		writeError(w, http.StatusConflict, "a command is already in flight")
	case err != nil:
		writeError(w, http.StatusBadGateway, s.cfg.Session.Snapshot().Error)
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(indexHTML))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
