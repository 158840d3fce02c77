// Package session runs the command/history pipeline for one client
// session. It correlates every issued command with the backend's
// textual result and a point-in-time screenshot reference.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/periscope-dev/periscope/pkg/backend"
	perrors "github.com/periscope-dev/periscope/pkg/errors"
	"github.com/periscope-dev/periscope/pkg/logging"
)

var (
	// ErrBusy is returned when a command is submitted while another is
	// still in flight. At most one command runs at a time; the session
	// enforces that itself rather than trusting the UI to disable input.
	ErrBusy = errors.New("a command is already in flight")

	// ErrEmptyCommand is returned for empty or whitespace-only input.
	// The call has no side effects.
	ErrEmptyCommand = errors.New("command is empty")
)

// Executor is the slice of the backend client the session needs.
type Executor interface {
	Execute(ctx context.Context, command string) (*backend.ExecuteResponse, error)
	ScreenshotURL() string
}

// DebugFetcher retrieves the backend's debug URL.
type DebugFetcher interface {
	DebugURL(ctx context.Context) (string, error)
}

// Record is one completed command interaction. Records are append-only:
// once in the history they are never mutated or evicted.
type Record struct {
	Command       string `json:"command"`
	Response      string `json:"response"`
	Timestamp     string `json:"timestamp"`
	ScreenshotURL string `json:"screenshot_url"`
}

// Snapshot is a copy of the observable session state for renderers.
type Snapshot struct {
	History  []Record `json:"history"`
	Input    string   `json:"input"`
	Loading  bool     `json:"loading"`
	Error    string   `json:"error"`
	DebugURL string   `json:"debug_url,omitempty"`
}

// Session owns the mutable command-session state. All methods are safe
// for concurrent use; the TUI and the preview server both read it.
type Session struct {
	backend Executor
	logger  *logging.Logger
	now     func() time.Time

	mu       sync.Mutex
	history  []Record
	input    string
	lastErr  string
	loading  bool
	debugURL string
}

// Option configures a Session.
type Option func(*Session)

// WithLogger attaches a structured logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New creates a session backed by the given executor.
func New(b Executor, opts ...Option) *Session {
	s := &Session{
		backend: b,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute submits a command and, on success, appends the completed
// record to the history. The input buffer is cleared only on success so
// a failed command can be edited and retried. A second call while one
// is outstanding returns ErrBusy without touching the backend.
func (s *Session) Execute(ctx context.Context, text string) (*Record, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyCommand
	}

	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.loading = true
	s.lastErr = ""
	s.mu.Unlock()

	resp, err := s.backend.Execute(ctx, text)
	if err != nil {
		msg := "Error executing command: " + perrors.UserMessage(err)
		s.mu.Lock()
		s.loading = false
		s.lastErr = msg
		s.mu.Unlock()
		s.logger.Error(logging.CategorySession, "command_failed", msg,
			map[string]any{"command": text})
		return nil, err
	}

	rec := Record{
		Command:       text,
		Response:      resp.Response,
		Timestamp:     s.now().Format("15:04:05"),
		ScreenshotURL: s.backend.ScreenshotURL(),
	}

	s.mu.Lock()
	s.history = append(s.history, rec)
	s.input = ""
	s.loading = false
	s.mu.Unlock()

	s.logger.Info(logging.CategorySession, "command_completed", "command completed",
		map[string]any{"command": text, "history_len": len(s.History())})
	return &rec, nil
}

// LoadDebugInfo fetches the backend's debug URL exactly once. Failure
// degrades silently: it is logged and the value stays empty for the
// rest of the session.
func (s *Session) LoadDebugInfo(ctx context.Context, f DebugFetcher) {
	url, err := f.DebugURL(ctx)
	if err != nil {
		s.logger.Warn(logging.CategorySession, "debug_url_failed", "debug URL unavailable",
			map[string]any{"error": err.Error()})
		return
	}
	s.mu.Lock()
	s.debugURL = url
	s.mu.Unlock()
	s.logger.Info(logging.CategorySession, "debug_url_loaded", "debug URL loaded",
		map[string]any{"debug_url": url})
}

// SetInput replaces the pending command input buffer.
func (s *Session) SetInput(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input = text
}

// Input returns the pending command input buffer.
func (s *Session) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

// Loading reports whether a command is in flight.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// LastError returns the most recent user-facing command error, cleared
// on the next submission.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// DebugURL returns the startup-fetched debug URL, if any.
func (s *Session) DebugURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debugURL
}

// History returns a copy of the completed command records in order.
func (s *Session) History() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.history))
	copy(out, s.history)
	return out
}

// Snapshot returns a consistent copy of all observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := make([]Record, len(s.history))
	copy(history, s.history)
	return Snapshot{
		History:  history,
		Input:    s.input,
		Loading:  s.loading,
		Error:    s.lastErr,
		DebugURL: s.debugURL,
	}
}
