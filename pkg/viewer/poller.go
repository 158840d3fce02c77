// Package viewer implements the pull-based view of the backend's visual
// state and the exclusive switch between it and the push stream.
package viewer

import (
	"sync"
	"time"

	"github.com/periscope-dev/periscope/pkg/logging"
)

// Poller republishes a fresh screenshot reference on a fixed cadence.
// It makes no network calls itself; whatever renders the reference does
// the fetching. At most one timer runs per Poller.
type Poller struct {
	interval time.Duration
	source   func() string
	publish  func(string)
	logger   *logging.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewPoller creates a poller that publishes source() every interval.
func NewPoller(interval time.Duration, source func() string, publish func(string), logger *logging.Logger) *Poller {
	return &Poller{
		interval: interval,
		source:   source,
		publish:  publish,
		logger:   logger,
	}
}

// Start begins the refresh timer. Starting an already-started poller is
// a no-op; it never leaks a second timer.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.logger.Info(logging.CategoryViewer, "poll_started", "polling viewer started",
		map[string]any{"interval": p.interval.String()})
	go p.loop(p.stop, p.done)
}

func (p *Poller) loop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.publish(p.source())
		}
	}
}

// Stop halts the refresh timer and waits for the loop to exit. It is
// idempotent and safe to call on a poller that was never started.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stop == nil {
		p.mu.Unlock()
		return
	}
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.mu.Unlock()

	close(stop)
	<-done
	p.logger.Info(logging.CategoryViewer, "poll_stopped", "polling viewer stopped", nil)
}

// Running reports whether the refresh timer is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}
