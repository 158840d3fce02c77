package viewer

import (
	"fmt"
	"sync"
	"time"

	"github.com/periscope-dev/periscope/pkg/logging"
)

// Mode selects which strategy owns the rendered visual state.
type Mode int

const (
	// ModeStream renders frames pushed over the websocket stream.
	ModeStream Mode = iota
	// ModePoll renders the timer-refreshed static screenshot reference.
	ModePoll
)

func (m Mode) String() string {
	switch m {
	case ModeStream:
		return "stream"
	case ModePoll:
		return "poll"
	default:
		return "unknown"
	}
}

// ParseMode parses "stream" or "poll".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "stream":
		return ModeStream, nil
	case "poll":
		return ModePoll, nil
	default:
		return ModeStream, fmt.Errorf("unknown view mode %q", s)
	}
}

// Controller owns the exclusive switch between the push stream and the
// polling viewer. Exactly one of the two is the authoritative visual
// source at any time. The stream connection itself is process-lifetime
// and never torn down here; it keeps running in the background (it also
// drives the connectivity indicator). The poll timer, by contrast, is
// strictly tied to ModePoll being active.
type Controller struct {
	mu     sync.Mutex
	mode   Mode
	poller *Poller
	logger *logging.Logger
}

// NewController creates a controller in the given starting mode.
func NewController(poller *Poller, start Mode, logger *logging.Logger) *Controller {
	c := &Controller{
		mode:   start,
		poller: poller,
		logger: logger,
	}
	if start == ModePoll {
		poller.Start()
	}
	return c
}

// Mode returns the current view mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode switches the active viewing strategy. Self-transitions are
// no-ops; leaving ModePoll stops the poll timer before the switch takes
// effect.
func (c *Controller) SetMode(m Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m == c.mode {
		return
	}

	prev := c.mode
	c.mode = m
	switch m {
	case ModePoll:
		c.poller.Start()
	case ModeStream:
		c.poller.Stop()
	}
	c.logger.Info(logging.CategoryViewer, "mode_switched", "view mode switched",
		map[string]any{"from": prev.String(), "to": m.String()})
}

// Toggle flips between the two modes and returns the new one.
func (c *Controller) Toggle() Mode {
	if c.Mode() == ModeStream {
		c.SetMode(ModePoll)
		return ModePoll
	}
	c.SetMode(ModeStream)
	return ModeStream
}

// Shutdown stops whichever strategy holds resources. Called once at
// session teardown.
func (c *Controller) Shutdown() {
	c.poller.Stop()
}

// Display is the shared slot holding the screenshot reference the
// renderer should show while polling. Only the polling viewer writes to
// it; readers get the reference plus its publish time.
type Display struct {
	mu        sync.Mutex
	url       string
	updatedAt time.Time
}

// Publish replaces the displayed reference.
func (d *Display) Publish(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
	d.updatedAt = time.Now()
}

// Current returns the displayed reference and when it was published.
func (d *Display) Current() (string, time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url, d.updatedAt
}
