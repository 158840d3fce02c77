package stream

import (
	"context"
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/periscope-dev/periscope/pkg/logging"
)

const (
	defaultReconnectDelay = 2 * time.Second
	defaultDialTimeout    = 15 * time.Second
	defaultReadLimit      = 32 << 20
)

// Config configures a stream connection.
type Config struct {
	// URL is the ws(s) endpoint pushing visual frames.
	URL string

	// ReconnectDelay is the fixed delay between reconnection attempts.
	// The stream retries at this cadence indefinitely; there is no
	// backoff and no retry cap.
	ReconnectDelay time.Duration

	DialTimeout time.Duration
	ReadLimit   int64
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ReconnectDelay <= 0 {
		out.ReconnectDelay = defaultReconnectDelay
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = defaultDialTimeout
	}
	if out.ReadLimit <= 0 {
		out.ReadLimit = defaultReadLimit
	}
	return out
}

// Conn owns the persistent frame-stream connection and its reconnect
// behavior. Run drives the whole lifecycle from a single goroutine;
// everything else is safe to call concurrently.
type Conn struct {
	cfg     Config
	logger  *logging.Logger
	metrics *Metrics

	mu      sync.Mutex
	state   State
	latest  *Frame
	onState func(State)
	cancel  context.CancelFunc
	stopped bool

	// notify has capacity 1: a pending wakeup covers any number of
	// superseded frames.
	notify chan struct{}

	closeOnce sync.Once
}

// Option configures a Conn.
type Option func(*Conn)

// WithLogger attaches a structured logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Conn) { c.logger = logger }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(c *Conn) { c.metrics = m }
}

// New creates a stream connection. Call Run to start it.
func New(cfg Config, opts ...Option) *Conn {
	c := &Conn{
		cfg:    cfg.withDefaults(),
		state:  StateClosed,
		notify: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Latest returns the most recent frame, or nil before the first one.
func (c *Conn) Latest() *Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

// Frames returns a wakeup channel that receives after new frames land.
// Receivers that fall behind get one pending wakeup, not a backlog.
func (c *Conn) Frames() <-chan struct{} {
	return c.notify
}

// OnStateChange registers a callback invoked on every state transition.
// Register before Run; the callback runs on the stream goroutine and
// must not block.
func (c *Conn) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// Run connects and keeps the stream alive until ctx is canceled or
// Close is called. Any close or error tears the socket down and, after
// the fixed reconnect delay, dials again — forever. Teardown suppresses
// the pending reconnect: once Run returns, no further dial is made.
func (c *Conn) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return context.Canceled
	}
	c.cancel = cancel
	c.mu.Unlock()

	for {
		if err := runCtx.Err(); err != nil {
			return err
		}

		c.setState(StateConnecting)
		dialCtx, dialCancel := context.WithTimeout(runCtx, c.cfg.DialTimeout)
		ws, _, err := websocket.Dial(dialCtx, c.cfg.URL, nil)
		dialCancel()
		if err != nil {
			c.setState(StateClosed)
			if runCtx.Err() != nil {
				return runCtx.Err()
			}
			c.logger.Warn(logging.CategoryStream, "ws_dial_failed", "stream dial failed",
				map[string]any{"url": c.cfg.URL, "error": err.Error(), "retry_in": c.cfg.ReconnectDelay.String()})
			if !c.waitReconnect(runCtx) {
				return runCtx.Err()
			}
			continue
		}

		ws.SetReadLimit(c.cfg.ReadLimit)
		c.setState(StateOpen)
		c.metrics.SetConnected(true)
		c.logger.Info(logging.CategoryStream, "ws_connected", "stream connected",
			map[string]any{"url": c.cfg.URL})

		for {
			typ, data, err := ws.Read(runCtx)
			if err != nil {
				// Errors are a precursor to close: force the socket shut
				// and fall into the single close/reconnect path.
				_ = ws.Close(websocket.StatusNormalClosure, "stream closing")
				c.metrics.SetConnected(false)
				c.setState(StateClosed)
				if runCtx.Err() != nil {
					return runCtx.Err()
				}
				c.logger.Warn(logging.CategoryStream, "ws_disconnected", "stream disconnected",
					map[string]any{"error": err.Error(), "retry_in": c.cfg.ReconnectDelay.String()})
				if !c.waitReconnect(runCtx) {
					return runCtx.Err()
				}
				break
			}
			c.handleMessage(typ, data)
		}
	}
}

// waitReconnect sleeps for the fixed reconnect delay. It returns false
// when the stream is torn down during the wait, in which case the
// scheduled reconnect is abandoned.
func (c *Conn) waitReconnect(ctx context.Context) bool {
	c.metrics.RecordReconnect()
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.cfg.ReconnectDelay):
		return true
	}
}

// Close tears the stream down exactly once. Safe to call from any
// goroutine and before or after Run.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		cancel := c.cancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		c.logger.Info(logging.CategoryStream, "ws_teardown", "stream torn down", nil)
	})
}

func (c *Conn) setState(next State) {
	c.mu.Lock()
	if c.state == next {
		c.mu.Unlock()
		return
	}
	c.state = next
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(next)
	}
}

// handleMessage wraps one inbound message into the latest frame.
// Text messages carry base64-encoded JPEG (the backend's native
// format); binary messages carry raw image bytes.
func (c *Conn) handleMessage(typ websocket.MessageType, data []byte) {
	frame := Frame{ReceivedAt: time.Now()}

	switch typ {
	case websocket.MessageText:
		decoded, err := base64.StdEncoding.DecodeString(string(data))
		if err != nil {
			c.logger.Warn(logging.CategoryStream, "frame_decode_failed", "dropping undecodable frame",
				map[string]any{"error": err.Error(), "bytes": len(data)})
			return
		}
		frame.Data = decoded
		frame.MIME = "image/jpeg"
	case websocket.MessageBinary:
		frame.Data = data
		frame.MIME = http.DetectContentType(data)
	default:
		return
	}

	c.mu.Lock()
	c.latest = &frame
	c.mu.Unlock()

	c.metrics.RecordFrame(len(frame.Data))

	select {
	case c.notify <- struct{}{}:
	default:
	}
}
