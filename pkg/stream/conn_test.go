package stream

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"nhooyr.io/websocket"
)

// fakeFeed is an in-process frame-stream backend. Each accepted
// connection is handed to handle; accepts counts dial attempts.
type fakeFeed struct {
	srv     *httptest.Server
	accepts atomic.Int64
	handle  func(ctx context.Context, ws *websocket.Conn)
}

func newFakeFeed(t *testing.T, handle func(ctx context.Context, ws *websocket.Conn)) *fakeFeed {
	t.Helper()
	f := &fakeFeed{handle: handle}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.accepts.Add(1)
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		f.handle(r.Context(), ws)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeFeed) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestFrameDelivery(t *testing.T) {
	payload := []byte{0xff, 0xd8, 0xff, 0xe0, 'j', 'p', 'e', 'g'}
	feed := newFakeFeed(t, func(ctx context.Context, ws *websocket.Conn) {
		encoded := base64.StdEncoding.EncodeToString(payload)
		if err := ws.Write(ctx, websocket.MessageText, []byte(encoded)); err != nil {
			return
		}
		<-ctx.Done()
	})

	conn := New(Config{URL: feed.wsURL(), ReconnectDelay: 10 * time.Millisecond})
	done := make(chan error, 1)
	go func() { done <- conn.Run(context.Background()) }()

	select {
	case <-conn.Frames():
	case <-time.After(2 * time.Second):
		t.Fatal("no frame arrived")
	}

	frame := conn.Latest()
	if frame == nil {
		t.Fatal("expected a latest frame")
	}
	if string(frame.Data) != string(payload) {
		t.Errorf("frame payload mismatch: %v", frame.Data)
	}
	if frame.MIME != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %s", frame.MIME)
	}
	if frame.ReceivedAt.IsZero() {
		t.Error("expected a receive timestamp")
	}
	if conn.State() != StateOpen {
		t.Errorf("expected open state, got %s", conn.State())
	}

	conn.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestLastFrameWins(t *testing.T) {
	frames := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	feed := newFakeFeed(t, func(ctx context.Context, ws *websocket.Conn) {
		for _, f := range frames {
			encoded := base64.StdEncoding.EncodeToString(f)
			if err := ws.Write(ctx, websocket.MessageText, []byte(encoded)); err != nil {
				return
			}
		}
		<-ctx.Done()
	})

	conn := New(Config{URL: feed.wsURL(), ReconnectDelay: 10 * time.Millisecond})
	go conn.Run(context.Background())
	defer conn.Close()

	// The consumer never drains the wakeup channel; the newest frame
	// must still supersede the earlier ones.
	waitFor(t, 2*time.Second, func() bool {
		f := conn.Latest()
		return f != nil && string(f.Data) == "three"
	})
}

func TestBinaryFrameMIMEDetection(t *testing.T) {
	pngHeader := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0}
	feed := newFakeFeed(t, func(ctx context.Context, ws *websocket.Conn) {
		if err := ws.Write(ctx, websocket.MessageBinary, pngHeader); err != nil {
			return
		}
		<-ctx.Done()
	})

	conn := New(Config{URL: feed.wsURL(), ReconnectDelay: 10 * time.Millisecond})
	go conn.Run(context.Background())
	defer conn.Close()

	waitFor(t, 2*time.Second, func() bool {
		f := conn.Latest()
		return f != nil && f.MIME == "image/png"
	})
}

func TestUndecodableTextFrameIsDropped(t *testing.T) {
	feed := newFakeFeed(t, func(ctx context.Context, ws *websocket.Conn) {
		if err := ws.Write(ctx, websocket.MessageText, []byte("%%% not base64 %%%")); err != nil {
			return
		}
		good := base64.StdEncoding.EncodeToString([]byte("ok"))
		if err := ws.Write(ctx, websocket.MessageText, []byte(good)); err != nil {
			return
		}
		<-ctx.Done()
	})

	conn := New(Config{URL: feed.wsURL(), ReconnectDelay: 10 * time.Millisecond})
	go conn.Run(context.Background())
	defer conn.Close()

	waitFor(t, 2*time.Second, func() bool {
		f := conn.Latest()
		return f != nil && string(f.Data) == "ok"
	})
}

func TestReconnectAfterServerClose(t *testing.T) {
	feed := newFakeFeed(t, func(ctx context.Context, ws *websocket.Conn) {
		ws.Close(websocket.StatusNormalClosure, "bye")
	})

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	conn := New(Config{URL: feed.wsURL(), ReconnectDelay: 10 * time.Millisecond}, WithMetrics(metrics))

	done := make(chan error, 1)
	go func() { done <- conn.Run(context.Background()) }()

	// Every server-side close must produce another dial after the fixed delay.
	waitFor(t, 5*time.Second, func() bool { return feed.accepts.Load() >= 4 })

	conn.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	// Teardown suppresses the pending reconnect: the dial count must freeze.
	settled := feed.accepts.Load()
	time.Sleep(100 * time.Millisecond)
	if got := feed.accepts.Load(); got != settled {
		t.Errorf("dials continued after teardown: %d -> %d", settled, got)
	}

	if got := testutil.ToFloat64(metrics.reconnects); got < 3 {
		t.Errorf("expected at least 3 recorded reconnects, got %v", got)
	}
}

func TestDialFailureRetriesUntilClose(t *testing.T) {
	// Nothing listens here; every dial fails.
	conn := New(Config{
		URL:            "ws://127.0.0.1:1/ws/browser",
		ReconnectDelay: 10 * time.Millisecond,
		DialTimeout:    100 * time.Millisecond,
	})

	// Transitions are appended on the stream goroutine and read only
	// after Run returns.
	var transitions []State
	conn.OnStateChange(func(s State) {
		transitions = append(transitions, s)
	})

	done := make(chan error, 1)
	go func() { done <- conn.Run(context.Background()) }()

	time.Sleep(150 * time.Millisecond)
	conn.Close()
	select {
	case err := <-done:
		if err == nil {
			t.Error("expected Run to report cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	if len(transitions) < 3 {
		t.Fatalf("expected repeated connect/close cycles, got %v", transitions)
	}
	if transitions[0] != StateConnecting || transitions[1] != StateClosed {
		t.Errorf("unexpected transition prefix: %v", transitions)
	}
	if conn.State() != StateClosed {
		t.Errorf("expected closed after teardown, got %s", conn.State())
	}
}

func TestCloseBeforeRun(t *testing.T) {
	conn := New(Config{URL: "ws://127.0.0.1:1/ws/browser", ReconnectDelay: 10 * time.Millisecond})
	conn.Close()
	if err := conn.Run(context.Background()); err == nil {
		t.Error("expected Run to refuse after Close")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	conn := New(Config{URL: "ws://127.0.0.1:1/ws/browser"})
	conn.Close()
	conn.Close()
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateConnecting: "connecting",
		StateOpen:       "open",
		StateClosed:     "closed",
		State(42):       "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestDataURI(t *testing.T) {
	frame := &Frame{Data: []byte("abc"), MIME: "image/jpeg"}
	want := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("abc"))
	if got := frame.DataURI(); got != want {
		t.Errorf("DataURI() = %q, want %q", got, want)
	}

	var nilFrame *Frame
	if nilFrame.DataURI() != "" {
		t.Error("nil frame should render empty")
	}
}
