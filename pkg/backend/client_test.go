package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"testing"

	perrors "github.com/periscope-dev/periscope/pkg/errors"
)

func TestExecuteSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/execute/" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if body["command"] != "open example.com" {
			t.Errorf("command not forwarded verbatim: %q", body["command"])
		}
		json.NewEncoder(w).Encode(map[string]string{
			"command":  body["command"],
			"response": "Opened example.com",
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	resp, err := client.Execute(context.Background(), "open example.com")
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if resp.Response != "Opened example.com" {
		t.Errorf("unexpected response: %q", resp.Response)
	}
}

func TestExecuteStatusErrorCarriesDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"detail": "browser crashed"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.Execute(context.Background(), "click the button")
	if err == nil {
		t.Fatal("expected error")
	}
	if !perrors.IsCode(err, perrors.ErrCodeBackendStatus) {
		t.Errorf("expected BACKEND_STATUS, got %v", err)
	}
	if got := perrors.UserMessage(err); got != "browser crashed" {
		t.Errorf("expected backend detail, got %q", got)
	}
	if !perrors.IsRetryable(err) {
		t.Error("5xx should be retryable")
	}
}

func TestExecuteStatusErrorWithoutDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL)
	_, err := client.Execute(context.Background(), "x")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := perrors.UserMessage(err); got != "request failed with status 400" {
		t.Errorf("expected status fallback message, got %q", got)
	}
	if perrors.IsRetryable(err) {
		t.Error("4xx should not be retryable")
	}
}

func TestExecuteTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // unreachable from here on

	client, _ := NewClient(srv.URL)
	_, err := client.Execute(context.Background(), "x")
	if err == nil {
		t.Fatal("expected transport error")
	}
	if !perrors.IsCode(err, perrors.ErrCodeBackendRequest) {
		t.Errorf("expected BACKEND_REQUEST, got %v", err)
	}
	if perrors.UserMessage(err) == "" {
		t.Error("expected a non-empty user message")
	}
}

func TestDebugURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/debug-url/" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"debug_url": "http://localhost:9222"})
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL)
	got, err := client.DebugURL(context.Background())
	if err != nil {
		t.Fatalf("debug url failed: %v", err)
	}
	if got != "http://localhost:9222" {
		t.Errorf("unexpected debug url: %q", got)
	}
}

func TestDebugURLFailureReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL)
	if _, err := client.DebugURL(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestScreenshotURLShape(t *testing.T) {
	client, _ := NewClient("http://localhost:8000")
	raw := client.ScreenshotURL()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("unparseable screenshot URL %q: %v", raw, err)
	}
	if u.Path != "/screenshots/browser_screenshot_latest.png" {
		t.Errorf("unexpected path: %s", u.Path)
	}
	if u.Query().Get("t") == "" {
		t.Error("expected a uniqueness token")
	}
}

func TestScreenshotTokensAreFreshAndOrdered(t *testing.T) {
	client, _ := NewClient("http://localhost:8000")

	tokens := make([]string, 0, 200)
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		u, err := url.Parse(client.ScreenshotURL())
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		tok := u.Query().Get("t")
		if seen[tok] {
			t.Fatalf("token repeated: %q", tok)
		}
		seen[tok] = true
		tokens = append(tokens, tok)
	}

	// Tokens minted in sequence sort in mint order, even within one ms.
	if !sort.StringsAreSorted(tokens) {
		t.Error("tokens are not monotonically increasing")
	}
}

func TestStreamURLDerivation(t *testing.T) {
	cases := []struct{ base, want string }{
		{"http://localhost:8000", "ws://localhost:8000/ws/browser"},
		{"https://agent.example.com", "wss://agent.example.com/ws/browser"},
	}
	for _, tc := range cases {
		client, err := NewClient(tc.base)
		if err != nil {
			t.Fatalf("new client: %v", err)
		}
		if got := client.StreamURL(); got != tc.want {
			t.Errorf("StreamURL(%s) = %s, want %s", tc.base, got, tc.want)
		}
	}
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	if _, err := NewClient("localhost:8000"); err == nil {
		t.Fatal("expected error for relative URL")
	}
}
