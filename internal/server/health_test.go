package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// fakePinger is a test double for the Pinger interface.
type fakePinger struct {
	// name is returned by Name().
	name string
	// err is returned by Ping(); nil means healthy.
	err error
	// delay is slept before answering, honouring ctx.
	delay time.Duration
}

func (f *fakePinger) Name() string { return f.name }

func (f *fakePinger) Ping(ctx context.Context) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

// newReadyTestServer builds a *Server with the given pingers wired in.
func newReadyTestServer(pingers ...Pinger) *Server {
	s := newTestServer()
	s.pingers = pingers
	return s
}

// getReady calls GET /api/ready and decodes the body.
func getReady(t *testing.T, s *Server) (int, readyResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	w := httptest.NewRecorder()
	s.handleReady(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", ct)
	}
	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return w.Code, resp
}

func TestHandleHealth_OK(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	s.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d, body: %s", w.Code, w.Body.String())
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status: expected %q, got %q", "ok", body["status"])
	}
}

func TestHandleReady(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		pingers    []Pinger
		wantStatus int
		wantReady  bool
		wantFailed []string
	}{
		{
			name:       "no pingers is liveness only",
			wantStatus: http.StatusOK,
			wantReady:  true,
		},
		{
			name: "all dependencies up",
			pingers: []Pinger{
				&fakePinger{name: "ollama"},
				&fakePinger{name: "index:sqlite"},
				&fakePinger{name: "paper_store"},
			},
			wantStatus: http.StatusOK,
			wantReady:  true,
		},
		{
			name: "index down",
			pingers: []Pinger{
				&fakePinger{name: "ollama"},
				&fakePinger{name: "index:qdrant", err: errors.New("connection refused")},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantFailed: []string{"index:qdrant"},
		},
		{
			name: "everything down",
			pingers: []Pinger{
				&fakePinger{name: "openai", err: errors.New("401 unauthorized")},
				&fakePinger{name: "paper_store", err: errors.New("database is locked")},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantFailed: []string{"openai", "paper_store"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			status, resp := getReady(t, newReadyTestServer(tt.pingers...))
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d", status, tt.wantStatus)
			}
			if resp.Ready != tt.wantReady {
				t.Errorf("ready = %v, want %v", resp.Ready, tt.wantReady)
			}
			if len(resp.Checks) != len(tt.pingers) {
				t.Fatalf("checks = %d, want %d", len(resp.Checks), len(tt.pingers))
			}

			failed := map[string]bool{}
			for _, name := range tt.wantFailed {
				failed[name] = true
			}
			for i, c := range resp.Checks {
				if c.Name != tt.pingers[i].Name() {
					t.Errorf("check %d: name = %q, want registration order %q", i, c.Name, tt.pingers[i].Name())
				}
				if c.OK == failed[c.Name] {
					t.Errorf("check %q: ok = %v", c.Name, c.OK)
				}
				if failed[c.Name] && c.Error == "" {
					t.Errorf("check %q: expected an error message", c.Name)
				}
			}
		})
	}
}

func TestHandleReady_ProbesRunConcurrently(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer(
		&fakePinger{name: "ollama", delay: 200 * time.Millisecond},
		&fakePinger{name: "index:milvus", delay: 200 * time.Millisecond},
		&fakePinger{name: "paper_store", delay: 200 * time.Millisecond},
	)

	start := time.Now()
	status, resp := getReady(t, s)
	elapsed := time.Since(start)

	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if elapsed >= 550*time.Millisecond {
		t.Errorf("readiness took %v; probes appear to run sequentially", elapsed)
	}
	for _, c := range resp.Checks {
		if c.LatencyMS < 150 {
			t.Errorf("check %q: latency_ms = %d, want about 200", c.Name, c.LatencyMS)
		}
	}
}

func TestHandleReady_ReportsSessions(t *testing.T) {
	t.Parallel()

	srv, _ := newAPIServer(t, newTestDeps().deps(nil), nil)

	do(t, srv.Handler(), http.MethodPost, "/api/chat", `{"session_id":"s1","message":"diffusion for molecules?"}`)

	status, resp := getReady(t, srv)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if resp.Sessions != 1 {
		t.Errorf("sessions = %d, want 1", resp.Sessions)
	}
}
