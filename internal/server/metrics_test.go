package server

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/paperrag/internal/rag"
)

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return -1
}

func TestMetrics_SearchOutcomes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		body    string
		err     error
		outcome string
	}{
		{"ok", `{"query":"molecules"}`, nil, outcomeOK},
		{"bad body", `{`, nil, outcomeInvalid},
		{"bad filter", `{"query":"molecules","filter":{"venue":["NeurIPS"]}}`, nil, outcomeInvalid},
		{"backend down", `{"query":"molecules"}`, &rag.TransportError{Backend: "qdrant", Op: "search", Err: errors.New("connection refused")}, outcomeBackend},
		{"unexpected", `{"query":"molecules"}`, errors.New("boom"), outcomeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			td := newTestDeps()
			td.searcher.err = tt.err
			s, reg := newAPIServer(t, td.deps(nil), nil)

			do(t, s.Handler(), http.MethodPost, "/api/search", tt.body)

			if got := counterValue(t, reg, "paperrag_search_requests_total", "outcome", tt.outcome); got != 1 {
				t.Errorf("search_requests_total{outcome=%q} = %v, want 1", tt.outcome, got)
			}
		})
	}
}

func TestMetrics_ChatOutcomes(t *testing.T) {
	t.Parallel()
	td := newTestDeps()
	td.newConv = func() *fakeConversation { return &fakeConversation{fail: "chat model unavailable"} }
	s, reg := newAPIServer(t, td.deps(nil), nil)
	h := s.Handler()

	do(t, h, http.MethodPost, "/api/chat", `{"message":""}`)
	do(t, h, http.MethodPost, "/api/chat", `{"message":"graph molecules"}`)

	if got := counterValue(t, reg, "paperrag_chat_requests_total", "outcome", outcomeInvalid); got != 1 {
		t.Errorf("invalid = %v, want 1", got)
	}
	if got := counterValue(t, reg, "paperrag_chat_requests_total", "outcome", outcomeBackend); got != 1 {
		t.Errorf("backend_error = %v, want 1", got)
	}
	if got := counterValue(t, reg, "paperrag_chat_requests_total", "outcome", outcomeOK); got != 0 {
		t.Errorf("ok = %v, want 0", got)
	}
}

func TestMetrics_ActiveSessionsTracksChats(t *testing.T) {
	t.Parallel()
	s, reg := newAPIServer(t, newTestDeps().deps(nil), nil)
	h := s.Handler()

	if got := gaugeValue(t, reg, "paperrag_chat_active_sessions"); got != 0 {
		t.Fatalf("initial active_sessions = %v, want 0", got)
	}
	do(t, h, http.MethodPost, "/api/chat", `{"message":"graph molecules"}`)
	do(t, h, http.MethodPost, "/api/chat", `{"message":"quantum hardware"}`)

	if got := gaugeValue(t, reg, "paperrag_chat_active_sessions"); got != 2 {
		t.Errorf("active_sessions = %v, want 2", got)
	}
}

func TestMetrics_HTTPRequestsLabelledByHandler(t *testing.T) {
	t.Parallel()
	s, reg := newAPIServer(t, newTestDeps().deps(nil), nil)
	h := s.Handler()

	do(t, h, http.MethodPost, "/api/search", `{"query":"molecules"}`)
	do(t, h, http.MethodGet, "/api/chat/export", "")

	if got := counterValue(t, reg, "paperrag_http_requests_total", labelHandler, "search"); got != 1 {
		t.Errorf("http_requests_total{handler=search} = %v, want 1", got)
	}
	if got := counterValue(t, reg, "paperrag_http_requests_total", "code", "400"); got != 1 {
		t.Errorf("http_requests_total{code=400} = %v, want 1", got)
	}

	w := do(t, h, http.MethodGet, "/metrics", "")
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content-type = %q, want text/plain exposition", ct)
	}
	if !strings.Contains(w.Body.String(), `handler="chat_export"`) {
		t.Error("metrics output missing chat_export handler series")
	}
}
