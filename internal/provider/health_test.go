package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewHealthCheck_Ollama(t *testing.T) {
	t.Parallel()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	hc := NewHealthCheck(&Config{Backend: BackendOllama, Ollama: ProviderOllama{Host: srv.URL + "/"}})
	if err := hc.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if gotPath != "/api/tags" {
		t.Errorf("probed %q, want /api/tags", gotPath)
	}
}

func TestNewHealthCheck_OpenAIUnauthorized(t *testing.T) {
	t.Parallel()

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	hc := NewHealthCheck(&Config{Backend: BackendOpenAI, OpenAI: ProviderOpenAI{APIKey: "sk-x", BaseURL: srv.URL}})
	if err := hc.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected error on 401")
	}
	if gotAuth != "Bearer sk-x" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestNewHealthCheck_ArkHasNoProbe(t *testing.T) {
	t.Parallel()
	if hc := NewHealthCheck(&Config{Backend: BackendArk}); hc != nil {
		t.Errorf("expected nil probe for ark, got %T", hc)
	}
}
