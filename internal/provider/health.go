package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HealthCheckConfig probes a backend without spending tokens.
type HealthCheckConfig interface {
	HealthCheck(ctx context.Context) error
}

// httpProbe issues a GET and expects a 2xx.
type httpProbe struct {
	// url is the probed endpoint.
	url string
	// header holds auth headers.
	header http.Header
	// client performs the request; deadlines come from ctx.
	client *http.Client
}

// HealthCheck performs the GET.
func (p *httpProbe) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	for k, vs := range p.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("probe %s: HTTP %d", req.URL.Host, resp.StatusCode)
	}
	return nil
}

// NewHealthCheck returns a zero-token probe for cfg's backend, or nil when
// the backend has no cheap listing endpoint (ark).
func NewHealthCheck(cfg *Config) HealthCheckConfig {
	client := &http.Client{}
	switch cfg.Backend {
	case BackendOllama:
		return &httpProbe{url: strings.TrimRight(cfg.Ollama.Host, "/") + "/api/tags", client: client}
	case BackendOpenAI:
		base := cfg.OpenAI.BaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		return &httpProbe{
			url:    strings.TrimRight(base, "/") + "/models",
			header: http.Header{"Authorization": {"Bearer " + cfg.OpenAI.APIKey}},
			client: client,
		}
	case BackendAzure:
		return &httpProbe{
			url: strings.TrimRight(cfg.AzureOpenAI.Endpoint, "/") +
				"/openai/models?api-version=" + cfg.AzureOpenAI.APIVersion,
			header: http.Header{"api-key": {cfg.AzureOpenAI.APIKey}},
			client: client,
		}
	case BackendGemini:
		return &httpProbe{
			url:    "https://generativelanguage.googleapis.com/v1beta/models?pageSize=1",
			header: http.Header{"x-goog-api-key": {cfg.Gemini.APIKey}},
			client: client,
		}
	default:
		return nil
	}
}
