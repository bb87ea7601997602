package provider

import (
	"strings"
	"testing"
)

// validConfig returns a configuration that passes Validate for backend.
func validConfig(backend Backend) Config {
	return Config{
		Backend:     backend,
		Ollama:      ProviderOllama{Host: "http://localhost:11434", Model: "llama3"},
		OpenAI:      ProviderOpenAI{APIKey: "sk-test", Model: "gpt-4o"},
		AzureOpenAI: ProviderAzureOpenAI{APIKey: "key", Endpoint: "https://my.openai.azure.com", Deployment: "gpt-4o", APIVersion: "2024-02-01"},
		Gemini:      ProviderGemini{APIKey: "AIza-test", Model: "gemini-1.5-pro"},
		Ark:         ProviderArk{APIKey: "ark-key", Model: "ep-2024"},
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		backend Backend
		mutate  func(*Config)
		wantErr string
	}{
		{"ollama ok", BackendOllama, nil, ""},
		{"ollama host", BackendOllama, func(c *Config) { c.Ollama.Host = "" }, "OLLAMA_HOST"},
		{"ollama model", BackendOllama, func(c *Config) { c.Ollama.Model = "" }, "OLLAMA_MODEL"},
		{"openai ok", BackendOpenAI, nil, ""},
		{"openai key", BackendOpenAI, func(c *Config) { c.OpenAI.APIKey = "" }, "OPENAI_API_KEY"},
		{"openai model", BackendOpenAI, func(c *Config) { c.OpenAI.Model = "" }, "OPENAI_MODEL"},
		{"azure ok", BackendAzure, nil, ""},
		{"azure key", BackendAzure, func(c *Config) { c.AzureOpenAI.APIKey = "" }, "AZURE_OPENAI_API_KEY"},
		{"azure endpoint", BackendAzure, func(c *Config) { c.AzureOpenAI.Endpoint = "" }, "AZURE_OPENAI_ENDPOINT"},
		{"azure deployment", BackendAzure, func(c *Config) { c.AzureOpenAI.Deployment = "" }, "AZURE_OPENAI_DEPLOYMENT"},
		{"gemini ok", BackendGemini, nil, ""},
		{"gemini key", BackendGemini, func(c *Config) { c.Gemini.APIKey = "" }, "GOOGLE_API_KEY"},
		{"gemini model", BackendGemini, func(c *Config) { c.Gemini.Model = "" }, "GEMINI_MODEL"},
		{"ark ok", BackendArk, nil, ""},
		{"ark key", BackendArk, func(c *Config) { c.Ark.APIKey = "" }, "ARK_API_KEY"},
		{"ark model", BackendArk, func(c *Config) { c.Ark.Model = "" }, "ARK_MODEL"},
		// Sampling bounds apply whatever the backend.
		{"temperature too high", BackendOllama, func(c *Config) { c.Tuning.Temperature = 3 }, "MODEL_TEMPERATURE"},
		{"negative max tokens", BackendOpenAI, func(c *Config) { c.Tuning.MaxTokens = -1 }, "MODEL_MAX_TOKENS"},
		{"unknown backend", "bedrock", nil, "unknown backend"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig(tc.backend)
			if tc.mutate != nil {
				tc.mutate(&cfg)
			}
			err := cfg.Validate()
			switch {
			case tc.wantErr == "" && err != nil:
				t.Errorf("unexpected error: %v", err)
			case tc.wantErr != "" && err == nil:
				t.Errorf("want error naming %s, got nil", tc.wantErr)
			case tc.wantErr != "" && !strings.Contains(err.Error(), tc.wantErr):
				t.Errorf("error %q does not name %s", err, tc.wantErr)
			}
		})
	}
}

func TestIsAzureReasoningModel(t *testing.T) {
	t.Parallel()
	reasoning := []string{"o1", "o1-preview", "o3-mini", "o3-pro", "o4-mini", "O1-PREVIEW", "codex", "codex-mini"}
	standard := []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-35-turbo", "gpt-5.2-codex", "papers-deployment", ""}

	for _, d := range reasoning {
		if !isAzureReasoningModel(d) {
			t.Errorf("%q should be treated as a reasoning deployment", d)
		}
	}
	for _, d := range standard {
		if isAzureReasoningModel(d) {
			t.Errorf("%q should accept sampling options", d)
		}
	}
}

func TestCallOptions(t *testing.T) {
	t.Parallel()

	plain := &Config{Backend: BackendOpenAI, Tuning: SharedTuning{MaxTokens: 256, Temperature: 0.3}}
	if got := len(CallOptions(plain)); got != 2 {
		t.Errorf("want temperature and max tokens, got %d options", got)
	}

	noCap := &Config{Backend: BackendOllama, Tuning: SharedTuning{Temperature: 0.1}}
	if got := len(CallOptions(noCap)); got != 1 {
		t.Errorf("zero max tokens should be omitted, got %d options", got)
	}

	reasoning := &Config{Backend: BackendAzure, AzureOpenAI: ProviderAzureOpenAI{Deployment: "o3-mini"},
		Tuning: SharedTuning{MaxTokens: 256, Temperature: 0.3}}
	if got := CallOptions(reasoning); got != nil {
		t.Errorf("reasoning deployments take no sampling options, got %d", len(got))
	}
}

func TestModelName(t *testing.T) {
	t.Parallel()
	cfg := &Config{Backend: BackendAzure, AzureOpenAI: ProviderAzureOpenAI{Deployment: "gpt-4.1"}}
	if cfg.ModelName() != "gpt-4.1" {
		t.Errorf("azure model name should be the deployment, got %q", cfg.ModelName())
	}
}
