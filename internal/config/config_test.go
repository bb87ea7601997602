package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

// writeConfig writes body to a fresh config.yaml and returns its path.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// unsetEnv clears keys for the duration of the test; t.Setenv restores them.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()
	path, err := Load("/nonexistent/path/config.yaml", slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_AppliesSections(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want map[string]string
	}{
		{
			name: "azure with qdrant",
			yaml: `
model:
  provider: azure
  max_tokens: 8192
  temperature: 0.3
  azure:
    endpoint: https://my-resource.openai.azure.com
    deployment: gpt-4o
    api_version: "2025-04-01-preview"
embedding:
  provider: ollama
  model: nomic-embed-text
index:
  backend: qdrant
  collection: iclr-papers
  qdrant:
    host: qdrant.internal
    port: 6334
rag:
  top_k: 8
  chat_timeout: 90s
server:
  max_sessions: 50
logging:
  level: debug
  format: text
`,
			want: map[string]string{
				"MODEL_PROVIDER":           "azure",
				"MODEL_MAX_TOKENS":         "8192",
				"MODEL_TEMPERATURE":        "0.3",
				"AZURE_OPENAI_ENDPOINT":    "https://my-resource.openai.azure.com",
				"AZURE_OPENAI_DEPLOYMENT":  "gpt-4o",
				"AZURE_OPENAI_API_VERSION": "2025-04-01-preview",
				"EMBEDDING_PROVIDER":       "ollama",
				"EMBEDDING_MODEL":          "nomic-embed-text",
				"INDEX_BACKEND":            "qdrant",
				"INDEX_COLLECTION":         "iclr-papers",
				"QDRANT_HOST":              "qdrant.internal",
				"QDRANT_PORT":              "6334",
				// false booleans are left unset
				"QDRANT_TLS":   "",
				"RAG_TOP_K":    "8",
				"CHAT_TIMEOUT": "90s",
				"MAX_SESSIONS": "50",
				"LOG_LEVEL":    "debug",
				"LOG_FORMAT":   "text",
			},
		},
		{
			name: "ark with milvus",
			yaml: `
model:
  provider: ark
  ark:
    model: ep-2025-abc
    base_url: https://ark.example.com/api/v3
index:
  backend: milvus
  milvus:
    address: milvus.internal:19530
    tls: true
store:
  db_path: /var/lib/paperrag/papers.db
`,
			want: map[string]string{
				"MODEL_PROVIDER": "ark",
				"ARK_MODEL":      "ep-2025-abc",
				"ARK_BASE_URL":   "https://ark.example.com/api/v3",
				"INDEX_BACKEND":  "milvus",
				"MILVUS_ADDRESS": "milvus.internal:19530",
				"MILVUS_TLS":     "true",
				"PAPERRAG_DB":    "/var/lib/paperrag/papers.db",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := make([]string, 0, len(tt.want))
			for k := range tt.want {
				keys = append(keys, k)
			}
			unsetEnv(t, keys...)

			cfgPath := writeConfig(t, tt.yaml)
			loaded, err := Load(cfgPath, slog.Default())
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if loaded != cfgPath {
				t.Errorf("loaded path = %q, want %q", loaded, cfgPath)
			}
			for k, want := range tt.want {
				if got := os.Getenv(k); got != want {
					t.Errorf("%s = %q, want %q", k, got, want)
				}
			}
		})
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "azure")
	t.Setenv("RAG_TOP_K", "3")

	cfgPath := writeConfig(t, "model:\n  provider: ollama\nrag:\n  top_k: 10\n")
	if _, err := Load(cfgPath, slog.Default()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := os.Getenv("MODEL_PROVIDER"); got != "azure" {
		t.Errorf("MODEL_PROVIDER = %q, want the environment's azure", got)
	}
	if got := os.Getenv("RAG_TOP_K"); got != "3" {
		t.Errorf("RAG_TOP_K = %q, want the environment's 3", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	t.Parallel()
	if _, err := Load(writeConfig(t, "{{invalid yaml"), slog.Default()); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestResolveConfigPath_EnvVar(t *testing.T) {
	cfgPath := writeConfig(t, "model:\n  provider: ark\n")
	t.Setenv("PAPERRAG_CONFIG", cfgPath)

	if got := resolveConfigPath(""); got != cfgPath {
		t.Errorf("resolveConfigPath: got %q, want %q", got, cfgPath)
	}
	// An explicit path that does not exist never falls back.
	if got := resolveConfigPath(filepath.Join(t.TempDir(), "missing.yaml")); got != "" {
		t.Errorf("resolveConfigPath(missing): got %q, want empty", got)
	}
}

func TestFloat32Str(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float32
		want string
	}{
		{0.0, ""},
		{0.2, "0.2"},
		{0.3, "0.3"},
		{1.0, "1"},
	}
	for _, tt := range tests {
		if got := float32Str(tt.in); got != tt.want {
			t.Errorf("float32Str(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	_, err := Load(writeConfig(t, "rag:\n  top-k: 8\n"), slog.Default())
	if err == nil {
		t.Fatal("misspelt key should fail the load")
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	t.Parallel()
	cfgPath := writeConfig(t, "")
	if got, err := Load(cfgPath, slog.Default()); err != nil || got != cfgPath {
		t.Fatalf("Load(empty) = %q, %v", got, err)
	}
}
