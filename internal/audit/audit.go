// Package audit records which command ran and under what configuration.
// Secret variables are reported as "set" or "unset" and never by value.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// secretEnvKeys are redacted to presence wherever they are reported.
var secretEnvKeys = map[string]bool{
	"OPENAI_API_KEY":       true,
	"AZURE_OPENAI_API_KEY": true,
	"GOOGLE_API_KEY":       true,
	"ARK_API_KEY":          true,
	"EMBEDDING_API_KEY":    true,
	"QDRANT_API_KEY":       true,
	"MILVUS_PASSWORD":      true,
	"LANGFUSE_PUBLIC_KEY":  true,
	"LANGFUSE_SECRET_KEY":  true,
}

// auditKeys is the ordered set of variables reported at command start,
// grouped by concern: chat model, embedding, index, stores and telemetry.
var auditKeys = []string{
	"MODEL_PROVIDER",
	"OLLAMA_HOST", "OLLAMA_MODEL",
	"OPENAI_API_KEY", "OPENAI_MODEL",
	"AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT",
	"GOOGLE_API_KEY", "GEMINI_MODEL",
	"ARK_API_KEY", "ARK_MODEL",

	"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_DIMENSIONS", "EMBEDDING_API_KEY",

	"INDEX_BACKEND", "INDEX_COLLECTION", "PAPERRAG_INDEX_DB",
	"QDRANT_HOST", "QDRANT_PORT", "QDRANT_API_KEY",
	"MILVUS_ADDRESS", "MILVUS_USERNAME", "MILVUS_PASSWORD",

	"PAPERRAG_DB", "RAG_TOP_K",

	"LOG_LEVEL", "LOG_FORMAT",
	"LANGFUSE_PUBLIC_KEY", "LANGFUSE_SECRET_KEY",
}

// LogCommandStart writes one info entry naming the command, the config file
// it loaded and the sanitised environment.
func LogCommandStart(ctx context.Context, log *slog.Logger, command, configPath string) {
	attrs := make([]slog.Attr, 0, len(auditKeys)+2)
	attrs = append(attrs,
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	)
	for _, key := range auditKeys {
		attrs = append(attrs, slog.String(key, SanitiseKey(key, os.Getenv(key))))
	}
	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start", attrs...)
}

// Snapshot returns the same sanitised values keyed by variable name. The
// version command prints it with --env.
func Snapshot() map[string]string {
	out := make(map[string]string, len(auditKeys))
	for _, key := range auditKeys {
		out[key] = SanitiseKey(key, os.Getenv(key))
	}
	return out
}

// SanitiseKey returns presence for secret keys and the value otherwise.
func SanitiseKey(key, value string) string {
	if secretEnvKeys[key] {
		return presence(value)
	}
	if value == "" {
		return "unset"
	}
	return value
}

func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

// sanitiseConfigPath abbreviates the home directory; "none" when no file
// was loaded.
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	home, err := os.UserHomeDir()
	if err == nil && home != "" && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
