package embedder

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// chatModelMarkers are name fragments of chat/completion models. Abstracts
// embedded with one of these rank poorly, so a match is worth a warning.
var chatModelMarkers = []string{
	"gpt-4", "gpt-3.5", "gpt-35", "o1", "o3",
	"llama2", "llama3", "llama-2", "llama-3",
	"mistral", "mixtral", "gemma", "phi3", "phi-", "qwen", "deepseek",
	"claude", "command-r", "solar", "vicuna", "falcon", "yi-",
}

func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, m := range chatModelMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// firstSet returns the first non-empty variable among keys, or "".
func firstSet(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// ValidateForRAG checks the embedding configuration before any index is
// opened, so a broken setup fails at startup instead of on the first embed.
// Every problem found is reported in the returned error. Suspicious but
// workable settings are only logged.
func ValidateForRAG(log *slog.Logger) error {
	backend := Backend()
	var errs []error

	switch backend {
	case "openai":
		if firstSet("EMBEDDING_API_KEY", "OPENAI_API_KEY") == "" {
			errs = append(errs, errors.New("embedder: openai needs OPENAI_API_KEY or EMBEDDING_API_KEY"))
		}
	case "azure":
		if firstSet("EMBEDDING_API_KEY", "AZURE_OPENAI_API_KEY") == "" {
			errs = append(errs, errors.New("embedder: azure needs AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY"))
		}
		if firstSet("EMBEDDING_ENDPOINT", "AZURE_OPENAI_ENDPOINT") == "" {
			errs = append(errs, errors.New("embedder: azure needs AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT"))
		}
	case "ollama", "hash":
	default:
		errs = append(errs, fmt.Errorf("embedder: backend %q cannot embed (valid values: ollama, openai, azure, hash)", backend))
	}

	// The vector index is created with this size, so a bad value must not
	// fall back silently to the model default.
	if v := os.Getenv("EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("embedder: EMBEDDING_DIMENSIONS must be a positive integer, got %q", v))
		}
	}

	if backend != "ollama" && os.Getenv("EMBEDDING_PROVIDER") == "" {
		log.Warn("embedder: EMBEDDING_PROVIDER unset, embedding with the chat provider",
			slog.String("backend", backend),
			slog.String("hint", "set EMBEDDING_PROVIDER=ollama|openai|azure|hash"),
		)
	}
	if model := os.Getenv("EMBEDDING_MODEL"); model != "" && looksLikeChatModel(model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model; retrieval quality will suffer",
			slog.String("model", model),
			slog.String("hint", "use an embedding model such as nomic-embed-text or text-embedding-3-small"),
		)
	}

	return errors.Join(errs...)
}
