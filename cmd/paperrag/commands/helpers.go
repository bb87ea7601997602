package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"

	"github.com/54b3r/paperrag/internal/conversation"
	"github.com/54b3r/paperrag/internal/embedder"
	"github.com/54b3r/paperrag/internal/provider"
	"github.com/54b3r/paperrag/internal/rag"
	"github.com/54b3r/paperrag/internal/store"
	"github.com/54b3r/paperrag/internal/tracing"
)

// runtime bundles the long-lived dependencies every retrieval command needs:
// the paper store, the embedding generator and the index opener.
type runtime struct {
	// log is the command logger.
	log *slog.Logger
	// papers is the SQLite paper store; it is also the session journal.
	papers *store.SQLiteStore
	// generator embeds abstracts and queries.
	generator *rag.Generator
	// indexCfg is the resolved index configuration.
	indexCfg rag.IndexConfig
	// open dials a fresh index handle.
	open rag.Opener
	// topK is the default number of papers retrieved.
	topK int
}

// openRuntime resolves the paper store, embedder and index from the
// environment. Callers must Close the result.
func openRuntime(log *slog.Logger) (*runtime, error) {
	if err := embedder.ValidateForRAG(log); err != nil {
		return nil, err
	}
	backend := embedder.Backend()
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	generator, err := rag.NewGenerator(emb, backend, getEnvDuration("EMBED_TIMEOUT", rag.DefaultEmbedTimeout))
	if err != nil {
		return nil, err
	}

	indexCfg := rag.IndexConfigFromEnv(embedder.DefaultDimensions(backend))
	open, err := rag.NewOpener(indexCfg)
	if err != nil {
		return nil, err
	}

	dbPath := os.Getenv("PAPERRAG_DB")
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	papers, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}

	log.Info("runtime ready",
		slog.String("embedder", backend),
		slog.String("index", indexCfg.Backend),
		slog.String("collection", indexCfg.Collection),
		slog.String("paper_db", dbPath),
	)

	return &runtime{
		log:       log,
		papers:    papers,
		generator: generator,
		indexCfg:  indexCfg,
		open:      open,
		topK:      getEnvInt("RAG_TOP_K", 5),
	}, nil
}

// Close releases the paper store.
func (rt *runtime) Close() {
	if err := rt.papers.Close(); err != nil {
		rt.log.Warn("paper store close failed", slog.Any("error", err))
	}
}

// openRetriever opens an index handle and builds a Retriever over it. The
// returned function closes the handle.
func (rt *runtime) openRetriever(ctx context.Context) (*rag.Retriever, func() error, error) {
	index, err := rt.open(ctx)
	if err != nil {
		return nil, nil, err
	}
	formatter, err := rag.NewFormatter(rt.papers)
	if err != nil {
		_ = index.Close()
		return nil, nil, err
	}
	retriever, err := rag.NewRetriever(rag.RetrieverConfig{
		Generator:   rt.generator,
		Index:       index,
		Formatter:   formatter,
		Domain:      rt.papers,
		DefaultTopK: rt.topK,
	})
	if err != nil {
		_ = index.Close()
		return nil, nil, err
	}
	return retriever, index.Close, nil
}

// chatBackend is the resolved chat model and its per-call options.
type chatBackend struct {
	// model generates answers.
	model model.BaseChatModel
	// cfg is the provider configuration it was built from.
	cfg *provider.Config
	// options carry temperature and max tokens.
	options []model.Option
}

// openChatBackend builds the chat model selected by MODEL_PROVIDER.
func openChatBackend(ctx context.Context) (*chatBackend, error) {
	chatModel, cfg, err := provider.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	return &chatBackend{model: chatModel, cfg: cfg, options: provider.CallOptions(cfg)}, nil
}

// openConversation builds an orchestrator over a fresh index handle.
func (rt *runtime) openConversation(ctx context.Context, chat *chatBackend, systemPrompt string) (*conversation.Orchestrator, func() error, error) {
	retriever, closeIndex, err := rt.openRetriever(ctx)
	if err != nil {
		return nil, nil, err
	}
	conv, err := conversation.New(conversation.Config{
		Retriever:    retriever,
		ChatModel:    chat.model,
		ModelName:    chat.cfg.ModelName(),
		SystemPrompt: systemPrompt,
		CallOptions:  chat.options,
		ChatTimeout:  getEnvDuration("CHAT_TIMEOUT", conversation.DefaultChatTimeout),
		DefaultTopK:  rt.topK,
	})
	if err != nil {
		_ = closeIndex()
		return nil, nil, err
	}
	return conv, closeIndex, nil
}

// setupTracing registers the Langfuse handler when configured and returns
// the flush function to defer.
func setupTracing(log *slog.Logger) func() {
	flush, ok := tracing.Setup()
	if ok {
		log.Info("langfuse tracing enabled")
	} else {
		log.Debug("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
	}
	return flush
}

// filterFlags collects the repeatable metadata filter flags shared by
// search, ask and chat.
type filterFlags struct {
	sessions   []string
	topics     []string
	eventTypes []string
	decisions  []string
}

// filter converts the flags into a MetadataFilter. Dimensions without values
// are left out so they stay unconstrained.
func (f *filterFlags) filter() rag.MetadataFilter {
	out := rag.MetadataFilter{}
	add := func(d rag.Dimension, values []string) {
		var kept []string
		for _, v := range values {
			if v = strings.TrimSpace(v); v != "" {
				kept = append(kept, v)
			}
		}
		if len(kept) > 0 {
			out[d] = kept
		}
	}
	add(rag.DimensionSession, f.sessions)
	add(rag.DimensionTopic, f.topics)
	add(rag.DimensionEventType, f.eventTypes)
	add(rag.DimensionDecision, f.decisions)
	if len(out) == 0 {
		return nil
	}
	return out
}

// getEnvOrDefault returns the env var value or fallback when unset.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt parses an integer env var, returning fallback when unset or invalid.
func getEnvInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return fallback
}

// getEnvDuration parses a Go duration env var, returning fallback when unset
// or invalid.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return fallback
}
