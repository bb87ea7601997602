package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/54b3r/paperrag/internal/logging"
)

// MaxTopK caps the number of hits a single search may request.
const MaxTopK = 100

// SearchResult is the rank-ordered outcome of one search.
type SearchResult struct {
	// Query is the text that was searched for.
	Query string `json:"query"`

	// Papers are the hydrated hits in index rank order.
	Papers []ScoredPaper `json:"papers"`
}

// RetrieverConfig wires a Retriever.
type RetrieverConfig struct {
	// Generator embeds query text. Required.
	Generator *Generator

	// Index is the handle searched. Required.
	Index VectorIndex

	// Formatter hydrates hits. Required.
	Formatter *Formatter

	// Domain supplies the known filter values. Optional: without it no
	// dimension is ever omitted as "full domain".
	Domain DomainSource

	// DefaultTopK is used when Search is called with k == 0 (default: 5).
	DefaultTopK int
}

// Retriever runs query text through embedding, filtered index search and
// hydration.
type Retriever struct {
	// generator embeds query text.
	generator *Generator

	// index is the collection handle.
	index VectorIndex

	// formatter hydrates hits.
	formatter *Formatter

	// domain supplies the filter domain; may be nil.
	domain DomainSource

	// defaultTopK is the fallback result count.
	defaultTopK int
}

// NewRetriever constructs a Retriever from cfg.
func NewRetriever(cfg RetrieverConfig) (*Retriever, error) {
	if cfg.Generator == nil {
		return nil, fmt.Errorf("rag: generator must not be nil")
	}
	if cfg.Index == nil {
		return nil, fmt.Errorf("rag: index must not be nil")
	}
	if cfg.Formatter == nil {
		return nil, fmt.Errorf("rag: formatter must not be nil")
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 5
	}
	return &Retriever{
		generator:   cfg.Generator,
		index:       cfg.Index,
		formatter:   cfg.Formatter,
		domain:      cfg.Domain,
		defaultTopK: cfg.DefaultTopK,
	}, nil
}

// ModelLabel returns the label of the embedding backend.
func (r *Retriever) ModelLabel() string { return r.generator.Backend() }

// ValidateQuery checks retrieval input without touching any backend: a
// non-blank query, k within [0, MaxTopK] (0 means the default) and a
// well-formed filter.
func ValidateQuery(query string, k int, filter MetadataFilter) error {
	if strings.TrimSpace(query) == "" {
		return invalid("query", "must not be empty")
	}
	if k < 0 {
		return invalid("k", "must not be negative, got %d", k)
	}
	if k > MaxTopK {
		return invalid("k", "must be at most %d, got %d", MaxTopK, k)
	}
	return filter.Validate()
}

// Search returns up to k papers most similar to query that pass filter.
// Input and filter are validated before any network call. An index with no
// matching entries yields an empty result and a nil error.
func (r *Retriever) Search(ctx context.Context, query string, k int, filter MetadataFilter) (SearchResult, error) {
	log := logging.FromContext(ctx)
	if err := ValidateQuery(query, k, filter); err != nil {
		return SearchResult{}, err
	}
	query = strings.TrimSpace(query)
	if k == 0 {
		k = r.defaultTopK
	}

	compiled, err := r.compile(ctx, filter)
	if err != nil {
		return SearchResult{}, err
	}

	start := time.Now()
	vec, err := r.generator.Embed(ctx, query)
	if err != nil {
		return SearchResult{}, err
	}

	hits, err := r.index.Search(ctx, vec, k, compiled)
	if err != nil {
		return SearchResult{}, asTransport("index", "search", err)
	}

	papers, err := r.formatter.Format(ctx, hits)
	if err != nil {
		return SearchResult{}, err
	}

	log.Debug("retrieve: search complete",
		slog.Int("k", k),
		slog.Int("hits", len(hits)),
		slog.Int("papers", len(papers)),
		slog.Int("filter_clauses", len(compiled.Clauses)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return SearchResult{Query: query, Papers: papers}, nil
}

// compile validates filter and compiles it against the current domain.
func (r *Retriever) compile(ctx context.Context, filter MetadataFilter) (CompiledFilter, error) {
	if err := filter.Validate(); err != nil {
		return CompiledFilter{}, err
	}
	var domain Domain
	if len(filter) > 0 && r.domain != nil {
		fields, err := r.domain.FilterDomain(ctx)
		if err != nil {
			return CompiledFilter{}, fmt.Errorf("rag: load filter domain: %w", err)
		}
		domain = DomainFromFields(fields)
	}
	return CompileFilter(filter, domain)
}
