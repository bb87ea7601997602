// Package rag implements the semantic retrieval path over paper abstracts:
// embedding generation, vector-index lifecycle with idempotent batch
// indexing, metadata-filter compilation, and rank-preserving hydration of
// search hits into paper records.
//
// Concrete index backends (Qdrant, Milvus, SQLite) satisfy VectorIndex so the
// conversation layer never depends on a specific store.
package rag

import (
	"context"
	"strconv"
)

// Embedder converts a batch of texts into dense vectors. The returned slice
// is parallel to the input. Implementations must be safe to call from
// multiple goroutines.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Entry is one indexed paper: at most one exists per paper id.
type Entry struct {
	// ID is the paper id the entry is keyed by.
	ID int64

	// Vector is the embedding of Document.
	Vector []float32

	// Document is the text the vector was computed from (the abstract).
	Document string

	// Metadata is the filterable projection of the paper.
	Metadata map[string]string
}

// Key returns the string form of the entry id as stored in the index.
func (e Entry) Key() string {
	return FormatKey(e.ID)
}

// FormatKey returns the index key for a paper id.
func FormatKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Hit is a raw nearest-neighbour result as returned by a VectorIndex.
type Hit struct {
	// ID is the stored key; parse it back with strconv.ParseInt.
	ID string

	// Distance is the cosine distance to the query (0 = identical).
	Distance float32

	// Document is the stored document text.
	Document string

	// Metadata is the stored, possibly partial, metadata projection.
	Metadata map[string]string
}

// VectorIndex owns one named collection of entries. A handle is not assumed
// safe for use by goroutines other than the one that opened it; open one per
// execution context through an Opener.
type VectorIndex interface {
	// Exists reports whether an entry keyed by id is present.
	Exists(ctx context.Context, id int64) (bool, error)

	// Insert writes entries, replacing any entry with the same id. Callers
	// that must not overwrite check Exists first (see Indexer.Add).
	Insert(ctx context.Context, entries []Entry) error

	// Search returns up to k entries ordered by ascending distance that
	// satisfy filter.
	Search(ctx context.Context, vector []float32, k int, filter CompiledFilter) ([]Hit, error)

	// Delete removes entries by paper id. Missing ids are ignored.
	Delete(ctx context.Context, ids []int64) error

	// Reset drops and recreates the collection. Destructive.
	Reset(ctx context.Context) error

	// Count returns the number of entries in the collection.
	Count(ctx context.Context) (int, error)

	// Close releases the handle.
	Close() error
}

// Opener opens a fresh VectorIndex handle. Servers call it once per request
// or session rather than sharing a process-wide handle.
type Opener func(ctx context.Context) (VectorIndex, error)

// DomainSource reports the observed values of every filterable metadata
// field. It is usually the paper store.
type DomainSource interface {
	FilterDomain(ctx context.Context) (map[string][]string, error)
}
