package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/54b3r/paperrag/internal/paper"
)

// vocabEmbedder is a deterministic bag-of-words embedder: every distinct
// lower-cased word gets its own dimension, so unrelated texts are exactly
// orthogonal.
type vocabEmbedder struct {
	mu    sync.Mutex
	vocab map[string]int
	dim   int
	calls int
}

func newVocabEmbedder() *vocabEmbedder {
	return &vocabEmbedder{vocab: make(map[string]int), dim: 128}
}

func (e *vocabEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, e.dim)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			idx, ok := e.vocab[w]
			if !ok {
				idx = len(e.vocab)
				if idx >= e.dim {
					return nil, fmt.Errorf("vocab exhausted")
				}
				e.vocab[w] = idx
			}
			v[idx]++
		}
		out[i] = v
	}
	return out, nil
}

func (e *vocabEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// errEmbedder always fails with err.
type errEmbedder struct{ err error }

func (e errEmbedder) Embed(context.Context, []string) ([][]float32, error) { return nil, e.err }

// mapLookup is an in-memory paper.Lookup.
type mapLookup map[int64]paper.Record

func (m mapLookup) GetPaperByID(_ context.Context, id int64) (paper.Record, bool, error) {
	p, ok := m[id]
	return p, ok, nil
}

// staticDomain is a fixed DomainSource.
type staticDomain map[string][]string

func (d staticDomain) FilterDomain(context.Context) (map[string][]string, error) { return d, nil }

func mustGenerator(e Embedder) *Generator {
	g, err := NewGenerator(e, "test", 0)
	if err != nil {
		panic(err)
	}
	return g
}

// corpus is a small set of papers spread over two sessions and topics.
func corpus() []paper.Record {
	return []paper.Record{
		{ID: 1, Title: "Molecular GNNs", Abstract: "graph neural networks for molecules",
			Session: "Poster Session 1", Topic: "Chemistry", EventType: "Poster"},
		{ID: 2, Title: "Qubits", Abstract: "quantum computing hardware",
			Session: "Oral Session 2", Topic: "Physics", EventType: "Oral"},
		{ID: 3, Title: "Protein folding", Abstract: "graph transformers for protein structure",
			Session: "Oral Session 2", Topic: "Biology", EventType: "Oral"},
		{ID: 4, Title: "Annealing", Abstract: "quantum annealing for graph partitioning",
			Session: "Poster Session 1", Topic: "Physics", EventType: "Poster"},
	}
}

func corpusLookup() mapLookup {
	m := make(mapLookup)
	for _, p := range corpus() {
		m[p.ID] = p
	}
	return m
}
