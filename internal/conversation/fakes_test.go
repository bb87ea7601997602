package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/paperrag/internal/paper"
	"github.com/54b3r/paperrag/internal/rag"
	"github.com/54b3r/paperrag/internal/store"
)

// wordEmbedder gives every distinct word its own dimension.
type wordEmbedder struct {
	mu    sync.Mutex
	vocab map[string]int
	calls int
}

func (e *wordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.vocab == nil {
		e.vocab = make(map[string]int)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 64)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			idx, ok := e.vocab[w]
			if !ok {
				idx = len(e.vocab) % 64
				e.vocab[w] = idx
			}
			v[idx]++
		}
		out[i] = v
	}
	return out, nil
}

func (e *wordEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// fakeChat records every request and replies with answer or err.
type fakeChat struct {
	mu       sync.Mutex
	answer   string
	err      error
	requests [][]*schema.Message
	options  int
}

func (f *fakeChat) Generate(_ context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, in)
	f.options = len(opts)
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.answer, nil), nil
}

func (f *fakeChat) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func (f *fakeChat) last() []*schema.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

func (f *fakeChat) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// failingSearcher always returns err.
type failingSearcher struct{ err error }

func (s failingSearcher) Search(context.Context, string, int, rag.MetadataFilter) (rag.SearchResult, error) {
	return rag.SearchResult{}, s.err
}

// fixture wires a real retriever over an in-memory paper store and index.
type fixture struct {
	store   *store.SQLiteStore
	indexer *rag.Indexer
	emb     *wordEmbedder
	search  *rag.Retriever
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	idx, err := rag.OpenSQLiteIndex(ctx, ":memory:", "papers")
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	emb := &wordEmbedder{}
	gen, err := rag.NewGenerator(emb, "test", 0)
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	ix, err := rag.NewIndexer(gen, idx)
	if err != nil {
		t.Fatalf("indexer: %v", err)
	}
	f, err := rag.NewFormatter(st)
	if err != nil {
		t.Fatalf("formatter: %v", err)
	}
	r, err := rag.NewRetriever(rag.RetrieverConfig{Generator: gen, Index: idx, Formatter: f, Domain: st})
	if err != nil {
		t.Fatalf("retriever: %v", err)
	}
	return &fixture{store: st, indexer: ix, emb: emb, search: r}
}

// seed stores papers and indexes them.
func (fx *fixture) seed(t *testing.T, papers ...paper.Record) {
	t.Helper()
	ctx := context.Background()
	if err := fx.store.PutPapers(ctx, papers); err != nil {
		t.Fatalf("put papers: %v", err)
	}
	if _, _, err := fx.indexer.AddBatch(ctx, papers, true, nil); err != nil {
		t.Fatalf("index papers: %v", err)
	}
}

func molecularPapers() []paper.Record {
	return []paper.Record{
		{ID: 1, Title: "Molecular GNNs", Abstract: "graph neural networks for molecules",
			Authors: []string{"Ada Lovelace"}, Session: "Oral 1"},
		{ID: 2, Title: "Qubits at Scale", Abstract: "quantum computing hardware",
			Authors: []string{"Alan Turing"}, Session: "Poster 3"},
	}
}
