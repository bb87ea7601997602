package ingestion

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/54b3r/paperrag/internal/embedder"
	"github.com/54b3r/paperrag/internal/paper"
	"github.com/54b3r/paperrag/internal/rag"
	"github.com/54b3r/paperrag/internal/store"
)

const jsonSource = `{
  "papers": [
    {
      "id": 1,
      "name": "Molecular GNNs",
      "abstract": "graph neural networks for molecules",
      "authors": [{"fullname": "Ada Lovelace"}, {"fullname": "Grace  Hopper"}],
      "session": "Oral  1",
      "eventtype": "Oral",
      "decision": "Accept (oral)",
      "paper_pdf_url": "https://example.org/1.pdf",
      "urls": ["https://openreview.net/forum?id=one", "https://example.org/1.pdf"]
    },
    {
      "id": "2",
      "title": "Qubits at Scale",
      "abstract": "quantum computing hardware",
      "authors": ["Alan Turing"],
      "topic": "Quantum",
      "event_type": "Poster"
    },
    {
      "id": 3,
      "title": "No abstract here",
      "abstract": "   "
    }
  ]
}`

const yamlSource = `
- id: 10
  title: Sparse attention
  abstract: efficient sparse attention for long documents
  authors:
    - Claude Shannon
  session: Poster 2
`

type testEnv struct {
	store    *store.SQLiteStore
	index    *rag.SQLiteIndex
	pipeline *Pipeline
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, nil)
}

func newTestEnvWith(t *testing.T, cfg *Config) *testEnv {
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

	gen, err := rag.NewGenerator(embedder.NewHashEmbedder(64), "hash", 0)
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	ix, err := rag.NewIndexer(gen, idx)
	if err != nil {
		t.Fatalf("indexer: %v", err)
	}
	p, err := NewPipeline(st, ix, idx, cfg)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	return &testEnv{store: st, index: idx, pipeline: p}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func Test_Pipeline_LoadJSON(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	records, err := env.pipeline.Load(context.Background(), writeFile(t, "papers.json", jsonSource))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("want 3 records, got %d", len(records))
	}

	first := records[0]
	if first.Title != "Molecular GNNs" || first.Session != "Oral 1" {
		t.Errorf("title/session not normalised: %q / %q", first.Title, first.Session)
	}
	if got := strings.Join(first.Authors, ";"); got != "Ada Lovelace;Grace Hopper" {
		t.Errorf("authors = %q", got)
	}
	if len(first.Resources) != 2 {
		t.Fatalf("duplicate links should collapse, got %+v", first.Resources)
	}
	if first.URL(paper.ResourcePDF) != "https://example.org/1.pdf" || first.URL(paper.ResourcePage) == "" {
		t.Errorf("resources misclassified: %+v", first.Resources)
	}

	second := records[1]
	if second.ID != 2 || second.EventType != "Poster" {
		t.Errorf("string id or event_type alias not handled: %+v", second)
	}
}

func Test_Pipeline_LoadYAMLList(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	records, err := env.pipeline.Load(context.Background(), writeFile(t, "papers.yml", yamlSource))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 1 || records[0].ID != 10 || records[0].Authors[0] != "Claude Shannon" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func Test_Pipeline_LoadRejectsUnknownExtension(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	if _, err := env.pipeline.Load(context.Background(), writeFile(t, "papers.csv", "id,title")); err == nil {
		t.Error("expected error for .csv source")
	}
}

func Test_Pipeline_LoadFromURL(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/x-yaml")
		_, _ = w.Write([]byte(yamlSource))
	}))
	t.Cleanup(srv.Close)
	env := newTestEnv(t)

	records, err := env.pipeline.Load(context.Background(), srv.URL+"/export")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("want 1 record from yaml content type, got %d", len(records))
	}

	_, err = env.pipeline.Load(context.Background(), srv.URL+"/missing")
	var te *rag.TransportError
	if !errors.As(err, &te) || te.Status != http.StatusNotFound {
		t.Errorf("want TransportError with 404, got %v", err)
	}
}

func Test_Pipeline_RunIsIdempotent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	records, err := env.pipeline.Load(ctx, writeFile(t, "papers.json", jsonSource))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	var outcomes []rag.Outcome
	obs := rag.ObserverFunc(func(p rag.Progress) { outcomes = append(outcomes, p.Outcome) })

	first, err := env.pipeline.Run(ctx, records, Options{SkipExisting: true, Observer: obs})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := Report{Total: 3, Stored: 2, Invalid: 1, Embedded: 2, Skipped: 0}
	if first != want {
		t.Errorf("first run = %+v, want %+v", first, want)
	}
	if len(outcomes) != 3 || outcomes[2] != rag.OutcomeInvalid {
		t.Errorf("want one notification per record with the invalid last, got %v", outcomes)
	}

	second, err := env.pipeline.Run(ctx, records, Options{SkipExisting: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if second.Embedded != 0 || second.Skipped != 2 {
		t.Errorf("second run = %+v, want 0 embedded and 2 skipped", second)
	}

	if n, _ := env.store.CountPapers(ctx); n != 2 {
		t.Errorf("store holds %d papers, want 2", n)
	}
}

func Test_Pipeline_RunReset(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	records, err := env.pipeline.Load(ctx, writeFile(t, "papers.json", jsonSource))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := env.pipeline.Run(ctx, records, Options{SkipExisting: true}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	report, err := env.pipeline.Run(ctx, records[:1], Options{SkipExisting: true, Reset: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Embedded != 1 {
		t.Errorf("reset run should re-embed, got %+v", report)
	}
	if n, _ := env.index.Count(ctx); n != 1 {
		t.Errorf("index holds %d entries after reset, want 1", n)
	}
}

func Test_NewPipeline_RequiresDependencies(t *testing.T) {
	t.Parallel()
	if _, err := NewPipeline(nil, nil, nil, nil); err == nil {
		t.Error("expected error for nil dependencies")
	}
}

func Test_Pipeline_LoadFromURLRejectsOversizedBody(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		_, _ = w.Write([]byte(yamlSource))
	}))
	t.Cleanup(srv.Close)

	// The cut would fall inside the list; a shortened list must not parse.
	env := newTestEnvWith(t, &Config{MaxSourceBytes: int64(len(yamlSource) - 1)})
	if _, err := env.pipeline.Load(context.Background(), srv.URL+"/export"); err == nil ||
		!strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("want size error, got %v", err)
	}

	exact := newTestEnvWith(t, &Config{MaxSourceBytes: int64(len(yamlSource))})
	if records, err := exact.pipeline.Load(context.Background(), srv.URL+"/export"); err != nil || len(records) != 1 {
		t.Fatalf("body at the limit: %d records, %v", len(records), err)
	}
}
