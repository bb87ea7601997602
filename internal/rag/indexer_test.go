package rag

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/54b3r/paperrag/internal/logging"
	"github.com/54b3r/paperrag/internal/paper"
)

// openTestIndex opens a private in-memory SQLiteIndex.
func openTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	idx, err := OpenSQLiteIndex(context.Background(), ":memory:", "test")
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func newTestIndexer(t *testing.T, e Embedder) (*Indexer, *SQLiteIndex) {
	t.Helper()
	idx := openTestIndex(t)
	ix, err := NewIndexer(mustGenerator(e), idx)
	if err != nil {
		t.Fatalf("new indexer: %v", err)
	}
	return ix, idx
}

// recorder collects progress notifications.
type recorder struct{ got []Progress }

func (r *recorder) Processed(p Progress) { r.got = append(r.got, p) }

func Test_Indexer_AddBatchIsIdempotent(t *testing.T) {
	t.Parallel()
	emb := newVocabEmbedder()
	ix, _ := newTestIndexer(t, emb)
	ctx := context.Background()
	papers := corpus()

	embedded, skipped, err := ix.AddBatch(ctx, papers, true, nil)
	if err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if embedded != len(papers) || skipped != 0 {
		t.Fatalf("first batch: want %d/0, got %d/%d", len(papers), embedded, skipped)
	}
	callsAfterFirst := emb.Calls()

	rec := &recorder{}
	embedded, skipped, err = ix.AddBatch(ctx, papers, true, rec)
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if embedded != 0 || skipped != len(papers) {
		t.Errorf("second batch: want 0/%d, got %d/%d", len(papers), embedded, skipped)
	}
	if emb.Calls() != callsAfterFirst {
		t.Errorf("re-index made %d embedding calls, want none", emb.Calls()-callsAfterFirst)
	}
	if len(rec.got) != len(papers) {
		t.Errorf("want one progress event per paper, got %d", len(rec.got))
	}
}

func Test_Indexer_AddBatchProgressOrder(t *testing.T) {
	t.Parallel()
	ix, _ := newTestIndexer(t, newVocabEmbedder())
	ctx := context.Background()

	if err := ix.Add(ctx, 3, "graph transformers", nil, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	batch := []paper.Record{
		corpus()[0],
		{ID: 9, Title: "broken", Abstract: " "},
		corpus()[2],
		corpus()[1],
	}
	rec := &recorder{}
	embedded, skipped, err := ix.AddBatch(ctx, batch, true, rec)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if embedded != 2 || skipped != 1 {
		t.Errorf("want 2 embedded / 1 skipped (invalid counted in neither), got %d/%d", embedded, skipped)
	}

	want := []Progress{
		{Position: 1, Total: 4, PaperID: 1, Outcome: OutcomeEmbedded},
		{Position: 2, Total: 4, PaperID: 9, Outcome: OutcomeInvalid},
		{Position: 3, Total: 4, PaperID: 3, Outcome: OutcomeSkipped},
		{Position: 4, Total: 4, PaperID: 2, Outcome: OutcomeEmbedded},
	}
	if !reflect.DeepEqual(rec.got, want) {
		t.Errorf("progress mismatch:\nwant %+v\ngot  %+v", want, rec.got)
	}
}

func Test_Indexer_AddBatchWithoutSkipReplaces(t *testing.T) {
	t.Parallel()
	emb := newVocabEmbedder()
	ix, idx := newTestIndexer(t, emb)
	ctx := context.Background()
	papers := corpus()[:2]

	if _, _, err := ix.AddBatch(ctx, papers, true, nil); err != nil {
		t.Fatalf("first: %v", err)
	}
	var buf bytes.Buffer
	logCtx := logging.WithLogger(ctx, logging.NewWriter(&buf, "info", "json"))
	rec := &recorder{}
	embedded, skipped, err := ix.AddBatch(logCtx, append(papers, corpus()[2]), false, rec)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if embedded != 3 || skipped != 0 {
		t.Errorf("want 3/0, got %d/%d", embedded, skipped)
	}
	outcomes := []Outcome{rec.got[0].Outcome, rec.got[1].Outcome, rec.got[2].Outcome}
	if !reflect.DeepEqual(outcomes, []Outcome{OutcomeReplaced, OutcomeReplaced, OutcomeEmbedded}) {
		t.Errorf("outcomes = %v, want replaced, replaced, embedded", outcomes)
	}
	if got := strings.Count(buf.String(), `"msg":"index: replaced existing entry"`); got != 2 {
		t.Errorf("logged %d replacements, want 2:\n%s", got, buf.String())
	}
	if !strings.Contains(buf.String(), `"paper_id":1`) || !strings.Contains(buf.String(), `"paper_id":2`) {
		t.Errorf("replacement log should name the paper ids:\n%s", buf.String())
	}
	n, err := idx.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Errorf("replace must not duplicate entries, got %d", n)
	}
}

func Test_Indexer_AddBatchAbortsOnTransportError(t *testing.T) {
	t.Parallel()
	ix, idx := newTestIndexer(t, errEmbedder{err: errors.New("503 service unavailable")})
	ctx := context.Background()

	// Pre-seed paper 1 so the batch skips it before hitting the failing backend.
	if err := idx.Insert(ctx, []Entry{{ID: 1, Vector: []float32{1}, Document: "x"}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := &recorder{}
	embedded, skipped, err := ix.AddBatch(ctx, corpus(), true, rec)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("want TransportError, got %v", err)
	}
	if embedded != 0 || skipped != 1 {
		t.Errorf("want partial counts 0/1, got %d/%d", embedded, skipped)
	}
	if len(rec.got) != 1 {
		t.Errorf("want progress only for processed papers, got %d events", len(rec.got))
	}
}

func Test_Indexer_AddRefusesOverwrite(t *testing.T) {
	t.Parallel()
	emb := newVocabEmbedder()
	ix, _ := newTestIndexer(t, emb)
	ctx := context.Background()

	if err := ix.Add(ctx, 7, "first text", map[string]string{"topic": "A"}, nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	calls := emb.Calls()

	err := ix.Add(ctx, 7, "second text", nil, nil)
	if !errors.Is(err, ErrAlreadyIndexed) {
		t.Fatalf("want ErrAlreadyIndexed, got %v", err)
	}
	if emb.Calls() != calls {
		t.Error("refused add must not embed")
	}
}

func Test_Indexer_AddWithPrecomputedVector(t *testing.T) {
	t.Parallel()
	emb := newVocabEmbedder()
	ix, _ := newTestIndexer(t, emb)
	ctx := context.Background()

	if err := ix.Add(ctx, 5, "text", nil, []float32{0.1, 0.2}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if emb.Calls() != 0 {
		t.Error("precomputed vector should skip embedding")
	}
	ok, err := ix.Exists(ctx, 5)
	if err != nil || !ok {
		t.Errorf("want exists after add, got %v (%v)", ok, err)
	}
}

func Test_Indexer_ExistsAfterAddUntilDelete(t *testing.T) {
	t.Parallel()
	ix, idx := newTestIndexer(t, newVocabEmbedder())
	ctx := context.Background()

	if _, _, err := ix.AddBatch(ctx, corpus(), true, nil); err != nil {
		t.Fatalf("batch: %v", err)
	}
	for _, p := range corpus() {
		ok, err := ix.Exists(ctx, p.ID)
		if err != nil || !ok {
			t.Errorf("paper %d: want exists, got %v (%v)", p.ID, ok, err)
		}
	}

	if err := idx.Delete(ctx, []int64{2}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := ix.Exists(ctx, 2); ok {
		t.Error("deleted paper should not exist")
	}
	if err := idx.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if ok, _ := ix.Exists(ctx, 1); ok {
		t.Error("reset should remove every entry")
	}
}

func Test_Indexer_ValidatesInput(t *testing.T) {
	t.Parallel()
	ix, _ := newTestIndexer(t, newVocabEmbedder())
	ctx := context.Background()

	cases := map[string]error{
		"zero id":    ix.Add(ctx, 0, "text", nil, nil),
		"empty text": ix.Add(ctx, 1, "  ", nil, nil),
	}
	_, existsErr := ix.Exists(ctx, -1)
	cases["exists negative id"] = existsErr

	for name, err := range cases {
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("%s: want ValidationError, got %v", name, err)
		}
	}
}

// zeroEmbedder returns an all-zero vector for every input.
type zeroEmbedder struct{}

func (zeroEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, 4)
	}
	return out, nil
}

func Test_Indexer_RejectsZeroVectors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ix, idx := newTestIndexer(t, newVocabEmbedder())
	err := ix.Add(ctx, 5, "graph networks", nil, []float32{0, 0, 0})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Add with zero vector = %v, want ValidationError", err)
	}

	zx, zidx := newTestIndexer(t, zeroEmbedder{})
	rec := &recorder{}
	embedded, skipped, err := zx.AddBatch(ctx, corpus()[:2], true, rec)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if embedded != 0 || skipped != 0 {
		t.Errorf("want 0/0, got %d/%d", embedded, skipped)
	}
	for _, p := range rec.got {
		if p.Outcome != OutcomeInvalid {
			t.Errorf("paper %d outcome = %s, want invalid", p.PaperID, p.Outcome)
		}
	}
	for _, h := range []*SQLiteIndex{idx, zidx} {
		if n, _ := h.Count(ctx); n != 0 {
			t.Errorf("zero vectors were stored: count %d", n)
		}
	}
}
