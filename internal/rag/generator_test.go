package rag

import (
	"context"
	"errors"
	"testing"
	"time"
)

// blockingEmbedder waits for ctx to be cancelled.
type blockingEmbedder struct{}

func (blockingEmbedder) Embed(ctx context.Context, _ []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// shortEmbedder returns the wrong number of vectors.
type shortEmbedder struct{}

func (shortEmbedder) Embed(context.Context, []string) ([][]float32, error) { return nil, nil }

func Test_Generator_EmptyTextIsValidationError(t *testing.T) {
	t.Parallel()
	emb := newVocabEmbedder()
	g := mustGenerator(emb)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := g.Embed(context.Background(), text)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("text %q: want ValidationError, got %v", text, err)
		}
	}
	if emb.Calls() != 0 {
		t.Errorf("backend must not be called for empty text, got %d calls", emb.Calls())
	}
}

func Test_Generator_BackendFailureIsTransportError(t *testing.T) {
	t.Parallel()
	g := mustGenerator(errEmbedder{err: errors.New("connection refused")})

	_, err := g.Embed(context.Background(), "hello")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("want TransportError, got %v", err)
	}
	if te.Backend != "test" || te.Op != "embed" {
		t.Errorf("unexpected labels: %+v", te)
	}
}

func Test_Generator_PreservesBackendStatus(t *testing.T) {
	t.Parallel()
	upstream := &TransportError{Backend: "openai", Op: "embed", Status: 429}
	g := mustGenerator(errEmbedder{err: upstream})

	_, err := g.Embed(context.Background(), "hello")
	var te *TransportError
	if !errors.As(err, &te) || te.Status != 429 {
		t.Errorf("want status 429 preserved, got %v", err)
	}
}

func Test_Generator_TimeoutIsTransportError(t *testing.T) {
	t.Parallel()
	g, err := NewGenerator(blockingEmbedder{}, "slow", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	_, err = g.Embed(context.Background(), "hello")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("want TransportError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("want wrapped DeadlineExceeded, got %v", err)
	}
}

func Test_Generator_WrongVectorCount(t *testing.T) {
	t.Parallel()
	g := mustGenerator(shortEmbedder{})
	_, err := g.Embed(context.Background(), "hello")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Errorf("want TransportError, got %v", err)
	}
}

func Test_Generator_Success(t *testing.T) {
	t.Parallel()
	g := mustGenerator(newVocabEmbedder())
	v, err := g.Embed(context.Background(), "  graph graph molecules ")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if v[0] != 2 || v[1] != 1 {
		t.Errorf("unexpected vector head: %v", v[:3])
	}
}

func Test_NewGenerator_RequiresEmbedder(t *testing.T) {
	t.Parallel()
	if _, err := NewGenerator(nil, "x", 0); err == nil {
		t.Error("nil embedder should fail")
	}
}
