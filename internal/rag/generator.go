package rag

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultEmbedTimeout bounds a single embedding call. Chat calls get a longer
// budget; see the conversation package.
const DefaultEmbedTimeout = 30 * time.Second

// Generator turns one text into one vector through a batch Embedder, under a
// fixed timeout and without retries.
type Generator struct {
	// embedder is the backend that computes vectors.
	embedder Embedder

	// backend names the embedder in TransportErrors.
	backend string

	// timeout bounds every call.
	timeout time.Duration
}

// NewGenerator wraps embedder. backend is a label used in errors and logs.
// A zero timeout selects DefaultEmbedTimeout.
func NewGenerator(embedder Embedder, backend string, timeout time.Duration) (*Generator, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if timeout <= 0 {
		timeout = DefaultEmbedTimeout
	}
	if backend == "" {
		backend = "embedder"
	}
	return &Generator{embedder: embedder, backend: backend, timeout: timeout}, nil
}

// Backend returns the label of the wrapped embedder.
func (g *Generator) Backend() string { return g.backend }

// Embed returns the vector for text. Text that is empty after trimming is a
// ValidationError; every backend failure, including the timeout, is a
// TransportError.
func (g *Generator) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalid("text", "must not be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	vectors, err := g.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, asTransport(g.backend, "embed", err)
	}
	if len(vectors) != 1 {
		return nil, &TransportError{
			Backend: g.backend,
			Op:      "embed",
			Err:     fmt.Errorf("backend returned %d vectors for 1 input", len(vectors)),
		}
	}
	if len(vectors[0]) == 0 {
		return nil, &TransportError{Backend: g.backend, Op: "embed", Err: fmt.Errorf("backend returned an empty vector")}
	}
	return vectors[0], nil
}
