package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/paperrag/internal/provider"
	"github.com/54b3r/paperrag/internal/rag"
)

// LLMPinger probes a chat backend. It satisfies the Pinger interface and is
// used by GET /api/ready.
type LLMPinger struct {
	// model is probed with a one-word Generate call when no health check
	// is available.
	model model.BaseChatModel
	// healthCheck is a zero-token probe; preferred when non-nil.
	healthCheck provider.HealthCheckConfig
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger constructs an LLMPinger for the given model and backend name.
func NewLLMPinger(m model.BaseChatModel, hc provider.HealthCheckConfig, name string) *LLMPinger {
	return &LLMPinger{model: m, healthCheck: hc, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping probes the LLM backend for readiness. When a zero-cost HealthCheckConfig
// is available it is used exclusively; otherwise it falls back to a tiny
// Generate call, which consumes tokens.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if p.healthCheck != nil {
		if err := p.healthCheck.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s health check failed: %w", p.name, err)
		}
		return nil
	}
	if p.model == nil {
		return fmt.Errorf("%s: no model configured", p.name)
	}

	slog.Warn("pinger: falling back to Generate-based health check; tokens will be consumed",
		slog.String("backend", p.name),
	)
	resp, err := p.model.Generate(ctx, []*schema.Message{schema.UserMessage("ping")})
	if err != nil {
		return fmt.Errorf("generate failed: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("generate returned nil response")
	}
	return nil
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to probe.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
// Returns nil if Qdrant is reachable, or a descriptive error otherwise.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	_, err := p.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// IndexPinger opens a fresh index handle and counts the collection. It works
// for every index backend.
type IndexPinger struct {
	// open dials a handle.
	open rag.Opener
	// name is the backend label.
	name string
}

// NewIndexPinger constructs an IndexPinger.
func NewIndexPinger(open rag.Opener, name string) *IndexPinger {
	return &IndexPinger{open: open, name: name}
}

// Name returns the dependency label used in readiness responses.
func (p *IndexPinger) Name() string { return "index:" + p.name }

// Ping opens, counts and closes.
func (p *IndexPinger) Ping(ctx context.Context) error {
	idx, err := p.open(ctx)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer idx.Close()
	if _, err := idx.Count(ctx); err != nil {
		return fmt.Errorf("count: %w", err)
	}
	return nil
}

// StorePinger probes the paper store.
type StorePinger struct {
	// ping is the store's ping method.
	ping func(ctx context.Context) error
}

// NewStorePinger wraps a store ping function.
func NewStorePinger(ping func(ctx context.Context) error) *StorePinger {
	return &StorePinger{ping: ping}
}

// Name returns the dependency label used in readiness responses.
func (p *StorePinger) Name() string { return "paper_store" }

// Ping runs the store ping.
func (p *StorePinger) Ping(ctx context.Context) error { return p.ping(ctx) }
