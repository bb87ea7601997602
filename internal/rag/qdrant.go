package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// Payload keys written alongside every Qdrant point.
const (
	payloadKey      = "paper_key"
	payloadDocument = "document"
)

// QdrantConfig holds connection parameters for a Qdrant collection.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantIndex implements VectorIndex on a Qdrant collection. Points are keyed
// by the numeric paper id, so an upsert with an existing id replaces it.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this index.
	cfg QdrantConfig
}

// NewQdrantClient dials the Qdrant gRPC endpoint described by cfg. It is
// also used on its own for readiness probes.
func NewQdrantClient(cfg QdrantConfig) (*qdrant.Client, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}
	return client, nil
}

// NewQdrantIndex connects to Qdrant and ensures the target collection exists
// (creating it and its keyword payload indexes if necessary).
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig) (*QdrantIndex, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant: collection name must not be empty")
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("qdrant: vector size must be set")
	}

	client, err := NewQdrantClient(cfg)
	if err != nil {
		return nil, err
	}

	idx := &QdrantIndex{client: client, cfg: cfg}
	if err := idx.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return idx, nil
}

// ensureCollection creates the collection and payload indexes if absent.
func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return q.transport("collection_exists", err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return q.transport("create_collection", fmt.Errorf("collection %q: %w", q.cfg.Collection, err))
	}

	for _, d := range Dimensions {
		_, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.cfg.Collection,
			FieldName:      string(d),
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return q.transport("create_field_index", fmt.Errorf("field %q: %w", d, err))
		}
	}
	return nil
}

// Exists reports whether a point with the paper id is present.
func (q *QdrantIndex) Exists(ctx context.Context, id int64) (bool, error) {
	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.cfg.Collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDNum(uint64(id))},
	})
	if err != nil {
		return false, q.transport("exists", err)
	}
	return len(points) > 0, nil
}

// Insert upserts entries as points.
func (q *QdrantIndex) Insert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(entries))
	for _, e := range entries {
		payload := map[string]any{
			payloadKey:      e.Key(),
			payloadDocument: e.Document,
		}
		for k, v := range e.Metadata {
			payload[k] = v
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(e.ID)),
			Vectors: qdrant.NewVectors(e.Vector...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return q.transport("upsert", err)
	}
	return nil
}

// Search runs a cosine nearest-neighbour query with the compiled filter.
func (q *QdrantIndex) Search(ctx context.Context, vector []float32, k int, filter CompiledFilter) ([]Hit, error) {
	limit := uint64(k)
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         qdrantFilter(filter),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, q.transport("search", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		h := Hit{
			ID:       FormatKey(int64(r.GetId().GetNum())),
			Distance: 1 - r.GetScore(),
			Metadata: make(map[string]string),
		}
		for k, v := range r.GetPayload() {
			switch k {
			case payloadKey:
				h.ID = v.GetStringValue()
			case payloadDocument:
				h.Document = v.GetStringValue()
			default:
				h.Metadata[k] = v.GetStringValue()
			}
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// qdrantFilter compiles a CompiledFilter into Qdrant's native form: one
// keyword-membership condition per clause under Should (logical OR).
func qdrantFilter(f CompiledFilter) *qdrant.Filter {
	if f.Empty() {
		return nil
	}
	conds := make([]*qdrant.Condition, 0, len(f.Clauses))
	for _, cl := range f.Clauses {
		conds = append(conds, qdrant.NewMatchKeywords(string(cl.Dimension), cl.Values...))
	}
	return &qdrant.Filter{Should: conds}
}

// Delete removes points by paper id.
func (q *QdrantIndex) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDNum(uint64(id)))
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return q.transport("delete", err)
	}
	return nil
}

// Reset drops and recreates the collection.
func (q *QdrantIndex) Reset(ctx context.Context) error {
	if err := q.client.DeleteCollection(ctx, q.cfg.Collection); err != nil {
		return q.transport("delete_collection", err)
	}
	return q.ensureCollection(ctx)
}

// Count returns the exact number of points in the collection.
func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.cfg.Collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, q.transport("count", err)
	}
	return int(n), nil
}

// Close closes the underlying Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

func (q *QdrantIndex) transport(op string, err error) error {
	return &TransportError{Backend: "qdrant", Op: op, Err: err}
}
