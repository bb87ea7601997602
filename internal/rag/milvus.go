package rag

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// Milvus field names.
const (
	milvusFieldID       = "paper_id"
	milvusFieldVector   = "vector"
	milvusFieldDocument = "document"

	milvusVarCharMax  = "1024"
	milvusDocumentMax = "65535"

	milvusCountField = "count(*)"
)

// strongRead makes a query observe every write acknowledged before it. The
// SDK default (Bounded) may answer from a snapshot that misses a paper that
// was just inserted.
var strongRead = client.WithSearchQueryConsistencyLevel(entity.ClStrong)

// MilvusConfig holds connection parameters for a Milvus collection.
type MilvusConfig struct {
	// Address is host:port of the Milvus proxy (default: localhost:19530).
	Address string

	// Username and Password authenticate when set.
	Username string
	Password string

	// Database is the Milvus database (default: "default").
	Database string

	// Collection is the collection name.
	Collection string

	// VectorSize is the embedding dimension.
	VectorSize int

	// UseTLS enables TLS.
	UseTLS bool
}

// MilvusIndex implements VectorIndex on a Milvus collection with an HNSW
// cosine index. Filters compile to Milvus boolean expressions.
type MilvusIndex struct {
	// client is the Milvus gRPC client.
	client client.Client

	// cfg is the resolved configuration.
	cfg MilvusConfig
}

// NewMilvusIndex connects to Milvus, ensures the collection exists with its
// vector index, and loads it for search.
func NewMilvusIndex(ctx context.Context, cfg MilvusConfig) (*MilvusIndex, error) {
	if cfg.Address == "" {
		cfg.Address = "localhost:19530"
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("milvus: collection name must not be empty")
	}
	if cfg.VectorSize <= 0 {
		return nil, fmt.Errorf("milvus: vector size must be set")
	}

	c, err := client.NewClient(ctx, client.Config{
		Address:       cfg.Address,
		DBName:        cfg.Database,
		Username:      cfg.Username,
		Password:      cfg.Password,
		EnableTLSAuth: cfg.UseTLS,
	})
	if err != nil {
		return nil, &TransportError{Backend: "milvus", Op: "connect", Err: err}
	}

	idx := &MilvusIndex{client: c, cfg: cfg}
	if err := idx.ensureCollection(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return idx, nil
}

func (m *MilvusIndex) schema() *entity.Schema {
	fields := []*entity.Field{
		{Name: milvusFieldID, DataType: entity.FieldTypeInt64, PrimaryKey: true, AutoID: false},
		{
			Name:       milvusFieldVector,
			DataType:   entity.FieldTypeFloatVector,
			TypeParams: map[string]string{"dim": strconv.Itoa(m.cfg.VectorSize)},
		},
		{
			Name:       milvusFieldDocument,
			DataType:   entity.FieldTypeVarChar,
			TypeParams: map[string]string{"max_length": milvusDocumentMax},
		},
	}
	for _, d := range Dimensions {
		fields = append(fields, &entity.Field{
			Name:       string(d),
			DataType:   entity.FieldTypeVarChar,
			TypeParams: map[string]string{"max_length": milvusVarCharMax},
		})
	}
	return &entity.Schema{
		CollectionName: m.cfg.Collection,
		Description:    "paper abstract embeddings",
		Fields:         fields,
	}
}

// ensureCollection creates, indexes and loads the collection if needed.
func (m *MilvusIndex) ensureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.cfg.Collection)
	if err != nil {
		return m.transport("has_collection", err)
	}
	if !has {
		if err := m.client.CreateCollection(ctx, m.schema(), entity.DefaultShardNumber,
			client.WithConsistencyLevel(entity.ClStrong)); err != nil {
			return m.transport("create_collection", err)
		}
		index, err := entity.NewIndexHNSW(entity.COSINE, 16, 200)
		if err != nil {
			return fmt.Errorf("milvus: build index params: %w", err)
		}
		if err := m.client.CreateIndex(ctx, m.cfg.Collection, milvusFieldVector, index, false); err != nil {
			return m.transport("create_index", err)
		}
	}
	if err := m.client.LoadCollection(ctx, m.cfg.Collection, false); err != nil {
		return m.transport("load_collection", err)
	}
	return nil
}

// Exists queries the primary key.
func (m *MilvusIndex) Exists(ctx context.Context, id int64) (bool, error) {
	expr := fmt.Sprintf("%s in [%d]", milvusFieldID, id)
	rs, err := m.client.Query(ctx, m.cfg.Collection, nil, expr, []string{milvusFieldID}, strongRead)
	if err != nil {
		return false, m.transport("exists", err)
	}
	for _, col := range rs {
		if col.Name() == milvusFieldID {
			return col.Len() > 0, nil
		}
	}
	return false, nil
}

// Insert upserts entries column-wise. Sealing segments is left to Milvus;
// strong reads see the rows without a flush.
func (m *MilvusIndex) Insert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(entries))
	vectors := make([][]float32, 0, len(entries))
	docs := make([]string, 0, len(entries))
	meta := make(map[Dimension][]string, len(Dimensions))
	for _, e := range entries {
		if len(e.Vector) != m.cfg.VectorSize {
			return fmt.Errorf("milvus: paper %d: vector has %d dimensions, collection expects %d",
				e.ID, len(e.Vector), m.cfg.VectorSize)
		}
		ids = append(ids, e.ID)
		vectors = append(vectors, e.Vector)
		docs = append(docs, e.Document)
		for _, d := range Dimensions {
			meta[d] = append(meta[d], e.Metadata[string(d)])
		}
	}

	columns := []entity.Column{
		entity.NewColumnInt64(milvusFieldID, ids),
		entity.NewColumnFloatVector(milvusFieldVector, m.cfg.VectorSize, vectors),
		entity.NewColumnVarChar(milvusFieldDocument, docs),
	}
	for _, d := range Dimensions {
		columns = append(columns, entity.NewColumnVarChar(string(d), meta[d]))
	}

	if _, err := m.client.Upsert(ctx, m.cfg.Collection, "", columns...); err != nil {
		return m.transport("upsert", err)
	}
	return nil
}

// Search runs an HNSW cosine search restricted by the compiled expression.
func (m *MilvusIndex) Search(ctx context.Context, vector []float32, k int, filter CompiledFilter) ([]Hit, error) {
	sp, err := entity.NewIndexHNSWSearchParam(max(64, k))
	if err != nil {
		return nil, fmt.Errorf("milvus: search params: %w", err)
	}
	output := []string{milvusFieldDocument}
	for _, d := range Dimensions {
		output = append(output, string(d))
	}

	results, err := m.client.Search(ctx, m.cfg.Collection, nil, milvusExpr(filter), output,
		[]entity.Vector{entity.FloatVector(vector)}, milvusFieldVector, entity.COSINE, k, sp, strongRead)
	if err != nil {
		return nil, m.transport("search", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	res := results[0]
	if res.Err != nil {
		return nil, m.transport("search", res.Err)
	}

	var ids []int64
	if col, ok := res.IDs.(*entity.ColumnInt64); ok {
		ids = col.Data()
	}
	fields := make(map[string][]string, len(output))
	for _, col := range res.Fields {
		if vc, ok := col.(*entity.ColumnVarChar); ok {
			fields[col.Name()] = vc.Data()
		}
	}

	hits := make([]Hit, 0, res.ResultCount)
	for i := 0; i < res.ResultCount && i < len(ids); i++ {
		h := Hit{ID: FormatKey(ids[i]), Metadata: make(map[string]string)}
		if i < len(res.Scores) {
			// COSINE scores are similarities.
			h.Distance = 1 - res.Scores[i]
		}
		if docs := fields[milvusFieldDocument]; i < len(docs) {
			h.Document = docs[i]
		}
		for _, d := range Dimensions {
			if vals := fields[string(d)]; i < len(vals) && vals[i] != "" {
				h.Metadata[string(d)] = vals[i]
			}
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// milvusExpr compiles a CompiledFilter into a Milvus boolean expression,
// e.g. `session in ["A", "B"] || topic in ["C"]`.
func milvusExpr(f CompiledFilter) string {
	if f.Empty() {
		return ""
	}
	parts := make([]string, 0, len(f.Clauses))
	for _, cl := range f.Clauses {
		quoted := make([]string, len(cl.Values))
		for i, v := range cl.Values {
			quoted[i] = strconv.Quote(v)
		}
		parts = append(parts, fmt.Sprintf("%s in [%s]", cl.Dimension, strings.Join(quoted, ", ")))
	}
	return strings.Join(parts, " || ")
}

// Delete removes entries by primary key.
func (m *MilvusIndex) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := m.client.DeleteByPks(ctx, m.cfg.Collection, "", entity.NewColumnInt64(milvusFieldID, ids)); err != nil {
		return m.transport("delete", err)
	}
	return nil
}

// Reset drops and recreates the collection.
func (m *MilvusIndex) Reset(ctx context.Context) error {
	if err := m.client.DropCollection(ctx, m.cfg.Collection); err != nil {
		return m.transport("drop_collection", err)
	}
	return m.ensureCollection(ctx)
}

// Count runs a strong count(*) query. Collection statistics only cover
// flushed segments and would lag behind recent inserts.
func (m *MilvusIndex) Count(ctx context.Context) (int, error) {
	expr := fmt.Sprintf("%s > 0", milvusFieldID)
	rs, err := m.client.Query(ctx, m.cfg.Collection, nil, expr, []string{milvusCountField}, strongRead)
	if err != nil {
		return 0, m.transport("count", err)
	}
	col := rs.GetColumn(milvusCountField)
	if col == nil || col.Len() == 0 {
		return 0, fmt.Errorf("milvus: count query returned no %s column", milvusCountField)
	}
	n, err := col.GetAsInt64(0)
	if err != nil {
		return 0, fmt.Errorf("milvus: read count: %w", err)
	}
	return int(n), nil
}

// Close closes the client connection.
func (m *MilvusIndex) Close() error {
	return m.client.Close()
}

func (m *MilvusIndex) transport(op string, err error) error {
	return &TransportError{Backend: "milvus", Op: op, Err: err}
}
