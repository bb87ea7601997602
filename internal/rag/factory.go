package rag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Index backend names accepted by INDEX_BACKEND.
const (
	BackendSQLite = "sqlite"
	BackendQdrant = "qdrant"
	BackendMilvus = "milvus"
)

// DefaultCollection is the collection name used when INDEX_COLLECTION is unset.
const DefaultCollection = "papers"

// IndexConfig selects and configures a VectorIndex backend.
type IndexConfig struct {
	// Backend is one of sqlite, qdrant, milvus.
	Backend string

	// Collection is the collection name shared by all backends.
	Collection string

	// VectorSize is the embedding dimension (qdrant and milvus need it up front).
	VectorSize int

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string

	// Qdrant holds the qdrant connection settings.
	Qdrant QdrantConfig

	// Milvus holds the milvus connection settings.
	Milvus MilvusConfig
}

// IndexConfigFromEnv reads the index configuration from the environment.
//
//	INDEX_BACKEND      sqlite | qdrant | milvus (default: sqlite)
//	INDEX_COLLECTION   collection name (default: papers)
//	PAPERRAG_INDEX_DB  sqlite index file (default: ~/.paperrag/index.db)
//	QDRANT_HOST, QDRANT_PORT, QDRANT_API_KEY, QDRANT_TLS
//	MILVUS_ADDRESS, MILVUS_USERNAME, MILVUS_PASSWORD, MILVUS_DATABASE, MILVUS_TLS
func IndexConfigFromEnv(vectorSize int) IndexConfig {
	collection := envOr("INDEX_COLLECTION", DefaultCollection)
	sqlitePath := os.Getenv("PAPERRAG_INDEX_DB")
	if sqlitePath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			sqlitePath = filepath.Join(home, ".paperrag", "index.db")
		}
	}
	port, _ := strconv.Atoi(os.Getenv("QDRANT_PORT"))

	return IndexConfig{
		Backend:    envOr("INDEX_BACKEND", BackendSQLite),
		Collection: collection,
		VectorSize: vectorSize,
		SQLitePath: sqlitePath,
		Qdrant: QdrantConfig{
			Host:       os.Getenv("QDRANT_HOST"),
			Port:       port,
			Collection: collection,
			VectorSize: uint64(max(vectorSize, 0)),
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		},
		Milvus: MilvusConfig{
			Address:    os.Getenv("MILVUS_ADDRESS"),
			Username:   os.Getenv("MILVUS_USERNAME"),
			Password:   os.Getenv("MILVUS_PASSWORD"),
			Database:   os.Getenv("MILVUS_DATABASE"),
			Collection: collection,
			VectorSize: vectorSize,
			UseTLS:     os.Getenv("MILVUS_TLS") == "true",
		},
	}
}

// NewOpener validates cfg and returns an Opener that dials a fresh handle on
// every call.
func NewOpener(cfg IndexConfig) (Opener, error) {
	switch cfg.Backend {
	case BackendSQLite:
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("rag: sqlite index requires PAPERRAG_INDEX_DB")
		}
		if cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o700); err != nil {
				return nil, fmt.Errorf("rag: create index directory: %w", err)
			}
		}
		return func(ctx context.Context) (VectorIndex, error) {
			return OpenSQLiteIndex(ctx, cfg.SQLitePath, cfg.Collection)
		}, nil

	case BackendQdrant:
		if cfg.Qdrant.VectorSize == 0 {
			return nil, fmt.Errorf("rag: qdrant index requires a vector size")
		}
		return func(ctx context.Context) (VectorIndex, error) {
			return NewQdrantIndex(ctx, cfg.Qdrant)
		}, nil

	case BackendMilvus:
		if cfg.Milvus.VectorSize <= 0 {
			return nil, fmt.Errorf("rag: milvus index requires a vector size")
		}
		return func(ctx context.Context) (VectorIndex, error) {
			return NewMilvusIndex(ctx, cfg.Milvus)
		}, nil

	default:
		return nil, fmt.Errorf("rag: unknown index backend %q (valid: sqlite, qdrant, milvus)", cfg.Backend)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
