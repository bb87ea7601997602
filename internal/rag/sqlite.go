package rag

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// SQLiteIndex is a VectorIndex stored in a local SQLite file. Search is an
// exact brute-force cosine scan, which suits corpora of a few tens of
// thousands of abstracts on a single host.
type SQLiteIndex struct {
	// db is the underlying database handle.
	db *sql.DB

	// collection namespaces entries within the shared table.
	collection string
}

// OpenSQLiteIndex opens (or creates) the index at path. ":memory:" gives a
// private in-memory index, useful in tests.
func OpenSQLiteIndex(ctx context.Context, path, collection string) (*SQLiteIndex, error) {
	if collection == "" {
		return nil, fmt.Errorf("sqlite index: collection name must not be empty")
	}
	dsn := path
	if path != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite index: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	const ddl = `
CREATE TABLE IF NOT EXISTS index_entries (
    collection TEXT    NOT NULL,
    paper_id   INTEGER NOT NULL,
    vector     BLOB    NOT NULL,
    document   TEXT    NOT NULL,
    metadata   TEXT    NOT NULL DEFAULT '{}',
    PRIMARY KEY (collection, paper_id)
);`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite index: migrate: %w", err)
	}
	return &SQLiteIndex{db: db, collection: collection}, nil
}

// Exists reports whether id has an entry.
func (s *SQLiteIndex) Exists(ctx context.Context, id int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM index_entries WHERE collection = ? AND paper_id = ?`, s.collection, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite index: exists %d: %w", id, err)
	}
	return true, nil
}

// Insert writes entries, replacing existing ones with the same id.
func (s *SQLiteIndex) Insert(ctx context.Context, entries []Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite index: insert: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range entries {
		blob, err := encodeVector(e.Vector)
		if err != nil {
			return fmt.Errorf("sqlite index: insert %d: %w", e.ID, err)
		}
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("sqlite index: insert %d: metadata: %w", e.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO index_entries (collection, paper_id, vector, document, metadata) VALUES (?, ?, ?, ?, ?)`,
			s.collection, e.ID, blob, e.Document, string(meta)); err != nil {
			return fmt.Errorf("sqlite index: insert %d: %w", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite index: insert: commit: %w", err)
	}
	return nil
}

// Search scans every entry of the collection, applies filter and returns the
// k nearest by cosine distance. Ties are broken by ascending paper id.
func (s *SQLiteIndex) Search(ctx context.Context, vector []float32, k int, filter CompiledFilter) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT paper_id, vector, document, metadata FROM index_entries WHERE collection = ?`, s.collection)
	if err != nil {
		return nil, fmt.Errorf("sqlite index: search: %w", err)
	}
	defer rows.Close()

	type scored struct {
		id  int64
		hit Hit
	}
	var candidates []scored
	for rows.Next() {
		var (
			id        int64
			blob      []byte
			doc, meta string
		)
		if err := rows.Scan(&id, &blob, &doc, &meta); err != nil {
			return nil, fmt.Errorf("sqlite index: search scan: %w", err)
		}
		var metadata map[string]string
		if err := json.Unmarshal([]byte(meta), &metadata); err != nil {
			return nil, fmt.Errorf("sqlite index: entry %d metadata: %w", id, err)
		}
		if !filter.Matches(metadata) {
			continue
		}
		stored, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("sqlite index: entry %d: %w", id, err)
		}
		dist, err := cosineDistance(vector, stored)
		if err != nil {
			return nil, fmt.Errorf("sqlite index: entry %d: %w", id, err)
		}
		candidates = append(candidates, scored{id: id, hit: Hit{
			ID: FormatKey(id), Distance: dist, Document: doc, Metadata: metadata,
		}})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite index: search rows: %w", err)
	}

	slices.SortFunc(candidates, func(a, b scored) int {
		if c := cmp.Compare(a.hit.Distance, b.hit.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	hits := make([]Hit, len(candidates))
	for i, c := range candidates {
		hits[i] = c.hit
	}
	return hits, nil
}

// Delete removes entries by id.
func (s *SQLiteIndex) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, s.collection)
	for _, id := range ids {
		args = append(args, id)
	}
	q := `DELETE FROM index_entries WHERE collection = ? AND paper_id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("sqlite index: delete: %w", err)
	}
	return nil
}

// Reset removes every entry of the collection.
func (s *SQLiteIndex) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM index_entries WHERE collection = ?`, s.collection); err != nil {
		return fmt.Errorf("sqlite index: reset: %w", err)
	}
	return nil
}

// Count returns the number of entries in the collection.
func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM index_entries WHERE collection = ?`, s.collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite index: count: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (s *SQLiteIndex) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("sqlite index: close: %w", err)
	}
	return nil
}
