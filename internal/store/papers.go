package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/54b3r/paperrag/internal/paper"
)

const paperColumns = `id, title, abstract, authors, session, topic, eventtype, decision, poster_position, resources`

// PutPapers validates and upserts papers in a single transaction. The first
// invalid record aborts the whole write; the returned error wraps
// paper.ErrInvalid in that case.
func (s *SQLiteStore) PutPapers(ctx context.Context, papers []paper.Record) error {
	for _, p := range papers {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("store: put papers: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: put papers: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
INSERT INTO papers (` + paperColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    title = excluded.title, abstract = excluded.abstract, authors = excluded.authors,
    session = excluded.session, topic = excluded.topic, eventtype = excluded.eventtype,
    decision = excluded.decision, poster_position = excluded.poster_position,
    resources = excluded.resources`

	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("store: put papers: prepare: %w", err)
	}
	defer stmt.Close()

	for _, p := range papers {
		authors, err := json.Marshal(nonNil(p.Authors))
		if err != nil {
			return fmt.Errorf("store: put paper %d: authors: %w", p.ID, err)
		}
		resources, err := json.Marshal(nonNilResources(p.Resources))
		if err != nil {
			return fmt.Errorf("store: put paper %d: resources: %w", p.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, p.ID, p.Title, p.Abstract, string(authors),
			p.Session, p.Topic, p.EventType, p.Decision, p.PosterPosition, string(resources)); err != nil {
			return fmt.Errorf("store: put paper %d: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: put papers: commit: %w", err)
	}
	return nil
}

// GetPaperByID returns the paper with the given id. A missing paper, or a
// non-positive id, is reported as found=false with a nil error.
func (s *SQLiteStore) GetPaperByID(ctx context.Context, id int64) (paper.Record, bool, error) {
	if id <= 0 {
		return paper.Record{}, false, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+paperColumns+` FROM papers WHERE id = ?`, id)
	p, err := scanPaper(row)
	if errors.Is(err, sql.ErrNoRows) {
		return paper.Record{}, false, nil
	}
	if err != nil {
		return paper.Record{}, false, fmt.Errorf("store: get paper %d: %w", id, err)
	}
	return p, true, nil
}

// ListPapers returns every stored paper ordered by id.
func (s *SQLiteStore) ListPapers(ctx context.Context) ([]paper.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+paperColumns+` FROM papers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list papers: %w", err)
	}
	defer rows.Close()

	var out []paper.Record
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list papers scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list papers rows: %w", err)
	}
	return out, nil
}

// CountPapers returns the number of stored papers.
func (s *SQLiteStore) CountPapers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM papers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count papers: %w", err)
	}
	return n, nil
}

// FilterDomain returns, per filterable metadata field, the sorted distinct
// non-empty values observed across all stored papers.
func (s *SQLiteStore) FilterDomain(ctx context.Context) (map[string][]string, error) {
	domain := make(map[string][]string, 4)
	for _, field := range []string{paper.FieldSession, paper.FieldTopic, paper.FieldEventType, paper.FieldDecision} {
		// field comes from a fixed list, never from caller input.
		q := `SELECT DISTINCT ` + field + ` FROM papers WHERE ` + field + ` <> '' ORDER BY ` + field
		rows, err := s.db.QueryContext(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("store: filter domain %s: %w", field, err)
		}
		var values []string
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				rows.Close()
				return nil, fmt.Errorf("store: filter domain %s scan: %w", field, err)
			}
			values = append(values, v)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("store: filter domain %s rows: %w", field, err)
		}
		domain[field] = values
	}
	return domain, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaper(r rowScanner) (paper.Record, error) {
	var p paper.Record
	var authors, resources string
	if err := r.Scan(&p.ID, &p.Title, &p.Abstract, &authors, &p.Session, &p.Topic,
		&p.EventType, &p.Decision, &p.PosterPosition, &resources); err != nil {
		return paper.Record{}, err
	}
	if err := json.Unmarshal([]byte(authors), &p.Authors); err != nil {
		return paper.Record{}, fmt.Errorf("decode authors of paper %d: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(resources), &p.Resources); err != nil {
		return paper.Record{}, fmt.Errorf("decode resources of paper %d: %w", p.ID, err)
	}
	if len(p.Authors) == 0 {
		p.Authors = nil
	}
	if len(p.Resources) == 0 {
		p.Resources = nil
	}
	return p, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilResources(r []paper.Resource) []paper.Resource {
	if r == nil {
		return []paper.Resource{}
	}
	return r
}
