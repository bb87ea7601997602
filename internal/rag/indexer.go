package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/paperrag/internal/logging"
	"github.com/54b3r/paperrag/internal/paper"
)

// Outcome is what AddBatch did with one paper.
type Outcome string

const (
	// OutcomeEmbedded means the paper was embedded and written.
	OutcomeEmbedded Outcome = "embedded"
	// OutcomeSkipped means the paper already had an entry.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeReplaced means the paper already had an entry, was re-embedded
	// and its entry overwritten. Only AddBatch without skipExisting does this.
	OutcomeReplaced Outcome = "replaced"
	// OutcomeInvalid means the paper failed validation and was not indexed.
	OutcomeInvalid Outcome = "invalid"
)

// Progress is a single "one paper processed" notification.
type Progress struct {
	// Position is the 1-based position of the paper in the batch.
	Position int

	// Total is the batch size.
	Total int

	// PaperID is the id of the processed paper.
	PaperID int64

	// Outcome is what happened to it.
	Outcome Outcome
}

// Observer receives one notification per processed paper, in batch order.
type Observer interface {
	Processed(Progress)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Progress)

// Processed calls f(p).
func (f ObserverFunc) Processed(p Progress) { f(p) }

// Indexer populates a VectorIndex from papers.
type Indexer struct {
	// generator embeds abstracts.
	generator *Generator

	// index is the target collection handle.
	index VectorIndex
}

// NewIndexer constructs an Indexer over an open index handle.
func NewIndexer(generator *Generator, index VectorIndex) (*Indexer, error) {
	if generator == nil {
		return nil, fmt.Errorf("rag: generator must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("rag: index must not be nil")
	}
	return &Indexer{generator: generator, index: index}, nil
}

// Exists reports whether the paper has an entry.
func (ix *Indexer) Exists(ctx context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, invalid("paper_id", "must be positive, got %d", id)
	}
	ok, err := ix.index.Exists(ctx, id)
	if err != nil {
		return false, asTransport("index", "exists", err)
	}
	return ok, nil
}

// Add indexes one paper. When vector is nil the text is embedded first.
// Add refuses to overwrite: if the id already has an entry it returns an
// error wrapping ErrAlreadyIndexed and performs no embedding call.
func (ix *Indexer) Add(ctx context.Context, id int64, text string, metadata map[string]string, vector []float32) error {
	if id <= 0 {
		return invalid("paper_id", "must be positive, got %d", id)
	}
	if strings.TrimSpace(text) == "" {
		return invalid("text", "must not be empty")
	}

	exists, err := ix.Exists(ctx, id)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("rag: add paper %d: %w", id, ErrAlreadyIndexed)
	}

	return ix.write(ctx, id, text, metadata, vector)
}

// AddBatch indexes papers in the order supplied and returns how many were
// embedded and how many were skipped because they already had an entry.
//
// With skipExisting, re-running over an unchanged corpus makes no embedding
// calls. Without it every valid paper is re-embedded and an existing entry
// replaced; each replacement is logged and reported as OutcomeReplaced, and
// counts as embedded.
// Invalid papers are logged, reported to the observer, and counted in
// neither total. A TransportError aborts the batch; the counts returned
// alongside it cover the papers processed before the failure.
func (ix *Indexer) AddBatch(ctx context.Context, papers []paper.Record, skipExisting bool, observer Observer) (embedded, skipped int, err error) {
	log := logging.FromContext(ctx)
	total := len(papers)

	notify := func(pos int, id int64, o Outcome) {
		if observer != nil {
			observer.Processed(Progress{Position: pos, Total: total, PaperID: id, Outcome: o})
		}
	}

	for i, p := range papers {
		pos := i + 1

		if vErr := p.Validate(); vErr != nil {
			log.Warn("index: skipping invalid paper",
				slog.Int64("paper_id", p.ID),
				slog.Any("error", vErr),
			)
			notify(pos, p.ID, OutcomeInvalid)
			continue
		}

		exists, xErr := ix.Exists(ctx, p.ID)
		if xErr != nil {
			return embedded, skipped, fmt.Errorf("rag: add batch: paper %d: %w", p.ID, xErr)
		}
		if exists && skipExisting {
			skipped++
			notify(pos, p.ID, OutcomeSkipped)
			continue
		}

		if wErr := ix.write(ctx, p.ID, p.Abstract, p.Metadata(), nil); wErr != nil {
			var ve *ValidationError
			if errors.As(wErr, &ve) {
				log.Warn("index: skipping paper", slog.Int64("paper_id", p.ID), slog.Any("error", wErr))
				notify(pos, p.ID, OutcomeInvalid)
				continue
			}
			return embedded, skipped, fmt.Errorf("rag: add batch: paper %d: %w", p.ID, wErr)
		}
		embedded++
		if exists {
			log.Info("index: replaced existing entry", slog.Int64("paper_id", p.ID))
			notify(pos, p.ID, OutcomeReplaced)
			continue
		}
		notify(pos, p.ID, OutcomeEmbedded)
	}

	log.Info("index: batch complete",
		slog.Int("total", total),
		slog.Int("embedded", embedded),
		slog.Int("skipped", skipped),
	)
	return embedded, skipped, nil
}

// write embeds (when needed) and inserts a single entry.
func (ix *Indexer) write(ctx context.Context, id int64, text string, metadata map[string]string, vector []float32) error {
	if vector == nil {
		v, err := ix.generator.Embed(ctx, text)
		if err != nil {
			return err
		}
		vector = v
	}
	if len(vector) == 0 {
		return invalid("vector", "must not be empty")
	}
	if isZero(vector) {
		return invalid("vector", "has no non-zero component")
	}

	entry := Entry{ID: id, Vector: vector, Document: strings.TrimSpace(text), Metadata: metadata}
	if err := ix.index.Insert(ctx, []Entry{entry}); err != nil {
		return asTransport("index", "insert", err)
	}
	return nil
}

// isZero reports whether every component of v is zero. Such a vector has no
// direction and scores the same against every query.
func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
