package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/54b3r/paperrag/internal/logging"
	"github.com/54b3r/paperrag/internal/paper"
)

// ScoredPaper is a hydrated search hit.
type ScoredPaper struct {
	// Paper is the record from the paper store.
	Paper paper.Record `json:"paper"`

	// Similarity is 1 - distance; higher is more similar. Absolute values are
	// not comparable across embedding models.
	Similarity float32 `json:"similarity"`

	// Rank is the 1-based position of the hit in the index result.
	Rank int `json:"rank"`
}

// Formatter hydrates raw hits into paper records.
type Formatter struct {
	// lookup resolves ids against the paper store.
	lookup paper.Lookup
}

// NewFormatter constructs a Formatter reading from lookup.
func NewFormatter(lookup paper.Lookup) (*Formatter, error) {
	if lookup == nil {
		return nil, fmt.Errorf("rag: paper lookup must not be nil")
	}
	return &Formatter{lookup: lookup}, nil
}

// Format hydrates hits in their original order. A hit whose id does not
// parse, or whose paper cannot be loaded, is logged and skipped. When hits is
// non-empty and nothing could be formatted, Format returns a
// *PaperFormattingError instead of an empty slice.
func (f *Formatter) Format(ctx context.Context, hits []Hit) ([]ScoredPaper, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	log := logging.FromContext(ctx)

	out := make([]ScoredPaper, 0, len(hits))
	var failed []string
	for i, h := range hits {
		id, err := strconv.ParseInt(h.ID, 10, 64)
		if err != nil || id <= 0 {
			log.Warn("format: unparseable hit id", slog.String("id", h.ID), slog.Int("rank", i+1))
			failed = append(failed, h.ID)
			continue
		}

		rec, ok, err := f.lookup.GetPaperByID(ctx, id)
		if err != nil {
			log.Warn("format: paper lookup failed", slog.Int64("paper_id", id), slog.Any("error", err))
			failed = append(failed, h.ID)
			continue
		}
		if !ok {
			log.Warn("format: paper missing from store", slog.Int64("paper_id", id), slog.Int("rank", i+1))
			failed = append(failed, h.ID)
			continue
		}

		out = append(out, ScoredPaper{Paper: rec, Similarity: 1 - h.Distance, Rank: i + 1})
	}

	if len(out) == 0 {
		return nil, &PaperFormattingError{Hits: len(hits), Failed: failed}
	}
	if len(failed) > 0 {
		log.Warn("format: partial result",
			slog.Int("hits", len(hits)),
			slog.Int("formatted", len(out)),
			slog.Int("dropped", len(failed)),
		)
	}
	return out, nil
}
