// Package ingestion loads paper exports into the paper store and the vector
// index. Sources are local JSON/YAML files or HTTP(S) URLs serving the same.
// This pipeline is invoked by the `paperrag index` CLI command.
package ingestion

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/54b3r/paperrag/internal/logging"
	"github.com/54b3r/paperrag/internal/paper"
	"github.com/54b3r/paperrag/internal/rag"
)

// maxSourceBytes is the default bound on a fetched source document.
const maxSourceBytes = 256 << 20

// PaperWriter persists paper records; *store.SQLiteStore satisfies it.
type PaperWriter interface {
	PutPapers(ctx context.Context, papers []paper.Record) error
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// HTTPTimeout is the timeout for fetching a remote source.
	// Defaults to 60s if zero.
	HTTPTimeout time.Duration

	// UserAgent is the HTTP User-Agent header sent with fetch requests.
	UserAgent string

	// MaxSourceBytes bounds a fetched source document (default: 256 MiB).
	// A larger body is an error, never a silently shortened paper list.
	MaxSourceBytes int64
}

// Options tunes one Run.
type Options struct {
	// SkipExisting leaves already-indexed papers untouched. When false every
	// valid paper is re-embedded and its entry replaced.
	SkipExisting bool

	// Reset drops the index collection before indexing.
	Reset bool

	// Observer receives one notification per paper, in source order.
	Observer rag.Observer
}

// Report summarises a Run.
type Report struct {
	// Total is the number of records in the source.
	Total int `json:"total"`

	// Stored is the number of valid records written to the paper store.
	Stored int `json:"stored"`

	// Invalid is the number of records rejected by validation.
	Invalid int `json:"invalid"`

	// Embedded is the number of papers embedded and indexed.
	Embedded int `json:"embedded"`

	// Skipped is the number of papers left alone because they were indexed.
	Skipped int `json:"skipped"`
}

// Pipeline orchestrates the load → store → embed → index flow.
type Pipeline struct {
	// papers persists records.
	papers PaperWriter

	// indexer embeds and indexes abstracts.
	indexer *rag.Indexer

	// index is reset on request.
	index rag.VectorIndex

	// cfg holds the resolved pipeline configuration.
	cfg *Config

	// httpClient fetches remote sources.
	httpClient *http.Client
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(papers PaperWriter, indexer *rag.Indexer, index rag.VectorIndex, cfg *Config) (*Pipeline, error) {
	if papers == nil {
		return nil, fmt.Errorf("ingestion: paper writer must not be nil")
	}
	if indexer == nil {
		return nil, fmt.Errorf("ingestion: indexer must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("ingestion: index must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 60 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "paperrag/1.0 (paper ingestion)"
	}
	if cfg.MaxSourceBytes <= 0 {
		cfg.MaxSourceBytes = maxSourceBytes
	}
	return &Pipeline{
		papers:     papers,
		indexer:    indexer,
		index:      index,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}, nil
}

// Load reads paper records from a file path or an http(s) URL. The format
// is taken from the extension (.json, .yaml, .yml) or, for URLs without
// one, from the Content-Type.
func (p *Pipeline) Load(ctx context.Context, location string) ([]paper.Record, error) {
	var (
		data   []byte
		format sourceFormat
		err    error
	)
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		data, format, err = p.fetch(ctx, location)
	} else {
		format, err = formatForPath(location)
		if err == nil {
			data, err = os.ReadFile(location)
			if err != nil {
				err = fmt.Errorf("ingestion: read source: %w", err)
			}
		}
	}
	if err != nil {
		return nil, err
	}

	records, err := parsePapers(data, format)
	if err != nil {
		return nil, fmt.Errorf("ingestion: %s: %w", location, err)
	}
	logging.FromContext(ctx).Info("ingestion: source loaded",
		slog.String("source", location),
		slog.Int("records", len(records)),
	)
	return records, nil
}

// Run writes the valid records to the paper store and indexes every record
// in order. Invalid records are reported to the observer and counted in
// Report.Invalid. A transport failure aborts indexing; the returned report
// covers the work done before it.
func (p *Pipeline) Run(ctx context.Context, records []paper.Record, opts Options) (Report, error) {
	log := logging.FromContext(ctx)
	report := Report{Total: len(records)}

	valid := make([]paper.Record, 0, len(records))
	for _, r := range records {
		if err := r.Validate(); err != nil {
			report.Invalid++
			continue
		}
		valid = append(valid, r)
	}
	if len(valid) > 0 {
		if err := p.papers.PutPapers(ctx, valid); err != nil {
			return report, fmt.Errorf("ingestion: store papers: %w", err)
		}
	}
	report.Stored = len(valid)

	if opts.Reset {
		log.Warn("ingestion: resetting index collection")
		if err := p.index.Reset(ctx); err != nil {
			return report, fmt.Errorf("ingestion: reset index: %w", err)
		}
	}

	embedded, skipped, err := p.indexer.AddBatch(ctx, records, opts.SkipExisting, opts.Observer)
	report.Embedded, report.Skipped = embedded, skipped
	if err != nil {
		return report, fmt.Errorf("ingestion: index papers: %w", err)
	}

	log.Info("ingestion: complete",
		slog.Int("total", report.Total),
		slog.Int("stored", report.Stored),
		slog.Int("invalid", report.Invalid),
		slog.Int("embedded", report.Embedded),
		slog.Int("skipped", report.Skipped),
	)
	return report, nil
}

// fetch retrieves a remote source document.
func (p *Pipeline) fetch(ctx context.Context, url string) ([]byte, sourceFormat, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("ingestion: creating request: %w", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "application/json, application/yaml, text/yaml")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", &rag.TransportError{Backend: "source", Op: "fetch", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", &rag.TransportError{Backend: "source", Op: "fetch", Status: resp.StatusCode,
			Err: fmt.Errorf("unexpected status for %s", url)}
	}

	limit := p.cfg.MaxSourceBytes
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("ingestion: reading body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, "", fmt.Errorf("ingestion: source %s exceeds %d bytes", url, limit)
	}

	format, ferr := formatForPath(req.URL.Path)
	if ferr != nil {
		format = formatForContentType(resp.Header.Get("Content-Type"))
	}
	return body, format, nil
}

// formatForPath picks the source format from a file extension.
func formatForPath(path string) (sourceFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON, nil
	case ".yaml", ".yml":
		return formatYAML, nil
	default:
		return "", fmt.Errorf("ingestion: unsupported source extension %q (want .json, .yaml or .yml)", filepath.Ext(path))
	}
}

// formatForContentType picks the source format from a media type, falling
// back to JSON.
func formatForContentType(ct string) sourceFormat {
	if strings.Contains(strings.ToLower(ct), "yaml") {
		return formatYAML
	}
	return formatJSON
}
