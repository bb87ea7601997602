package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/paperrag/internal/ingestion"
	"github.com/54b3r/paperrag/internal/logging"
	"github.com/54b3r/paperrag/internal/rag"
)

// NewIndexCmd constructs the `paperrag index` command, which loads a paper
// export into the paper store and embeds every abstract into the index.
func NewIndexCmd() *cobra.Command {
	var sources []string
	var force bool
	var reset bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Load papers and index their abstracts",
		Long: `Load a JSON or YAML paper export into the paper store and embed each
abstract into the vector index.

Sources may be local files or http(s) URLs. Papers that are already indexed
are skipped unless --force is given; --reset empties the collection first.
Papers failing validation are reported and left out.

Environment:
  PAPERRAG_DB          paper database (default: ~/.paperrag/papers.db)
  INDEX_BACKEND        sqlite, qdrant or milvus (default: sqlite)
  EMBEDDING_PROVIDER   ollama, openai, azure or hash

Examples:
  paperrag index --source papers.json
  paperrag index --source https://example.org/iclr2024/papers.json --reset
  paperrag index --source extra.yaml --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			if len(sources) == 0 {
				return fmt.Errorf("index: at least one --source is required")
			}

			rt, err := openRuntime(log)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			defer rt.Close()

			idx, err := rt.open(ctx)
			if err != nil {
				return fmt.Errorf("index: failed to open %s index: %w", rt.indexCfg.Backend, err)
			}
			defer func() { _ = idx.Close() }()

			indexer, err := rag.NewIndexer(rt.generator, idx)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			pipeline, err := ingestion.NewPipeline(rt.papers, indexer, idx, nil)
			if err != nil {
				return fmt.Errorf("index: failed to create pipeline: %w", err)
			}

			progress := rag.ObserverFunc(func(p rag.Progress) {
				fmt.Fprintf(cmd.OutOrStdout(), "[%d/%d] paper %d %s\n", p.Position, p.Total, p.PaperID, p.Outcome)
			})

			var total ingestion.Report
			for i, src := range sources {
				records, err := pipeline.Load(ctx, src)
				if err != nil {
					return fmt.Errorf("index: %w", err)
				}
				log.Info("source loaded", slog.String("source", src), slog.Int("papers", len(records)))

				report, err := pipeline.Run(ctx, records, ingestion.Options{
					SkipExisting: !force,
					Reset:        reset && i == 0,
					Observer:     progress,
				})
				if err != nil {
					return fmt.Errorf("index: %s: %w", src, err)
				}
				total.Total += report.Total
				total.Stored += report.Stored
				total.Invalid += report.Invalid
				total.Embedded += report.Embedded
				total.Skipped += report.Skipped
			}

			log.Info("indexing complete",
				slog.Int("papers", total.Total),
				slog.Int("stored", total.Stored),
				slog.Int("invalid", total.Invalid),
				slog.Int("embedded", total.Embedded),
				slog.Int("skipped", total.Skipped),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "embedded %d, skipped %d, invalid %d (of %d)\n",
				total.Embedded, total.Skipped, total.Invalid, total.Total)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&sources, "source", "s", nil, "Paper export to load: file path or http(s) URL (repeatable)")
	cmd.Flags().BoolVar(&force, "force", false, "Re-embed papers that are already indexed")
	cmd.Flags().BoolVar(&reset, "reset", false, "Empty the collection before indexing")

	return cmd
}
