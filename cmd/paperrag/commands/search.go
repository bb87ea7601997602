package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/paperrag/internal/logging"
)

// NewSearchCmd constructs the `paperrag search` command, which prints the
// papers whose abstracts are closest to the query text.
func NewSearchCmd() *cobra.Command {
	var k int
	var asJSON bool
	var filters filterFlags

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Find papers by semantic similarity",
		Long: `Embed the query and print the closest papers by abstract similarity.

Filters are OR-ed across dimensions; several values for one dimension match
any of them.

Examples:
  paperrag search "protein folding with diffusion models"
  paperrag search -k 10 --topic "Applications" "molecular generation"
  paperrag search --session "Oral 3A" --decision Spotlight --json "graph neural networks"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			rt, err := openRuntime(log)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer rt.Close()

			retriever, closeIndex, err := rt.openRetriever(ctx)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer func() { _ = closeIndex() }()

			result, err := retriever.Search(ctx, strings.Join(args, " "), k, filters.filter())
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			if len(result.Papers) == 0 {
				fmt.Fprintln(out, "no matching papers")
				return nil
			}
			for _, p := range result.Papers {
				fmt.Fprintf(out, "%2d. [%.3f] %s\n", p.Rank, p.Similarity, p.Paper.Title)
				if authors := p.Paper.AuthorLine(); authors != "" {
					fmt.Fprintf(out, "    %s\n", authors)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "Number of papers to return (default: RAG_TOP_K or 5)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	addFilterFlags(cmd, &filters)

	return cmd
}

// addFilterFlags registers the metadata filter flags on cmd.
func addFilterFlags(cmd *cobra.Command, f *filterFlags) {
	cmd.Flags().StringArrayVar(&f.sessions, "session", nil, "Restrict to a conference session (repeatable)")
	cmd.Flags().StringArrayVar(&f.topics, "topic", nil, "Restrict to a topic (repeatable)")
	cmd.Flags().StringArrayVar(&f.eventTypes, "event-type", nil, "Restrict to an event type, e.g. Poster or Oral (repeatable)")
	cmd.Flags().StringArrayVar(&f.decisions, "decision", nil, "Restrict to a decision label (repeatable)")
}
