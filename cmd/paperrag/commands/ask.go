package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/paperrag/internal/conversation"
	"github.com/54b3r/paperrag/internal/logging"
)

// NewAskCmd constructs the `paperrag ask` command, which answers a single
// question from the retrieved abstracts without keeping any history.
func NewAskCmd() *cobra.Command {
	var k int
	var systemPrompt string
	var filters filterFlags

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question about the indexed papers",
		Long: `Retrieve the papers closest to the question and ask the chat model to
answer from their abstracts. The papers used are listed after the answer.

Examples:
  paperrag ask "which papers use diffusion models for molecule generation?"
  paperrag ask -k 8 --event-type Oral "what is new in offline reinforcement learning?"
  MODEL_PROVIDER=openai paperrag ask "summarise the work on protein language models"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)
			defer setupTracing(log)()

			rt, err := openRuntime(log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer rt.Close()

			chat, err := openChatBackend(ctx)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			conv, closeIndex, err := rt.openConversation(ctx, chat, systemPrompt)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() { _ = closeIndex() }()

			resp, err := conv.Query(ctx, strings.Join(args, " "), conversation.QueryOptions{
				K:         k,
				Filter:    filters.filter(),
				Stateless: true,
			})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			return printResponse(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "Number of papers to retrieve (default: RAG_TOP_K or 5)")
	cmd.Flags().StringVar(&systemPrompt, "system-prompt", "", "Replace the default system prompt")
	addFilterFlags(cmd, &filters)

	return cmd
}

// printResponse writes the answer followed by the papers it was grounded
// on. A surfaced backend failure is returned as an error.
func printResponse(w io.Writer, resp *conversation.Response) error {
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	fmt.Fprintln(w, strings.TrimSpace(resp.Response))
	if len(resp.Papers) == 0 {
		return nil
	}
	fmt.Fprintf(w, "\nPapers (%d):\n", resp.Metadata.NPapers)
	for _, p := range resp.Papers {
		fmt.Fprintf(w, "  %d. %s", p.Rank, p.Paper.Title)
		if p.Paper.Session != "" {
			fmt.Fprintf(w, " [%s]", p.Paper.Session)
		}
		fmt.Fprintln(w)
	}
	return nil
}
