package commands

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/paperrag/internal/conversation"
	"github.com/54b3r/paperrag/internal/logging"
)

// NewChatCmd constructs the `paperrag chat` command, an interactive
// multi-turn conversation grounded in the indexed papers.
func NewChatCmd() *cobra.Command {
	var k int
	var systemPrompt string
	var resume string
	var logFile string
	var filters filterFlags

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat about the indexed papers",
		Long: `Start an interactive conversation. Every message retrieves fresh papers;
earlier turns are kept as context until /reset.

Commands:
  /reset           forget the conversation so far
  /export <path>   save the transcript (.json, .yaml or .yml)
  /quit            leave

Examples:
  paperrag chat
  paperrag chat --topic "Generative models" --log-file chat.log
  paperrag chat --resume transcript.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			if logFile != "" {
				f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
				if err != nil {
					return fmt.Errorf("chat: failed to open log file: %w", err)
				}
				defer f.Close()
				log = logging.NewWriter(f, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
			}
			ctx := logging.WithLogger(cmd.Context(), log)
			defer setupTracing(log)()

			rt, err := openRuntime(log)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			defer rt.Close()

			chat, err := openChatBackend(ctx)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			conv, closeIndex, err := rt.openConversation(ctx, chat, systemPrompt)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			defer func() { _ = closeIndex() }()

			if resume != "" {
				transcript, err := conversation.LoadTranscriptFile(resume)
				if err != nil {
					return fmt.Errorf("chat: %w", err)
				}
				conv.Restore(transcript.Turns)
				log.Info("transcript restored", slog.String("path", resume), slog.Int("turns", len(transcript.Turns)))
			}

			opts := conversation.ChatOptions{K: k, Filter: filters.filter()}
			return chatLoop(cmd.InOrStdin(), cmd.OutOrStdout(), func(line string) error {
				resp, err := conv.Chat(ctx, line, opts)
				if err != nil {
					return err
				}
				return printResponse(cmd.OutOrStdout(), resp)
			}, conv)
		},
	}

	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "Number of papers to retrieve per message (default: RAG_TOP_K or 5)")
	cmd.Flags().StringVar(&systemPrompt, "system-prompt", "", "Replace the default system prompt")
	cmd.Flags().StringVar(&resume, "resume", "", "Continue from an exported transcript")
	cmd.Flags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
	addFilterFlags(cmd, &filters)

	return cmd
}

// session is the part of the orchestrator the chat loop drives directly.
type session interface {
	Reset()
	Len() int
	ExportFile(path string) error
}

// chatLoop reads lines from in until EOF or /quit. Slash commands act on
// conv; any other line is sent to ask. A failed message is reported and the
// loop carries on.
func chatLoop(in io.Reader, out io.Writer, ask func(line string) error, conv session) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/reset":
			conv.Reset()
			fmt.Fprintln(out, "conversation cleared")
		case line == "/export" || strings.HasPrefix(line, "/export "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/export"))
			if path == "" {
				fmt.Fprintln(out, "usage: /export <path>")
				break
			}
			if err := conv.ExportFile(path); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				break
			}
			fmt.Fprintf(out, "exported %d turns to %s\n", conv.Len(), path)
		case strings.HasPrefix(line, "/"):
			fmt.Fprintf(out, "unknown command %s (try /reset, /export <path>, /quit)\n", line)
		default:
			if err := ask(line); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
		fmt.Fprint(out, "> ")
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("chat: read input: %w", err)
	}
	fmt.Fprintln(out)
	return nil
}
