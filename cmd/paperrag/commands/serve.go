package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/paperrag/internal/logging"
	"github.com/54b3r/paperrag/internal/provider"
	"github.com/54b3r/paperrag/internal/rag"
	"github.com/54b3r/paperrag/internal/server"
	"github.com/54b3r/paperrag/internal/version"
)

// NewServeCmd constructs the `paperrag serve` command, which starts the HTTP
// JSON API over search and chat.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the paperrag HTTP API",
		Long: `Start the paperrag HTTP server.

Endpoints:
  POST /api/search        ranked papers for a query
  POST /api/chat          one chat turn; session_id is created on demand
  POST /api/chat/reset    forget a session
  GET  /api/chat/export   transcript of a session (?session=..&format=json|yaml)
  GET  /api/health        liveness
  GET  /api/ready         dependency readiness
  GET  /metrics           Prometheus metrics

Each search opens its own index handle and each chat session keeps one for
its lifetime. Chat turns are journalled in the paper database so sessions
survive eviction and restarts.

Examples:
  paperrag serve
  paperrag serve --port 9090
  INDEX_BACKEND=qdrant MODEL_PROVIDER=openai paperrag serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("version", version.String()))
			defer setupTracing(log)()

			rt, err := openRuntime(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer rt.Close()

			chat, err := openChatBackend(ctx)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			log.Info("provider initialised",
				slog.String("provider", string(chat.cfg.Backend)),
				slog.String("model", chat.cfg.ModelName()),
			)

			pingers, closePingers := buildPingers(ctx, rt, chat, log)
			defer closePingers()

			deps := server.Deps{
				OpenSearcher: func(ctx context.Context) (server.Searcher, func() error, error) {
					return rt.openRetriever(ctx)
				},
				OpenConversation: func(ctx context.Context) (server.Conversation, func() error, error) {
					return rt.openConversation(ctx, chat, "")
				},
				Journal: rt.papers,
			}

			srv, err := server.New(deps, &server.Config{
				Host:        host,
				Port:        port,
				Logger:      log,
				Pingers:     pingers,
				SessionTTL:  getEnvDuration("SESSION_TTL", 30*time.Minute),
				MaxSessions: getEnvInt("MAX_SESSIONS", 1000),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", getEnvOrDefault("SERVER_HOST", "127.0.0.1"), "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", getEnvInt("SERVER_PORT", 8080), "TCP port to listen on")

	return cmd
}

// buildPingers assembles the readiness probes: the chat backend, the vector
// index (plus the Qdrant server itself when that backend is selected) and the
// paper store. The returned function releases probe connections.
func buildPingers(ctx context.Context, rt *runtime, chat *chatBackend, log *slog.Logger) ([]server.Pinger, func()) {
	pingers := []server.Pinger{
		server.NewLLMPinger(chat.model, provider.NewHealthCheck(chat.cfg), string(chat.cfg.Backend)),
		server.NewIndexPinger(rt.open, rt.indexCfg.Backend),
		server.NewStorePinger(rt.papers.Ping),
	}
	closeFn := func() {}

	if rt.indexCfg.Backend == rag.BackendQdrant {
		client, err := rag.NewQdrantClient(rt.indexCfg.Qdrant)
		if err != nil {
			logging.FromContext(ctx).Warn("qdrant pinger disabled", slog.Any("error", err))
		} else {
			pingers = append(pingers, server.NewQdrantPinger(client))
			closeFn = func() {
				if err := client.Close(); err != nil {
					log.Warn("qdrant pinger close failed", slog.Any("error", err))
				}
			}
		}
	}

	return pingers, closeFn
}
