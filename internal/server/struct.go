package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/paperrag/internal/conversation"
	"github.com/54b3r/paperrag/internal/rag"
	"github.com/54b3r/paperrag/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// cover a full retrieval plus chat completion (default: 3m).
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// SessionTTL is how long an idle chat session is kept (default: 30m).
	SessionTTL time.Duration
	// MaxSessions caps the number of live chat sessions (default: 1000).
	MaxSessions int
	// HistoryDepth is the number of journalled turns replayed when a session
	// is resumed after eviction or restart (default: 20).
	HistoryDepth int
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Searcher runs one retrieval. *rag.Retriever satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, k int, filter rag.MetadataFilter) (rag.SearchResult, error)
}

// Conversation is one chat session. *conversation.Orchestrator satisfies it.
type Conversation interface {
	Chat(ctx context.Context, message string, opts conversation.ChatOptions) (*conversation.Response, error)
	Reset()
	Len() int
	Restore(turns []conversation.Turn)
	Export(w io.Writer, format conversation.Format) error
}

// Journal persists chat turns so sessions survive eviction and restarts.
// *store.SQLiteStore satisfies it.
type Journal interface {
	Append(ctx context.Context, session string, role store.Role, content string) error
	Recent(ctx context.Context, session string, n int) ([]store.Message, error)
	Forget(ctx context.Context, session string) error
}

// Deps are the domain dependencies of the server. Every search request and
// every chat session opens its own resources through these functions; the
// returned close function releases them.
type Deps struct {
	// OpenSearcher opens a retriever with a fresh index handle. Required.
	OpenSearcher func(ctx context.Context) (Searcher, func() error, error)
	// OpenConversation opens an idle conversation with its own index handle.
	// Required.
	OpenConversation func(ctx context.Context) (Conversation, func() error, error)
	// Journal is optional; without it sessions live in memory only.
	Journal Journal
}

// Server is the HTTP server exposing search and chat over the paper index.
type Server struct {
	// deps opens per-request and per-session resources.
	deps Deps
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors.
	metrics *serverMetrics
	// sessions holds live chat sessions.
	sessions *sessionTable
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
	// stopSessions stops the session eviction goroutine on shutdown.
	stopSessions func()
}

// session is one live conversation and the resources it owns.
type session struct {
	// mu serialises requests of the same session.
	mu sync.Mutex
	// conv is the conversation state.
	conv Conversation
	// close releases the session's index handle.
	close func() error
	// lastSeen drives idle eviction; guarded by the table mutex.
	lastSeen time.Time
}

// searchRequest is the JSON body for POST /api/search.
type searchRequest struct {
	// Query is the free-text search.
	Query string `json:"query"`
	// K is the number of papers wanted (default: server default).
	K int `json:"k"`
	// Filter restricts results by session, topic, eventtype or decision.
	Filter rag.MetadataFilter `json:"filter"`
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// SessionID identifies the conversation; a new one is created when empty.
	SessionID string `json:"session_id"`
	// Message is the user's question.
	Message string `json:"message"`
	// K is the number of papers retrieved for this turn.
	K int `json:"k"`
	// Filter restricts retrieval.
	Filter rag.MetadataFilter `json:"filter"`
	// SystemPrompt overrides the default system prompt for this turn.
	SystemPrompt string `json:"system_prompt"`
}

// chatResponse is the JSON body returned by POST /api/chat.
type chatResponse struct {
	// SessionID echoes or assigns the conversation id.
	SessionID string `json:"session_id"`
	// Turns is the number of turns recorded after this exchange.
	Turns int `json:"turns"`
	*conversation.Response
}

// resetRequest is the JSON body for POST /api/chat/reset.
type resetRequest struct {
	// SessionID identifies the conversation to clear.
	SessionID string `json:"session_id"`
}

// errorResponse is the structured error body of every failed API call.
type errorResponse struct {
	// Error is a human-readable message.
	Error string `json:"error"`
}
