// Package conversation implements retrieval-augmented question answering
// over the paper index. An Orchestrator owns one conversation: it retrieves
// papers for each question, builds a grounded prompt, calls the chat model
// once and records the exchange.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/paperrag/internal/budget"
	"github.com/54b3r/paperrag/internal/logging"
	"github.com/54b3r/paperrag/internal/rag"
)

const (
	// MaxQuestionRunes bounds the length of a single question.
	MaxQuestionRunes = 8000

	// DefaultChatTimeout bounds one chat-completion call.
	DefaultChatTimeout = 120 * time.Second
)

// Searcher is the retrieval dependency; *rag.Retriever satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, k int, filter rag.MetadataFilter) (rag.SearchResult, error)
}

// Config holds the dependencies and tuning of an Orchestrator.
type Config struct {
	// Retriever finds papers for each question. Required.
	Retriever Searcher

	// ChatModel generates answers. Required.
	ChatModel model.BaseChatModel

	// ModelName is reported in response metadata and transcripts.
	ModelName string

	// SystemPrompt replaces DefaultSystemPrompt when non-empty.
	SystemPrompt string

	// CallOptions are passed on every chat call, typically temperature and
	// max tokens from provider.CallOptions.
	CallOptions []model.Option

	// ChatTimeout bounds each chat call (default: DefaultChatTimeout).
	ChatTimeout time.Duration

	// MaxContextTokens is the estimated input budget; prior turns are
	// trimmed oldest-first to fit (default: budget.DefaultMaxContextTokens).
	MaxContextTokens int

	// DefaultTopK is the number of papers retrieved when a call passes K == 0
	// (default: 5).
	DefaultTopK int

	// Now overrides the clock used for turn timestamps.
	Now func() time.Time
}

// QueryOptions tunes a single Query call.
type QueryOptions struct {
	// K is the number of papers to retrieve; 0 uses the configured default.
	K int

	// Filter restricts retrieval by metadata.
	Filter rag.MetadataFilter

	// SystemPrompt overrides the configured prompt for this call.
	SystemPrompt string

	// Stateless skips reading and recording conversation history.
	Stateless bool
}

// ChatOptions tunes a single Chat call.
type ChatOptions struct {
	// K is the number of papers to retrieve; 0 uses the configured default.
	K int

	// Filter restricts retrieval by metadata.
	Filter rag.MetadataFilter

	// SystemPrompt overrides the configured prompt for this call.
	SystemPrompt string
}

// Metadata describes how a response was produced.
type Metadata struct {
	// NPapers is the number of papers placed in the prompt. Zero means the
	// model was told nothing matched.
	NPapers int `json:"n_papers"`

	// Model is the chat model name.
	Model string `json:"model"`
}

// Response is the result of Query or Chat. When Error is set the exchange
// failed at a backend and the conversation is unchanged.
type Response struct {
	// Response is the generated answer.
	Response string `json:"response"`

	// Papers are the retrieved papers in rank order.
	Papers []rag.ScoredPaper `json:"papers"`

	// Metadata describes the exchange.
	Metadata Metadata `json:"metadata"`

	// Error is a human-readable backend failure.
	Error string `json:"error,omitempty"`
}

// Orchestrator runs one conversation. Calls are serialised; share an
// Orchestrator only between requests of the same session.
type Orchestrator struct {
	// retriever finds papers.
	retriever Searcher

	// chat generates answers.
	chat model.BaseChatModel

	// modelName is reported in metadata.
	modelName string

	// systemPrompt is the default system prompt.
	systemPrompt string

	// callOptions are passed to every chat call.
	callOptions []model.Option

	// chatTimeout bounds each chat call.
	chatTimeout time.Duration

	// maxContextTokens is the prompt budget.
	maxContextTokens int

	// defaultTopK is the retrieval fallback.
	defaultTopK int

	// now stamps turns.
	now func() time.Time

	// mu serialises exchanges and guards turns.
	mu sync.Mutex

	// turns is the conversation state, oldest first.
	turns []Turn
}

// New constructs an Orchestrator in the idle state.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("conversation: retriever must not be nil")
	}
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("conversation: chat model must not be nil")
	}
	o := &Orchestrator{
		retriever:        cfg.Retriever,
		chat:             cfg.ChatModel,
		modelName:        cfg.ModelName,
		systemPrompt:     cfg.SystemPrompt,
		callOptions:      cfg.CallOptions,
		chatTimeout:      cfg.ChatTimeout,
		maxContextTokens: cfg.MaxContextTokens,
		defaultTopK:      cfg.DefaultTopK,
		now:              cfg.Now,
	}
	if o.systemPrompt == "" {
		o.systemPrompt = DefaultSystemPrompt
	}
	if o.chatTimeout <= 0 {
		o.chatTimeout = DefaultChatTimeout
	}
	if o.maxContextTokens <= 0 {
		o.maxContextTokens = budget.DefaultMaxContextTokens
	}
	if o.defaultTopK <= 0 {
		o.defaultTopK = 5
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// Query answers question from retrieved papers. Unless opts.Stateless is
// set, prior turns are sent along and the exchange is recorded.
//
// Invalid input returns a *rag.ValidationError before any network call.
// Backend failures (embedding, index, chat) and total formatting failures
// are returned as a Response with Error set and a nil error, leaving the
// conversation unchanged.
func (o *Orchestrator) Query(ctx context.Context, question string, opts QueryOptions) (*Response, error) {
	return o.exchange(ctx, question, opts.K, opts.Filter, opts.SystemPrompt, !opts.Stateless)
}

// Chat is Query with history always included and recorded.
func (o *Orchestrator) Chat(ctx context.Context, message string, opts ChatOptions) (*Response, error) {
	return o.exchange(ctx, message, opts.K, opts.Filter, opts.SystemPrompt, true)
}

func (o *Orchestrator) exchange(ctx context.Context, question string, k int, filter rag.MetadataFilter, prompt string, withHistory bool) (*Response, error) {
	question = strings.TrimSpace(question)
	if err := validateQuestion(question, k, filter); err != nil {
		return nil, err
	}
	if k == 0 {
		k = o.defaultTopK
	}
	if prompt == "" {
		prompt = o.systemPrompt
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	log := logging.FromContext(ctx).With(slog.String("model", o.modelName))
	resp := &Response{Papers: []rag.ScoredPaper{}, Metadata: Metadata{Model: o.modelName}}

	result, err := o.retriever.Search(ctx, question, k, filter)
	if err != nil {
		if surfaced(err) {
			log.Warn("conversation: retrieval failed", slog.Any("error", err))
			resp.Error = err.Error()
			return resp, nil
		}
		return nil, err
	}
	if result.Papers != nil {
		resp.Papers = result.Papers
	}
	resp.Metadata.NPapers = len(resp.Papers)

	var history []*schema.Message
	if withHistory {
		history = toMessages(o.turns)
	}
	messages := o.buildMessages(ctx, prompt, history, buildContextBlock(resp.Papers), question)

	start := time.Now()
	answer, err := o.generate(ctx, messages)
	if err != nil {
		log.Warn("conversation: chat failed", slog.Any("error", err), slog.Duration("elapsed", time.Since(start)))
		resp.Error = err.Error()
		return resp, nil
	}
	resp.Response = answer

	if withHistory {
		now := o.now()
		o.turns = append(o.turns,
			Turn{Role: RoleUser, Content: question, Timestamp: now},
			Turn{Role: RoleAssistant, Content: answer, Timestamp: now},
		)
	}
	log.Info("conversation: answered",
		slog.Int("n_papers", resp.Metadata.NPapers),
		slog.Int("turns", len(o.turns)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return resp, nil
}

// validateQuestion rejects input that must never reach a backend.
func validateQuestion(question string, k int, filter rag.MetadataFilter) error {
	if question == "" {
		return &rag.ValidationError{Field: "question", Reason: "must not be empty"}
	}
	if n := utf8.RuneCountInString(question); n > MaxQuestionRunes {
		return &rag.ValidationError{Field: "question", Reason: fmt.Sprintf("must be at most %d characters, got %d", MaxQuestionRunes, n)}
	}
	if k < 0 || k > rag.MaxTopK {
		return &rag.ValidationError{Field: "k", Reason: fmt.Sprintf("must be within [0, %d], got %d", rag.MaxTopK, k)}
	}
	return filter.Validate()
}

// surfaced reports whether err is a backend failure that is reported in the
// response rather than returned.
func surfaced(err error) bool {
	var te *rag.TransportError
	var pfe *rag.PaperFormattingError
	return errors.As(err, &te) || errors.As(err, &pfe)
}

// buildMessages assembles system prompt, trimmed history, context block and
// question, in that order.
func (o *Orchestrator) buildMessages(ctx context.Context, prompt string, history []*schema.Message, contextBlock, question string) []*schema.Message {
	fixed := []*schema.Message{
		schema.SystemMessage(prompt),
		schema.SystemMessage(contextBlock),
		schema.UserMessage(question),
	}
	log := logging.FromContext(ctx)
	if budget.Exceeds(fixed, o.maxContextTokens) {
		log.Warn("budget: prompt exceeds context budget before history",
			slog.Int("estimated_tokens", budget.EstimateMessages(fixed)),
			slog.Int("max_tokens", o.maxContextTokens),
		)
	}

	before := len(history)
	history = budget.TrimHistory(fixed, history, o.maxContextTokens)
	if dropped := before - len(history); dropped > 0 {
		log.Warn("budget: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(history)),
			slog.Int("max_tokens", o.maxContextTokens),
		)
	}

	out := make([]*schema.Message, 0, len(fixed)+len(history))
	out = append(out, fixed[0])
	out = append(out, history...)
	out = append(out, fixed[1:]...)
	return out
}

// generate calls the chat model once under the chat timeout.
func (o *Orchestrator) generate(ctx context.Context, messages []*schema.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.chatTimeout)
	defer cancel()

	msg, err := o.chat.Generate(ctx, messages, o.callOptions...)
	if err != nil {
		return "", &rag.TransportError{Backend: "chat", Op: "generate", Err: err}
	}
	if msg == nil {
		return "", &rag.TransportError{Backend: "chat", Op: "generate", Err: errors.New("empty response")}
	}
	return msg.Content, nil
}

// toMessages converts recorded turns to chat messages.
func toMessages(turns []Turn) []*schema.Message {
	out := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case RoleUser:
			out = append(out, schema.UserMessage(t.Content))
		case RoleAssistant:
			out = append(out, schema.AssistantMessage(t.Content, nil))
		}
	}
	return out
}

// Reset clears the conversation. Resetting an idle conversation is a no-op.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.turns = nil
}

// Restore replaces the conversation with turns, e.g. from a loaded
// transcript or a session journal.
func (o *Orchestrator) Restore(turns []Turn) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.turns = append([]Turn(nil), turns...)
}

// Turns returns a copy of the recorded turns, oldest first.
func (o *Orchestrator) Turns() []Turn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Turn(nil), o.turns...)
}

// Len returns the number of recorded turns.
func (o *Orchestrator) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.turns)
}

// ModelName returns the chat model name.
func (o *Orchestrator) ModelName() string { return o.modelName }

// Transcript snapshots the conversation.
func (o *Orchestrator) Transcript() Transcript {
	return Transcript{Model: o.modelName, ExportedAt: o.now().UTC(), Turns: o.Turns()}
}

// Export writes the conversation to w. It never changes the conversation;
// an idle conversation exports an empty turn list.
func (o *Orchestrator) Export(w io.Writer, format Format) error {
	return encodeTranscript(w, o.Transcript(), format)
}

// ExportFile writes the conversation to path in the format implied by its
// extension (.json, .yaml or .yml). The file is replaced atomically.
func (o *Orchestrator) ExportFile(path string) error {
	format, err := FormatForPath(path)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".transcript-*")
	if err != nil {
		return fmt.Errorf("conversation: create transcript: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := o.Export(tmp, format); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("conversation: write transcript: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("conversation: write transcript: %w", err)
	}
	return nil
}
