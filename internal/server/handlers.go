package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/paperrag/internal/conversation"
	"github.com/54b3r/paperrag/internal/logging"
	"github.com/54b3r/paperrag/internal/rag"
	"github.com/54b3r/paperrag/internal/store"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Outcome label values for search and chat metrics.
const (
	outcomeOK      = "ok"
	outcomeInvalid = "invalid"
	outcomeBackend = "backend_error"
	outcomeError   = "error"
)

// statusFor maps a domain error to an HTTP status and metric outcome.
func statusFor(err error) (int, string) {
	var ve *rag.ValidationError
	var te *rag.TransportError
	var pfe *rag.PaperFormattingError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, outcomeInvalid
	case errors.As(err, &te):
		return http.StatusBadGateway, outcomeBackend
	case errors.As(err, &pfe):
		return http.StatusBadGateway, outcomeBackend
	default:
		return http.StatusInternalServerError, outcomeError
	}
}

// handleSearch handles POST /api/search. Each request opens its own index
// handle and releases it before returning.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	start := time.Now()

	var req searchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.metrics.searchRequestsTotal.WithLabelValues(outcomeInvalid).Inc()
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	// Reject bad input before dialling the index.
	if err := rag.ValidateQuery(req.Query, req.K, req.Filter); err != nil {
		s.metrics.searchRequestsTotal.WithLabelValues(outcomeInvalid).Inc()
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	searcher, closeFn, err := s.deps.OpenSearcher(r.Context())
	if err != nil {
		log.Error("search: open index failed", slog.Any("error", err))
		s.metrics.searchRequestsTotal.WithLabelValues(outcomeBackend).Inc()
		writeError(w, r, http.StatusServiceUnavailable, "index unavailable")
		return
	}
	defer func() {
		if cerr := closeFn(); cerr != nil {
			log.Warn("search: close index failed", slog.Any("error", cerr))
		}
	}()

	result, err := searcher.Search(r.Context(), req.Query, req.K, req.Filter)
	if err != nil {
		status, outcome := statusFor(err)
		s.metrics.searchRequestsTotal.WithLabelValues(outcome).Inc()
		s.metrics.searchDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		if status >= http.StatusInternalServerError {
			log.Error("search failed", slog.Any("error", err))
		}
		writeError(w, r, status, err.Error())
		return
	}
	if result.Papers == nil {
		result.Papers = []rag.ScoredPaper{}
	}

	s.metrics.searchRequestsTotal.WithLabelValues(outcomeOK).Inc()
	s.metrics.searchDurationSeconds.WithLabelValues(outcomeOK).Observe(time.Since(start).Seconds())
	writeJSON(w, r, http.StatusOK, result)
}

// handleChat handles POST /api/chat. Requests of one session are serialised;
// different sessions proceed concurrently, each on its own index handle.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.metrics.chatRequestsTotal.WithLabelValues(outcomeInvalid).Inc()
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.metrics.chatRequestsTotal.WithLabelValues(outcomeInvalid).Inc()
		writeError(w, r, http.StatusBadRequest, "message is required")
		return
	}
	// A bad turn must not create or open a session.
	if err := rag.ValidateQuery(req.Message, req.K, req.Filter); err != nil {
		s.metrics.chatRequestsTotal.WithLabelValues(outcomeInvalid).Inc()
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.SessionID == "" {
		req.SessionID = newRequestID()
	}
	ctx, log := logging.With(r.Context(), slog.String("session", req.SessionID))

	sess, _, err := s.sessions.get(ctx, req.SessionID, true)
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, errTooManySessions) {
			status = http.StatusTooManyRequests
		}
		log.Error("chat: session unavailable", slog.Any("error", err))
		s.metrics.chatRequestsTotal.WithLabelValues(outcomeBackend).Inc()
		writeError(w, r, status, err.Error())
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	resp, err := sess.conv.Chat(ctx, req.Message, conversation.ChatOptions{
		K:            req.K,
		Filter:       req.Filter,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		status, outcome := statusFor(err)
		s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
		s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		if status >= http.StatusInternalServerError {
			log.Error("chat failed", slog.Any("error", err))
		}
		writeError(w, r, status, err.Error())
		return
	}

	out := chatResponse{SessionID: req.SessionID, Turns: sess.conv.Len(), Response: resp}
	if resp.Error != "" {
		s.metrics.chatRequestsTotal.WithLabelValues(outcomeBackend).Inc()
		s.metrics.chatDurationSeconds.WithLabelValues(outcomeBackend).Observe(time.Since(start).Seconds())
		writeJSON(w, r, http.StatusBadGateway, out)
		return
	}

	if s.deps.Journal != nil {
		if err := s.deps.Journal.Append(ctx, req.SessionID, store.RoleUser, strings.TrimSpace(req.Message)); err != nil {
			log.Warn("journal: failed to persist user message", slog.Any("error", err))
		}
		if err := s.deps.Journal.Append(ctx, req.SessionID, store.RoleAssistant, resp.Response); err != nil {
			log.Warn("journal: failed to persist assistant message", slog.Any("error", err))
		}
	}

	s.metrics.chatRequestsTotal.WithLabelValues(outcomeOK).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcomeOK).Observe(time.Since(start).Seconds())
	writeJSON(w, r, http.StatusOK, out)
}

// handleReset handles POST /api/chat/reset. Resetting an unknown session is
// not an error; the journal is cleared either way.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req resetRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, r, http.StatusBadRequest, "session_id is required")
		return
	}

	if sess, ok, _ := s.sessions.get(r.Context(), req.SessionID, false); ok {
		sess.mu.Lock()
		sess.conv.Reset()
		sess.mu.Unlock()
	}
	if s.deps.Journal != nil {
		if err := s.deps.Journal.Forget(r.Context(), req.SessionID); err != nil {
			log.Error("journal: forget failed", slog.Any("error", err))
			writeError(w, r, http.StatusInternalServerError, "failed to clear session history")
			return
		}
	}
	writeJSON(w, r, http.StatusOK, chatResponse{SessionID: req.SessionID, Turns: 0})
}

// handleExport handles GET /api/chat/export?session=<id>&format=json|yaml.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	id := r.URL.Query().Get("session")
	if id == "" {
		writeError(w, r, http.StatusBadRequest, "session query parameter is required")
		return
	}
	format := conversation.Format(strings.ToLower(r.URL.Query().Get("format")))
	contentType := "application/json"
	switch format {
	case "", conversation.FormatJSON:
		format = conversation.FormatJSON
	case conversation.FormatYAML, "yml":
		format = conversation.FormatYAML
		contentType = "application/yaml"
	default:
		writeError(w, r, http.StatusBadRequest, "format must be json or yaml")
		return
	}

	// A journalled session that was evicted is resumed for export.
	create := false
	if s.deps.Journal != nil {
		msgs, err := s.deps.Journal.Recent(r.Context(), id, 1)
		create = err == nil && len(msgs) > 0
	}
	sess, ok, err := s.sessions.get(r.Context(), id, create)
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
		return
	}
	if !ok && !create {
		writeError(w, r, http.StatusNotFound, "unknown session")
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	w.Header().Set("Content-Type", contentType)
	if err := sess.conv.Export(w, format); err != nil {
		log.Error("export failed", slog.Any("error", err))
	}
}
