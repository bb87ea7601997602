package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/54b3r/paperrag/internal/conversation"
	"github.com/54b3r/paperrag/internal/store"
)

// errTooManySessions is returned when the session table is full.
var errTooManySessions = errors.New("too many active sessions")

// sessionTable owns the live chat sessions. Each session has its own
// conversation and index handle; none are shared across sessions.
type sessionTable struct {
	// mu guards sessions.
	mu sync.Mutex
	// sessions maps session id to live state.
	sessions map[string]*session
	// open builds a new conversation.
	open func(ctx context.Context) (Conversation, func() error, error)
	// journal replays turns into resumed sessions; may be nil.
	journal Journal
	// depth is the number of journalled turns replayed.
	depth int
	// ttl is the idle lifetime of a session.
	ttl time.Duration
	// max caps len(sessions).
	max int
	// onChange reports the live session count.
	onChange func(n int)
	// log records evictions.
	log *slog.Logger
}

// newSessionTable constructs a table and starts its eviction goroutine,
// which exits when the returned stop function is called.
func newSessionTable(s *sessionTable) (*sessionTable, func()) {
	s.sessions = make(map[string]*session)
	if s.onChange == nil {
		s.onChange = func(int) {}
	}
	stopCh := make(chan struct{})
	go s.evictLoop(stopCh)
	return s, func() {
		close(stopCh)
		s.closeAll()
	}
}

// get returns the session for id, creating it (and replaying its journal)
// when it does not exist. create is false for lookups that must not create.
func (t *sessionTable) get(ctx context.Context, id string, create bool) (*session, bool, error) {
	t.mu.Lock()
	if s, ok := t.sessions[id]; ok {
		s.lastSeen = time.Now()
		t.mu.Unlock()
		return s, true, nil
	}
	if !create {
		t.mu.Unlock()
		return nil, false, nil
	}
	if len(t.sessions) >= t.max {
		t.mu.Unlock()
		return nil, false, errTooManySessions
	}
	t.mu.Unlock()

	conv, closeFn, err := t.open(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("server: open session: %w", err)
	}
	if t.journal != nil {
		t.replay(ctx, id, conv)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// Another request may have created the session while we were opening.
	if s, ok := t.sessions[id]; ok {
		_ = closeFn()
		s.lastSeen = time.Now()
		return s, true, nil
	}
	s := &session{conv: conv, close: closeFn, lastSeen: time.Now()}
	t.sessions[id] = s
	t.onChange(len(t.sessions))
	return s, false, nil
}

// replay restores journalled turns into conv. Failures only cost context.
func (t *sessionTable) replay(ctx context.Context, id string, conv Conversation) {
	msgs, err := t.journal.Recent(ctx, id, t.depth)
	if err != nil {
		t.log.Warn("session: failed to load journal", slog.String("session", id), slog.Any("error", err))
		return
	}
	if len(msgs) == 0 {
		return
	}
	turns := make([]conversation.Turn, 0, len(msgs))
	for _, m := range msgs {
		role := conversation.RoleUser
		if m.Role == store.RoleAssistant {
			role = conversation.RoleAssistant
		}
		turns = append(turns, conversation.Turn{Role: role, Content: m.Content, Timestamp: m.CreatedAt})
	}
	conv.Restore(turns)
	t.log.Info("session: resumed from journal", slog.String("session", id), slog.Int("turns", len(turns)))
}

// len returns the number of live sessions.
func (t *sessionTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// evictLoop drops idle sessions every minute until stopCh is closed.
func (t *sessionTable) evictLoop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			t.evict(time.Now())
		}
	}
}

// evict closes sessions idle since before now-ttl.
func (t *sessionTable) evict(now time.Time) {
	t.mu.Lock()
	var stale []*session
	cutoff := now.Add(-t.ttl)
	for id, s := range t.sessions {
		if s.lastSeen.Before(cutoff) {
			stale = append(stale, s)
			delete(t.sessions, id)
		}
	}
	n := len(t.sessions)
	t.mu.Unlock()

	for _, s := range stale {
		s.mu.Lock()
		if err := s.close(); err != nil {
			t.log.Warn("session: close failed", slog.Any("error", err))
		}
		s.mu.Unlock()
	}
	if len(stale) > 0 {
		t.onChange(n)
		t.log.Info("session: evicted idle sessions", slog.Int("evicted", len(stale)), slog.Int("live", n))
	}
}

// closeAll releases every session.
func (t *sessionTable) closeAll() {
	t.mu.Lock()
	all := t.sessions
	t.sessions = make(map[string]*session)
	t.mu.Unlock()
	for _, s := range all {
		_ = s.close()
	}
	t.onChange(0)
}
