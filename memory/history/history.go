// Package history implements the in-memory reference History repo (§6,
// §12): session CRUD, message append/list, pin toggle, and title update.
// It is the narrow persistence interface's reference implementation used
// by the cmd/ smoke-test harness and by tests — a real deployment backs
// this interface with a SQL or key-value store instead.
//
// Grounded on pkg/memory/session_service.go's InMemorySessionService
// shape (map[string]*SessionData guarded by one RWMutex, get-or-create on
// first touch, CreatedAt/UpdatedAt bookkeeping), generalized per spec.md
// §9's open question to the superset of pkg/memory/session_service_sql.go's
// richer row shape: this module adds Title and Pinned to the session
// metadata that the teacher's SQL-backed service persists as columns but
// its in-memory counterpart omits.
package history

import (
	"sort"
	"sync"
	"time"

	"github.com/arcveil/conduit/errs"
	"github.com/arcveil/conduit/llm"
)

// Session is one conversation's metadata row (§6's "session CRUD, pin
// toggle, title update").
type Session struct {
	ID        string
	UserID    string
	Title     string
	Pinned    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type sessionData struct {
	meta     Session
	messages []llm.Message
}

// Repo is the History repo's in-memory reference implementation.
type Repo struct {
	mu       sync.RWMutex
	sessions map[string]*sessionData
}

func NewRepo() *Repo {
	return &Repo{sessions: make(map[string]*sessionData)}
}

// CreateSession registers a new session row, get-or-create: calling this
// twice for the same id returns the existing row untouched.
func (r *Repo) CreateSession(id, userID string) Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		return s.meta
	}

	now := time.Now()
	s := &sessionData{meta: Session{ID: id, UserID: userID, CreatedAt: now, UpdatedAt: now}}
	r.sessions[id] = s
	return s.meta
}

// GetSession returns a session's metadata row.
func (r *Repo) GetSession(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return s.meta, true
}

// ListSessions returns every session row, most recently updated first.
func (r *Repo) ListSessions() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// DeleteSession removes a session and its messages.
func (r *Repo) DeleteSession(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return errs.New(errs.KindInternal, "history-repo", "DeleteSession", "session "+id+" not found", nil)
	}
	delete(r.sessions, id)
	return nil
}

// SetTitle updates a session's display title.
func (r *Repo) SetTitle(id, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return errs.New(errs.KindInternal, "history-repo", "SetTitle", "session "+id+" not found", nil)
	}
	s.meta.Title = title
	s.meta.UpdatedAt = time.Now()
	return nil
}

// SetPinned toggles a session's pinned flag.
func (r *Repo) SetPinned(id string, pinned bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return errs.New(errs.KindInternal, "history-repo", "SetPinned", "session "+id+" not found", nil)
	}
	s.meta.Pinned = pinned
	s.meta.UpdatedAt = time.Now()
	return nil
}

// SaveMessage appends a message to a session, creating the session row on
// first touch. It returns no message id.
func (r *Repo) SaveMessage(sessionID string, message llm.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		now := time.Now()
		s = &sessionData{meta: Session{ID: sessionID, CreatedAt: now, UpdatedAt: now}}
		r.sessions[sessionID] = s
	}
	s.messages = append(s.messages, message)
	s.meta.UpdatedAt = time.Now()
}

// GetMessages returns every message persisted for a session, oldest first.
func (r *Repo) GetMessages(sessionID string) []llm.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]llm.Message, len(s.messages))
	copy(out, s.messages)
	return out
}
