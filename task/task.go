// Package task implements the Task Graph & DAG Executor (§4.7): a
// persisted, dependency-ordered set of tasks executed in ready-waves with
// barrier semantics between rounds.
//
// The state machine shape (ID/Status/Metadata/CreatedAt/UpdatedAt/mutex,
// a Service-like repository interface) is grounded on pkg/task/task.go,
// trimmed from its eight A2A-protocol states down to the four spec.md
// names and stripped of A2A-specific fields (ContextID, history of
// a2a.Message, Artifacts, InputRequirement, ExecutionState) that have no
// counterpart in this runtime. The round-based fan-out/barrier executor is
// new: it uses golang.org/x/sync/errgroup to dispatch a round's ready
// tasks concurrently and join before computing the next round.
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/arcveil/conduit/errs"
	"github.com/arcveil/conduit/skill"
)

// Status is a task's lifecycle state (§4.7).
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is one node of a session's dependency graph.
type Task struct {
	ID          string
	SessionID   string
	Description string
	Deps        []string

	mu        sync.RWMutex
	status    Status
	result    string
	errMsg    string
	createdAt time.Time
	updatedAt time.Time
}

func (t *Task) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *Task) Result() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.result
}

func (t *Task) Error() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.errMsg
}

func (t *Task) setStatus(s Status, result, errMsg string) {
	t.mu.Lock()
	t.status = s
	t.result = result
	t.errMsg = errMsg
	t.updatedAt = time.Now()
	t.mu.Unlock()
}

// Snapshot is an immutable view of a Task, safe to hand out without the
// caller touching the live mutex.
type Snapshot struct {
	ID          string
	SessionID   string
	Description string
	Deps        []string
	Status      Status
	Result      string
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (t *Task) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		ID: t.ID, SessionID: t.SessionID, Description: t.Description, Deps: append([]string{}, t.Deps...),
		Status: t.status, Result: t.result, Error: t.errMsg,
		CreatedAt: t.createdAt, UpdatedAt: t.updatedAt,
	}
}

// Edge is one dependency arc in a derived DAG view.
type Edge struct {
	From string
	To   string
}

// Handler executes one task's description, yielding a free-text result
// or an error. The Executor only sequences execution; BuildHandler below
// supplies the standard JSON-vs-free-text dispatch through the skill
// registry.
type Handler func(ctx context.Context, t Snapshot) (string, error)

// taskCall is the shape a task's Description may parse as: a tool
// dispatched through the skill registry rather than a free-form note.
type taskCall struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params"`
}

// BuildHandler returns the per-task dispatch Handler (§4.7): parse
// Description as {tool, params}; on success, dispatch tool through
// skills with params. Any other description — plain text or JSON that
// doesn't match the {tool, params} shape — produces a synthesized,
// idempotent, side-effect-free "Task noted: <description>" result.
func BuildHandler(skills *skill.Registry) Handler {
	return func(ctx context.Context, t Snapshot) (string, error) {
		var call taskCall
		if err := json.Unmarshal([]byte(t.Description), &call); err == nil && call.Tool != "" {
			return skills.Execute(ctx, call.Tool, call.Params)
		}
		return fmt.Sprintf("Task noted: %s", t.Description), nil
	}
}

// Repo is the task graph's persistence boundary (§6: "Task repo").
type Repo struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

func NewRepo() *Repo {
	return &Repo{tasks: make(map[string]*Task)}
}

// CreateTask registers a new pending task with the given dependency ids.
func (r *Repo) CreateTask(sessionID, description string, deps []string) string {
	id := uuid.NewString()
	now := time.Now()
	t := &Task{
		ID: id, SessionID: sessionID, Description: description, Deps: deps,
		status: StatusPending, createdAt: now, updatedAt: now,
	}
	r.mu.Lock()
	r.tasks[id] = t
	r.mu.Unlock()
	return id
}

func (r *Repo) GetTask(id string) (Snapshot, bool) {
	r.mu.RLock()
	t, ok := r.tasks[id]
	r.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return t.Snapshot(), true
}

// GetTasks returns every task belonging to session, oldest first.
func (r *Repo) GetTasks(session string) []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Snapshot
	for _, t := range r.tasks {
		if t.SessionID == session {
			out = append(out, t.Snapshot())
		}
	}
	sortByCreatedAt(out)
	return out
}

func sortByCreatedAt(snaps []Snapshot) {
	for i := 1; i < len(snaps); i++ {
		for j := i; j > 0 && snaps[j].CreatedAt.Before(snaps[j-1].CreatedAt); j-- {
			snaps[j], snaps[j-1] = snaps[j-1], snaps[j]
		}
	}
}

// UpdateStatus transitions a task and records its result or error message.
func (r *Repo) UpdateStatus(id string, status Status, result, errMsg string) error {
	r.mu.RLock()
	t, ok := r.tasks[id]
	r.mu.RUnlock()
	if !ok {
		return errs.New(errs.KindInternal, "task-repo", "UpdateStatus", "task "+id+" not found", nil)
	}
	t.setStatus(status, result, errMsg)
	return nil
}

// GetReadyTasks returns every pending task in session whose dependencies
// have all completed (§4.7's readiness invariant).
func (r *Repo) GetReadyTasks(session string) []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byID := make(map[string]*Task, len(r.tasks))
	for id, t := range r.tasks {
		byID[id] = t
	}

	var ready []Snapshot
	for _, t := range r.tasks {
		if t.SessionID != session {
			continue
		}
		if t.Status() != StatusPending {
			continue
		}
		allDone := true
		for _, dep := range t.Deps {
			dt, ok := byID[dep]
			if !ok || dt.Status() != StatusCompleted {
				allDone = false
				break
			}
		}
		if allDone {
			ready = append(ready, t.Snapshot())
		}
	}
	sortByCreatedAt(ready)
	return ready
}

// GetDAG returns every task in session plus the derived {from, to} edge
// list (§4.7).
func (r *Repo) GetDAG(session string) ([]Snapshot, []Edge) {
	tasks := r.GetTasks(session)
	var edges []Edge
	for _, t := range tasks {
		for _, dep := range t.Deps {
			edges = append(edges, Edge{From: dep, To: t.ID})
		}
	}
	return tasks, edges
}

// EventKind tags an Event emitted by Execute.
type EventKind string

const (
	EventTaskCreated   EventKind = "task_created"
	EventTaskCompleted EventKind = "task_completed"
	EventTaskFailed    EventKind = "task_failed"
)

// Event is one item Execute passes to its emit callback.
type Event struct {
	Kind   EventKind
	TaskID string
	Result string
	Err    string
}

// MaxRounds bounds the executor: hitting it ends the run with a warning
// rather than looping forever on a graph that never fully resolves
// (§4.7).
const MaxRounds = 50

// Executor drives the round-based DAG walk over a Repo.
type Executor struct {
	repo    *Repo
	handler Handler
}

func NewExecutor(repo *Repo, handler Handler) *Executor {
	return &Executor{repo: repo, handler: handler}
}

// Execute runs session's graph to completion (or until MaxRounds rounds
// have run, which ends the run with a logged warning and a nil error),
// pushing events to emit as they occur. Each round: list ready tasks, mark
// them running, dispatch all of them concurrently via an errgroup, wait
// for every one to settle, emit its terminal event, then compute the next
// round. No task from round n+1 starts before every task from round n has
// reached a terminal status (§8's DAG barrier invariant).
func (e *Executor) Execute(ctx context.Context, session string, emit func(Event)) error {
	for round := 0; round < MaxRounds; round++ {
		ready := e.repo.GetReadyTasks(session)
		if len(ready) == 0 {
			return nil
		}

		for _, t := range ready {
			if err := e.repo.UpdateStatus(t.ID, StatusRunning, "", ""); err != nil {
				return err
			}
		}

		results := make([]Event, len(ready))
		g, gctx := errgroup.WithContext(ctx)
		for i, t := range ready {
			i, t := i, t
			g.Go(func() error {
				result, err := e.runOne(gctx, t)
				results[i] = result
				_ = err // per-task failures are isolated, never propagated to the group
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return errs.New(errs.KindInternal, "task-executor", "Execute", "round dispatch failed", err)
		}

		for _, ev := range results {
			emit(ev)
		}
	}

	slog.Warn("task-executor: MaxRounds reached, ending run", "max_rounds", MaxRounds, "session", session)
	return nil
}

// runOne executes a single ready task, updating its persisted status and
// returning the terminal event to emit. A handler error marks the task
// failed locally; it never aborts the round (§4.7's failure semantics).
func (e *Executor) runOne(ctx context.Context, t Snapshot) (Event, error) {
	result, err := e.handler(ctx, t)
	if err != nil {
		_ = e.repo.UpdateStatus(t.ID, StatusFailed, "", err.Error())
		return Event{Kind: EventTaskFailed, TaskID: t.ID, Err: err.Error()}, nil
	}
	_ = e.repo.UpdateStatus(t.ID, StatusCompleted, result, "")
	return Event{Kind: EventTaskCompleted, TaskID: t.ID, Result: result}, nil
}
