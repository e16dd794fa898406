// Package agentloop implements the Agent Loop (§4.8): the bounded
// iteration that streams an LLM response, dispatches any tool calls it
// emits — built-ins handled inline, everything else through the Skill
// Registry — and yields a lazy sequence of typed execution events.
//
// Grounded on pkg/agent/llmagent/llmagent.go's run() shape: an
// iter.Seq2[*Event, error] entry point, a per-run message-building step,
// tool-definition collection ahead of the call, and a findTool-style
// dispatch that special-cases a small set of control tools before falling
// through to the general registry. The streaming tool-call-argument
// accumulator is new, built directly from spec.md §4.8's "Streaming
// framing note" since the teacher's v2 code wraps a non-streaming
// model.Request/Response pair rather than raw provider deltas.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/arcveil/conduit/contextwindow"
	"github.com/arcveil/conduit/errs"
	"github.com/arcveil/conduit/llm"
	"github.com/arcveil/conduit/memory/longterm"
	"github.com/arcveil/conduit/skill"
	"github.com/arcveil/conduit/task"
)

// Reserved built-in tool names (§3).
const (
	ToolPlanTask        = "plan_task"
	ToolMemoryRemember  = "memory_remember"
	ToolMemoryRecall    = "memory_recall"
	ToolDAGCreateTask   = "dag_create_task"
	ToolDAGGetStatus    = "dag_get_status"
	ToolDAGExecute      = "dag_execute"
)

// toolCallTimeout bounds every non-built-in tool invocation (§4.8, §5).
const toolCallTimeout = 60 * time.Second

// EventKind tags an Event (§3).
type EventKind string

const (
	EventContent       EventKind = "content"
	EventThought       EventKind = "thought"
	EventPlan          EventKind = "plan"
	EventAction        EventKind = "action"
	EventObservation   EventKind = "observation"
	EventTaskCreated   EventKind = "task_created"
	EventTaskCompleted EventKind = "task_completed"
	EventTaskFailed    EventKind = "task_failed"
	EventAnswer        EventKind = "answer"
	EventError         EventKind = "error"
)

// Event is one item of a run's lazy output sequence.
type Event struct {
	Kind        EventKind
	Text        string         // content delta, thought, answer text, observation text
	PlanSteps   []string       // set on EventPlan
	ActionName  string         // set on EventAction
	ActionInput map[string]any // set on EventAction
	TaskID      string         // set on DAG events
	Err         error          // set on EventError; on DAG task events, the task's error if any
}

// Attachment is an opaque input artifact supplied with a run's Input. Run
// does not pass attachments to the LLM: the current-turn message carries
// Input.Text only.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Input is one run's request (§4.8's contract).
type Input struct {
	SessionID   string
	UserID      string
	Text        string
	Attachments []Attachment
	History     []llm.Message
}

// Dependencies wires a run to its collaborators. LongTerm and DAG are
// optional: their absence simply disables the corresponding built-in
// tools (§4.8 step 4).
type Dependencies struct {
	LLM           llm.Provider
	ContextWindow *contextwindow.Manager
	Skills        *skill.Registry
	LongTerm      *longterm.Store
	TaskRepo      *task.Repo
	TaskExecutor  *task.Executor

	SystemPrompt  string
	MaxIterations int // default 10
}

// Loop drives repeated runs sharing the same collaborators.
type Loop struct {
	deps Dependencies
}

func New(deps Dependencies) *Loop {
	if deps.MaxIterations <= 0 {
		deps.MaxIterations = 10
	}
	return &Loop{deps: deps}
}

// Run executes one agent turn, returning a lazy sequence of events.
// Consumption drives progress: nothing happens until the returned
// sequence is ranged over (§5's pull-based scheduling model).
func (l *Loop) Run(ctx context.Context, in Input) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		system := llm.Message{Role: llm.RoleSystem, Content: l.buildSystemPrompt(ctx, in)}
		current := []llm.Message{{Role: llm.RoleUser, Content: in.Text}}

		messages, err := l.deps.ContextWindow.Prepare(ctx, system, in.History, current)
		if err != nil {
			yield(Event{}, err)
			return
		}

		tools := l.collectToolDefinitions()

		for i := 0; i < l.deps.MaxIterations; i++ {
			assistantMsg, events, err := l.streamOneTurn(ctx, messages, tools)
			for _, ev := range events {
				if !yield(ev, nil) {
					return
				}
			}
			if err != nil {
				yield(Event{}, err)
				return
			}

			messages = append(messages, assistantMsg)

			if len(assistantMsg.ToolCalls) == 0 {
				yield(Event{Kind: EventAnswer, Text: assistantMsg.Content}, nil)
				return
			}

			for _, tc := range assistantMsg.ToolCalls {
				replies, stop := l.dispatchToolCall(ctx, in.SessionID, tc, yield)
				messages = append(messages, replies...)
				if stop {
					return
				}
			}
		}

		yield(Event{Kind: EventAnswer, Text: "Step limit reached. Please start a new request to continue."}, nil)
	}
}

// buildSystemPrompt augments the fixed project guidance with up to three
// highest-ranked long-term memories matching the input, when configured
// (§4.8 step 1). Retrieval failures are logged and ignored.
func (l *Loop) buildSystemPrompt(ctx context.Context, in Input) string {
	prompt := l.deps.SystemPrompt
	if l.deps.LongTerm == nil {
		return prompt
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Warn("agentloop: memory retrieval for system prompt panicked", "error", r)
		}
	}()

	memories := l.deps.LongTerm.Search(ctx, in.Text, 3)
	if len(memories) == 0 {
		return prompt
	}

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nRelevant memories:\n")
	for _, m := range memories {
		fmt.Fprintf(&b, "- %s\n", m.Content)
	}
	return b.String()
}

func (l *Loop) collectToolDefinitions() []llm.ToolDefinition {
	var defs []llm.ToolDefinition

	defs = append(defs, llm.ToolDefinition{
		Name:        ToolPlanTask,
		Description: "Record a short plan before taking action.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"thought": map[string]any{"type": "string"},
				"steps":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
			"required": []string{"thought", "steps"},
		},
	})

	if l.deps.LongTerm != nil {
		defs = append(defs,
			llm.ToolDefinition{
				Name:        ToolMemoryRemember,
				Description: "Persist a fact to long-term memory.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"content": map[string]any{"type": "string"},
						"tags":    map[string]any{"type": "string"},
					},
					"required": []string{"content"},
				},
			},
			llm.ToolDefinition{
				Name:        ToolMemoryRecall,
				Description: "Search long-term memory for relevant facts.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{"type": "string"},
						"limit": map[string]any{"type": "number"},
					},
					"required": []string{"query"},
				},
			},
		)
	}

	if l.deps.TaskRepo != nil && l.deps.TaskExecutor != nil {
		defs = append(defs,
			llm.ToolDefinition{Name: ToolDAGCreateTask, Description: "Create a task node with optional dependencies."},
			llm.ToolDefinition{Name: ToolDAGGetStatus, Description: "Get the status of the session's task graph."},
			llm.ToolDefinition{Name: ToolDAGExecute, Description: "Run the session's task graph to completion."},
		)
	}

	for _, d := range l.deps.Skills.Descriptors() {
		defs = append(defs, llm.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
	}
	return defs
}

// streamOneTurn consumes one streaming chat call, emitting content events
// for each textual delta and accumulating tool-call fragments per call: a
// fragment with an id joins that id's call, and one without an id joins the
// call last seen at its index, per §4.8's streaming framing note.
func (l *Loop) streamOneTurn(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (llm.Message, []Event, error) {
	var events []Event
	var textBuilder strings.Builder
	acc := newToolCallAccumulator()

	for chunk, err := range l.deps.LLM.ChatStream(ctx, messages, llm.Options{Tools: tools}) {
		if err != nil {
			return llm.Message{}, events, errs.New(errs.KindLLM, "agentloop", "streamOneTurn", "chat stream failed", err)
		}
		switch chunk.Kind {
		case llm.ChunkContent:
			textBuilder.WriteString(chunk.TextDelta)
			if chunk.TextDelta != "" {
				events = append(events, Event{Kind: EventContent, Text: chunk.TextDelta})
			}
		case llm.ChunkToolCall:
			if chunk.ToolCallDelta != nil {
				acc.apply(*chunk.ToolCallDelta)
			}
		case llm.ChunkDone:
		}
	}

	assistantMsg := llm.Message{
		Role:      llm.RoleAssistant,
		Content:   textBuilder.String(),
		ToolCalls: acc.finish(),
	}
	return assistantMsg, events, nil
}

// toolCallAccumulator concatenates incremental argument fragments for the
// same call; finish returns the calls in first-seen order once the stream
// has ended (Done deltas are not consulted).
type toolCallAccumulator struct {
	order   []string
	byKey   map[string]*llm.ToolCall
	byIndex map[int]string
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byKey: make(map[string]*llm.ToolCall), byIndex: make(map[int]string)}
}

func (a *toolCallAccumulator) apply(d llm.ToolCallDelta) {
	key := d.ID
	if prev, ok := a.byIndex[d.Index]; ok && (key == "" || a.byKey[prev].ID == "") {
		key = prev
	}
	if key == "" {
		key = fmt.Sprintf("idx-%d", d.Index)
	}

	tc, ok := a.byKey[key]
	if !ok {
		tc = &llm.ToolCall{ID: d.ID, Name: d.Name}
		a.byKey[key] = tc
		a.order = append(a.order, key)
	}
	a.byIndex[d.Index] = key
	if d.ID != "" && tc.ID == "" {
		tc.ID = d.ID
	}
	if d.Name != "" {
		tc.Name = d.Name
	}
	tc.Arguments += d.Arguments
}

func (a *toolCallAccumulator) finish() []llm.ToolCall {
	out := make([]llm.ToolCall, 0, len(a.order))
	for _, key := range a.order {
		out = append(out, *a.byKey[key])
	}
	return out
}

// dispatchToolCall handles one assistant-requested tool call, emitting the
// events it produces and returning the tool-role reply messages to append.
// stop is true only when the caller's yield signalled early termination.
func (l *Loop) dispatchToolCall(ctx context.Context, sessionID string, tc llm.ToolCall, yield func(Event, error) bool) ([]llm.Message, bool) {
	switch tc.Name {
	case ToolPlanTask:
		return l.handlePlanTask(tc, yield)
	case ToolMemoryRemember:
		return l.handleMemoryRemember(ctx, sessionID, tc, yield)
	case ToolMemoryRecall:
		return l.handleMemoryRecall(ctx, tc, yield)
	case ToolDAGCreateTask, ToolDAGGetStatus, ToolDAGExecute:
		return l.handleDAGTool(ctx, sessionID, tc, yield)
	default:
		return l.handleSkillTool(ctx, tc, yield)
	}
}

func (l *Loop) reply(tc llm.ToolCall, text string) llm.Message {
	return llm.Message{Role: llm.RoleTool, ToolCallID: tc.ID, Name: tc.Name, Content: text}
}

func (l *Loop) handlePlanTask(tc llm.ToolCall, yield func(Event, error) bool) ([]llm.Message, bool) {
	var args struct {
		Thought string   `json:"thought"`
		Steps   []string `json:"steps"`
	}
	if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
		return []llm.Message{l.reply(tc, "Error: "+err.Error())}, !yield(Event{Kind: EventError, Err: err}, nil)
	}

	if !yield(Event{Kind: EventThought, Text: args.Thought}, nil) {
		return nil, true
	}
	if !yield(Event{Kind: EventPlan, PlanSteps: args.Steps}, nil) {
		return nil, true
	}

	stepsJSON, _ := json.Marshal(args.Steps)
	reply := l.reply(tc, fmt.Sprintf("Plan acknowledged: %s. Proceed with the next step.", string(stepsJSON)))
	return []llm.Message{reply}, false
}

func (l *Loop) handleMemoryRemember(ctx context.Context, sessionID string, tc llm.ToolCall, yield func(Event, error) bool) ([]llm.Message, bool) {
	var args struct {
		Content string `json:"content"`
		Tags    string `json:"tags"`
	}
	if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
		return []llm.Message{l.reply(tc, "Error: "+err.Error())}, !yield(Event{Kind: EventError, Err: err}, nil)
	}

	metadata := map[string]any{}
	if args.Tags != "" {
		var tags []string
		for _, t := range strings.Split(args.Tags, ",") {
			tags = append(tags, strings.TrimSpace(t))
		}
		metadata["tags"] = tags
	}

	id, err := l.deps.LongTerm.Remember(ctx, args.Content, metadata, sessionID)
	text := fmt.Sprintf("Memory saved (id: %s)", id)
	if err != nil {
		text = "Error: " + err.Error()
	}
	if !yield(Event{Kind: EventObservation, Text: text}, nil) {
		return nil, true
	}
	return []llm.Message{l.reply(tc, text)}, false
}

func (l *Loop) handleMemoryRecall(ctx context.Context, tc llm.ToolCall, yield func(Event, error) bool) ([]llm.Message, bool) {
	var args struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
		return []llm.Message{l.reply(tc, "Error: "+err.Error())}, !yield(Event{Kind: EventError, Err: err}, nil)
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 5
	}

	results := l.deps.LongTerm.Search(ctx, args.Query, limit)
	text := "No relevant memories found."
	if len(results) > 0 {
		var b strings.Builder
		for _, m := range results {
			fmt.Fprintf(&b, "- %s\n", m.Content)
		}
		text = b.String()
	}
	if !yield(Event{Kind: EventObservation, Text: text}, nil) {
		return nil, true
	}
	return []llm.Message{l.reply(tc, text)}, false
}

func (l *Loop) handleDAGTool(ctx context.Context, sessionID string, tc llm.ToolCall, yield func(Event, error) bool) ([]llm.Message, bool) {
	var result string
	switch tc.Name {
	case ToolDAGCreateTask:
		var args struct {
			Description string   `json:"description"`
			Deps        []string `json:"deps"`
		}
		_ = json.Unmarshal([]byte(tc.Arguments), &args)
		id := l.deps.TaskRepo.CreateTask(sessionID, args.Description, args.Deps)
		result = fmt.Sprintf("Created task %s", id)
		if !yield(Event{Kind: EventTaskCreated, TaskID: id}, nil) {
			return nil, true
		}
	case ToolDAGGetStatus:
		tasks := l.deps.TaskRepo.GetTasks(sessionID)
		var b strings.Builder
		for _, t := range tasks {
			fmt.Fprintf(&b, "- %s: %s\n", t.ID, t.Status)
		}
		result = b.String()
	case ToolDAGExecute:
		var buf strings.Builder
		err := l.deps.TaskExecutor.Execute(ctx, sessionID, func(ev task.Event) {
			var kind EventKind
			switch ev.Kind {
			case task.EventTaskCompleted:
				kind = EventTaskCompleted
			case task.EventTaskFailed:
				kind = EventTaskFailed
			default:
				kind = EventTaskCreated
			}
			yield(Event{Kind: kind, TaskID: ev.TaskID, Text: ev.Result, Err: errorOrNil(ev.Err)}, nil)
			fmt.Fprintf(&buf, "%s %s\n", ev.Kind, ev.TaskID)
		})
		result = buf.String()
		if err != nil {
			result = "Error: " + err.Error()
		}
	}
	return []llm.Message{l.reply(tc, result)}, false
}

func errorOrNil(msg string) error {
	if msg == "" {
		return nil
	}
	return fmt.Errorf("%s", msg)
}

// handleSkillTool is the default path: a dotted source.action tool
// executed through the Skill Registry under a 60-second timeout (§4.8,
// §5). Any error, including timeout, is recovered into an observation
// rather than aborting the loop.
func (l *Loop) handleSkillTool(ctx context.Context, tc llm.ToolCall, yield func(Event, error) bool) ([]llm.Message, bool) {
	var params map[string]any
	if tc.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Arguments), &params); err != nil {
			params = map[string]any{"_raw": tc.Arguments}
		}
	}

	if !yield(Event{Kind: EventAction, ActionName: tc.Name, ActionInput: params}, nil) {
		return nil, true
	}

	callCtx, cancel := context.WithTimeout(ctx, toolCallTimeout)
	defer cancel()

	result, err := l.deps.Skills.Execute(callCtx, tc.Name, params)

	var text string
	if err != nil {
		if callCtx.Err() != nil {
			err = errs.New(errs.KindToolTimeout, "agentloop", "handleSkillTool", tc.Name, err)
		}
		text = "Error: " + err.Error()
	} else {
		text = result
	}

	if !yield(Event{Kind: EventObservation, Text: text}, nil) {
		return nil, true
	}
	return []llm.Message{l.reply(tc, text)}, false
}
