package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcveil/conduit/contextwindow"
	"github.com/arcveil/conduit/llm"
	"github.com/arcveil/conduit/memory/longterm"
	"github.com/arcveil/conduit/skill"
	"github.com/arcveil/conduit/task"
)

// scriptedProvider replays one set of stream chunks per call to ChatStream,
// in order, so a test can script a multi-iteration conversation.
type scriptedProvider struct {
	turns [][]llm.StreamChunk
	calls int
}

func (p *scriptedProvider) Chat(context.Context, []llm.Message, llm.Options) (llm.Message, error) {
	return llm.Message{}, fmt.Errorf("not used")
}

func (p *scriptedProvider) ChatStream(context.Context, []llm.Message, llm.Options) iter.Seq2[llm.StreamChunk, error] {
	turn := p.calls
	p.calls++
	return func(yield func(llm.StreamChunk, error) bool) {
		if turn >= len(p.turns) {
			yield(llm.StreamChunk{Kind: llm.ChunkDone}, nil)
			return
		}
		for _, c := range p.turns[turn] {
			if !yield(c, nil) {
				return
			}
		}
	}
}

func contentChunk(text string) llm.StreamChunk {
	return llm.StreamChunk{Kind: llm.ChunkContent, TextDelta: text}
}

func toolCallChunks(id, name string, args string) []llm.StreamChunk {
	return []llm.StreamChunk{
		{Kind: llm.ChunkToolCall, ToolCallDelta: &llm.ToolCallDelta{ID: id, Name: name, Arguments: args}},
		{Kind: llm.ChunkDone, FinishReason: "tool_calls"},
	}
}

func collectEvents(seq iter.Seq2[Event, error]) ([]Event, error) {
	var events []Event
	for ev, err := range seq {
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func newTestLoop(provider llm.Provider) *Loop {
	return New(Dependencies{
		LLM:           provider,
		ContextWindow: contextwindow.New(contextwindow.Config{MaxTokens: 4000}),
		Skills:        skill.NewRegistry(),
		SystemPrompt:  "you are a test agent",
	})
}

func TestRunPlainAnswerNoToolCalls(t *testing.T) {
	provider := &scriptedProvider{turns: [][]llm.StreamChunk{
		{contentChunk("hello "), contentChunk("world"), {Kind: llm.ChunkDone, FinishReason: "stop"}},
	}}
	loop := newTestLoop(provider)

	events, err := collectEvents(loop.Run(context.Background(), Input{SessionID: "s1", Text: "hi"}))
	require.NoError(t, err)

	require.True(t, len(events) >= 2)
	assert.Equal(t, EventContent, events[0].Kind)
	last := events[len(events)-1]
	assert.Equal(t, EventAnswer, last.Kind)
	assert.Equal(t, "hello world", last.Text)
}

func TestRunPlanTaskTool(t *testing.T) {
	planArgs, _ := json.Marshal(map[string]any{"thought": "think first", "steps": []string{"a", "b"}})
	provider := &scriptedProvider{turns: [][]llm.StreamChunk{
		toolCallChunks("call-1", ToolPlanTask, string(planArgs)),
		{contentChunk("done"), {Kind: llm.ChunkDone, FinishReason: "stop"}},
	}}
	loop := newTestLoop(provider)

	events, err := collectEvents(loop.Run(context.Background(), Input{SessionID: "s1", Text: "plan it"}))
	require.NoError(t, err)

	var sawThought, sawPlan bool
	for _, ev := range events {
		if ev.Kind == EventThought {
			sawThought = true
			assert.Equal(t, "think first", ev.Text)
		}
		if ev.Kind == EventPlan {
			sawPlan = true
			assert.Equal(t, []string{"a", "b"}, ev.PlanSteps)
		}
	}
	assert.True(t, sawThought)
	assert.True(t, sawPlan)
}

func TestRunMemoryRememberAndRecall(t *testing.T) {
	rememberArgs, _ := json.Marshal(map[string]any{"content": "the sky is blue"})
	recallArgs, _ := json.Marshal(map[string]any{"query": "sky"})

	provider := &scriptedProvider{turns: [][]llm.StreamChunk{
		toolCallChunks("call-1", ToolMemoryRemember, string(rememberArgs)),
		toolCallChunks("call-2", ToolMemoryRecall, string(recallArgs)),
		{contentChunk("recalled"), {Kind: llm.ChunkDone, FinishReason: "stop"}},
	}}

	loop := New(Dependencies{
		LLM:           provider,
		ContextWindow: contextwindow.New(contextwindow.Config{MaxTokens: 4000}),
		Skills:        skill.NewRegistry(),
		LongTerm:      longterm.New(),
		SystemPrompt:  "test",
	})

	events, err := collectEvents(loop.Run(context.Background(), Input{SessionID: "s1", Text: "remember and recall"}))
	require.NoError(t, err)

	var observations []string
	for _, ev := range events {
		if ev.Kind == EventObservation {
			observations = append(observations, ev.Text)
		}
	}
	require.Len(t, observations, 2)
	assert.Contains(t, observations[0], "Memory saved")
	assert.Contains(t, observations[1], "the sky is blue")
}

func TestRunDAGTools(t *testing.T) {
	createArgs, _ := json.Marshal(map[string]any{"description": "step one"})

	provider := &scriptedProvider{turns: [][]llm.StreamChunk{
		toolCallChunks("call-1", ToolDAGCreateTask, string(createArgs)),
		toolCallChunks("call-2", ToolDAGExecute, "{}"),
		{contentChunk("all done"), {Kind: llm.ChunkDone, FinishReason: "stop"}},
	}}

	repo := task.NewRepo()
	executor := task.NewExecutor(repo, func(_ context.Context, snap task.Snapshot) (string, error) {
		return "ran " + snap.Description, nil
	})

	loop := New(Dependencies{
		LLM:           provider,
		ContextWindow: contextwindow.New(contextwindow.Config{MaxTokens: 4000}),
		Skills:        skill.NewRegistry(),
		TaskRepo:      repo,
		TaskExecutor:  executor,
		SystemPrompt:  "test",
	})

	events, err := collectEvents(loop.Run(context.Background(), Input{SessionID: "s1", Text: "run the graph"}))
	require.NoError(t, err)

	var sawCreated, sawCompleted bool
	for _, ev := range events {
		if ev.Kind == EventTaskCreated {
			sawCreated = true
		}
		if ev.Kind == EventTaskCompleted {
			sawCompleted = true
		}
	}
	assert.True(t, sawCreated)
	assert.True(t, sawCompleted)
}

// fakeSkillSource advertises a single tool.
type fakeSkillSource struct {
	name string
}

func (f *fakeSkillSource) Name() string { return f.name }
func (f *fakeSkillSource) Type() string { return "local" }
func (f *fakeSkillSource) Initialize(context.Context) error { return nil }
func (f *fakeSkillSource) Tools() []skill.Descriptor {
	return []skill.Descriptor{{Name: "demo.greet", Description: "say hi"}}
}
func (f *fakeSkillSource) Execute(_ context.Context, toolName string, params map[string]any) (string, error) {
	name, _ := params["name"].(string)
	return "hello, " + name, nil
}
func (f *fakeSkillSource) Destroy(context.Context) error { return nil }

func TestRunDispatchesSkillTool(t *testing.T) {
	greetArgs, _ := json.Marshal(map[string]any{"name": "ada"})
	provider := &scriptedProvider{turns: [][]llm.StreamChunk{
		toolCallChunks("call-1", "demo.greet", string(greetArgs)),
		{contentChunk("ok"), {Kind: llm.ChunkDone, FinishReason: "stop"}},
	}}

	registry := skill.NewRegistry()
	require.NoError(t, registry.RegisterSource(context.Background(), &fakeSkillSource{name: "demo"}))

	loop := New(Dependencies{
		LLM:           provider,
		ContextWindow: contextwindow.New(contextwindow.Config{MaxTokens: 4000}),
		Skills:        registry,
		SystemPrompt:  "test",
	})

	events, err := collectEvents(loop.Run(context.Background(), Input{SessionID: "s1", Text: "greet ada"}))
	require.NoError(t, err)

	var sawAction, sawObservation bool
	for _, ev := range events {
		if ev.Kind == EventAction {
			sawAction = true
			assert.Equal(t, "demo.greet", ev.ActionName)
		}
		if ev.Kind == EventObservation {
			sawObservation = true
			assert.Equal(t, "hello, ada", ev.Text)
		}
	}
	assert.True(t, sawAction)
	assert.True(t, sawObservation)
}

func TestRunStopsAtMaxIterations(t *testing.T) {
	toolArgs, _ := json.Marshal(map[string]any{"name": "x"})
	var turns [][]llm.StreamChunk
	for i := 0; i < 5; i++ {
		turns = append(turns, toolCallChunks(fmt.Sprintf("call-%d", i), "demo.greet", string(toolArgs)))
	}

	registry := skill.NewRegistry()
	require.NoError(t, registry.RegisterSource(context.Background(), &fakeSkillSource{name: "demo"}))

	provider := &scriptedProvider{turns: turns}
	loop := New(Dependencies{
		LLM:           provider,
		ContextWindow: contextwindow.New(contextwindow.Config{MaxTokens: 4000}),
		Skills:        registry,
		SystemPrompt:  "test",
		MaxIterations: 2,
	})

	events, err := collectEvents(loop.Run(context.Background(), Input{SessionID: "s1", Text: "loop forever"}))
	require.NoError(t, err)

	last := events[len(events)-1]
	assert.Equal(t, EventAnswer, last.Kind)
	assert.Contains(t, last.Text, "Step limit reached")
}
