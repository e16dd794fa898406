package contextwindow

import (
	"context"
	"iter"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcveil/conduit/llm"
)

// stubProvider is a fake llm.Provider used only to exercise
// contextwindow's summarization path without a real backend.
type stubProvider struct {
	reply string
	err   error
}

func (p stubProvider) Chat(_ context.Context, _ []llm.Message, _ llm.Options) (llm.Message, error) {
	if p.err != nil {
		return llm.Message{}, p.err
	}
	return llm.Message{Role: llm.RoleAssistant, Content: p.reply}, nil
}

func (p stubProvider) ChatStream(context.Context, []llm.Message, llm.Options) iter.Seq2[llm.StreamChunk, error] {
	return func(yield func(llm.StreamChunk, error) bool) {}
}

func userMsg(content string) llm.Message { return llm.Message{Role: llm.RoleUser, Content: content} }

func TestPrepareWithinBudgetKeepsFullHistory(t *testing.T) {
	m := New(Config{MaxTokens: 1000, ReservedTokens: 100})
	system := llm.Message{Role: llm.RoleSystem, Content: "system prompt"}
	history := []llm.Message{userMsg("hi"), {Role: llm.RoleAssistant, Content: "hello"}}
	current := []llm.Message{userMsg("how are you?")}

	out, err := m.Prepare(context.Background(), system, history, current)
	require.NoError(t, err)
	assert.Equal(t, system, out[0])
	assert.Len(t, out, 1+len(history)+len(current))
}

func TestPrepareFixedAloneExceedsBudget(t *testing.T) {
	m := New(Config{MaxTokens: 10, ReservedTokens: 0})
	system := llm.Message{Role: llm.RoleSystem, Content: strings.Repeat("x", 100)}
	current := []llm.Message{userMsg(strings.Repeat("y", 100))}

	out, err := m.Prepare(context.Background(), system, nil, current)
	require.NoError(t, err)
	assert.Equal(t, []llm.Message{system, current[0]}, out)
}

func TestPrepareTrimsAndSummarizesWithFallback(t *testing.T) {
	m := New(Config{MaxTokens: 60, ReservedTokens: 0}) // no LLM configured
	system := llm.Message{Role: llm.RoleSystem, Content: "sys"}

	var history []llm.Message
	for i := 0; i < 20; i++ {
		history = append(history, userMsg(strings.Repeat("word ", 10)))
	}
	current := []llm.Message{userMsg("latest")}

	out, err := m.Prepare(context.Background(), system, history, current)
	require.NoError(t, err)

	require.True(t, len(out) < 1+len(history)+len(current), "history should have been trimmed")
	assert.Equal(t, system, out[0])

	summary := out[1]
	assert.Equal(t, llm.RoleSystem, summary.Role)
	assert.Contains(t, summary.Content, "earlier messages omitted")
}

func TestPrepareSummarizesWithLLMWhenConfigured(t *testing.T) {
	m := New(Config{MaxTokens: 60, ReservedTokens: 0, LLM: stubProvider{reply: "a brief recap"}})
	system := llm.Message{Role: llm.RoleSystem, Content: "sys"}

	var history []llm.Message
	for i := 0; i < 20; i++ {
		history = append(history, userMsg(strings.Repeat("word ", 10)))
	}
	current := []llm.Message{userMsg("latest")}

	out, err := m.Prepare(context.Background(), system, history, current)
	require.NoError(t, err)
	assert.Contains(t, out[1].Content, "a brief recap")
}

func TestPrepareFallsBackWhenLLMErrors(t *testing.T) {
	m := New(Config{MaxTokens: 60, ReservedTokens: 0, LLM: stubProvider{err: assertError{}}})
	system := llm.Message{Role: llm.RoleSystem, Content: "sys"}

	var history []llm.Message
	for i := 0; i < 20; i++ {
		history = append(history, userMsg(strings.Repeat("word ", 10)))
	}
	current := []llm.Message{userMsg("latest")}

	out, err := m.Prepare(context.Background(), system, history, current)
	require.NoError(t, err)
	assert.Contains(t, out[1].Content, "earlier messages omitted")
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func TestEstimateTokens(t *testing.T) {
	msg := llm.Message{Content: "abcdef"} // 6 chars -> ceil(6/3) = 2
	assert.Equal(t, 2, estimateTokens(msg))
}
