package agentloop

import (
	"context"
	"fmt"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arcveil/conduit/llm"
)

// chatOnlyProvider exercises GenerateTitle without needing a streaming path.
type chatOnlyProvider struct {
	reply string
	err   error
}

func (p chatOnlyProvider) Chat(context.Context, []llm.Message, llm.Options) (llm.Message, error) {
	if p.err != nil {
		return llm.Message{}, p.err
	}
	return llm.Message{Role: llm.RoleAssistant, Content: p.reply}, nil
}

func (p chatOnlyProvider) ChatStream(context.Context, []llm.Message, llm.Options) iter.Seq2[llm.StreamChunk, error] {
	return func(yield func(llm.StreamChunk, error) bool) {}
}

func TestGenerateTitleNilProviderReturnsFallback(t *testing.T) {
	title := GenerateTitle(context.Background(), nil, "hello there")
	assert.Equal(t, fallbackTitle, title)
}

func TestGenerateTitleErrorReturnsFallback(t *testing.T) {
	title := GenerateTitle(context.Background(), chatOnlyProvider{err: fmt.Errorf("boom")}, "hello")
	assert.Equal(t, fallbackTitle, title)
}

func TestGenerateTitleTrimsQuotesAndWhitespace(t *testing.T) {
	title := GenerateTitle(context.Background(), chatOnlyProvider{reply: `  "Weekend Plans"  `}, "let's plan the weekend")
	assert.Equal(t, "Weekend Plans", title)
}

func TestGenerateTitleStripsGuillemets(t *testing.T) {
	title := GenerateTitle(context.Background(), chatOnlyProvider{reply: `«Road Trip»`}, "planning a trip")
	assert.Equal(t, "Road Trip", title)
}

func TestGenerateTitleEmptyReplyReturnsFallback(t *testing.T) {
	title := GenerateTitle(context.Background(), chatOnlyProvider{reply: `   `}, "hi")
	assert.Equal(t, fallbackTitle, title)
}
