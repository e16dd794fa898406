// OpenAI-backed llm.Provider implementation. The teacher hand-rolls an
// SSE client directly against OpenAI's Responses API (pkg/llms/openai.go);
// this module instead builds on github.com/sashabaranov/go-openai, the
// same library memory/longterm's OpenAIEmbedder uses, so the chat-
// completions request/response/stream framing isn't reinvented a second
// time for a different endpoint.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements Provider against the Chat Completions API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider constructs a provider. baseURL may be empty to use
// OpenAI's default endpoint, or set to point at an OpenAI-compatible
// gateway.
func NewOpenAIProvider(apiKey, baseURL, model string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg), model: model}
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func toOpenAITools(defs []ToolDefinition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return out
}

func (p *OpenAIProvider) request(messages []Message, opts Options) openai.ChatCompletionRequest {
	model := opts.Model
	if model == "" {
		model = p.model
	}
	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(messages),
		Tools:       toOpenAITools(opts.Tools),
		Temperature: float32(opts.Temperature),
		MaxTokens:   opts.MaxTokens,
	}
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message, opts Options) (Message, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.request(messages, opts))
	if err != nil {
		return Message{}, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Message{}, fmt.Errorf("openai chat: empty choices")
	}

	choice := resp.Choices[0].Message
	msg := Message{Role: RoleAssistant, Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return msg, nil
}

// ChatStream consumes go-openai's streaming response and re-frames each
// delta as a StreamChunk. go-openai tags tool-call deltas with an Index
// (and, on the first delta for a given call, an ID); our ToolCallDelta
// preserves both so callers can concatenate fragments per §9's framing
// note.
func (p *OpenAIProvider) ChatStream(ctx context.Context, messages []Message, opts Options) iter.Seq2[StreamChunk, error] {
	return func(yield func(StreamChunk, error) bool) {
		req := p.request(messages, opts)
		req.Stream = true

		stream, err := p.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			yield(StreamChunk{}, fmt.Errorf("openai chat stream: %w", err))
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				yield(StreamChunk{Kind: ChunkDone}, nil)
				return
			}
			if err != nil {
				yield(StreamChunk{}, fmt.Errorf("openai chat stream: %w", err))
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}

			choice := resp.Choices[0]
			delta := choice.Delta

			if delta.Content != "" {
				if !yield(StreamChunk{Kind: ChunkContent, TextDelta: delta.Content}, nil) {
					return
				}
			}

			for _, tc := range delta.ToolCalls {
				index := 0
				if tc.Index != nil {
					index = *tc.Index
				}
				if !yield(StreamChunk{
					Kind: ChunkToolCall,
					ToolCallDelta: &ToolCallDelta{
						ID:        tc.ID,
						Index:     index,
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				}, nil) {
					return
				}
			}

			if choice.FinishReason != "" {
				if !yield(StreamChunk{Kind: ChunkDone, FinishReason: string(choice.FinishReason)}, nil) {
					return
				}
			}
		}
	}
}

var _ Provider = (*OpenAIProvider)(nil)

// embeddingModels maps a configured model name to go-openai's typed
// embedding model constant, mirroring embedder_openai.go's own
// defaulting so cmd/conduit's LLM and embedder construction stay
// consistent.
var embeddingModels = map[string]openai.EmbeddingModel{
	"text-embedding-3-small": openai.SmallEmbedding3,
	"text-embedding-3-large": openai.LargeEmbedding3,
	"text-embedding-ada-002": openai.AdaEmbeddingV2,
}

// EmbeddingModel resolves a configured embedding model name to the
// go-openai constant it names, defaulting to text-embedding-3-small for
// an empty or unrecognized value.
func EmbeddingModel(name string) openai.EmbeddingModel {
	if m, ok := embeddingModels[name]; ok {
		return m
	}
	return openai.SmallEmbedding3
}
