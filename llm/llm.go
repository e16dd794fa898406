// Package llm defines the boundary this runtime consumes from a language
// model backend (§6): request/response message shapes and the two
// operations, chat and chatStream, an injected provider must implement.
// The runtime never talks to a concrete model API directly — every
// provider (OpenAI, Anthropic, a local model, a test stub) sits behind
// this interface.
//
// Grounded on pkg/llms/types.go's Message/ToolDefinition/ToolCall/
// StreamChunk shapes, adapted from a callback/channel streaming style to
// the iter.Seq2 lazy-pull style used across the teacher's v2 agent code
// (pkg/agent/llmagent/llmagent.go, pkg/session/session.go) per spec.md's
// "lazy sequence of typed events" design note (§9).
package llm

import (
	"context"
	"iter"
)

// Role identifies who produced a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Part is one piece of a multimodal message. Exactly one of Text or
// ImageURL is set.
type Part struct {
	Text     string
	ImageURL string
}

// Message is the universal conversation unit (§3).
type Message struct {
	Role       Role
	Content    string // convenience accessor for single-part text messages
	Parts      []Part // ordered multimodal parts; nil for plain-text messages
	ToolCalls  []ToolCall
	ToolCallID string // set on role=tool replies
	Name       string // tool name, set on role=tool replies
}

// ToolDefinition is what gets advertised to the model (§3).
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON-Schema-shaped
}

// ToolCall is a tool invocation requested by the model (§3).
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON, possibly incrementally assembled while streaming
}

// ChunkKind tags a StreamChunk.
type ChunkKind string

const (
	ChunkContent  ChunkKind = "content"
	ChunkToolCall ChunkKind = "tool_call"
	ChunkDone     ChunkKind = "done"
)

// StreamChunk is one element of a ChatStream sequence. For ChunkToolCall,
// ToolCallDelta carries a partial descriptor: one call may span multiple
// chunks as argument text accumulates (see §9's provider-quirks note). A
// chunk names its call by ID or, on continuation chunks without an ID, by
// Index; callers concatenate ToolCallDelta.Arguments per call until the
// stream ends. OpenAIProvider never sets Done.
type StreamChunk struct {
	Kind          ChunkKind
	TextDelta     string
	ToolCallDelta *ToolCallDelta
	FinishReason  string
}

// ToolCallDelta is an incremental tool-call fragment.
type ToolCallDelta struct {
	ID        string // stable once known; empty on continuation chunks keyed by Index
	Index     int
	Name      string
	Arguments string // fragment to append, not the full value
	Done      bool
}

// Options configures a single chat/chatStream call.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Tools       []ToolDefinition
}

// Provider is the LLM backend boundary (§6).
type Provider interface {
	Chat(ctx context.Context, messages []Message, opts Options) (Message, error)
	ChatStream(ctx context.Context, messages []Message, opts Options) iter.Seq2[StreamChunk, error]
}

// Embedder is a batch embeddings boundary (§1 non-goal: embedding
// generation is an injected function, not a built-in feature). No package
// in this module consumes it: memory/longterm takes its own single-text
// Embedder, whose absence disables vector recall.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
