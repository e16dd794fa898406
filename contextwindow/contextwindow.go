// Package contextwindow implements the Context Manager (§4.1): fitting
// {system, history, current-turn} into a token budget through trimming and,
// when an LLM is available, summarization of the trimmed-out tail.
//
// Architecturally grounded on pkg/agent/context_manager.go (a Config struct
// carrying a token budget and an optional summarizing LLM, a
// PrepareContext entry point, graceful fallback on summarization failure).
// The token estimator and the trim/summarize thresholds are implemented
// exactly per spec.md §4.1 rather than copied from the teacher's
// tiktoken-backed TokenCounter, since the specification pins down a
// specific reproducible heuristic (ceil(len/3)) that a real tokenizer
// would not reproduce.
package contextwindow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arcveil/conduit/llm"
)

// Config controls a Manager's token budget and optional summarizer.
type Config struct {
	MaxTokens      int // total budget for the assembled context
	ReservedTokens int // tokens reserved for the model's own response
	LLM            llm.Provider // optional; enables real summarization
}

// Manager fits conversation state into a token budget.
type Manager struct {
	cfg Config
}

func New(cfg Config) *Manager {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8000
	}
	return &Manager{cfg: cfg}
}

// estimateTokens is the conservative ceil(len/3) heuristic spec.md §4.1
// mandates: a rough approximation tuned for mixed ASCII/CJK text, reused
// verbatim everywhere so budgets stay reproducible across runs.
func estimateTokens(msg llm.Message) int {
	n := len(msg.Content)
	for _, tc := range msg.ToolCalls {
		n += len(tc.Arguments) + len(tc.Name)
	}
	return (n + 2) / 3
}

func estimateAll(msgs []llm.Message) int {
	total := 0
	for _, m := range msgs {
		total += estimateTokens(m)
	}
	return total
}

// Prepare fits {system, history, current} into the configured budget,
// returning [system, summary?, ...kept-history, ...current].
func (m *Manager) Prepare(ctx context.Context, system llm.Message, history, current []llm.Message) ([]llm.Message, error) {
	budget := m.cfg.MaxTokens - m.cfg.ReservedTokens
	if budget <= 0 {
		budget = m.cfg.MaxTokens
	}

	fixed := append([]llm.Message{system}, current...)
	fixedTokens := estimateAll(fixed)

	if fixedTokens >= budget {
		slog.Warn("contextwindow: fixed messages alone exceed budget, returning without history",
			"fixed_tokens", fixedTokens, "budget", budget)
		return fixed, nil
	}

	historyBudget := budget - fixedTokens
	historyTokens := estimateAll(history)
	if historyTokens <= historyBudget {
		return append(append([]llm.Message{system}, history...), current...), nil
	}

	kept, trimmed := m.splitForBudget(history, historyBudget)
	summary := m.summarize(ctx, trimmed)

	out := make([]llm.Message, 0, 2+len(kept)+len(current))
	out = append(out, system, summary)
	out = append(out, kept...)
	out = append(out, current...)
	return out, nil
}

// splitForBudget reserves 20% of historyBudget for the eventual summary
// message and walks history newest-to-oldest, keeping messages while
// kept+next <= 80% of historyBudget. If fewer than two messages would be
// kept, the last two are kept regardless.
func (m *Manager) splitForBudget(history []llm.Message, historyBudget int) (kept, trimmed []llm.Message) {
	keepBudget := int(float64(historyBudget) * 0.8)

	var keptRev []llm.Message
	runningTokens := 0
	cut := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		next := estimateTokens(history[i])
		if runningTokens+next > keepBudget && len(keptRev) >= 2 {
			cut = i + 1
			break
		}
		keptRev = append(keptRev, history[i])
		runningTokens += next
		cut = i
	}

	if len(keptRev) < 2 && len(history) >= 2 {
		n := 2
		if n > len(history) {
			n = len(history)
		}
		kept = append([]llm.Message{}, history[len(history)-n:]...)
		trimmed = append([]llm.Message{}, history[:len(history)-n]...)
		return kept, trimmed
	}

	kept = make([]llm.Message, len(keptRev))
	for i, msg := range keptRev {
		kept[len(keptRev)-1-i] = msg
	}
	trimmed = history[:cut]
	return kept, trimmed
}

// summarize produces a single system-role summary message standing in for
// trimmed. It uses the configured LLM when available and falls back to a
// bullet list of recent user-message prefixes on any failure — summary
// failures are recovered, never fatal (§4.1, §7).
func (m *Manager) summarize(ctx context.Context, trimmed []llm.Message) llm.Message {
	if len(trimmed) == 0 {
		return llm.Message{Role: llm.RoleSystem, Content: "(no prior conversation)"}
	}

	if m.cfg.LLM != nil {
		if text, err := m.summarizeWithLLM(ctx, trimmed); err == nil {
			return llm.Message{Role: llm.RoleSystem, Content: "Summary of earlier conversation: " + text}
		} else {
			slog.Warn("contextwindow: summarization failed, using fallback", "error", err)
		}
	}

	return llm.Message{Role: llm.RoleSystem, Content: m.fallbackSummary(trimmed)}
}

func (m *Manager) summarizeWithLLM(ctx context.Context, trimmed []llm.Message) (string, error) {
	var b strings.Builder
	total := 0
	for _, msg := range trimmed {
		if msg.Role != llm.RoleUser && msg.Role != llm.RoleAssistant {
			continue
		}
		turn := truncate(msg.Content, 500)
		if total+len(turn) > 3000 {
			break
		}
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, turn)
		total += len(turn)
	}

	prompt := llm.Message{
		Role:    llm.RoleUser,
		Content: "Summarize the following conversation in 200 characters or fewer:\n\n" + b.String(),
	}
	resp, err := m.cfg.LLM.Chat(ctx, []llm.Message{prompt}, llm.Options{})
	if err != nil {
		return "", err
	}
	return truncate(resp.Content, 200), nil
}

// fallbackSummary lists up to five of the most recent user-message
// prefixes when LLM summarization is unavailable or fails.
func (m *Manager) fallbackSummary(trimmed []llm.Message) string {
	var users []string
	for i := len(trimmed) - 1; i >= 0 && len(users) < 5; i-- {
		if trimmed[i].Role == llm.RoleUser {
			users = append(users, truncate(trimmed[i].Content, 100))
		}
	}
	if len(users) == 0 {
		return fmt.Sprintf("(%d earlier messages omitted)", len(trimmed))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "(%d earlier messages omitted; recent user turns:)\n", len(trimmed))
	for i := len(users) - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "- %s\n", users[i])
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
