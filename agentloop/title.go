package agentloop

import (
	"context"
	"strings"

	"github.com/arcveil/conduit/llm"
)

// fallbackTitle is returned whenever title generation fails for any reason
// (§4.9).
const fallbackTitle = "新对话"

// quoteChars are the surrounding quotation marks stripped from a generated
// title, covering the locales spec.md §4.9 calls out.
var quoteChars = []rune{'"', '\'', '“', '”', '‘', '’', '「', '」', '『', '』', '«', '»'}

// GenerateTitle requests a short, punctuation-free title for utterance
// from provider and returns it trimmed of surrounding quotation marks. Any
// failure — a provider error or an empty response — yields fallbackTitle.
func GenerateTitle(ctx context.Context, provider llm.Provider, utterance string) string {
	if provider == nil {
		return fallbackTitle
	}

	prompt := llm.Message{
		Role: llm.RoleUser,
		Content: "Generate a short title, 5 to 10 characters, no punctuation, no explanation, " +
			"for this message:\n\n" + utterance,
	}

	resp, err := provider.Chat(ctx, []llm.Message{prompt}, llm.Options{})
	if err != nil {
		return fallbackTitle
	}

	title := strings.TrimSpace(resp.Content)
	title = strings.Trim(title, string(quoteChars))
	title = strings.TrimSpace(title)
	if title == "" {
		return fallbackTitle
	}
	return title
}
