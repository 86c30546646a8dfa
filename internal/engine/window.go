package engine

import (
	"strings"

	"github.com/eduflowhq/eduflow/internal/domain"
)

// contextWindow bounds how much prior conversation is forwarded to the
// completion service with each request.
const contextWindow = 10

// RecentMessages returns the last contextWindow messages in their
// original order. It is a pure truncation: no summarization, no
// deduplication.
func RecentMessages(history []domain.Message) []domain.Message {
	if len(history) <= contextWindow {
		return history
	}
	return history[len(history)-contextWindow:]
}

// RenderContext renders the truncated history as "sender: content"
// lines for inclusion in a prompt.
func RenderContext(history []domain.Message) string {
	recent := RecentMessages(history)
	lines := make([]string, 0, len(recent))
	for _, m := range recent {
		lines = append(lines, string(m.Sender)+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}
