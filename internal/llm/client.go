// Package llm provides the client boundary to the external
// text-generation service.
package llm

import (
	"context"
	"errors"
)

// Rate limiting is surfaced distinctly so the UI can advise "try
// again shortly" instead of a generic failure. No automatic retry is
// performed at this layer.
var ErrRateLimited = errors.New("completion service rate limited")

// Role tags a chat message for the completion service.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one role-tagged message in a completion request.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion request.
type Request struct {
	Messages    []ChatMessage `json:"messages"`
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

// Client defines how the engine talks to the completion service. The
// returned text is unstructured; interpreting it is the caller's job.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}
