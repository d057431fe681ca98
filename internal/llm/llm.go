// Package llm wraps the Claude API behind a small chat-completion interface
// so the response pipeline, memory scoring, and reflection passes can share
// one client (and tests can substitute fakes).
package llm

import "context"

// Message is one entry in a chat transcript. Name carries the speaker's
// display name for multi-party rooms; backends that have no native name field
// fold it into the content.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// Request is a single completion request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int64
	Temperature float64
}

// Chat produces a single assistant message for a request.
type Chat interface {
	Complete(ctx context.Context, req *Request) (string, error)
}
