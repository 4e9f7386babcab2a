// Package llm defines the reply generation interfaces.
//
// Two layers are exposed. A [Completer] is a raw chat-completion backend
// (OpenAI, any-llm). A [Generator] is what the call pipeline consumes: given
// the call's history and the caller's latest words, it returns the agent's
// next line. [NewResponder] builds a Generator from a Completer by adding the
// persona system prompt and bounding how much history is sent.
package llm

import "context"

// Role identifiers used in [Message].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a chat conversation.
type Message struct {
	Role    string
	Content string
}

// Usage reports token consumption for a completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Request is a single chat-completion request.
type Request struct {
	// SystemPrompt, when non-empty, is sent as the first system message.
	SystemPrompt string

	Messages []Message

	// Temperature is passed through when non-zero.
	Temperature float64

	// MaxTokens caps the completion length when positive.
	MaxTokens int
}

// Completion is the result of a chat completion.
type Completion struct {
	Content string
	Usage   Usage
}

// Completer is a chat-completion backend. Implementations must be safe for
// concurrent use.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// Generator produces the agent's reply for a call. Implementations must be
// safe for concurrent use.
type Generator interface {
	// Reply returns the next agent line. history is the call's conversation so
	// far, oldest first; it may or may not already end with latest.
	Reply(ctx context.Context, history []Message, latest string) (string, error)
}
