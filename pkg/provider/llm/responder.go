package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrEmptyReply is returned by [Responder.Reply] when the backend produced
// only whitespace.
var ErrEmptyReply = errors.New("llm: empty reply")

// ResponderOption configures a [Responder].
type ResponderOption func(*Responder)

// WithSystemPrompt sets the persona instructions sent before the history.
func WithSystemPrompt(prompt string) ResponderOption {
	return func(r *Responder) { r.systemPrompt = prompt }
}

// WithHistoryLimit bounds how many of the most recent history entries are
// sent. Zero or negative sends the whole history.
func WithHistoryLimit(n int) ResponderOption {
	return func(r *Responder) { r.historyLimit = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) ResponderOption {
	return func(r *Responder) { r.temperature = t }
}

// WithMaxTokens caps reply length. Phone replies should stay short.
func WithMaxTokens(n int) ResponderOption {
	return func(r *Responder) { r.maxTokens = n }
}

// Responder adapts a [Completer] into a [Generator].
type Responder struct {
	backend      Completer
	systemPrompt string
	historyLimit int
	temperature  float64
	maxTokens    int
}

var _ Generator = (*Responder)(nil)

// NewResponder returns a Generator backed by c.
func NewResponder(c Completer, opts ...ResponderOption) *Responder {
	r := &Responder{backend: c}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Reply implements [Generator].
func (r *Responder) Reply(ctx context.Context, history []Message, latest string) (string, error) {
	req := Request{
		SystemPrompt: r.systemPrompt,
		Messages:     r.window(history, latest),
		Temperature:  r.temperature,
		MaxTokens:    r.maxTokens,
	}
	resp, err := r.backend.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("llm: reply: %w", err)
	}
	slog.Debug("llm: reply generated",
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}

// window returns the tail of history to send, making sure the conversation
// ends with the caller's latest words.
func (r *Responder) window(history []Message, latest string) []Message {
	if r.historyLimit > 0 && len(history) > r.historyLimit {
		history = history[len(history)-r.historyLimit:]
	}
	msgs := make([]Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	if latest == "" {
		return msgs
	}
	if n := len(msgs); n == 0 || msgs[n-1].Role != RoleUser || msgs[n-1].Content != latest {
		msgs = append(msgs, Message{Role: RoleUser, Content: latest})
	}
	return msgs
}
