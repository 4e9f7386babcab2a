// Package mock provides test doubles for the llm package interfaces.
//
// Generator returns scripted replies and records the history it was given,
// so tests can assert what the call pipeline sent. Completer does the same one
// layer down, for exercising llm.Responder.
//
// Example:
//
//	g := &mock.Generator{Replies: []string{"Hello!"}}
//	text, err := g.Reply(ctx, history, "hi")
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/elderme-design/elderme-server/pkg/provider/llm"
)

// ReplyCall records a single invocation of Generator.Reply.
type ReplyCall struct {
	History []llm.Message
	Latest  string
}

// Generator is a mock implementation of llm.Generator.
type Generator struct {
	mu sync.Mutex

	// Replies are returned in order. Once exhausted, the last reply repeats.
	// With no replies, Reply returns "".
	Replies []string

	// Err, if non-nil, is returned from every call.
	Err error

	// Calls records every call in order.
	Calls []ReplyCall
}

// Reply records the call and returns the next scripted reply.
func (g *Generator) Reply(_ context.Context, history []llm.Message, latest string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.Calls)
	g.Calls = append(g.Calls, ReplyCall{History: slices.Clone(history), Latest: latest})
	if g.Err != nil {
		return "", g.Err
	}
	if len(g.Replies) == 0 {
		return "", nil
	}
	return g.Replies[min(n, len(g.Replies)-1)], nil
}

// CallCount returns the number of Reply calls. Thread-safe.
func (g *Generator) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Calls)
}

// Completer is a mock implementation of llm.Completer.
type Completer struct {
	mu sync.Mutex

	// Response is returned by Complete when Err is nil.
	Response llm.Completion

	// Err, if non-nil, is returned from every call.
	Err error

	// Requests records every request in order.
	Requests []llm.Request
}

// Complete records the request and returns Response, Err.
func (c *Completer) Complete(_ context.Context, req llm.Request) (*llm.Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req.Messages = slices.Clone(req.Messages)
	c.Requests = append(c.Requests, req)
	if c.Err != nil {
		return nil, c.Err
	}
	resp := c.Response
	return &resp, nil
}

// Recorded returns a copy of the recorded requests. Thread-safe.
func (c *Completer) Recorded() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.Requests)
}

var (
	_ llm.Generator = (*Generator)(nil)
	_ llm.Completer = (*Completer)(nil)
)
