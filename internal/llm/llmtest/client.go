// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/capitalize-ai/thread-engine/internal/llm"
)

// Client replays a fixed answer or error and records every request.
type Client struct {
	mu       sync.Mutex
	Content  string
	Err      error
	Tokens   int
	Requests []llm.CompletionRequest

	// Respond, when set, overrides Content and Err.
	Respond func(req *llm.CompletionRequest) (string, error)
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	c.mu.Lock()
	c.Requests = append(c.Requests, *req)
	c.mu.Unlock()

	content, err := c.Content, c.Err
	if c.Respond != nil {
		content, err = c.Respond(req)
	}
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return &llm.CompletionResponse{
		Content:   content,
		Model:     "test-model",
		TokensOut: c.Tokens,
		LatencyMs: 1,
	}, nil
}

// Calls returns how many completions were requested.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Requests)
}

// Name implements llm.Client.
func (c *Client) Name() string { return "test" }

// DefaultModel implements llm.Client.
func (c *Client) DefaultModel() string { return "test-model" }
