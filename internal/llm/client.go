// Package llm wraps the text-completion providers behind the classification
// and reply capabilities.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyCompletion is returned when a provider answers with no text.
var ErrEmptyCompletion = errors.New("llm returned an empty completion")

// Purpose labels a call for metrics and logs.
type Purpose string

const (
	PurposeClassify Purpose = "classify"
	PurposeReply    Purpose = "reply"
)

// Chat roles accepted by every provider.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn sent to a provider.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a single non-streaming prompt. System is sent the way
// each provider expects it.
type CompletionRequest struct {
	Purpose     Purpose
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// Prompt builds a request with one user turn.
func Prompt(purpose Purpose, system, user string) *CompletionRequest {
	return &CompletionRequest{
		Purpose:  purpose,
		System:   system,
		Messages: []ChatMessage{{Role: RoleUser, Content: user}},
	}
}

// CompletionResponse carries the answer with its usage figures.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// TotalTokens returns prompt plus completion tokens.
func (r *CompletionResponse) TotalTokens() int {
	return r.TokensIn + r.TokensOut
}

// Client is implemented by each provider adapter.
type Client interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	Name() string
	// DefaultModel is used when a request leaves Model empty.
	DefaultModel() string
}

// ModelName reports the model a call ran against: the response's model when
// known, then the configured one, then the client default.
func ModelName(c Client, configured string, resp *CompletionResponse) string {
	if resp != nil && resp.Model != "" {
		return resp.Model
	}
	if configured != "" {
		return configured
	}
	if c == nil {
		return "none"
	}
	return c.DefaultModel()
}

func checkContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyCompletion
	}
	return nil
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient creates a client for the named provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}
