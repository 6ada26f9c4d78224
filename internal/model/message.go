package model

import (
	"time"
)

// Direction is the flow of a message relative to the brokerage.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Provider tags the transport a message went through.
type Provider string

const (
	ProviderTwilio Provider = "twilio"
	ProviderPortal Provider = "portal"
	ProviderSystem Provider = "system"
)

// Message represents one immutable ledger entry.
type Message struct {
	// Identity
	ID                string  `json:"id"`
	ThreadID          string  `json:"thread_id"`
	ProviderMessageID *string `json:"provider_message_id,omitempty"`

	// Content
	Direction Direction `json:"direction"`
	Provider  Provider  `json:"provider"`
	FromID    *string   `json:"from_id,omitempty"`
	ToID      *string   `json:"to_id,omitempty"`
	Body      string    `json:"body"`

	// Assistant metadata (nullable for non-generated messages)
	AIGenerated      bool      `json:"ai_generated"`
	AIModel          *string   `json:"ai_model,omitempty"`
	Intent           *string   `json:"intent,omitempty"`
	CategorySnapshot *Category `json:"category_snapshot,omitempty"`
	SeveritySnapshot *Severity `json:"severity_snapshot,omitempty"`
	Tokens           *int      `json:"tokens,omitempty"`
	LatencyMs        *int64    `json:"latency_ms,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// InboundEvent is the message event delivered by a transport adapter.
type InboundEvent struct {
	FromID            string `json:"fromId"`
	ToID              string `json:"toId"`
	Body              string `json:"body"`
	ProviderMessageID string `json:"providerMessageId,omitempty"`
	DisplayName       string `json:"displayName,omitempty"`
	Channel           string `json:"channel,omitempty"`
}

// ProcessResult is the outcome of running one inbound event through the pipeline.
type ProcessResult struct {
	ThreadID       string               `json:"threadId"`
	MessageID      string               `json:"messageId"`
	Classification ClassificationResult `json:"classification"`
	AutoReplyText  *string              `json:"autoReplyText,omitempty"`
	AutoReplySent  bool                 `json:"autoReplySent"`
	Duplicate      bool                 `json:"duplicate,omitempty"`
}

// ListMessagesResponse is the response for listing a thread's ledger.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}
