package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/thread-engine/internal/model"
	"github.com/capitalize-ai/thread-engine/internal/store"
	"github.com/capitalize-ai/thread-engine/pkg/logger"
	"github.com/capitalize-ai/thread-engine/pkg/metrics"
)

// OutboundMessage describes a message written on behalf of the brokerage.
type OutboundMessage struct {
	ThreadID    string
	Body        string
	FromID      string
	ToID        string
	Provider    model.Provider
	AIGenerated bool
	AIModel     string
	Intent      string
	Category    model.Category
	Severity    model.Severity
	Tokens      int
	LatencyMs   int64
}

// MessageLedger is the append-only message log of every thread.
type MessageLedger struct {
	store  store.MessageStore
	logger *logger.Logger
	now    func() time.Time
}

// NewMessageLedger creates a message ledger.
func NewMessageLedger(s store.MessageStore, log *logger.Logger) *MessageLedger {
	return &MessageLedger{store: s, logger: log, now: utcNow}
}

// RecordInbound appends a customer message. A provider message id that is
// already in the ledger makes this a no-op returning the stored message
// with inserted=false.
func (l *MessageLedger) RecordInbound(ctx context.Context, threadID, body, fromID, toID, providerMessageID string) (*model.Message, bool, error) {
	msg := &model.Message{
		ID:                newID(),
		ThreadID:          threadID,
		ProviderMessageID: strPtr(providerMessageID),
		Direction:         model.DirectionInbound,
		Provider:          model.ProviderTwilio,
		FromID:            strPtr(fromID),
		ToID:              strPtr(toID),
		Body:              body,
		CreatedAt:         l.now(),
	}

	stored, inserted, err := l.store.InsertMessage(ctx, msg)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record inbound message: %w", err)
	}
	if !inserted {
		l.logger.Info("duplicate inbound delivery ignored",
			zap.String("thread_id", threadID),
			zap.String("provider_message_id", providerMessageID),
			zap.String("message_id", stored.ID),
		)
	}
	return stored, inserted, nil
}

// RecordOutbound appends a brokerage-side message: assistant replies,
// operator messages and system notices all take this path.
func (l *MessageLedger) RecordOutbound(ctx context.Context, out OutboundMessage) (*model.Message, error) {
	provider := out.Provider
	if provider == "" {
		provider = model.ProviderTwilio
	}

	msg := &model.Message{
		ID:          newID(),
		ThreadID:    out.ThreadID,
		Direction:   model.DirectionOutbound,
		Provider:    provider,
		FromID:      strPtr(out.FromID),
		ToID:        strPtr(out.ToID),
		Body:        out.Body,
		AIGenerated: out.AIGenerated,
		AIModel:     strPtr(out.AIModel),
		Intent:      strPtr(out.Intent),
		CreatedAt:   l.now(),
	}
	if out.Category != "" {
		category := out.Category
		msg.CategorySnapshot = &category
	}
	if out.Severity != "" {
		severity := out.Severity
		msg.SeveritySnapshot = &severity
	}
	if out.AIGenerated {
		tokens, latency := out.Tokens, out.LatencyMs
		msg.Tokens = &tokens
		msg.LatencyMs = &latency
	}

	stored, _, err := l.store.InsertMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to record outbound message: %w", err)
	}
	return stored, nil
}

// Recent returns the last limit messages of a thread, oldest first.
func (l *MessageLedger) Recent(ctx context.Context, threadID string, limit int) ([]model.Message, error) {
	messages, err := l.store.RecentMessages(ctx, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read recent messages: %w", err)
	}
	return messages, nil
}

// FindByProviderID looks up a message by its transport id.
func (l *MessageLedger) FindByProviderID(ctx context.Context, providerMessageID string) (*model.Message, error) {
	return l.store.FindMessageByProviderID(ctx, providerMessageID)
}

// List retrieves the newest messages of a thread for the operator console.
func (l *MessageLedger) List(ctx context.Context, threadID string, limit int) (*model.ListMessagesResponse, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	messages, err := l.store.RecentMessages(ctx, threadID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[1:]
	}
	if messages == nil {
		messages = []model.Message{}
	}

	return &model.ListMessagesResponse{
		Messages: messages,
		HasMore:  hasMore,
	}, nil
}

func recordInboundMetric(channel, outcome string) {
	metrics.InboundMessagesTotal.WithLabelValues(channel, outcome).Inc()
}
