package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/thread-engine/internal/model"
	"github.com/capitalize-ai/thread-engine/internal/responder"
	"github.com/capitalize-ai/thread-engine/internal/store"
	"github.com/capitalize-ai/thread-engine/internal/transport"
	"github.com/capitalize-ai/thread-engine/pkg/logger"
	"github.com/capitalize-ai/thread-engine/pkg/metrics"
)

// AutoResponder answers inbound messages while the assistant owns a thread.
type AutoResponder struct {
	threads   store.ThreadStore
	ledger    *MessageLedger
	generator ReplyGenerator
	sender    transport.Sender
	logger    *logger.Logger
}

// NewAutoResponder creates a new auto responder.
func NewAutoResponder(threads store.ThreadStore, ledger *MessageLedger, generator ReplyGenerator, sender transport.Sender, log *logger.Logger) *AutoResponder {
	return &AutoResponder{
		threads:   threads,
		ledger:    ledger,
		generator: generator,
		sender:    sender,
		logger:    log,
	}
}

// MaybeRespond generates, records and delivers a reply to inbound. The
// thread is re-read so a handoff that raced the classification wins.
// delivered is false when no reply was produced or the transport failed;
// a recorded reply stays in the ledger either way.
func (r *AutoResponder) MaybeRespond(ctx context.Context, threadID string, inbound *model.Message, history []model.Message, result model.ClassificationResult) (*model.Message, bool, error) {
	log := r.logger.WithThread(threadID)

	thread, err := r.threads.GetThread(ctx, threadID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to reload thread: %w", err)
	}
	if !thread.AcceptsAutoReply() {
		metrics.AutoReplyDeliveriesTotal.WithLabelValues("skipped").Inc()
		log.Debug("auto reply skipped", zap.String("assigned_type", string(thread.AssignedType)), zap.Bool("ai_enabled", thread.AIEnabled))
		return nil, false, nil
	}

	reply := r.generator.Generate(ctx, responder.Request{
		CurrentMessage: inbound.Body,
		History:        history,
		DisplayName:    displayName(thread),
		Category:       result.Category,
		Severity:       result.Severity,
	})

	msg, err := r.ledger.RecordOutbound(ctx, OutboundMessage{
		ThreadID:    threadID,
		Body:        reply.Text,
		FromID:      deref(inbound.ToID),
		ToID:        deref(inbound.FromID),
		Provider:    model.ProviderTwilio,
		AIGenerated: true,
		AIModel:     reply.Model,
		Intent:      result.Intent,
		Category:    result.Category,
		Severity:    result.Severity,
		Tokens:      reply.TokensUsed,
		LatencyMs:   reply.LatencyMs,
	})
	if err != nil {
		return nil, false, err
	}

	if r.sender == nil {
		metrics.AutoReplyDeliveriesTotal.WithLabelValues("undelivered").Inc()
		return msg, false, nil
	}

	sid, err := r.sender.Send(ctx, deref(inbound.FromID), reply.Text)
	if err != nil {
		metrics.AutoReplyDeliveriesTotal.WithLabelValues("undelivered").Inc()
		log.Error("failed to deliver auto reply", zap.String("message_id", msg.ID), zap.Error(err))
		return msg, false, nil
	}

	metrics.AutoReplyDeliveriesTotal.WithLabelValues("delivered").Inc()
	log.Info("auto reply sent",
		zap.String("message_id", msg.ID),
		zap.String("provider_sid", sid),
		zap.Bool("fallback", reply.Fallback),
	)
	return msg, true, nil
}

func displayName(t *model.Thread) string {
	if t.DisplayName != nil {
		return *t.DisplayName
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
