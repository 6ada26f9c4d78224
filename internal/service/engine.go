package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/thread-engine/internal/email"
	"github.com/capitalize-ai/thread-engine/internal/model"
	"github.com/capitalize-ai/thread-engine/internal/store"
	"github.com/capitalize-ai/thread-engine/pkg/logger"
	"github.com/capitalize-ai/thread-engine/pkg/tracing"
)

// DefaultChannel is the channel of events that do not name one.
const DefaultChannel = "whatsapp"

// Engine runs inbound messages through the thread pipeline:
// resolve, record, classify, transition, escalate and reply.
type Engine struct {
	threads    *ThreadService
	ledger     *MessageLedger
	audit      *AuditLog
	classifier Classifier
	escalation *EscalationService
	responder  *AutoResponder
	logger     *logger.Logger
	tracer     trace.Tracer
}

// NewEngine creates a new engine.
func NewEngine(
	threads *ThreadService,
	ledger *MessageLedger,
	audit *AuditLog,
	classifier Classifier,
	escalation *EscalationService,
	responder *AutoResponder,
	log *logger.Logger,
) *Engine {
	return &Engine{
		threads:    threads,
		ledger:     ledger,
		audit:      audit,
		classifier: classifier,
		escalation: escalation,
		responder:  responder,
		logger:     log,
		tracer:     tracing.Tracer("thread-engine"),
	}
}

// ProcessInbound handles one inbound transport event. Only storage failures
// on the resolve and record steps are returned; classification, escalation
// and reply failures degrade instead.
func (e *Engine) ProcessInbound(ctx context.Context, event model.InboundEvent) (*model.ProcessResult, error) {
	channel := event.Channel
	if channel == "" {
		channel = DefaultChannel
	}

	ctx, span := e.tracer.Start(ctx, "engine.ProcessInbound", trace.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("provider_message_id", event.ProviderMessageID),
	))
	defer span.End()

	if event.ProviderMessageID != "" {
		existing, err := e.ledger.FindByProviderID(ctx, event.ProviderMessageID)
		switch {
		case err == nil:
			recordInboundMetric(channel, "duplicate")
			span.SetAttributes(attribute.Bool("duplicate", true))
			return e.duplicate(ctx, existing), nil
		case !errors.Is(err, store.ErrNotFound):
			e.logger.Warn("duplicate pre-check failed", zap.String("provider_message_id", event.ProviderMessageID), zap.Error(err))
		}
	}

	thread, err := e.threads.Resolve(ctx, channel, event.FromID, event.DisplayName)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve thread")
		return nil, err
	}
	span.SetAttributes(attribute.String("thread_id", thread.ID))
	log := e.logger.WithThread(thread.ID)

	inbound, inserted, err := e.ledger.RecordInbound(ctx, thread.ID, event.Body, event.FromID, event.ToID, event.ProviderMessageID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record inbound")
		return nil, err
	}
	if !inserted {
		recordInboundMetric(channel, "duplicate")
		span.SetAttributes(attribute.Bool("duplicate", true))
		return e.duplicate(ctx, inbound), nil
	}
	recordInboundMetric(channel, "stored")

	recent, err := e.ledger.Recent(ctx, thread.ID, RecentWindow)
	if err != nil {
		log.Warn("failed to read recent messages", zap.Error(err))
		recent = []model.Message{*inbound}
	}

	result := e.classify(ctx, thread, recent)

	// The message is already stored, so a redelivery would dedup. Keep going.
	updated, escalate, err := e.threads.Apply(ctx, thread, result, event.Body)
	if err != nil {
		log.Error("failed to apply classification", zap.Error(err))
		updated = thread
		escalate = result.Urgent()
	}
	if _, err := e.audit.Record(ctx, thread.ID, model.EventClassified, nil, map[string]any{
		"category":   string(result.Category),
		"severity":   string(result.Severity),
		"intent":     result.Intent,
		"tags":       result.Tags,
		"message_id": inbound.ID,
		"fallback":   result.Fallback,
	}); err != nil {
		log.Error("failed to record classification event", zap.Error(err))
	}

	if escalate {
		e.runEscalation(ctx, updated, result)
	}

	processed := &model.ProcessResult{
		ThreadID:       thread.ID,
		MessageID:      inbound.ID,
		Classification: result,
	}

	reply, delivered, err := e.runResponder(ctx, thread.ID, inbound, recent, result)
	if err != nil {
		log.Error("auto reply failed", zap.Error(err))
	}
	if reply != nil {
		text := reply.Body
		processed.AutoReplyText = &text
		processed.AutoReplySent = delivered
	}

	log.Info("inbound message processed",
		zap.String("message_id", inbound.ID),
		zap.String("category", string(result.Category)),
		zap.String("severity", string(result.Severity)),
		zap.Bool("escalated", escalate),
		zap.Bool("auto_reply_sent", processed.AutoReplySent),
	)
	return processed, nil
}

func (e *Engine) classify(ctx context.Context, thread *model.Thread, recent []model.Message) model.ClassificationResult {
	ctx, span := e.tracer.Start(ctx, "engine.classify")
	defer span.End()

	result := e.classifier.Classify(ctx, recent, model.ThreadContext{
		DisplayName: displayName(thread),
		ExternalKey: thread.ExternalKey,
	})
	span.SetAttributes(
		attribute.String("category", string(result.Category)),
		attribute.String("severity", string(result.Severity)),
		attribute.Bool("fallback", result.Fallback),
	)
	return result
}

func (e *Engine) runEscalation(ctx context.Context, thread *model.Thread, result model.ClassificationResult) {
	ctx, span := e.tracer.Start(ctx, "engine.escalate")
	defer span.End()

	// The email carries a longer transcript than the classifier sees.
	transcript, err := e.ledger.Recent(ctx, thread.ID, email.TranscriptLimit)
	if err != nil {
		e.logger.Warn("failed to read escalation transcript", zap.String("thread_id", thread.ID), zap.Error(err))
	}

	outcome := e.escalation.Escalate(ctx, thread, result, transcript)
	span.SetAttributes(
		attribute.Bool("email_sent", outcome.EmailSent),
		attribute.Bool("notification_sent", outcome.NotificationSent),
	)
}

func (e *Engine) runResponder(ctx context.Context, threadID string, inbound *model.Message, recent []model.Message, result model.ClassificationResult) (*model.Message, bool, error) {
	if e.responder == nil {
		return nil, false, nil
	}
	ctx, span := e.tracer.Start(ctx, "engine.respond")
	defer span.End()

	history := make([]model.Message, 0, len(recent))
	for _, m := range recent {
		if m.ID != inbound.ID {
			history = append(history, m)
		}
	}

	msg, delivered, err := e.responder.MaybeRespond(ctx, threadID, inbound, history, result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "auto reply")
		return nil, false, fmt.Errorf("auto reply: %w", err)
	}
	span.SetAttributes(attribute.Bool("delivered", delivered))
	return msg, delivered, nil
}

// duplicate builds the result for a redelivered event without side effects.
func (e *Engine) duplicate(ctx context.Context, existing *model.Message) *model.ProcessResult {
	result := model.ProcessResult{
		ThreadID:  existing.ThreadID,
		MessageID: existing.ID,
		Duplicate: true,
		Classification: model.ClassificationResult{
			Category:         model.CategorySimple,
			Severity:         model.SeverityLow,
			Intent:           "duplicate",
			Tags:             []string{},
			ExecutiveSummary: []string{},
		},
	}
	if thread, err := e.threads.Get(ctx, existing.ThreadID); err == nil {
		result.Classification.Category = thread.Category
		result.Classification.Severity = thread.Severity
	}
	e.logger.Info("duplicate inbound event",
		zap.String("thread_id", existing.ThreadID),
		zap.String("message_id", existing.ID),
	)
	return &result
}
