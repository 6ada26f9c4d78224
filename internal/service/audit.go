package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/thread-engine/internal/model"
	"github.com/capitalize-ai/thread-engine/internal/store"
	"github.com/capitalize-ai/thread-engine/pkg/logger"
)

// AuditLog appends audit records. The store write is authoritative; bus
// mirrors are best-effort.
type AuditLog struct {
	store      store.AuditStore
	publishers []EventPublisher
	logger     *logger.Logger
	now        func() time.Time
}

// NewAuditLog creates an audit log.
func NewAuditLog(s store.AuditStore, log *logger.Logger, publishers ...EventPublisher) *AuditLog {
	return &AuditLog{
		store:      s,
		publishers: publishers,
		logger:     log,
		now:        utcNow,
	}
}

// Record appends a generic thread event.
func (a *AuditLog) Record(ctx context.Context, threadID string, eventType model.EventType, actorID *string, payload map[string]any) (*model.ThreadEvent, error) {
	event := &model.ThreadEvent{
		ID:          newID(),
		ThreadID:    threadID,
		Type:        eventType,
		ActorUserID: actorID,
		Payload:     payload,
		CreatedAt:   a.now(),
	}
	if err := a.store.InsertThreadEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("record %s event: %w", eventType, err)
	}

	for _, p := range a.publishers {
		if err := p.PublishEvent(ctx, event); err != nil {
			a.logger.Warn("failed to mirror thread event",
				zap.String("thread_id", threadID),
				zap.String("event_type", string(eventType)),
				zap.Error(err),
			)
		}
	}
	return event, nil
}

// RecordEscalationAttempt appends one escalation delivery outcome.
func (a *AuditLog) RecordEscalationAttempt(ctx context.Context, attempt *model.EscalationAttempt) error {
	if attempt.ID == "" {
		attempt.ID = newID()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = a.now()
	}
	if err := a.store.InsertEscalationAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("record escalation attempt: %w", err)
	}
	return nil
}

// RecordAssignment appends a responder handoff.
func (a *AuditLog) RecordAssignment(ctx context.Context, event *model.AssignmentEvent) error {
	if event.ID == "" {
		event.ID = newID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = a.now()
	}
	if err := a.store.InsertAssignmentEvent(ctx, event); err != nil {
		return fmt.Errorf("record assignment: %w", err)
	}
	return nil
}

// Trail returns every audit record of a thread.
func (a *AuditLog) Trail(ctx context.Context, threadID string) (*model.ThreadAudit, error) {
	return a.store.ThreadAudit(ctx, threadID)
}
