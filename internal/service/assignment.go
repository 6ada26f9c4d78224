package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/thread-engine/internal/email"
	"github.com/capitalize-ai/thread-engine/internal/model"
	"github.com/capitalize-ai/thread-engine/internal/notify"
	"github.com/capitalize-ai/thread-engine/internal/prompt"
	"github.com/capitalize-ai/thread-engine/internal/store"
	"github.com/capitalize-ai/thread-engine/pkg/logger"
	"github.com/capitalize-ai/thread-engine/pkg/metrics"
)

// AssignmentService hands threads between the assistant and human operators.
type AssignmentService struct {
	threads       store.ThreadStore
	ledger        *MessageLedger
	audit         *AuditLog
	notifier      notify.Notifier
	mailer        email.Sender
	catalog       *prompt.Catalog
	portalBaseURL string
	logger        *logger.Logger
	now           func() time.Time
}

// NewAssignmentService creates a new assignment service.
func NewAssignmentService(
	threads store.ThreadStore,
	ledger *MessageLedger,
	audit *AuditLog,
	notifier notify.Notifier,
	mailer email.Sender,
	catalog *prompt.Catalog,
	portalBaseURL string,
	log *logger.Logger,
) *AssignmentService {
	return &AssignmentService{
		threads:       threads,
		ledger:        ledger,
		audit:         audit,
		notifier:      notifier,
		mailer:        mailer,
		catalog:       catalog,
		portalBaseURL: portalBaseURL,
		logger:        log,
		now:           utcNow,
	}
}

// AssignToHuman gives a thread to an operator and disables the assistant.
// The notification and email to the operator are best-effort.
func (s *AssignmentService) AssignToHuman(ctx context.Context, threadID string, op model.Operator, actorID string) (*model.Thread, error) {
	if strings.TrimSpace(op.ID) == "" || strings.TrimSpace(op.Name) == "" {
		return nil, ErrInvalidOperator
	}

	previous, err := s.load(ctx, threadID)
	if err != nil {
		return nil, err
	}

	operatorID := op.ID
	thread, err := s.threads.SetAssignment(ctx, threadID, model.Assignment{
		Type:    model.AssigneeHuman,
		HumanID: &operatorID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to assign thread: %w", err)
	}

	log := s.logger.WithThread(threadID)
	s.recordHandoff(ctx, log, previous, thread, actorID)
	if _, err := s.audit.Record(ctx, threadID, model.EventAssigned, strPtr(actorID), map[string]any{
		"assigned_to":   op.ID,
		"assigned_name": op.Name,
	}); err != nil {
		log.Error("failed to record assignment event", zap.Error(err))
	}

	s.systemMessage(ctx, log, thread, s.catalog.AssignedMessage(op.Name))

	body := "Nueva conversación asignada"
	if thread.LastMessagePreview != nil && *thread.LastMessagePreview != "" {
		body = *thread.LastMessagePreview
	}
	link := ThreadLink(s.portalBaseURL, threadID)
	if err := s.notifier.Notify(ctx, &model.Notification{
		ID:           newID(),
		ThreadID:     threadID,
		Type:         model.NotificationChatAssigned,
		Title:        "💬 Chat asignado: " + thread.Name(),
		Body:         body,
		Link:         link,
		TargetUserID: &operatorID,
		CreatedAt:    s.now(),
	}); err != nil {
		log.Warn("failed to notify operator", zap.String("operator_id", op.ID), zap.Error(err))
	}

	if op.Email != "" && s.mailer != nil {
		msg, err := email.BuildAssignment(email.AssignmentData{
			Thread:   thread,
			Operator: op,
			Link:     link,
			Now:      s.now(),
		})
		if err != nil {
			log.Warn("failed to build assignment email", zap.Error(err))
		} else if result := s.mailer.Send(ctx, msg); !result.Success {
			log.Warn("failed to email operator",
				zap.String("operator_id", op.ID),
				zap.Int("attempts", result.Attempts),
				zap.String("error", result.Error),
			)
		}
	}

	metrics.AssignmentsTotal.WithLabelValues(string(model.AssigneeHuman)).Inc()
	log.Info("thread assigned to operator", zap.String("operator_id", op.ID))
	return thread, nil
}

// AssignToAI returns a thread to the assistant.
func (s *AssignmentService) AssignToAI(ctx context.Context, threadID, actorID string) (*model.Thread, error) {
	previous, err := s.load(ctx, threadID)
	if err != nil {
		return nil, err
	}

	thread, err := s.threads.SetAssignment(ctx, threadID, model.Assignment{Type: model.AssigneeAI})
	if err != nil {
		return nil, fmt.Errorf("failed to assign thread: %w", err)
	}

	log := s.logger.WithThread(threadID)
	s.recordHandoff(ctx, log, previous, thread, actorID)
	if _, err := s.audit.Record(ctx, threadID, model.EventAIEnabled, strPtr(actorID), map[string]any{
		"previous_assigned": deref(previous.AssignedHumanID),
	}); err != nil {
		log.Error("failed to record ai_enabled event", zap.Error(err))
	}

	s.systemMessage(ctx, log, thread, s.catalog.ResumedByAI)

	metrics.AssignmentsTotal.WithLabelValues(string(model.AssigneeAI)).Inc()
	log.Info("thread returned to assistant")
	return thread, nil
}

func (s *AssignmentService) load(ctx context.Context, threadID string) (*model.Thread, error) {
	thread, err := s.threads.GetThread(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	return thread, nil
}

func (s *AssignmentService) recordHandoff(ctx context.Context, log *logger.Logger, previous, next *model.Thread, actorID string) {
	if err := s.audit.RecordAssignment(ctx, &model.AssignmentEvent{
		ThreadID:        next.ID,
		PreviousType:    previous.AssignedType,
		PreviousHumanID: previous.AssignedHumanID,
		NewType:         next.AssignedType,
		NewHumanID:      next.AssignedHumanID,
		ActorUserID:     strPtr(actorID),
	}); err != nil {
		log.Error("failed to record handoff", zap.Error(err))
	}
}

// systemMessage writes a notice into the ledger. It is not sent to the customer.
func (s *AssignmentService) systemMessage(ctx context.Context, log *logger.Logger, thread *model.Thread, body string) {
	if _, err := s.ledger.RecordOutbound(ctx, OutboundMessage{
		ThreadID: thread.ID,
		Body:     body,
		Provider: model.ProviderSystem,
	}); err != nil {
		log.Error("failed to record system message", zap.Error(err))
	}
}
