package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/thread-engine/internal/email"
	"github.com/capitalize-ai/thread-engine/internal/model"
	"github.com/capitalize-ai/thread-engine/internal/notify"
	"github.com/capitalize-ai/thread-engine/pkg/logger"
	"github.com/capitalize-ai/thread-engine/pkg/metrics"
)

// EscalationConfig configures the urgent-case workflow.
type EscalationConfig struct {
	Recipient     string
	PortalBaseURL string
}

// EscalationService notifies humans about urgent threads through email and
// portal notifications. Every delivery outcome is audited; failures are
// never raised to the caller.
type EscalationService struct {
	cfg      EscalationConfig
	mailer   email.Sender
	notifier notify.Notifier
	audit    *AuditLog
	logger   *logger.Logger
	now      func() time.Time
}

// NewEscalationService creates a new escalation service.
func NewEscalationService(cfg EscalationConfig, mailer email.Sender, notifier notify.Notifier, audit *AuditLog, log *logger.Logger) *EscalationService {
	return &EscalationService{
		cfg:      cfg,
		mailer:   mailer,
		notifier: notifier,
		audit:    audit,
		logger:   log,
		now:      utcNow,
	}
}

// Escalate runs the workflow for one urgent verdict. messages is the
// thread transcript, oldest first.
func (s *EscalationService) Escalate(ctx context.Context, thread *model.Thread, result model.ClassificationResult, messages []model.Message) model.EscalationOutcome {
	log := s.logger.WithThread(thread.ID)
	link := ThreadLink(s.cfg.PortalBaseURL, thread.ID)

	var outcome model.EscalationOutcome

	sent := s.sendEmail(ctx, log, thread, result, messages, link)
	outcome.EmailSent = sent.Success
	outcome.EmailAttempts = sent.Attempts
	outcome.Attempts = append(outcome.Attempts, s.attempt(ctx, log, thread.ID, model.ChannelEmail, sent, result))

	emailEvent := model.EventEmailSent
	if !sent.Success {
		emailEvent = model.EventEmailFailed
	}
	s.record(ctx, log, thread.ID, emailEvent, map[string]any{
		"to":        s.cfg.Recipient,
		"attempts":  sent.Attempts,
		"messageId": sent.DeliveryID,
		"error":     sent.Error,
	})

	if !sent.Success {
		alert := &model.Notification{
			ThreadID:   thread.ID,
			Type:       model.NotificationChatUrgent,
			Title:      "⚠️ EMAIL ESCALAMIENTO FALLÓ",
			Body:       fmt.Sprintf("No se pudo enviar email de escalamiento para %s. Error: %s. Revisar conversación urgente manualmente.", thread.ExternalKey, sent.Error),
			Link:       link,
			TargetRole: model.RoleMaster,
		}
		delivered := s.notify(ctx, log, alert)
		outcome.Attempts = append(outcome.Attempts, s.attempt(ctx, log, thread.ID, model.ChannelNotification, delivered, result))
	}

	body := strings.Join(result.ExecutiveSummary, " • ")
	if body == "" {
		body = "Caso urgente detectado"
	}
	urgent := &model.Notification{
		ThreadID:   thread.ID,
		Type:       model.NotificationChatUrgent,
		Title:      "🔴 CASO URGENTE: " + thread.Name(),
		Body:       body,
		Link:       link,
		TargetRole: model.RoleMaster,
	}
	delivered := s.notify(ctx, log, urgent)
	outcome.NotificationSent = delivered.Success
	outcome.Attempts = append(outcome.Attempts, s.attempt(ctx, log, thread.ID, model.ChannelNotification, delivered, result))
	if delivered.Success {
		s.record(ctx, log, thread.ID, model.EventNotificationSent, map[string]any{
			"type":  urgent.Type,
			"title": urgent.Title,
		})
	}

	s.record(ctx, log, thread.ID, model.EventEscalated, map[string]any{
		"category":   string(result.Category),
		"severity":   string(result.Severity),
		"summary":    result.ExecutiveSummary,
		"email_sent": outcome.EmailSent,
	})

	log.Info("thread escalated",
		zap.Bool("email_sent", outcome.EmailSent),
		zap.Int("email_attempts", outcome.EmailAttempts),
		zap.Bool("notification_sent", outcome.NotificationSent),
	)
	return outcome
}

func (s *EscalationService) sendEmail(ctx context.Context, log *logger.Logger, thread *model.Thread, result model.ClassificationResult, messages []model.Message, link string) email.Result {
	msg, err := email.BuildEscalation(s.cfg.Recipient, email.EscalationData{
		Thread:         thread,
		Classification: result,
		Messages:       messages,
		Link:           link,
		Now:            s.now(),
	})
	if err != nil {
		log.Error("failed to build escalation email", zap.Error(err))
		return email.Result{Error: err.Error()}
	}
	return s.mailer.Send(ctx, msg)
}

func (s *EscalationService) notify(ctx context.Context, log *logger.Logger, n *model.Notification) email.Result {
	n.ID = newID()
	n.CreatedAt = s.now()
	if err := s.notifier.Notify(ctx, n); err != nil {
		log.Error("failed to create escalation notification", zap.String("title", n.Title), zap.Error(err))
		return email.Result{Attempts: 1, Error: err.Error()}
	}
	return email.Result{Success: true, Attempts: 1, DeliveryID: n.ID}
}

func (s *EscalationService) attempt(ctx context.Context, log *logger.Logger, threadID string, channel model.EscalationChannel, r email.Result, result model.ClassificationResult) model.EscalationAttempt {
	metrics.RecordEscalationAttempt(string(channel), r.Success)

	attempt := model.EscalationAttempt{
		ThreadID:       threadID,
		Channel:        channel,
		Success:        r.Success,
		Attempts:       r.Attempts,
		DeliveryID:     strPtr(r.DeliveryID),
		Error:          strPtr(r.Error),
		Classification: result,
	}
	if err := s.audit.RecordEscalationAttempt(ctx, &attempt); err != nil {
		log.Error("failed to record escalation attempt", zap.String("channel", string(channel)), zap.Error(err))
	}
	return attempt
}

func (s *EscalationService) record(ctx context.Context, log *logger.Logger, threadID string, eventType model.EventType, payload map[string]any) {
	if _, err := s.audit.Record(ctx, threadID, eventType, nil, payload); err != nil {
		log.Error("failed to record escalation event", zap.String("event_type", string(eventType)), zap.Error(err))
	}
}
