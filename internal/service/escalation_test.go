package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/thread-engine/internal/model"
	"github.com/capitalize-ai/thread-engine/pkg/logger"
)

var urgentResult = model.ClassificationResult{
	Category:         model.CategoryUrgent,
	Severity:         model.SeverityHigh,
	Intent:           "queja_legal",
	ExecutiveSummary: []string{"Amenaza de denuncia"},
}

func resolveThread(t *testing.T, h *harness) *model.Thread {
	t.Helper()
	thread, err := h.threads.Resolve(context.Background(), "whatsapp", customerNumber, "")
	require.NoError(t, err)
	return thread
}

func TestEscalateEmailFailureRaisesAlert(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, urgentVerdict)
	h.mailer.fail = true
	thread := resolveThread(t, h)

	outcome := h.escalation.Escalate(ctx, thread, urgentResult, nil)

	assert.False(t, outcome.EmailSent)
	assert.Equal(t, 3, outcome.EmailAttempts)
	assert.True(t, outcome.NotificationSent)
	require.Len(t, outcome.Attempts, 3)

	notifications := h.store.Notifications()
	require.Len(t, notifications, 2)
	assert.Equal(t, "⚠️ EMAIL ESCALAMIENTO FALLÓ", notifications[0].Title)
	assert.Contains(t, notifications[0].Body, customerNumber)
	assert.Contains(t, notifications[0].Body, "status 503")
	assert.Equal(t, "🔴 CASO URGENTE: "+customerNumber, notifications[1].Title)
	assert.Equal(t, "https://portal.example.com/adm-cot/chats?thread="+thread.ID, notifications[1].Link)

	audit, err := h.audit.Trail(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, audit.Escalations, 3)
	assert.Equal(t, model.ChannelEmail, audit.Escalations[0].Channel)
	assert.False(t, audit.Escalations[0].Success)
	require.NotNil(t, audit.Escalations[0].Error)
	assert.Equal(t, "status 503", *audit.Escalations[0].Error)

	types := eventTypes(audit.Events)
	assert.Contains(t, types, model.EventEmailFailed)
	assert.Contains(t, types, model.EventEscalated)
	for _, e := range audit.Events {
		if e.Type == model.EventEscalated {
			assert.Equal(t, false, e.Payload["email_sent"])
		}
	}
}

func TestEscalateNotifierFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, urgentVerdict)
	thread := resolveThread(t, h)
	svc := NewEscalationService(EscalationConfig{Recipient: "contacto@example.com"}, h.mailer, failingNotifier{}, h.audit, logger.NewNop())

	outcome := svc.Escalate(ctx, thread, urgentResult, nil)

	assert.True(t, outcome.EmailSent)
	assert.False(t, outcome.NotificationSent)

	audit, err := h.audit.Trail(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, audit.Escalations, 2)
	assert.False(t, audit.Escalations[1].Success)
	assert.NotContains(t, eventTypes(audit.Events), model.EventNotificationSent)
	assert.Contains(t, eventTypes(audit.Events), model.EventEscalated)
}

func TestEscalateEmptySummaryUsesDefaultBody(t *testing.T) {
	h := newHarness(t, urgentVerdict)
	thread := resolveThread(t, h)

	h.escalation.Escalate(context.Background(), thread, model.ClassificationResult{
		Category: model.CategoryUrgent,
		Severity: model.SeverityMedium,
	}, nil)

	notifications := h.store.Notifications()
	require.Len(t, notifications, 1)
	assert.Equal(t, "Caso urgente detectado", notifications[0].Body)
}

func TestEscalateRepeatsForEveryUrgentVerdict(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, urgentVerdict)

	_, err := h.engine.ProcessInbound(ctx, inbound("denuncia", "SM70"))
	require.NoError(t, err)
	result, err := h.engine.ProcessInbound(ctx, inbound("sigo esperando", "SM71"))
	require.NoError(t, err)

	assert.Len(t, h.mailer.Sent(), 2)
	audit, err := h.audit.Trail(ctx, result.ThreadID)
	require.NoError(t, err)
	assert.Len(t, audit.Escalations, 4)
}
