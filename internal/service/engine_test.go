package service

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/thread-engine/internal/model"
	"github.com/capitalize-ai/thread-engine/internal/store"
	"github.com/capitalize-ai/thread-engine/pkg/metrics"
)

func TestProcessInboundLeadCreatesThreadAndReplies(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, leadVerdict)

	result, err := h.engine.ProcessInbound(ctx, inbound("Quiero cotizar un seguro de auto", "SM1"))
	require.NoError(t, err)

	assert.False(t, result.Duplicate)
	assert.Equal(t, model.CategoryLead, result.Classification.Category)
	require.NotNil(t, result.AutoReplyText)
	assert.Equal(t, replyText, *result.AutoReplyText)
	assert.True(t, result.AutoReplySent)

	thread, err := h.threads.Get(ctx, result.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, "whatsapp", thread.Channel)
	assert.Equal(t, model.CategoryLead, thread.Category)
	assert.Equal(t, model.StatusOpen, thread.Status)
	assert.Equal(t, model.AssigneeAI, thread.AssignedType)
	require.NotNil(t, thread.Metadata.LastClassification)
	assert.Equal(t, "cotizacion_auto", thread.Metadata.LastClassification.Intent)
	require.NotNil(t, thread.LastMessagePreview)
	assert.Equal(t, "Quiero cotizar un seguro de auto", *thread.LastMessagePreview)

	msgs := h.messages(t, result.ThreadID)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.DirectionInbound, msgs[0].Direction)
	reply := msgs[1]
	assert.True(t, reply.AIGenerated)
	assert.Equal(t, customerNumber, *reply.ToID)
	assert.Equal(t, businessNumber, *reply.FromID)
	assert.Equal(t, "cotizacion_auto", *reply.Intent)
	assert.Equal(t, model.CategoryLead, *reply.CategorySnapshot)

	sent := h.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, customerNumber, sent[0].To)

	audit, err := h.audit.Trail(ctx, result.ThreadID)
	require.NoError(t, err)
	assert.Empty(t, audit.Escalations)
	assert.Equal(t, []model.EventType{model.EventClassified}, eventTypes(audit.Events))
	assert.Empty(t, h.mailer.Sent())
}

func TestProcessInboundUrgentEscalatesAndStillReplies(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, urgentVerdict)

	result, err := h.engine.ProcessInbound(ctx, inbound("voy a denunciar esto a la superintendencia", "SM2"))
	require.NoError(t, err)

	assert.Equal(t, model.CategoryUrgent, result.Classification.Category)
	assert.Equal(t, model.SeverityHigh, result.Classification.Severity)
	assert.True(t, result.AutoReplySent)

	thread, err := h.threads.Get(ctx, result.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUrgent, thread.Status)

	audit, err := h.audit.Trail(ctx, result.ThreadID)
	require.NoError(t, err)
	channels := map[model.EscalationChannel]int{}
	for _, a := range audit.Escalations {
		channels[a.Channel]++
		assert.True(t, a.Success)
	}
	assert.Equal(t, 1, channels[model.ChannelEmail])
	assert.Equal(t, 1, channels[model.ChannelNotification])
	assert.Contains(t, eventTypes(audit.Events), model.EventEscalated)
	assert.Contains(t, eventTypes(audit.Events), model.EventEmailSent)

	require.Len(t, h.mailer.Sent(), 1)
	assert.Contains(t, h.mailer.Sent()[0].Subject, "[URGENTE]")

	notifications := h.store.Notifications()
	require.Len(t, notifications, 1)
	assert.Equal(t, "🔴 CASO URGENTE: Ana Pérez", notifications[0].Title)
	assert.Equal(t, "Cliente amenaza con denuncia • Reclamo sin respuesta", notifications[0].Body)
	assert.Equal(t, model.RoleMaster, notifications[0].TargetRole)

	assert.Equal(t, 1, countGenerated(h.messages(t, result.ThreadID)))
}

func TestProcessInboundAfterHandoffCountsUnreadWithoutReply(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, simpleVerdict)

	first, err := h.engine.ProcessInbound(ctx, inbound("Hola", "SM10"))
	require.NoError(t, err)

	assigned, err := h.assignment.AssignToHuman(ctx, first.ThreadID, model.Operator{ID: "op-x", Name: "Operador X"}, "master-1")
	require.NoError(t, err)
	before := assigned.UnreadCountForHuman
	generatedBefore := countGenerated(h.messages(t, first.ThreadID))

	second, err := h.engine.ProcessInbound(ctx, inbound("¿Sigue ahí?", "SM11"))
	require.NoError(t, err)
	assert.Equal(t, first.ThreadID, second.ThreadID)
	assert.Nil(t, second.AutoReplyText)
	assert.False(t, second.AutoReplySent)

	thread, err := h.threads.Get(ctx, first.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, before+1, thread.UnreadCountForHuman)
	assert.Equal(t, generatedBefore, countGenerated(h.messages(t, first.ThreadID)))
}

func TestProcessInboundDuplicateDeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, urgentVerdict)

	first, err := h.engine.ProcessInbound(ctx, inbound("voy a denunciar esto", "SM-dup"))
	require.NoError(t, err)
	classifications := h.llm.Calls()

	second, err := h.engine.ProcessInbound(ctx, inbound("voy a denunciar esto", "SM-dup"))
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.ThreadID, second.ThreadID)
	assert.Equal(t, first.MessageID, second.MessageID)
	assert.Equal(t, model.CategoryUrgent, second.Classification.Category)
	assert.Equal(t, "duplicate", second.Classification.Intent)
	assert.Equal(t, classifications, h.llm.Calls())

	inboundCount := 0
	for _, m := range h.messages(t, first.ThreadID) {
		if m.ProviderMessageID != nil && *m.ProviderMessageID == "SM-dup" {
			inboundCount++
		}
	}
	assert.Equal(t, 1, inboundCount)

	audit, err := h.audit.Trail(ctx, first.ThreadID)
	require.NoError(t, err)
	assert.Len(t, audit.Escalations, 2)
	assert.Len(t, h.mailer.Sent(), 1)
}

func TestProcessInboundClosedThreadOpensNewThread(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, simpleVerdict)

	first, err := h.engine.ProcessInbound(ctx, inbound("Hola", "SM20"))
	require.NoError(t, err)
	_, err = h.threads.Close(ctx, first.ThreadID, "op-1")
	require.NoError(t, err)

	second, err := h.engine.ProcessInbound(ctx, inbound("Hola otra vez", "SM21"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ThreadID, second.ThreadID)
}

func TestProcessInboundClassifierFailureUsesFallback(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "not json at all")

	result, err := h.engine.ProcessInbound(ctx, inbound("Hola", "SM30"))
	require.NoError(t, err)

	assert.True(t, result.Classification.Fallback)
	assert.Equal(t, model.CategorySimple, result.Classification.Category)
	assert.Equal(t, "error_fallback", result.Classification.Intent)
	assert.True(t, result.AutoReplySent)
}

func TestProcessInboundTransportFailureKeepsReply(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, leadVerdict)
	h.sender.err = errors.New("twilio 500")

	result, err := h.engine.ProcessInbound(ctx, inbound("Quiero cotizar", "SM40"))
	require.NoError(t, err)

	require.NotNil(t, result.AutoReplyText)
	assert.False(t, result.AutoReplySent)
	assert.Equal(t, 1, countGenerated(h.messages(t, result.ThreadID)))
}

func TestProcessInboundHistoryExcludesCurrentMessage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, simpleVerdict)

	_, err := h.engine.ProcessInbound(ctx, inbound("Primer mensaje", "SM50"))
	require.NoError(t, err)
	_, err = h.engine.ProcessInbound(ctx, inbound("Segundo mensaje", "SM51"))
	require.NoError(t, err)

	var replyPrompt string
	for _, req := range h.llm.Requests {
		if !isClassifierRequest(req) {
			replyPrompt = req.Messages[0].Content
		}
	}
	assert.Contains(t, replyPrompt, "Primer mensaje")
	assert.Contains(t, replyPrompt, "Segundo mensaje")
}

func TestProcessInboundMirrorsEvents(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, leadVerdict)

	result, err := h.engine.ProcessInbound(ctx, inbound("Quiero cotizar", "SM60"))
	require.NoError(t, err)

	require.Len(t, h.publisher.events, 1)
	assert.Equal(t, model.EventClassified, h.publisher.events[0].Type)
	assert.Equal(t, result.ThreadID, h.publisher.events[0].ThreadID)
}

// lateDedupStore misses every provider id lookup, so a redelivery is only
// caught by the insert.
type lateDedupStore struct {
	*store.MemoryStorage
}

func (lateDedupStore) FindMessageByProviderID(ctx context.Context, providerMessageID string) (*model.Message, error) {
	return nil, store.ErrNotFound
}

func TestProcessInboundDuplicateCaughtAtInsert(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, urgentVerdict)

	first, err := h.engine.ProcessInbound(ctx, inbound("me chocaron el carro", "SM70"))
	require.NoError(t, err)

	h.ledger.store = lateDedupStore{h.store}
	calls := h.llm.Calls()
	mails := len(h.mailer.Sent())
	sends := len(h.sender.Sent())
	before, err := h.audit.Trail(ctx, first.ThreadID)
	require.NoError(t, err)

	again, err := h.engine.ProcessInbound(ctx, inbound("me chocaron el carro", "SM70"))
	require.NoError(t, err)

	assert.True(t, again.Duplicate)
	assert.Equal(t, first.ThreadID, again.ThreadID)
	assert.Equal(t, calls, h.llm.Calls(), "no classification or reply for a redelivery")
	assert.Len(t, h.mailer.Sent(), mails, "no second escalation email")
	assert.Len(t, h.sender.Sent(), sends)

	after, err := h.audit.Trail(ctx, first.ThreadID)
	require.NoError(t, err)
	assert.Len(t, after.Events, len(before.Events))
	assert.Len(t, after.Escalations, len(before.Escalations))
	assert.Len(t, h.messages(t, first.ThreadID), 2)
}

func TestProcessInboundCountsGenerationAndDeliverySeparately(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, leadVerdict)

	generated := testutil.ToFloat64(metrics.AutoRepliesTotal.WithLabelValues("generated"))
	delivered := testutil.ToFloat64(metrics.AutoReplyDeliveriesTotal.WithLabelValues("delivered"))
	misfiled := testutil.ToFloat64(metrics.AutoRepliesTotal.WithLabelValues("delivered"))

	_, err := h.engine.ProcessInbound(ctx, inbound("Quiero cotizar", "SM71"))
	require.NoError(t, err)

	assert.Equal(t, generated+1, testutil.ToFloat64(metrics.AutoRepliesTotal.WithLabelValues("generated")))
	assert.Equal(t, delivered+1, testutil.ToFloat64(metrics.AutoReplyDeliveriesTotal.WithLabelValues("delivered")))
	assert.Equal(t, misfiled, testutil.ToFloat64(metrics.AutoRepliesTotal.WithLabelValues("delivered")))
}
