package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/thread-engine/internal/model"
)

func TestAssignToHuman(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, leadVerdict)

	processed, err := h.engine.ProcessInbound(ctx, inbound("Quiero cotizar", "SM80"))
	require.NoError(t, err)

	op := model.Operator{ID: "op-1", Name: "Carla", Email: "carla@example.com"}
	thread, err := h.assignment.AssignToHuman(ctx, processed.ThreadID, op, "master-1")
	require.NoError(t, err)

	assert.Equal(t, model.AssigneeHuman, thread.AssignedType)
	require.NotNil(t, thread.AssignedHumanID)
	assert.Equal(t, "op-1", *thread.AssignedHumanID)
	assert.False(t, thread.AIEnabled)
	assert.Equal(t, 0, thread.UnreadCountForHuman)

	msgs := h.messages(t, processed.ThreadID)
	last := msgs[len(msgs)-1]
	assert.Equal(t, model.ProviderSystem, last.Provider)
	assert.Equal(t, h.catalog.AssignedMessage("Carla"), last.Body)
	assert.False(t, last.AIGenerated)

	audit, err := h.audit.Trail(ctx, processed.ThreadID)
	require.NoError(t, err)
	require.Len(t, audit.Assignments, 1)
	assert.Equal(t, model.AssigneeAI, audit.Assignments[0].PreviousType)
	assert.Equal(t, model.AssigneeHuman, audit.Assignments[0].NewType)
	require.NotNil(t, audit.Assignments[0].ActorUserID)
	assert.Equal(t, "master-1", *audit.Assignments[0].ActorUserID)
	assert.Contains(t, eventTypes(audit.Events), model.EventAssigned)

	notifications := h.store.Notifications()
	require.Len(t, notifications, 1)
	assert.Equal(t, model.NotificationChatAssigned, notifications[0].Type)
	assert.Equal(t, "💬 Chat asignado: Ana Pérez", notifications[0].Title)
	assert.Equal(t, "Quiero cotizar", notifications[0].Body)
	require.NotNil(t, notifications[0].TargetUserID)
	assert.Equal(t, "op-1", *notifications[0].TargetUserID)

	sent := h.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "carla@example.com", sent[0].To)
}

func TestAssignToHumanValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, leadVerdict)

	_, err := h.assignment.AssignToHuman(ctx, "missing", model.Operator{ID: "op-1"}, "")
	assert.ErrorIs(t, err, ErrInvalidOperator)

	_, err = h.assignment.AssignToHuman(ctx, "missing", model.Operator{ID: "op-1", Name: "Carla"}, "")
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestAssignToAIResumesAutoReplies(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, simpleVerdict)

	first, err := h.engine.ProcessInbound(ctx, inbound("Hola", "SM90"))
	require.NoError(t, err)
	_, err = h.assignment.AssignToHuman(ctx, first.ThreadID, model.Operator{ID: "op-1", Name: "Carla"}, "")
	require.NoError(t, err)

	thread, err := h.assignment.AssignToAI(ctx, first.ThreadID, "op-1")
	require.NoError(t, err)
	assert.Equal(t, model.AssigneeAI, thread.AssignedType)
	assert.Nil(t, thread.AssignedHumanID)
	assert.True(t, thread.AIEnabled)

	msgs := h.messages(t, first.ThreadID)
	assert.Equal(t, h.catalog.ResumedByAI, msgs[len(msgs)-1].Body)

	audit, err := h.audit.Trail(ctx, first.ThreadID)
	require.NoError(t, err)
	require.Len(t, audit.Assignments, 2)
	assert.Equal(t, model.AssigneeHuman, audit.Assignments[1].PreviousType)
	require.NotNil(t, audit.Assignments[1].PreviousHumanID)
	assert.Equal(t, "op-1", *audit.Assignments[1].PreviousHumanID)
	for _, e := range audit.Events {
		if e.Type == model.EventAIEnabled {
			assert.Equal(t, "op-1", e.Payload["previous_assigned"])
		}
	}

	next, err := h.engine.ProcessInbound(ctx, inbound("¿Me ayudan?", "SM91"))
	require.NoError(t, err)
	assert.True(t, next.AutoReplySent)
}
