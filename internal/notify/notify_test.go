package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/thread-engine/internal/model"
	"github.com/capitalize-ai/thread-engine/internal/store"
	"github.com/capitalize-ai/thread-engine/pkg/logger"
)

type recordingPublisher struct {
	keys      []string
	envelopes []Envelope
	err       error
}

func (p *recordingPublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	p.keys = append(p.keys, key)
	p.envelopes = append(p.envelopes, msg)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type failingNotifier struct{}

func (failingNotifier) Notify(ctx context.Context, n *model.Notification) error {
	return errors.New("unavailable")
}

func TestFanoutStoresAndPublishes(t *testing.T) {
	mem := store.NewMemoryStorage()
	pub := &recordingPublisher{}
	fanout := NewFanout(NewStoreNotifier(mem), logger.NewNop(), NewBusNotifier(pub, "thread-engine"))

	n := &model.Notification{ID: "n1", ThreadID: "th-1", Type: model.NotificationChatUrgent, Title: "🔴 CASO URGENTE: Ana"}
	require.NoError(t, fanout.Notify(context.Background(), n))

	stored := mem.Notifications()
	require.Len(t, stored, 1)
	assert.Equal(t, "n1", stored[0].ID)

	require.Len(t, pub.keys, 1)
	assert.Equal(t, "portal.notification.chat_urgent", pub.keys[0])
	assert.Equal(t, "chat_urgent.v1", pub.envelopes[0].Meta.Type)
	assert.Equal(t, "th-1", *pub.envelopes[0].Meta.CorrelationID)
}

func TestFanoutIgnoresMirrorFailure(t *testing.T) {
	mem := store.NewMemoryStorage()
	pub := &recordingPublisher{err: errors.New("broker down")}
	fanout := NewFanout(NewStoreNotifier(mem), logger.NewNop(), NewBusNotifier(pub, "thread-engine"))

	assert.NoError(t, fanout.Notify(context.Background(), &model.Notification{ID: "n1", Type: "chat_assigned"}))
	assert.Len(t, mem.Notifications(), 1)
}

func TestFanoutReportsPrimaryFailure(t *testing.T) {
	pub := &recordingPublisher{}
	fanout := NewFanout(failingNotifier{}, logger.NewNop(), NewBusNotifier(pub, "thread-engine"))

	assert.Error(t, fanout.Notify(context.Background(), &model.Notification{ID: "n1"}))
	assert.Empty(t, pub.keys)
}
