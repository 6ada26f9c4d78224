// Package notify raises internal portal notifications.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/capitalize-ai/thread-engine/internal/model"
	"github.com/capitalize-ai/thread-engine/internal/store"
	"github.com/capitalize-ai/thread-engine/pkg/logger"
)

// Notifier creates one internal notification.
type Notifier interface {
	Notify(ctx context.Context, n *model.Notification) error
}

// StoreNotifier persists notifications for the portal inbox.
type StoreNotifier struct {
	store store.NotificationStore
}

// NewStoreNotifier creates a store-backed notifier.
func NewStoreNotifier(s store.NotificationStore) *StoreNotifier {
	return &StoreNotifier{store: s}
}

// Notify implements Notifier.
func (n *StoreNotifier) Notify(ctx context.Context, notification *model.Notification) error {
	return n.store.InsertNotification(ctx, notification)
}

// Fanout writes to a primary notifier and mirrors to secondary ones.
// Only the primary outcome is reported; mirror failures are logged.
type Fanout struct {
	primary Notifier
	mirrors []Notifier
	logger  *logger.Logger
}

// NewFanout creates a fan-out notifier.
func NewFanout(primary Notifier, log *logger.Logger, mirrors ...Notifier) *Fanout {
	return &Fanout{primary: primary, mirrors: mirrors, logger: log}
}

// Notify implements Notifier.
func (f *Fanout) Notify(ctx context.Context, n *model.Notification) error {
	if err := f.primary.Notify(ctx, n); err != nil {
		return err
	}
	for _, m := range f.mirrors {
		if err := m.Notify(ctx, n); err != nil {
			f.logger.Warn("notification mirror failed",
				zap.String("notification_id", n.ID),
				zap.String("type", n.Type),
				zap.Error(err),
			)
		}
	}
	return nil
}
