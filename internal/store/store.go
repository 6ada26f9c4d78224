// Package store defines the persistence contract of the thread engine.
package store

import (
	"context"
	"errors"

	"github.com/capitalize-ai/thread-engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store is the full persistence contract consumed by the engine.
type Store interface {
	ThreadStore
	MessageStore
	AuditStore
	NotificationStore
	CustomerStore

	Ping(ctx context.Context) error
	Close() error
}

// ThreadStore persists thread records.
type ThreadStore interface {
	// FindOpenThread returns the most recently created non-closed thread for the key.
	FindOpenThread(ctx context.Context, externalKey string) (*model.Thread, error)
	CreateThread(ctx context.Context, thread *model.Thread) error
	GetThread(ctx context.Context, id string) (*model.Thread, error)
	ListThreads(ctx context.Context, filter model.ThreadFilter) ([]model.Thread, error)

	// ApplyClassification patches a thread in one atomic row update. Status only
	// moves to urgent when MarkUrgent is set and the thread is not closed; the
	// unread counter only moves when the row is human-assigned.
	ApplyClassification(ctx context.Context, id string, update model.ClassificationUpdate) (*model.Thread, error)
	SetAssignment(ctx context.Context, id string, assignment model.Assignment) (*model.Thread, error)
	SetStatus(ctx context.Context, id string, status model.ThreadStatus) (*model.Thread, error)
	SetClassification(ctx context.Context, id string, category model.Category, severity model.Severity) (*model.Thread, error)
}

// MessageStore persists the message ledger.
type MessageStore interface {
	// InsertMessage appends a message. When the provider message id is already
	// recorded, the stored message is returned with inserted=false.
	InsertMessage(ctx context.Context, msg *model.Message) (stored *model.Message, inserted bool, err error)
	FindMessageByProviderID(ctx context.Context, providerMessageID string) (*model.Message, error)
	// RecentMessages returns up to limit messages of a thread, oldest first.
	RecentMessages(ctx context.Context, threadID string, limit int) ([]model.Message, error)
}

// AuditStore persists append-only audit trails.
type AuditStore interface {
	InsertThreadEvent(ctx context.Context, event *model.ThreadEvent) error
	InsertEscalationAttempt(ctx context.Context, attempt *model.EscalationAttempt) error
	InsertAssignmentEvent(ctx context.Context, event *model.AssignmentEvent) error
	ThreadAudit(ctx context.Context, threadID string) (*model.ThreadAudit, error)
}

// NotificationStore persists internal portal notifications.
type NotificationStore interface {
	InsertNotification(ctx context.Context, n *model.Notification) error
}

// CustomerStore looks up known customers.
type CustomerStore interface {
	// FindCustomerByPhoneSuffix matches digits against the tail of stored phone fields.
	FindCustomerByPhoneSuffix(ctx context.Context, digits string) (*model.Customer, error)
}
