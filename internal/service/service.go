// Package service implements the thread engine: thread resolution, the
// message ledger, classification state, escalation, autoresponse and
// responder assignment.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/thread-engine/internal/model"
	"github.com/capitalize-ai/thread-engine/internal/responder"
)

var (
	// ErrThreadNotFound is returned when a thread id does not exist.
	ErrThreadNotFound = errors.New("thread not found")
	// ErrThreadClosed is returned when an operation requires an open thread.
	ErrThreadClosed = errors.New("thread is closed")
	// ErrInvalidOperator is returned when an assignment target is incomplete.
	ErrInvalidOperator = errors.New("operator id and name are required")
	// ErrInvalidClassification is returned for unknown category or severity values.
	ErrInvalidClassification = errors.New("invalid category or severity")
)

// RecentWindow is how many ledger entries feed classification.
const RecentWindow = 10

// PreviewLength caps the thread's last message preview.
const PreviewLength = 200

// Classifier produces a verdict for the recent messages of a thread.
type Classifier interface {
	Classify(ctx context.Context, messages []model.Message, tc model.ThreadContext) model.ClassificationResult
}

// ReplyGenerator produces the assistant's answer.
type ReplyGenerator interface {
	Generate(ctx context.Context, req responder.Request) responder.Reply
}

// EventPublisher mirrors audit events to a message bus.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *model.ThreadEvent) error
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// ThreadLink is the portal deep link of a thread.
func ThreadLink(portalBaseURL, threadID string) string {
	return portalBaseURL + "/adm-cot/chats?thread=" + threadID
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
