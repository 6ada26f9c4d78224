package model

import (
	"time"
)

// EventType represents the type of a thread audit event.
type EventType string

const (
	EventClassified       EventType = "classified"
	EventEscalated        EventType = "escalated"
	EventNotificationSent EventType = "notification_sent"
	EventEmailSent        EventType = "email_sent"
	EventEmailFailed      EventType = "email_failed"
	EventAssigned         EventType = "assigned"
	EventAIEnabled        EventType = "ai_enabled"
	EventClosed           EventType = "closed"
	EventReclassified     EventType = "reclassified"
)

// ThreadEvent is an append-only audit record tied to a thread.
type ThreadEvent struct {
	ID          string         `json:"id"`
	ThreadID    string         `json:"thread_id"`
	Type        EventType      `json:"type"`
	ActorUserID *string        `json:"actor_user_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// EscalationChannel is the delivery channel of an escalation attempt.
type EscalationChannel string

const (
	ChannelNotification EscalationChannel = "notification"
	ChannelEmail        EscalationChannel = "email"
)

// EscalationAttempt records one delivery outcome of an escalation.
type EscalationAttempt struct {
	ID             string               `json:"id"`
	ThreadID       string               `json:"thread_id"`
	Channel        EscalationChannel    `json:"channel"`
	Success        bool                 `json:"success"`
	Attempts       int                  `json:"attempts"`
	DeliveryID     *string              `json:"delivery_id,omitempty"`
	Error          *string              `json:"error,omitempty"`
	Classification ClassificationResult `json:"classification"`
	CreatedAt      time.Time            `json:"created_at"`
}

// EscalationOutcome summarizes one run of the escalation workflow.
type EscalationOutcome struct {
	EmailSent        bool                `json:"email_sent"`
	EmailAttempts    int                 `json:"email_attempts"`
	NotificationSent bool                `json:"notification_sent"`
	Attempts         []EscalationAttempt `json:"attempts"`
}

// AssignmentEvent is the audit record of a responder handoff.
type AssignmentEvent struct {
	ID              string       `json:"id"`
	ThreadID        string       `json:"thread_id"`
	PreviousType    AssigneeType `json:"previous_type"`
	PreviousHumanID *string      `json:"previous_human_id,omitempty"`
	NewType         AssigneeType `json:"new_type"`
	NewHumanID      *string      `json:"new_human_id,omitempty"`
	ActorUserID     *string      `json:"actor_user_id,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// ThreadAudit bundles every audit trail of a thread.
type ThreadAudit struct {
	Escalations []EscalationAttempt `json:"escalations"`
	Assignments []AssignmentEvent   `json:"assignments"`
	Events      []ThreadEvent       `json:"events"`
}
