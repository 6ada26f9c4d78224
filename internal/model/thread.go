// Package model defines data structures for the thread engine.
package model

import (
	"time"
)

// Category is the classification bucket of a thread.
type Category string

const (
	CategorySimple Category = "simple"
	CategoryLead   Category = "lead"
	CategoryUrgent Category = "urgent"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategorySimple, CategoryLead, CategoryUrgent:
		return true
	}
	return false
}

// Severity is the urgency level attached to a classification.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// ThreadStatus is the lifecycle state of a thread.
type ThreadStatus string

const (
	StatusOpen   ThreadStatus = "open"
	StatusUrgent ThreadStatus = "urgent"
	StatusClosed ThreadStatus = "closed"
)

// AssigneeType identifies which kind of responder owns a thread.
type AssigneeType string

const (
	AssigneeAI    AssigneeType = "ai"
	AssigneeHuman AssigneeType = "human"
)

// Thread represents one conversation with one external sender.
type Thread struct {
	// Identity
	ID          string  `json:"id"`
	Channel     string  `json:"channel"`
	ExternalKey string  `json:"external_key"`
	CustomerID  *string `json:"customer_id,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
	Region      *string `json:"region,omitempty"`

	// Classification state
	Category Category       `json:"category"`
	Severity Severity       `json:"severity"`
	Tags     []string       `json:"tags"`
	Metadata ThreadMetadata `json:"metadata"`

	// Assignment state
	AssignedType    AssigneeType `json:"assigned_type"`
	AssignedHumanID *string      `json:"assigned_human_id,omitempty"`
	AIEnabled       bool         `json:"ai_enabled"`

	// Lifecycle
	Status              ThreadStatus `json:"status"`
	UnreadCountForHuman int          `json:"unread_count_for_human"`
	LastMessageAt       time.Time    `json:"last_message_at"`
	LastMessagePreview  *string      `json:"last_message_preview,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ThreadMetadata is the structured metadata column of a thread.
type ThreadMetadata struct {
	LastClassification *ClassificationSnapshot `json:"last_classification,omitempty"`
}

// ClassificationSnapshot is the part of the last classification kept on the thread.
type ClassificationSnapshot struct {
	Intent            string    `json:"intent"`
	ExecutiveSummary  []string  `json:"executive_summary"`
	SuggestedNextStep string    `json:"suggested_next_step"`
	ClassifiedAt      time.Time `json:"classified_at"`
}

// Name returns the display name of the sender, falling back to the external key.
func (t *Thread) Name() string {
	if t.DisplayName != nil && *t.DisplayName != "" {
		return *t.DisplayName
	}
	return t.ExternalKey
}

// HumanOwned reports whether a human operator currently holds the thread.
func (t *Thread) HumanOwned() bool {
	return t.AssignedType == AssigneeHuman
}

// AcceptsAutoReply reports whether the assistant may answer on this thread.
func (t *Thread) AcceptsAutoReply() bool {
	return t.AIEnabled && t.AssignedType == AssigneeAI
}

// ClassificationUpdate is the patch written to a thread after a classification pass.
// Stores bump the unread counter from the row's own assignment, never from a
// copy of the thread read earlier.
type ClassificationUpdate struct {
	Category           Category
	Severity           Severity
	Tags               []string
	LastClassification ClassificationSnapshot
	LastMessageAt      time.Time
	LastMessagePreview string
	MarkUrgent         bool
}

// Assignment is the responder change applied by the assignment manager.
type Assignment struct {
	Type    AssigneeType
	HumanID *string
}

// ThreadFilter narrows thread listings.
type ThreadFilter struct {
	Status ThreadStatus
	Limit  int
}

// Customer is a known customer record used to enrich new threads.
type Customer struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Region *string `json:"region,omitempty"`
	Phone  string  `json:"phone,omitempty"`
	Mobile string  `json:"mobile,omitempty"`
}

// Operator is a human operator that can take over a thread.
type Operator struct {
	ID    string `json:"operator_id"`
	Name  string `json:"operator_name"`
	Email string `json:"operator_email"`
}
