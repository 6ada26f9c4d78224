package model

import (
	"time"
)

// Notification types raised by the engine.
const (
	NotificationChatUrgent   = "chat_urgent"
	NotificationChatAssigned = "chat_assigned"
)

// RoleMaster is the operator role addressed by broad notifications.
const RoleMaster = "master"

// Notification is an internal portal notification.
type Notification struct {
	ID           string    `json:"id"`
	ThreadID     string    `json:"thread_id,omitempty"`
	Type         string    `json:"type"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	Link         string    `json:"link"`
	TargetRole   string    `json:"target_role,omitempty"`
	TargetUserID *string   `json:"target_user_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
