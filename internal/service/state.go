package service

import (
	"time"

	"github.com/capitalize-ai/thread-engine/internal/model"
)

// Transition is the result of applying a classification to a thread.
type Transition struct {
	Thread             model.Thread
	Update             model.ClassificationUpdate
	EscalationRequired bool
}

// ApplyClassification computes the next thread state for a verdict on the
// message body. A closed thread keeps its status; the unread counter only
// moves while a human holds the thread.
func ApplyClassification(thread model.Thread, result model.ClassificationResult, body string, now time.Time) Transition {
	update := model.ClassificationUpdate{
		Category: result.Category,
		Severity: result.Severity,
		Tags:     append([]string{}, result.Tags...),
		LastClassification: model.ClassificationSnapshot{
			Intent:            result.Intent,
			ExecutiveSummary:  append([]string{}, result.ExecutiveSummary...),
			SuggestedNextStep: result.SuggestedNextStep,
			ClassifiedAt:      now,
		},
		LastMessageAt:      now,
		LastMessagePreview: Preview(body),
		MarkUrgent:         result.Urgent() && thread.Status != model.StatusClosed,
	}

	next := thread
	next.Category = update.Category
	next.Severity = update.Severity
	next.Tags = update.Tags
	snapshot := update.LastClassification
	next.Metadata.LastClassification = &snapshot
	next.LastMessageAt = now
	preview := update.LastMessagePreview
	next.LastMessagePreview = &preview
	if update.MarkUrgent {
		next.Status = model.StatusUrgent
	}
	if thread.HumanOwned() {
		next.UnreadCountForHuman++
	}
	next.UpdatedAt = now

	return Transition{
		Thread:             next,
		Update:             update,
		EscalationRequired: result.Urgent(),
	}
}

// Preview truncates a body to PreviewLength runes.
func Preview(body string) string {
	runes := []rune(body)
	if len(runes) <= PreviewLength {
		return body
	}
	return string(runes[:PreviewLength])
}
