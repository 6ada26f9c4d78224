package model

// Classification limits applied to model output.
const (
	MaxTags             = 5
	MaxExecutiveSummary = 4
)

// ClassificationResult is the structured verdict derived from recent messages.
type ClassificationResult struct {
	Category          Category `json:"category"`
	Severity          Severity `json:"severity"`
	Intent            string   `json:"intent"`
	Tags              []string `json:"tags"`
	ExecutiveSummary  []string `json:"executive_summary"`
	SuggestedNextStep string   `json:"suggested_next_step"`
	TokensUsed        int      `json:"tokens_used,omitempty"`

	// Fallback is set when the verdict did not come from the model.
	Fallback bool `json:"fallback,omitempty"`
}

// Urgent reports whether the verdict requires escalation.
func (r ClassificationResult) Urgent() bool {
	return r.Category == CategoryUrgent
}

// ThreadContext carries what the classifier knows about the sender.
type ThreadContext struct {
	DisplayName string
	ExternalKey string
}
