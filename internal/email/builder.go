package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/capitalize-ai/thread-engine/internal/model"
)

// TranscriptLimit caps the messages included in an escalation email.
const TranscriptLimit = 30

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Panamá does not observe daylight saving time.
var panama = time.FixedZone("America/Panama", -5*60*60)

// EscalationData is the input of the urgent-case email.
type EscalationData struct {
	Thread         *model.Thread
	Classification model.ClassificationResult
	Messages       []model.Message
	Link           string
	Now            time.Time
}

// AssignmentData is the input of the handoff email.
type AssignmentData struct {
	Thread   *model.Thread
	Operator model.Operator
	Link     string
	Now      time.Time
}

type transcriptEntry struct {
	Speaker string
	Time    string
	Inbound bool
	Lines   []string
}

// SeverityLabel renders a severity for subjects and bodies.
func SeverityLabel(s model.Severity) string {
	switch s {
	case model.SeverityHigh:
		return "🔴 ALTA"
	case model.SeverityMedium:
		return "🟡 MEDIA"
	default:
		return "🟢 BAJA"
	}
}

// BuildEscalation renders the urgent-case email addressed to recipient.
func BuildEscalation(recipient string, d EscalationData) (Email, error) {
	if recipient == "" {
		return Email{}, ErrNoRecipient
	}

	customer := ""
	if d.Thread.DisplayName != nil {
		customer = *d.Thread.DisplayName
	}
	subjectName := customer
	if subjectName == "" {
		subjectName = "Sin nombre"
	}

	messages := d.Messages
	if len(messages) > TranscriptLimit {
		messages = messages[len(messages)-TranscriptLimit:]
	}
	transcript := make([]transcriptEntry, 0, len(messages))
	for _, m := range messages {
		speaker := "👨‍💼 Portal"
		switch {
		case m.Direction == model.DirectionInbound:
			speaker = "👤 Cliente"
		case m.AIGenerated:
			speaker = "🤖 LISSA AI"
		}
		transcript = append(transcript, transcriptEntry{
			Speaker: speaker,
			Time:    formatTime(m.CreatedAt),
			Inbound: m.Direction == model.DirectionInbound,
			Lines:   strings.Split(m.Body, "\n"),
		})
	}

	html, err := render("escalation.html", map[string]any{
		"ThreadID":      d.Thread.ID,
		"Phone":         d.Thread.ExternalKey,
		"Customer":      customer,
		"Category":      strings.ToUpper(string(d.Classification.Category)),
		"SeverityLabel": SeverityLabel(d.Classification.Severity),
		"Tags":          d.Classification.Tags,
		"Summary":       d.Classification.ExecutiveSummary,
		"NextStep":      d.Classification.SuggestedNextStep,
		"Link":          d.Link,
		"Transcript":    transcript,
		"GeneratedAt":   formatTime(d.Now),
	})
	if err != nil {
		return Email{}, err
	}

	return Email{
		To: recipient,
		Subject: fmt.Sprintf("[URGENTE][ADM COT CHATS] %s — %s — %s",
			SeverityLabel(d.Classification.Severity), d.Thread.ExternalKey, subjectName),
		HTMLBody: html,
	}, nil
}

// BuildAssignment renders the handoff email sent to the operator.
func BuildAssignment(d AssignmentData) (Email, error) {
	if d.Operator.Email == "" {
		return Email{}, ErrNoRecipient
	}

	customer := ""
	if d.Thread.DisplayName != nil {
		customer = *d.Thread.DisplayName
	}
	preview := ""
	if d.Thread.LastMessagePreview != nil {
		preview = *d.Thread.LastMessagePreview
	}

	html, err := render("assignment.html", map[string]any{
		"Operator":    d.Operator.Name,
		"Phone":       d.Thread.ExternalKey,
		"Customer":    customer,
		"Preview":     preview,
		"Link":        d.Link,
		"GeneratedAt": formatTime(d.Now),
	})
	if err != nil {
		return Email{}, err
	}

	return Email{
		To:       d.Operator.Email,
		ToName:   d.Operator.Name,
		Subject:  fmt.Sprintf("[ADM COT CHATS] Conversación asignada — %s", d.Thread.ExternalKey),
		HTMLBody: html,
	}, nil
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.In(panama).Format("02/01/2006 15:04")
}
