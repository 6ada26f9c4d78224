// Package classifier turns recent thread messages into a sanitized
// classification verdict using a completion model.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/thread-engine/internal/llm"
	"github.com/capitalize-ai/thread-engine/internal/model"
	"github.com/capitalize-ai/thread-engine/internal/prompt"
	"github.com/capitalize-ai/thread-engine/pkg/logger"
	"github.com/capitalize-ai/thread-engine/pkg/metrics"
)

const (
	// IntentFallback marks a verdict produced without a usable model response.
	IntentFallback = "error_fallback"

	defaultIntent   = "general"
	defaultNextStep = "Revisar conversación"
)

var fragmentPattern = regexp.MustCompile(`\{[\s\S]*\}`)

// Config tunes the classification call.
type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Classifier is the classification client.
type Classifier struct {
	client  llm.Client
	catalog *prompt.Catalog
	cfg     Config
	logger  *logger.Logger
}

// New creates a classifier. A nil client makes every call return the fallback verdict.
func New(client llm.Client, catalog *prompt.Catalog, cfg Config, log *logger.Logger) *Classifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Classifier{
		client:  client,
		catalog: catalog,
		cfg:     cfg,
		logger:  log,
	}
}

// Classify never fails: any capability error, timeout or unparseable answer
// degrades to Fallback.
func (c *Classifier) Classify(ctx context.Context, messages []model.Message, tc model.ThreadContext) model.ClassificationResult {
	if c.client == nil {
		c.logger.Warn("no classification model configured, using fallback verdict")
		return c.record(Fallback())
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	req := llm.Prompt(llm.PurposeClassify, c.catalog.ClassifierSystem, UserPrompt(messages, tc))
	req.Model = c.cfg.Model
	req.MaxTokens = c.cfg.MaxTokens
	req.Temperature = c.cfg.Temperature

	resp, err := c.client.Complete(ctx, req)
	modelName := llm.ModelName(c.client, c.cfg.Model, resp)
	if err != nil {
		metrics.RecordLLMCall(modelName, string(req.Purpose), "error", time.Since(start).Seconds(), 0)
		c.logger.Error("classification call failed",
			zap.String("external_key", tc.ExternalKey),
			zap.Error(err),
		)
		return c.record(Fallback())
	}
	metrics.RecordLLMCall(modelName, string(req.Purpose), "ok", time.Since(start).Seconds(), resp.TotalTokens())

	result, err := Parse(resp.Content)
	if err != nil {
		c.logger.Error("classification response unusable",
			zap.String("external_key", tc.ExternalKey),
			zap.Error(err),
		)
		return c.record(Fallback())
	}
	result.TokensUsed = resp.TotalTokens()
	return c.record(result)
}

func (c *Classifier) record(result model.ClassificationResult) model.ClassificationResult {
	metrics.RecordClassification(string(result.Category), string(result.Severity), result.Fallback)
	return result
}

// UserPrompt renders the transcript handed to the model.
func UserPrompt(messages []model.Message, tc model.ThreadContext) string {
	name := tc.DisplayName
	if name == "" {
		name = "Desconocido"
	}
	phone := tc.ExternalKey
	if phone == "" {
		phone = "N/A"
	}

	var b strings.Builder
	b.WriteString("Clasifica esta conversación de WhatsApp:\n\n")
	fmt.Fprintf(&b, "Cliente: %s\nTeléfono: %s\n\nÚltimos mensajes:\n", name, phone)
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		role := "BOT/PORTAL"
		if m.Direction == model.DirectionInbound {
			role = "CLIENTE"
		}
		fmt.Fprintf(&b, "[%s]: %s", role, m.Body)
	}
	return b.String()
}

// Fallback is the verdict used whenever classification cannot complete.
func Fallback() model.ClassificationResult {
	return model.ClassificationResult{
		Category:          model.CategorySimple,
		Severity:          model.SeverityLow,
		Intent:            IntentFallback,
		Tags:              []string{},
		ExecutiveSummary:  []string{"Error en clasificación automática"},
		SuggestedNextStep: "Revisar conversación manualmente",
		Fallback:          true,
	}
}

// Parse decodes and sanitizes a raw model answer. When the answer is not
// JSON, the outermost brace-delimited fragment is tried before giving up.
func Parse(raw string) (model.ClassificationResult, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		fragment := fragmentPattern.FindString(raw)
		if fragment == "" {
			return model.ClassificationResult{}, errors.New("no JSON object in classifier response")
		}
		if err := json.Unmarshal([]byte(fragment), &fields); err != nil {
			return model.ClassificationResult{}, fmt.Errorf("decode classifier fragment: %w", err)
		}
	}
	if fields == nil {
		return model.ClassificationResult{}, errors.New("classifier response is not an object")
	}
	return sanitize(fields), nil
}

func sanitize(fields map[string]any) model.ClassificationResult {
	result := model.ClassificationResult{
		Category:          model.CategorySimple,
		Severity:          model.SeverityLow,
		Intent:            defaultIntent,
		SuggestedNextStep: defaultNextStep,
	}

	if s, ok := fields["category"].(string); ok && model.Category(s).Valid() {
		result.Category = model.Category(s)
	}
	if s, ok := fields["severity"].(string); ok && model.Severity(s).Valid() {
		result.Severity = model.Severity(s)
	}
	if s, ok := fields["intent"].(string); ok {
		result.Intent = s
	}
	if s, ok := fields["suggested_next_step"].(string); ok {
		result.SuggestedNextStep = s
	}
	result.Tags = stringList(fields["tags"], model.MaxTags)
	result.ExecutiveSummary = stringList(fields["executive_summary"], model.MaxExecutiveSummary)

	return result
}

// stringList keeps the first limit string entries of a JSON array.
func stringList(v any, limit int) []string {
	out := []string{}
	items, ok := v.([]any)
	if !ok {
		return out
	}
	for _, item := range items {
		if len(out) == limit {
			break
		}
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
