// Package responder generates assistant replies for customer threads.
package responder

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

var markdownLink = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)

// Config tunes the reply-generation call.
type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Request carries what the assistant needs to answer.
type Request struct {
	CurrentMessage string
	// History excludes CurrentMessage, oldest first.
	History     []model.Message
	DisplayName string
	Category    model.Category
	Severity    model.Severity
}

// Reply is a generated or fallback answer.
type Reply struct {
	Text       string
	Model      string
	TokensUsed int
	LatencyMs  int64
	Fallback   bool
}

// Generator wraps the reply-generation capability.
type Generator struct {
	client  llm.Client
	catalog *prompt.Catalog
	cfg     Config
	logger  *logger.Logger
}

// New creates a generator. A nil client makes every call return the fallback reply.
func New(client llm.Client, catalog *prompt.Catalog, cfg Config, log *logger.Logger) *Generator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 25 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	return &Generator{
		client:  client,
		catalog: catalog,
		cfg:     cfg,
		logger:  log,
	}
}

// Generate always yields a sendable reply. Failures and timeouts produce the
// catalog's fallback text with Fallback set.
func (g *Generator) Generate(ctx context.Context, req Request) Reply {
	start := time.Now()

	if g.client == nil {
		return g.fallback(start, "none")
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	call := llm.Prompt(llm.PurposeReply, g.catalog.ReplySystem, UserPrompt(req))
	call.Model = g.cfg.Model
	call.MaxTokens = g.cfg.MaxTokens
	call.Temperature = g.cfg.Temperature

	resp, err := g.client.Complete(ctx, call)
	modelName := llm.ModelName(g.client, g.cfg.Model, resp)
	if err == nil {
		var text string
		text, err = Clean(resp.Content)
		if err == nil {
			elapsed := time.Since(start)
			metrics.RecordLLMCall(modelName, string(call.Purpose), "ok", elapsed.Seconds(), resp.TotalTokens())
			metrics.AutoRepliesTotal.WithLabelValues("generated").Inc()
			return Reply{
				Text:       text,
				Model:      modelName,
				TokensUsed: resp.TotalTokens(),
				LatencyMs:  elapsed.Milliseconds(),
			}
		}
	}

	metrics.RecordLLMCall(modelName, string(call.Purpose), "error", time.Since(start).Seconds(), 0)
	g.logger.Error("reply generation failed, sending fallback", zap.Error(err))
	return g.fallback(start, modelName)
}

func (g *Generator) fallback(start time.Time, modelName string) Reply {
	metrics.AutoRepliesTotal.WithLabelValues("fallback").Inc()
	return Reply{
		Text:      g.catalog.FallbackReply,
		Model:     modelName,
		LatencyMs: time.Since(start).Milliseconds(),
		Fallback:  true,
	}
}

// UserPrompt renders history, thread state and the new message for the model.
func UserPrompt(req Request) string {
	var b strings.Builder

	if len(req.History) > 0 {
		b.WriteString("Historial:\n")
		for _, m := range req.History {
			speaker := "Lissa"
			if m.Direction == model.DirectionInbound {
				speaker = "Cliente"
			}
			fmt.Fprintf(&b, "%s: %s\n", speaker, m.Body)
		}
		b.WriteByte('\n')
	}

	name := req.DisplayName
	if name == "" {
		name = "Desconocido"
	}
	fmt.Fprintf(&b, "Categoría actual: %s | Severidad: %s\n", req.Category, req.Severity)
	fmt.Fprintf(&b, "Cliente: %s\n\n", name)
	fmt.Fprintf(&b, "Nuevo mensaje del cliente:\n%s\n\n", req.CurrentMessage)
	b.WriteString("Responde como Lissa (solo el texto de respuesta, sin prefijo):")
	return b.String()
}

// Clean unwraps JSON-encoded answers and rewrites markdown links for WhatsApp.
func Clean(raw string) (string, error) {
	text := raw

	var decoded any
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &decoded); err == nil {
		switch v := decoded.(type) {
		case string:
			text = v
		case map[string]any:
			for _, key := range []string{"reply", "response", "text"} {
				if s, ok := v[key].(string); ok && s != "" {
					text = s
					break
				}
			}
		}
	}

	text = markdownLink.ReplaceAllString(text, "$1: $2")
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("empty reply")
	}
	return text, nil
}
