package responder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/thread-engine/internal/llm"
	"github.com/capitalize-ai/thread-engine/internal/llm/llmtest"
	"github.com/capitalize-ai/thread-engine/internal/model"
	"github.com/capitalize-ai/thread-engine/internal/prompt"
	"github.com/capitalize-ai/thread-engine/pkg/logger"
)

func newGenerator(client llm.Client) *Generator {
	return New(client, prompt.Default(), Config{Temperature: 0.6, Timeout: time.Second}, logger.NewNop())
}

func TestGenerateReply(t *testing.T) {
	client := &llmtest.Client{
		Content: "Con gusto. Cotiza aquí: [Cotizador Auto](https://portal.lideresenseguros.com/cotizadores/auto)",
		Tokens:  30,
	}

	reply := newGenerator(client).Generate(context.Background(), Request{
		CurrentMessage: "Quiero cotizar un seguro de auto",
		History: []model.Message{
			{Direction: model.DirectionInbound, Body: "Hola"},
			{Direction: model.DirectionOutbound, Body: "¡Hola! Soy Lissa"},
		},
		DisplayName: "Ana",
		Category:    model.CategoryLead,
		Severity:    model.SeverityLow,
	})

	assert.False(t, reply.Fallback)
	assert.Equal(t, "Con gusto. Cotiza aquí: Cotizador Auto: https://portal.lideresenseguros.com/cotizadores/auto", reply.Text)
	assert.Equal(t, "test-model", reply.Model)
	assert.Equal(t, 30, reply.TokensUsed)

	require.Len(t, client.Requests, 1)
	sent := client.Requests[0].Messages[0].Content
	assert.Contains(t, sent, "Historial:\nCliente: Hola\nLissa: ¡Hola! Soy Lissa")
	assert.Contains(t, sent, "Categoría actual: lead | Severidad: low")
	assert.Contains(t, sent, "Nuevo mensaje del cliente:\nQuiero cotizar un seguro de auto")
}

func TestGenerateFallbacks(t *testing.T) {
	tests := []struct {
		name   string
		client llm.Client
	}{
		{"capability error", &llmtest.Client{Err: errors.New("boom")}},
		{"blank answer", &llmtest.Client{Content: "   "}},
		{"no client", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := newGenerator(tt.client).Generate(context.Background(), Request{CurrentMessage: "hola"})
			assert.True(t, reply.Fallback)
			assert.Equal(t, prompt.Default().FallbackReply, reply.Text)
		})
	}
}

func TestUserPromptWithoutHistory(t *testing.T) {
	p := UserPrompt(Request{CurrentMessage: "hola", Category: model.CategorySimple, Severity: model.SeverityLow})
	assert.NotContains(t, p, "Historial")
	assert.Contains(t, p, "Cliente: Desconocido")
}

func TestClean(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`"Hola 👋"`, "Hola 👋"},
		{`{"reply":"Listo"}`, "Listo"},
		{`{"response":"Listo"}`, "Listo"},
		{`{"text":"Listo"}`, "Listo"},
		{"  texto plano  ", "texto plano"},
		{"ver [portal](https://x.y)", "ver portal: https://x.y"},
	}
	for _, tt := range tests {
		got, err := Clean(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got)
	}

	_, err := Clean(`""`)
	assert.Error(t, err)
}
