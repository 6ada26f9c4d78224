package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAICompleteSendsSystemPromptFirst(t *testing.T) {
	var got openai.ChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Model: "gpt-4o-mini",
			Choices: []openai.ChatCompletionChoice{{
				Message:      openai.ChatCompletionMessage{Role: "assistant", Content: `{"category":"simple"}`},
				FinishReason: openai.FinishReasonStop,
			}},
			Usage: openai.Usage{PromptTokens: 12, CompletionTokens: 8},
		})
	}))
	defer server.Close()

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = server.URL + "/v1"
	client := NewOpenAIClientWithConfig(cfg)

	resp, err := client.Complete(context.Background(), &CompletionRequest{
		System:   "clasifica",
		Messages: []ChatMessage{{Role: RoleUser, Content: "hola"}},
	})
	require.NoError(t, err)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Equal(t, "clasifica", got.Messages[0].Content)
	assert.Equal(t, openAIDefaultModel, got.Model)

	assert.Equal(t, `{"category":"simple"}`, resp.Content)
	assert.Equal(t, 20, resp.TotalTokens())
	assert.Equal(t, "stop", resp.StopReason)
}

func TestNewClientRejectsUnknownProvider(t *testing.T) {
	_, err := NewClient("cohere", "key")
	assert.Error(t, err)

	_, err = NewClient(ProviderAnthropic, "")
	assert.Error(t, err)
}

func TestOpenAICompleteRejectsBlankAnswer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{Role: "assistant", Content: "  \n"},
			}},
		})
	}))
	defer server.Close()

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = server.URL + "/v1"

	_, err := NewOpenAIClientWithConfig(cfg).Complete(context.Background(), Prompt(PurposeReply, "", "hola"))
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestModelNamePrefersResponseThenConfig(t *testing.T) {
	client := NewOpenAIClientWithConfig(openai.DefaultConfig("k"))

	assert.Equal(t, "gpt-4o", ModelName(client, "cfg-model", &CompletionResponse{Model: "gpt-4o"}))
	assert.Equal(t, "cfg-model", ModelName(client, "cfg-model", nil))
	assert.Equal(t, openAIDefaultModel, ModelName(client, "", &CompletionResponse{}))
	assert.Equal(t, "none", ModelName(nil, "", nil))
}
