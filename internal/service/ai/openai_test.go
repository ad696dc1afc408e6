package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/medlens/backend/internal/config"
)

func newCompletionServer(t *testing.T, captured *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "cmpl-1",
			"object": "chat.completion",
			"model": "vision",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"Date\":\"2024-01-01\"}"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
		}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIChatModelSendsImageParts(t *testing.T) {
	var captured map[string]any
	srv := newCompletionServer(t, &captured)

	cm, err := NewOpenAIChatModel(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL, Model: "vision"})
	require.NoError(t, err)

	msg := &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: "extract"},
			{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{URL: "data:image/jpeg;base64,AAAA", Detail: schema.ImageURLDetailAuto}},
		},
	}

	out, err := cm.Generate(context.Background(), []*schema.Message{msg})
	require.NoError(t, err)
	assert.Equal(t, `{"Date":"2024-01-01"}`, out.Content)
	require.NotNil(t, out.ResponseMeta)
	assert.Equal(t, 17, out.ResponseMeta.Usage.TotalTokens)

	assert.Equal(t, "vision", captured["model"])
	messages := captured["messages"].([]any)
	require.Len(t, messages, 1)
	parts := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "image_url", parts[1].(map[string]any)["type"])
	assert.True(t, strings.HasPrefix(parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string), "data:image/jpeg;base64,"))
}

func TestOpenAIChatModelHonoursCallOptions(t *testing.T) {
	var captured map[string]any
	srv := newCompletionServer(t, &captured)

	cm, err := NewOpenAIChatModel(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL, Model: "vision"})
	require.NoError(t, err)

	_, err = cm.Generate(context.Background(),
		[]*schema.Message{schema.SystemMessage("be brief"), schema.UserMessage("hi")},
		model.WithModel("summary"), model.WithMaxTokens(64))
	require.NoError(t, err)

	assert.Equal(t, "summary", captured["model"])
	assert.EqualValues(t, 64, captured["max_tokens"])
	assert.Len(t, captured["messages"], 2)
}

func TestOpenAIChatModelRequiresCredentials(t *testing.T) {
	_, err := NewOpenAIChatModel(OpenAIConfig{Model: "vision"})
	assert.Error(t, err)

	_, err = NewOpenAIChatModel(OpenAIConfig{APIKey: "sk"})
	assert.Error(t, err)
}

func TestNewChatModelRejectsMissingCredentials(t *testing.T) {
	_, err := NewChatModel(context.Background(), config.AIConfig{Provider: config.ProviderOpenAI, Model: "vision"})
	assert.Error(t, err)
}

func TestNewSummaryModelUsesOverride(t *testing.T) {
	cm, err := NewSummaryModel(context.Background(), config.AIConfig{
		Provider:     config.ProviderOpenAI,
		APIKey:       "sk",
		Model:        "vision",
		SummaryModel: "small",
	})
	require.NoError(t, err)
	assert.Equal(t, "small", cm.(*OpenAIChatModel).cfg.Model)
}

func TestOpenAIChatModelSendsNoTools(t *testing.T) {
	var captured map[string]any
	srv := newCompletionServer(t, &captured)

	cm, err := NewOpenAIChatModel(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL, Model: "vision"})
	require.NoError(t, err)

	var base model.BaseChatModel = cm
	_, isToolModel := base.(model.ChatModel)
	assert.False(t, isToolModel)

	_, err = cm.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	assert.NotContains(t, captured, "tools")
}
