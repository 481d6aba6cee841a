package translator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maas-router/internal/models"
)

func TestChatCompletionRequest_Unmarshal(t *testing.T) {
	body := `{
		"model": " mistral-large@2407 ",
		"messages": [
			{"role": "system", "content": "be brief"},
			{"role": "user", "content": [{"type": "text", "text": "hel"}, {"type": "text", "text": "lo"}]}
		],
		"stream": true,
		"temperature": 0.2,
		"max_tokens": 64,
		"seed": 42,
		"safe_prompt": true,
		"stop": "END",
		"tools": [{"type": "function", "function": {"name": "lookup"}}]
	}`

	var req ChatCompletionRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))

	assert.Equal(t, "mistral-large@2407", req.Model)
	assert.True(t, req.Stream)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "hello", req.Messages[1].Content)
	assert.Equal(t, []string{"END"}, req.Stop)

	assert.Equal(t, 0.2, req.Options["temperature"])
	assert.Equal(t, 64, req.Options["max_tokens"])
	assert.Equal(t, int64(42), req.Options["seed"])
	assert.Equal(t, true, req.Options["safe_prompt"])
	assert.Equal(t, []string{"END"}, req.Options["stop"])
	assert.JSONEq(t, `[{"type":"function","function":{"name":"lookup"}}]`, string(req.Options["tools"].(json.RawMessage)))
}

func TestChatCompletionRequest_RandomSeedAlias(t *testing.T) {
	var req ChatCompletionRequest
	require.NoError(t, json.Unmarshal([]byte(`{"model":"m","messages":[{"role":"user","content":"hi"}],"random_seed":7}`), &req))
	assert.Equal(t, int64(7), req.Options["seed"])
}

func TestChatCompletionRequest_Validation(t *testing.T) {
	tests := map[string]string{
		"missing model":      `{"messages":[{"role":"user","content":"hi"}]}`,
		"no messages":        `{"model":"m","messages":[]}`,
		"bad role":           `{"model":"m","messages":[{"role":"robot","content":"hi"}]}`,
		"empty content":      `{"model":"m","messages":[{"role":"user","content":"  "}]}`,
		"image segment":      `{"model":"m","messages":[{"role":"user","content":[{"type":"image_url"}]}]}`,
		"empty stop":         `{"model":"m","messages":[{"role":"user","content":"hi"}],"stop":""}`,
		"tool without id":    `{"model":"m","messages":[{"role":"tool","content":"42"}]}`,
		"user tool calls":    `{"model":"m","messages":[{"role":"user","content":null,"tool_calls":[{"type":"function","function":{"name":"f","arguments":"{}"}}]}]}`,
		"unnamed tool call":  `{"model":"m","messages":[{"role":"assistant","tool_calls":[{"type":"function","function":{"name":"","arguments":"{}"}}]}]}`,
		"malformed document": `{"model":`,
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			var req ChatCompletionRequest
			require.Error(t, json.Unmarshal([]byte(body), &req))
		})
	}
}

func TestChatCompletionRequest_ToolRoundTrip(t *testing.T) {
	body := `{
		"model": "meta/llama3-405b-instruct-maas",
		"messages": [
			{"role": "user", "content": "weather?"},
			{"role": "assistant", "content": null, "tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "weather", "arguments": "{\"city\":\"Paris\"}"}}
			]},
			{"role": "tool", "tool_call_id": "call_1", "content": "sunny"}
		]
	}`

	var req ChatCompletionRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))

	unified := req.ToUnified()
	require.Len(t, unified.Messages, 3)
	assert.Equal(t, []models.ToolCall{{ID: "call_1", Type: "function", Name: "weather", Arguments: `{"city":"Paris"}`}}, unified.Messages[1].ToolCalls)
	assert.Equal(t, "call_1", unified.Messages[2].ToolCallID)
}

func TestToUnified_CopiesOptions(t *testing.T) {
	req := ChatCompletionRequest{
		Model:    "m",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
		Options:  map[string]any{"temperature": 0.5},
	}

	unified := req.ToUnified()
	unified.Options["temperature"] = 1.0

	assert.Equal(t, 0.5, req.Options["temperature"])
}

func TestFromUnifiedChat(t *testing.T) {
	resp := FromUnifiedChat("mistral-large@2407", 100, &models.UnifiedChatResponse{
		ID:           "cmpl-1",
		Message:      models.Message{Role: "assistant", Content: "hi"},
		FinishReason: "stop",
		Usage:        models.Usage{PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4},
	})

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "cmpl-1",
		"object": "chat.completion",
		"created": 100,
		"model": "mistral-large@2407",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "hi"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 3, "completion_tokens": 1, "total_tokens": 4}
	}`, string(data))
}

func TestFromUnifiedChunk(t *testing.T) {
	first := FromUnifiedChunk("m", 5, &models.UnifiedChatChunk{
		ID:    "c",
		Delta: models.Message{Role: "assistant", Content: "He"},
	})
	data, err := json.Marshal(first)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "c", "object": "chat.completion.chunk", "created": 5, "model": "m",
		"choices": [{"index": 0, "delta": {"role": "assistant", "content": "He"}, "finish_reason": null}]
	}`, string(data))

	last := FromUnifiedChunk("m", 5, &models.UnifiedChatChunk{
		ID:           "c",
		Created:      9,
		FinishReason: "tool_calls",
		Delta: models.Message{ToolCalls: []models.ToolCall{
			{ID: "call_1", Name: "weather", Arguments: "{}"},
		}},
		Usage: &models.Usage{TotalTokens: 7},
	})
	data, err = json.Marshal(last)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "c", "object": "chat.completion.chunk", "created": 9, "model": "m",
		"choices": [{"index": 0, "delta": {"tool_calls": [
			{"index": 0, "id": "call_1", "type": "function", "function": {"name": "weather", "arguments": "{}"}}
		]}, "finish_reason": "tool_calls"}],
		"usage": {"prompt_tokens": 0, "completion_tokens": 0, "total_tokens": 7}
	}`, string(data))
}

func TestFromModels(t *testing.T) {
	list := FromModels([]models.Model{{ID: "mistral-nemo@2407", Provider: "vertex", Family: "mistral"}})

	assert.Equal(t, "list", list.Object)
	assert.Equal(t, []ModelCard{{ID: "mistral-nemo@2407", Object: "model", OwnedBy: "vertex", Family: "mistral"}}, list.Data)
}
