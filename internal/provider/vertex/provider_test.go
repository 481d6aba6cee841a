package vertex

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maas-router/internal/auth"
	"maas-router/internal/config"
	"maas-router/internal/maas"
	"maas-router/internal/models"
	"maas-router/internal/provider"
)

type capturedRequest struct {
	Path string
	Body map[string]any
}

type fakeVertex struct {
	mu       sync.Mutex
	requests []capturedRequest
	handler  func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeVertex) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.requests = append(f.requests, capturedRequest{Path: r.URL.Path, Body: body})
	f.mu.Unlock()

	f.handler(w, r)
}

func (f *fakeVertex) last(t *testing.T) capturedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func newTestProvider(t *testing.T, handler func(w http.ResponseWriter, r *http.Request), mutate ...func(*config.VertexConfig)) (*Provider, *fakeVertex) {
	t.Helper()
	fake := &fakeVertex{handler: handler}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	cfg := config.VertexConfig{
		Project:        "proj",
		Location:       "us-central1",
		Endpoint:       server.URL,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Models: []config.ModelConfig{
			{ID: "mistral-large@2407"},
			{ID: "meta/llama3-405b-instruct-maas"},
		},
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	p, err := New("vertex", cfg, server.Client(),
		maas.WithTokenSource(auth.StaticToken("tok")),
		maas.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	return p, fake
}

func userRequest(model string) models.UnifiedChatRequest {
	return models.UnifiedChatRequest{
		Model:    model,
		Messages: []models.Message{{Role: "user", Content: "hello"}},
		Options:  map[string]any{},
	}
}

const completionBody = `{
	"id": "cmpl-9",
	"created": 1720000000,
	"choices": [{"index": 0, "message": {"role": "assistant", "content": "hi there"}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
}`

func TestNew(t *testing.T) {
	p, _ := newTestProvider(t, func(http.ResponseWriter, *http.Request) {})

	list, err := p.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.Model{
		{ID: "mistral-large@2407", Provider: "vertex", Family: "mistral"},
		{ID: "meta/llama3-405b-instruct-maas", Provider: "vertex", Family: "llama"},
	}, list)

	m, ok := p.Model("mistral-large@2407")
	require.True(t, ok)
	assert.Equal(t, maas.FamilyMistral, m.Family())
}

func TestNew_RejectsUnsupportedModel(t *testing.T) {
	_, err := New("vertex", config.VertexConfig{
		Project:  "p",
		Location: "r",
		Models:   []config.ModelConfig{{ID: "claude-3-opus"}},
	}, http.DefaultClient, maas.WithTokenSource(auth.StaticToken("t")))
	require.ErrorIs(t, err, maas.ErrUnsupportedModel)
}

func TestChat_Mistral(t *testing.T) {
	p, fake := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completionBody))
	})

	req := userRequest("mistral-large@2407")
	req.Options["temperature"] = 0.3
	req.Options["seed"] = int64(11)
	req.Options["safe_prompt"] = true
	req.Options["user"] = "someone"

	resp, err := p.Chat(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "cmpl-9", resp.ID)
	assert.Equal(t, int64(1720000000), resp.Created)
	assert.Equal(t, models.Message{Role: "assistant", Content: "hi there"}, resp.Message)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, models.Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7}, resp.Usage)

	got := fake.last(t)
	assert.Equal(t, "/v1/projects/proj/locations/us-central1/publishers/mistralai/models/mistral-large@2407:rawPredict", got.Path)
	assert.Equal(t, "mistral-large", got.Body["model"])
	assert.Equal(t, false, got.Body["stream"])
	assert.Equal(t, 0.3, got.Body["temperature"])
	assert.EqualValues(t, 11, got.Body["random_seed"])
	assert.NotContains(t, got.Body, "seed")
	assert.NotContains(t, got.Body, "safe_prompt")
	assert.NotContains(t, got.Body, "user")
}

func TestChat_LlamaKeepsOpenAIFields(t *testing.T) {
	p, fake := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completionBody))
	})

	req := userRequest("meta/llama3-405b-instruct-maas")
	req.Options["seed"] = int64(3)
	req.Options["user"] = "someone"
	req.Options["tools"] = json.RawMessage(`[{"type":"function","function":{"name":"lookup"}}]`)
	req.Options["tool_choice"] = json.RawMessage(`"auto"`)

	_, err := p.Chat(context.Background(), req)
	require.NoError(t, err)

	got := fake.last(t)
	assert.Equal(t, "/v1beta1/projects/proj/locations/us-central1/openapi/chat/completions", got.Path)
	assert.Equal(t, "meta/llama3-405b-instruct-maas", got.Body["model"])
	assert.EqualValues(t, 3, got.Body["seed"])
	assert.Equal(t, "someone", got.Body["user"])
	assert.Equal(t, "auto", got.Body["tool_choice"])
	assert.Len(t, got.Body["tools"], 1)
}

func TestChat_ToolsInSystemMessage(t *testing.T) {
	p, fake := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completionBody))
	}, func(c *config.VertexConfig) { c.AppendToolsToSystemMessage = true })

	req := userRequest("meta/llama3-405b-instruct-maas")
	req.Options["tools"] = json.RawMessage(`[{"type":"function","function":{"name":"lookup"}}]`)

	_, err := p.Chat(context.Background(), req)
	require.NoError(t, err)

	got := fake.last(t)
	assert.NotContains(t, got.Body, "tools")
	messages := got.Body["messages"].([]any)
	require.Len(t, messages, 2)
	system := messages[0].(map[string]any)
	assert.Equal(t, "system", system["role"])
	assert.Contains(t, system["content"], `"name": "lookup"`)
}

func TestChat_UnknownModel(t *testing.T) {
	p, _ := newTestProvider(t, func(http.ResponseWriter, *http.Request) {})

	_, err := p.Chat(context.Background(), userRequest("mistral-nemo@2407"))
	require.ErrorIs(t, err, provider.ErrUnknownModel)
}

func TestChat_UpstreamError(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"permission denied","status":"PERMISSION_DENIED"}}`))
	})

	_, err := p.Chat(context.Background(), userRequest("mistral-large@2407"))

	var httpErr *maas.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusForbidden, httpErr.StatusCode)
	assert.Equal(t, "permission denied", httpErr.Message())
}

func TestChat_NoChoices(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"x","choices":[]}`))
	})

	_, err := p.Chat(context.Background(), userRequest("mistral-large@2407"))
	require.Error(t, err)
}

func TestChatStream(t *testing.T) {
	events := []string{
		`{"id":"s1","created":7,"choices":[{"index":0,"delta":{"role":"assistant","content":"He"}}]}`,
		`{"id":"s1","created":7,"choices":[{"index":0,"delta":{"content":"llo"},"finish_reason":"stop"}],"usage":{"prompt_tokens":2,"completion_tokens":2}}`,
		"[DONE]",
	}
	p, fake := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			_, _ = w.Write([]byte("data: " + e + "\n\n"))
		}
	})

	stream, err := p.ChatStream(context.Background(), userRequest("mistral-large@2407"))
	require.NoError(t, err)
	defer stream.Close()

	first, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "assistant", first.Delta.Role)
	assert.Equal(t, "He", first.Delta.Content)
	assert.Nil(t, first.Usage)

	second, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "llo", second.Delta.Content)
	assert.Equal(t, "stop", second.FinishReason)
	require.NotNil(t, second.Usage)
	assert.Equal(t, 4, second.Usage.TotalTokens)

	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)

	got := fake.last(t)
	assert.True(t, strings.HasSuffix(got.Path, ":streamRawPredict"))
	assert.Equal(t, true, got.Body["stream"])
}

func TestChatStream_MalformedEvent(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {not json\n\n"))
	})

	stream, err := p.ChatStream(context.Background(), userRequest("meta/llama3-405b-instruct-maas"))
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Recv()
	var de *maas.DecodeError
	require.True(t, errors.As(err, &de))
}

func TestBuildChatParams_RejectsEmptyContent(t *testing.T) {
	_, err := buildChatParams(models.UnifiedChatRequest{
		Messages: []models.Message{{Role: "user", Content: " "}},
	}, maas.FamilyLlama, false)
	require.Error(t, err)
}

func TestBuildChatParams_ToolCallMessages(t *testing.T) {
	params, err := buildChatParams(models.UnifiedChatRequest{
		Messages: []models.Message{
			{Role: "assistant", ToolCalls: []models.ToolCall{{ID: "c1", Name: "f", Arguments: "{}"}}},
			{Role: "tool", ToolCallID: "c1", Content: "ok"},
		},
	}, maas.FamilyMistral, false)
	require.NoError(t, err)

	data, err := json.Marshal(params["messages"])
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"role":"assistant","content":"","tool_calls":[{"id":"c1","type":"function","function":{"name":"f","arguments":"{}"}}]},
		{"role":"tool","content":"ok","tool_call_id":"c1"}
	]`, string(data))
}

func TestAppendToolsToSystem_ExistingSystemMessage(t *testing.T) {
	out, err := appendToolsToSystem([]chatMessage{
		{Role: "system", Content: "be brief\n"},
		{Role: "user", Content: "hi"},
	}, json.RawMessage(`[{"name":"f"}]`))
	require.NoError(t, err)

	require.Len(t, out, 2)
	assert.True(t, strings.HasPrefix(out[0].Content, "be brief\n\n"+toolsPreamble))

	_, err = appendToolsToSystem(nil, json.RawMessage(`{"name":"f"}`))
	require.Error(t, err)
}
