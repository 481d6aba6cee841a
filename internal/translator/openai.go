package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"maas-router/internal/models"
)

var (
	errEmptyModel      = errors.New("model must be provided")
	errEmptyMessages   = errors.New("at least one message is required")
	errUnsupportedStop = errors.New("unsupported stop value")
	errInvalidRole     = errors.New("invalid role")
	errInvalidContent  = errors.New("invalid message content")
	errInvalidToolCall = errors.New("invalid tool call")
)

var allowedRoles = map[string]struct{}{
	"system":    {},
	"user":      {},
	"assistant": {},
	"tool":      {},
}

// ChatCompletionRequest models the OpenAI chat/completions request payload.
type ChatCompletionRequest struct {
	Model            string
	Messages         []ChatMessage
	Stream           bool
	MaxTokens        *int
	Temperature      *float64
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	Seed             *int64
	SafePrompt       *bool
	Stop             []string
	ResponseFormat   map[string]any
	ToolsRaw         json.RawMessage
	ToolChoiceRaw    json.RawMessage
	LogitBias        map[string]float64
	User             string
	Options          map[string]any
}

// UnmarshalJSON implements custom parsing to enforce validation.
func (r *ChatCompletionRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Model            string             `json:"model"`
		Messages         []ChatMessage      `json:"messages"`
		Stream           bool               `json:"stream"`
		MaxTokens        *int               `json:"max_tokens"`
		Temperature      *float64           `json:"temperature"`
		TopP             *float64           `json:"top_p"`
		FrequencyPenalty *float64           `json:"frequency_penalty"`
		PresencePenalty  *float64           `json:"presence_penalty"`
		Seed             *int64             `json:"seed"`
		RandomSeed       *int64             `json:"random_seed"`
		SafePrompt       *bool              `json:"safe_prompt"`
		Stop             json.RawMessage    `json:"stop"`
		ResponseFormat   map[string]any     `json:"response_format"`
		Tools            json.RawMessage    `json:"tools"`
		ToolChoice       json.RawMessage    `json:"tool_choice"`
		LogitBias        map[string]float64 `json:"logit_bias"`
		User             string             `json:"user"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode chat request: %w", err)
	}

	stopValues, err := parseStop(raw.Stop)
	if err != nil {
		return err
	}

	seed := raw.Seed
	if seed == nil {
		seed = raw.RandomSeed
	}

	r.Model = strings.TrimSpace(raw.Model)
	r.Messages = raw.Messages
	r.Stream = raw.Stream
	r.MaxTokens = raw.MaxTokens
	r.Temperature = raw.Temperature
	r.TopP = raw.TopP
	r.FrequencyPenalty = raw.FrequencyPenalty
	r.PresencePenalty = raw.PresencePenalty
	r.Seed = seed
	r.SafePrompt = raw.SafePrompt
	r.Stop = stopValues
	r.ResponseFormat = raw.ResponseFormat
	r.ToolsRaw = raw.Tools
	r.ToolChoiceRaw = raw.ToolChoice
	r.LogitBias = raw.LogitBias
	r.User = raw.User

	r.Options = make(map[string]any)
	if raw.Temperature != nil {
		r.Options["temperature"] = *raw.Temperature
	}
	if raw.TopP != nil {
		r.Options["top_p"] = *raw.TopP
	}
	if raw.MaxTokens != nil {
		r.Options["max_tokens"] = *raw.MaxTokens
	}
	if raw.FrequencyPenalty != nil {
		r.Options["frequency_penalty"] = *raw.FrequencyPenalty
	}
	if raw.PresencePenalty != nil {
		r.Options["presence_penalty"] = *raw.PresencePenalty
	}
	if seed != nil {
		r.Options["seed"] = *seed
	}
	if raw.SafePrompt != nil {
		r.Options["safe_prompt"] = *raw.SafePrompt
	}
	if len(stopValues) > 0 {
		r.Options["stop"] = stopValues
	}
	if raw.ResponseFormat != nil {
		r.Options["response_format"] = raw.ResponseFormat
	}
	if len(raw.Tools) > 0 && string(raw.Tools) != "null" {
		r.Options["tools"] = json.RawMessage(raw.Tools)
	}
	if len(raw.ToolChoice) > 0 && string(raw.ToolChoice) != "null" {
		r.Options["tool_choice"] = json.RawMessage(raw.ToolChoice)
	}
	if raw.LogitBias != nil {
		r.Options["logit_bias"] = raw.LogitBias
	}
	if raw.User != "" {
		r.Options["user"] = raw.User
	}

	return r.validate()
}

func (r *ChatCompletionRequest) validate() error {
	if r.Model == "" {
		return errEmptyModel
	}
	if len(r.Messages) == 0 {
		return errEmptyMessages
	}
	for i, msg := range r.Messages {
		if err := msg.validate(); err != nil {
			return fmt.Errorf("message[%d]: %w", i, err)
		}
	}
	return nil
}

// ToUnified converts the OpenAI request into the canonical format.
func (r ChatCompletionRequest) ToUnified() models.UnifiedChatRequest {
	msgs := make([]models.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		msg := models.Message{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{
				ID:        tc.ID,
				Type:      tc.Type,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		msgs = append(msgs, msg)
	}

	options := make(map[string]any, len(r.Options))
	for k, v := range r.Options {
		options[k] = v
	}

	return models.UnifiedChatRequest{
		Model:    r.Model,
		Messages: msgs,
		Stream:   r.Stream,
		Options:  options,
	}
}

// ChatMessage captures a single message within a chat request or response.
type ChatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []ChatToolCall `json:"tool_calls,omitempty"`
}

// ChatToolCall is a function call emitted by the assistant.
type ChatToolCall struct {
	Index    *int             `json:"index,omitempty"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type"`
	Function ChatToolFunction `json:"function"`
}

// ChatToolFunction names the function and carries its JSON-encoded arguments.
type ChatToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// UnmarshalJSON supports string and array-of-text content formats.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role       string          `json:"role"`
		Content    json.RawMessage `json:"content"`
		Name       string          `json:"name"`
		ToolCallID string          `json:"tool_call_id"`
		ToolCalls  []ChatToolCall  `json:"tool_calls"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	var content string
	if len(raw.ToolCalls) == 0 || !isNullOrEmpty(raw.Content) {
		var err error
		content, err = extractMessageContent(raw.Content)
		if err != nil {
			return err
		}
	}

	m.Role = strings.TrimSpace(raw.Role)
	m.Content = content
	m.Name = strings.TrimSpace(raw.Name)
	m.ToolCallID = strings.TrimSpace(raw.ToolCallID)
	m.ToolCalls = raw.ToolCalls

	return m.validate()
}

func (m *ChatMessage) validate() error {
	if _, ok := allowedRoles[m.Role]; !ok {
		return fmt.Errorf("%w: %s", errInvalidRole, m.Role)
	}
	if len(m.ToolCalls) > 0 {
		if m.Role != "assistant" {
			return fmt.Errorf("%w: only assistant messages may carry tool calls", errInvalidToolCall)
		}
		for i, tc := range m.ToolCalls {
			if strings.TrimSpace(tc.Function.Name) == "" {
				return fmt.Errorf("%w: tool_calls[%d] function name must not be empty", errInvalidToolCall, i)
			}
		}
		return nil
	}
	if m.Role == "tool" && m.ToolCallID == "" {
		return fmt.Errorf("%w: tool messages require tool_call_id", errInvalidToolCall)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: message content must not be empty", errInvalidContent)
	}
	return nil
}

func isNullOrEmpty(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null" || s == `""`
}

func extractMessageContent(raw json.RawMessage) (string, error) {
	if raw == nil {
		return "", fmt.Errorf("%w: missing content", errInvalidContent)
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var segments []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &segments); err == nil {
		var builder strings.Builder
		for _, segment := range segments {
			if segment.Type != "text" {
				return "", fmt.Errorf("%w: segment type %q not supported", errInvalidContent, segment.Type)
			}
			builder.WriteString(segment.Text)
		}
		return builder.String(), nil
	}

	return "", fmt.Errorf("%w: unsupported content structure", errInvalidContent)
}

func parseStop(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if strings.TrimSpace(single) == "" {
			return nil, errUnsupportedStop
		}
		return []string{single}, nil
	}

	var multi []string
	if err := json.Unmarshal(raw, &multi); err == nil {
		out := make([]string, 0, len(multi))
		for _, item := range multi {
			item = strings.TrimSpace(item)
			if item == "" {
				return nil, errUnsupportedStop
			}
			out = append(out, item)
		}
		return out, nil
	}
	return nil, errUnsupportedStop
}

// ChatCompletionResponse models the OpenAI-compatible chat response.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *OpenAIUsage `json:"usage,omitempty"`
}

// ChatChoice represents a single choice in the response payload.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Logprobs     any         `json:"logprobs,omitempty"`
}

// ChatCompletionChunk models one chat.completion.chunk SSE payload.
type ChatCompletionChunk struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []ChatChunkChoice `json:"choices"`
	Usage   *OpenAIUsage      `json:"usage,omitempty"`
}

// ChatChunkChoice is the single choice of a streamed chunk.
type ChatChunkChoice struct {
	Index        int       `json:"index"`
	Delta        ChatDelta `json:"delta"`
	FinishReason *string   `json:"finish_reason"`
}

// ChatDelta carries only the fields a chunk changes.
type ChatDelta struct {
	Role      string         `json:"role,omitempty"`
	Content   string         `json:"content,omitempty"`
	ToolCalls []ChatToolCall `json:"tool_calls,omitempty"`
}

// OpenAIUsage mirrors the token usage block in OpenAI responses.
type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FromUnifiedChat constructs the OpenAI response shape from the unified data.
func FromUnifiedChat(modelID string, createdUnix int64, resp *models.UnifiedChatResponse) ChatCompletionResponse {
	if resp.Created != 0 {
		createdUnix = resp.Created
	}

	choice := ChatChoice{
		Index: 0,
		Message: ChatMessage{
			Role:      resp.Message.Role,
			Content:   resp.Message.Content,
			Name:      resp.Message.Name,
			ToolCalls: toolCallsFromUnified(resp.Message.ToolCalls, false),
		},
		FinishReason: resp.FinishReason,
	}

	return ChatCompletionResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: createdUnix,
		Model:   modelID,
		Choices: []ChatChoice{choice},
		Usage:   usageFromUnified(&resp.Usage),
	}
}

// FromUnifiedChunk constructs a chat.completion.chunk from a streamed chunk.
func FromUnifiedChunk(modelID string, createdUnix int64, chunk *models.UnifiedChatChunk) ChatCompletionChunk {
	if chunk.Created != 0 {
		createdUnix = chunk.Created
	}

	var finish *string
	if chunk.FinishReason != "" {
		reason := chunk.FinishReason
		finish = &reason
	}

	out := ChatCompletionChunk{
		ID:      chunk.ID,
		Object:  "chat.completion.chunk",
		Created: createdUnix,
		Model:   modelID,
		Choices: []ChatChunkChoice{{
			Index: 0,
			Delta: ChatDelta{
				Role:      chunk.Delta.Role,
				Content:   chunk.Delta.Content,
				ToolCalls: toolCallsFromUnified(chunk.Delta.ToolCalls, true),
			},
			FinishReason: finish,
		}},
	}
	if chunk.Usage != nil {
		out.Usage = usageFromUnified(chunk.Usage)
	}
	return out
}

func toolCallsFromUnified(calls []models.ToolCall, indexed bool) []ChatToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ChatToolCall, 0, len(calls))
	for i, tc := range calls {
		call := ChatToolCall{
			ID:   tc.ID,
			Type: tc.Type,
			Function: ChatToolFunction{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		}
		if call.Type == "" {
			call.Type = "function"
		}
		if indexed {
			idx := i
			call.Index = &idx
		}
		out = append(out, call)
	}
	return out
}

func usageFromUnified(u *models.Usage) *OpenAIUsage {
	if u.TotalTokens == 0 && u.PromptTokens == 0 && u.CompletionTokens == 0 {
		return nil
	}
	return &OpenAIUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// ModelList is the /v1/models response.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelCard `json:"data"`
}

// ModelCard describes one model in a ModelList.
type ModelCard struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
	Family  string `json:"family,omitempty"`
}

// FromModels builds the /v1/models response.
func FromModels(list []models.Model) ModelList {
	out := ModelList{Object: "list", Data: make([]ModelCard, 0, len(list))}
	for _, m := range list {
		out.Data = append(out.Data, ModelCard{
			ID:      m.ID,
			Object:  "model",
			OwnedBy: m.Provider,
			Family:  m.Family,
		})
	}
	return out
}
