package vertex

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"maas-router/internal/maas"
	"maas-router/internal/models"
)

// chatMessage is the OpenAI-compatible message shape both MaaS families accept.
type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
}

type toolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// buildChatParams turns a unified request into MaaS request parameters.
// Mistral takes its seed as random_seed and has no logit_bias or user
// fields; Llama speaks the OpenAI dialect. With toolsInSystem the tool
// definitions are rendered into the system message instead of being sent
// as tools.
func buildChatParams(req models.UnifiedChatRequest, family maas.Family, toolsInSystem bool) (map[string]any, error) {
	messages := make([]chatMessage, 0, len(req.Messages)+1)
	for _, msg := range req.Messages {
		if strings.TrimSpace(msg.Content) == "" && len(msg.ToolCalls) == 0 {
			return nil, fmt.Errorf("%w: message content must not be empty", maas.ErrInvalidParams)
		}
		out := chatMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			typ := tc.Type
			if typ == "" {
				typ = "function"
			}
			out.ToolCalls = append(out.ToolCalls, toolCall{
				ID:       tc.ID,
				Type:     typ,
				Function: toolFunction{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		messages = append(messages, out)
	}

	params := map[string]any{
		"stream": req.Stream,
	}

	if v, ok := extractInt(req.Options, "max_tokens"); ok {
		params["max_tokens"] = v
	}
	if v, ok := extractFloat(req.Options, "temperature"); ok {
		params["temperature"] = v
	}
	if v, ok := extractFloat(req.Options, "top_p"); ok {
		params["top_p"] = v
	}
	if v, ok := extractFloat(req.Options, "frequency_penalty"); ok {
		params["frequency_penalty"] = v
	}
	if v, ok := extractFloat(req.Options, "presence_penalty"); ok {
		params["presence_penalty"] = v
	}
	if stop, ok := extractStringSlice(req.Options, "stop"); ok {
		params["stop"] = stop
	}
	if responseFormat, ok := extractMap(req.Options, "response_format"); ok {
		params["response_format"] = responseFormat
	}
	if safePrompt, ok := req.Options["safe_prompt"].(bool); ok {
		params["safe_prompt"] = safePrompt
	}

	seedKey := "seed"
	if family == maas.FamilyMistral {
		seedKey = "random_seed"
	}
	if seed, ok := extractInt(req.Options, "seed"); ok {
		params[seedKey] = seed
	}

	if family == maas.FamilyLlama {
		if logitBias, ok := extractLogitBias(req.Options); ok {
			params["logit_bias"] = logitBias
		}
		if user, ok := extractString(req.Options, "user"); ok {
			params["user"] = user
		}
	}

	tools, hasTools := extractRaw(req.Options, "tools")
	switch {
	case hasTools && toolsInSystem:
		var err error
		messages, err = appendToolsToSystem(messages, tools)
		if err != nil {
			return nil, err
		}
	case hasTools:
		params["tools"] = tools
		if toolChoice, ok := extractRaw(req.Options, "tool_choice"); ok {
			params["tool_choice"] = toolChoice
		}
	}

	params["messages"] = messages
	return params, nil
}

const toolsPreamble = "You have access to the following tools. To call one, reply with a JSON object of the form {\"name\": <tool name>, \"arguments\": <arguments object>}.\n\n"

// appendToolsToSystem adds the tool definitions to the first system message,
// creating one when the conversation has none.
func appendToolsToSystem(messages []chatMessage, tools json.RawMessage) ([]chatMessage, error) {
	var defs []any
	if err := json.Unmarshal(tools, &defs); err != nil {
		return nil, fmt.Errorf("%w: tools must be a JSON array: %v", maas.ErrInvalidParams, err)
	}
	rendered, err := json.MarshalIndent(defs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render tools: %w", err)
	}
	block := toolsPreamble + string(rendered)

	for i := range messages {
		if messages[i].Role == "system" {
			messages[i].Content = strings.TrimRight(messages[i].Content, "\n") + "\n\n" + block
			return messages, nil
		}
	}
	return append([]chatMessage{{Role: "system", Content: block}}, messages...), nil
}

type chatResponse struct {
	ID      string       `json:"id"`
	Created int64        `json:"created"`
	Choices []chatChoice `json:"choices"`
	Usage   *usageBlock  `json:"usage,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	Delta        chatMessage `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type usageBlock struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *usageBlock) toUnified() models.Usage {
	if u == nil {
		return models.Usage{}
	}
	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}
	return models.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      total,
	}
}

func (r chatResponse) toUnified() (*models.UnifiedChatResponse, error) {
	if len(r.Choices) == 0 {
		return nil, errors.New("maas response did not include choices")
	}

	choice := r.Choices[0]
	role := choice.Message.Role
	if role == "" {
		role = "assistant"
	}
	return &models.UnifiedChatResponse{
		ID:           r.ID,
		Created:      r.Created,
		Message:      messageToUnified(choice.Message, role),
		FinishReason: choice.FinishReason,
		Usage:        r.Usage.toUnified(),
	}, nil
}

// toChunk converts one streamed record. Records without choices (a trailing
// usage-only event, for instance) yield a chunk with an empty delta.
func (r chatResponse) toChunk() *models.UnifiedChatChunk {
	chunk := &models.UnifiedChatChunk{
		ID:      r.ID,
		Created: r.Created,
	}
	if len(r.Choices) > 0 {
		choice := r.Choices[0]
		chunk.Delta = messageToUnified(choice.Delta, choice.Delta.Role)
		chunk.FinishReason = choice.FinishReason
	}
	if r.Usage != nil {
		usage := r.Usage.toUnified()
		chunk.Usage = &usage
	}
	return chunk
}

func messageToUnified(msg chatMessage, role string) models.Message {
	out := models.Message{
		Role:    role,
		Content: msg.Content,
		Name:    msg.Name,
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Type:      tc.Type,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out
}

// decodeRecord maps an opaque record onto target.
func decodeRecord(rec maas.Record, target any) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode maas record: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode maas record: %w", err)
	}
	return nil
}

func extractFloat(options map[string]any, key string) (float64, bool) {
	if options == nil {
		return 0, false
	}

	if value, ok := options[key]; ok {
		switch v := value.(type) {
		case float64:
			return v, true
		case float32:
			return float64(v), true
		case int:
			return float64(v), true
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func extractInt(options map[string]any, key string) (int64, bool) {
	if options == nil {
		return 0, false
	}
	if value, ok := options[key]; ok {
		switch v := value.(type) {
		case int:
			return int64(v), true
		case int64:
			return v, true
		case float64:
			return int64(v), true
		case json.Number:
			if i, err := v.Int64(); err == nil {
				return i, true
			}
		}
	}
	return 0, false
}

func extractString(options map[string]any, key string) (string, bool) {
	if options == nil {
		return "", false
	}
	if value, ok := options[key]; ok {
		if str, ok := value.(string); ok && str != "" {
			return str, true
		}
	}
	return "", false
}

func extractStringSlice(options map[string]any, key string) ([]string, bool) {
	if options == nil {
		return nil, false
	}
	value, ok := options[key]
	if !ok {
		return nil, false
	}
	switch v := value.(type) {
	case []string:
		return v, true
	case []any:
		result := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			result = append(result, str)
		}
		return result, true
	}
	return nil, false
}

func extractMap(options map[string]any, key string) (map[string]any, bool) {
	if options == nil {
		return nil, false
	}
	if value, ok := options[key]; ok {
		if m, ok := value.(map[string]any); ok {
			return m, true
		}
	}
	return nil, false
}

func extractRaw(options map[string]any, key string) (json.RawMessage, bool) {
	if options == nil {
		return nil, false
	}
	if value, ok := options[key]; ok {
		switch v := value.(type) {
		case json.RawMessage:
			return v, len(v) > 0
		case []byte:
			return json.RawMessage(v), len(v) > 0
		case string:
			return json.RawMessage(v), v != ""
		}
	}
	return nil, false
}

func extractLogitBias(options map[string]any) (map[string]float64, bool) {
	if options == nil {
		return nil, false
	}
	value, ok := options["logit_bias"]
	if !ok {
		return nil, false
	}
	switch v := value.(type) {
	case map[string]float64:
		return v, true
	case map[string]any:
		out := make(map[string]float64, len(v))
		for key, rawVal := range v {
			switch val := rawVal.(type) {
			case float64:
				out[key] = val
			case float32:
				out[key] = float64(val)
			case json.Number:
				f, err := val.Float64()
				if err != nil {
					return nil, false
				}
				out[key] = f
			default:
				return nil, false
			}
		}
		return out, true
	}
	return nil, false
}
