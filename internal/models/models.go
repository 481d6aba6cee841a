package models

// Message represents a single conversational message in the unified schema.
type Message struct {
	Role       string
	Content    string
	Name       string
	ToolCallID string
	ToolCalls  []ToolCall
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string
	Type      string
	Name      string
	Arguments string
}

// UnifiedChatRequest is the canonical representation of a chat completion.
type UnifiedChatRequest struct {
	Model    string
	Messages []Message
	Stream   bool
	Options  map[string]any
}

// UnifiedChatResponse captures a provider response in the unified schema.
type UnifiedChatResponse struct {
	Message      Message
	Usage        Usage
	FinishReason string
	ID           string
	Created      int64
}

// UnifiedChatChunk is one incremental piece of a streamed chat response.
// Delta carries only the fields that changed; Usage is set on the final
// chunk when the upstream reports it.
type UnifiedChatChunk struct {
	ID           string
	Created      int64
	Delta        Message
	FinishReason string
	Usage        *Usage
}

// Usage records token accounting information.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Model identifies a known model with provider metadata.
type Model struct {
	ID       string
	Provider string
	Family   string
}
