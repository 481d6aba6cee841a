package maas

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	mistralPublisherPath = "publishers/mistralai/models/"
	openAICompatiblePath = "openapi/chat/completions"

	// safePromptParam is a Mistral client option the Vertex endpoints reject.
	safePromptParam = "safe_prompt"
)

// APIVersion returns the Vertex API version the family is served on.
func (id Identity) APIVersion() string {
	if id.Family == FamilyLlama {
		return "v1beta1"
	}
	return "v1"
}

// URLPath returns the method path appended to the base URL.
func (id Identity) URLPath(stream bool) string {
	if id.Family == FamilyMistral {
		if stream {
			return mistralPublisherPath + id.Full + ":streamRawPredict"
		}
		return mistralPublisherPath + id.Full + ":rawPredict"
	}
	return openAICompatiblePath
}

// BaseURL returns the regional project location URL for the model.
func (m *Model) BaseURL() string {
	root := m.endpoint
	if root == "" {
		root = fmt.Sprintf("https://%s-aiplatform.googleapis.com", m.region)
	}
	return fmt.Sprintf("%s/%s/projects/%s/locations/%s",
		strings.TrimRight(root, "/"), m.identity.APIVersion(), m.project, m.region)
}

// URL returns the full request URL for a streaming or non-streaming call.
func (m *Model) URL(stream bool) string {
	return m.BaseURL() + "/" + m.identity.URLPath(stream)
}

// EnrichParams returns a deep copy of params ready to be sent: safe_prompt is
// removed, model is set to the canonical name and stream defaults to false.
// The returned flag is the stream value that was chosen.
func (m *Model) EnrichParams(params map[string]any) (map[string]any, bool, error) {
	out := copyMap(params)
	if out == nil {
		out = make(map[string]any, 2)
	}

	stream := false
	if raw, ok := out["stream"]; ok && raw != nil {
		v, ok := raw.(bool)
		if !ok {
			return nil, false, fmt.Errorf("%w: stream must be a boolean, got %T", ErrInvalidParams, raw)
		}
		stream = v
	}

	delete(out, safePromptParam)
	out["model"] = m.identity.Canonical
	out["stream"] = stream
	return out, stream, nil
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(val))
		for i, item := range val {
			out[i] = copyMap(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out
	case json.RawMessage:
		return append(json.RawMessage(nil), val...)
	case []byte:
		return append([]byte(nil), val...)
	default:
		return v
	}
}
