package types

import (
	"encoding/json"
	"strings"
)

// --- Request types ---

// ChatCompletionRequest represents an OpenAI chat completion request.
type ChatCompletionRequest struct {
	Model               string          `json:"model"`
	Messages            []ChatMessage   `json:"messages,omitempty"`
	Stream              *bool           `json:"stream,omitempty"`
	StreamOptions       *StreamOptions  `json:"stream_options,omitempty"`
	MaxTokens           *int            `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
	Temperature         *float64        `json:"temperature,omitempty"`
	TopP                *float64        `json:"top_p,omitempty"`
	TopK                *int            `json:"top_k,omitempty"`
	Stop                json.RawMessage `json:"stop,omitempty"`
	StopSequences       []string        `json:"stop_sequences,omitempty"`
}

// ChatMessage represents an OpenAI chat message. Content is a string or an
// array of parts and is kept raw.
type ChatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content,omitempty"`
	Name    string          `json:"name,omitempty"`
}

// ContentPart represents a part of a multimodal content array.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// StreamOptions holds stream-specific options.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

// WantsStream reports whether the caller asked for a stream. An absent
// flag means streaming.
func (r *ChatCompletionRequest) WantsStream() bool {
	return r.Stream == nil || *r.Stream
}

// RequestedMaxTokens returns max_completion_tokens, falling back to
// max_tokens. Nil when neither is set.
func (r *ChatCompletionRequest) RequestedMaxTokens() *int {
	if r.MaxCompletionTokens != nil {
		return r.MaxCompletionTokens
	}
	return r.MaxTokens
}

// StopList returns stop_sequences, or "stop" given either as a single
// string or a list.
func (r *ChatCompletionRequest) StopList() []string {
	if len(r.StopSequences) > 0 {
		return r.StopSequences
	}
	if len(r.Stop) == 0 {
		return nil
	}
	var single string
	if err := json.Unmarshal(r.Stop, &single); err == nil {
		if single == "" {
			return nil
		}
		return []string{single}
	}
	var list []string
	if err := json.Unmarshal(r.Stop, &list); err == nil {
		return list
	}
	return nil
}

// TextContent flattens the message content into plain text.
func (m *ChatMessage) TextContent() string {
	if len(m.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s
	}
	var parts []ContentPart
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return ""
	}
	var out strings.Builder
	for _, p := range parts {
		if p.Type == "text" {
			out.WriteString(p.Text)
		}
	}
	return out.String()
}

// --- Response types ---

// ChatCompletionResponse represents a non-streaming chat completion response.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

// ChatChoice is a single choice in a non-streaming response.
type ChatChoice struct {
	Index        int             `json:"index"`
	Message      ChatResponseMsg `json:"message"`
	FinishReason *string         `json:"finish_reason"`
}

// ChatResponseMsg is the message in a non-streaming response choice.
type ChatResponseMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionChunk represents a streaming chat completion chunk.
type ChatCompletionChunk struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []ChatChunkChoice `json:"choices"`
	Usage   *Usage            `json:"usage,omitempty"`
}

// ChatChunkChoice is a single choice in a streaming chunk.
type ChatChunkChoice struct {
	Index        int       `json:"index"`
	Delta        ChatDelta `json:"delta"`
	FinishReason *string   `json:"finish_reason"`
}

// ChatDelta holds the delta content in a streaming chunk choice.
type ChatDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// Usage holds token usage statistics.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// UsageFromAnthropic converts Messages API counters. Cache reads and
// writes count towards the prompt.
func UsageFromAnthropic(u *AnthropicUsage) *Usage {
	if u == nil {
		return nil
	}
	prompt := u.InputTokens + u.CacheReadInputTokens + u.CacheCreationInputTokens
	return &Usage{
		PromptTokens:     prompt,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      prompt + u.OutputTokens,
	}
}

// ModelList is the response for GET /v1/models.
type ModelList struct {
	Object string        `json:"object"`
	Data   []ModelObject `json:"data"`
}

// ModelObject represents a single model entry.
type ModelObject struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by"`
}

// ErrorResponse wraps an API error.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail holds the error message.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}
