package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MessagesRequest is the request document POSTed to /v1/messages.
type MessagesRequest struct {
	Model         string            `json:"model"`
	Messages      []Message         `json:"messages"`
	MaxTokens     int               `json:"max_tokens"`
	Stream        bool              `json:"stream"`
	System        json.RawMessage   `json:"system,omitempty"`
	Temperature   *float64          `json:"temperature,omitempty"`
	TopK          *int              `json:"top_k,omitempty"`
	TopP          *float64          `json:"top_p,omitempty"`
	StopSequences []string          `json:"stop_sequences,omitempty"`
	Thinking      *ThinkingConfig   `json:"thinking,omitempty"`
	Tools         []json.RawMessage `json:"tools,omitempty"`
}

// Message is one conversation turn. Content is either a JSON string or an
// array of content blocks, kept raw so unknown block kinds pass through.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ThinkingConfig enables extended reasoning with a token budget.
type ThinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

// CacheControl marks a content segment as a cache breakpoint. An empty TTL
// leaves the upstream default of five minutes.
type CacheControl struct {
	Type string `json:"type"`
	TTL  string `json:"ttl,omitempty"`
}

// EphemeralCache is the default-duration marker.
var EphemeralCache = CacheControl{Type: "ephemeral"}

// TextBlock is the canonical text segment sent upstream.
type TextBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

// NewTextBlock returns a text segment.
func NewTextBlock(text string) TextBlock {
	return TextBlock{Type: "text", Text: text}
}

// ContentBlock is a response content block. Only the fields the bridge
// reads are decoded.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	Citations []Citation      `json:"citations,omitempty"`
}

// Citation is a source attribution attached to a text block.
type Citation struct {
	Type           string `json:"type,omitempty"`
	URL            string `json:"url"`
	Title          string `json:"title"`
	CitedText      string `json:"cited_text"`
	EncryptedIndex string `json:"encrypted_index,omitempty"`
}

// WebSearchResult is one item of a web_search_tool_result block.
type WebSearchResult struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	PageAge string `json:"page_age,omitempty"`
}

// AnthropicUsage holds Messages API usage counters.
type AnthropicUsage struct {
	InputTokens              int64            `json:"input_tokens"`
	OutputTokens             int64            `json:"output_tokens"`
	CacheCreationInputTokens int64            `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int64            `json:"cache_read_input_tokens,omitempty"`
	ThinkingTokens           int64            `json:"thinking_tokens,omitempty"`
	ServerToolUse            *ServerToolUsage `json:"server_tool_use,omitempty"`
}

// ServerToolUsage counts server-side tool requests.
type ServerToolUsage struct {
	WebSearchRequests int64 `json:"web_search_requests"`
	WebFetchRequests  int64 `json:"web_fetch_requests,omitempty"`
}

// WebSearchRequests returns the web search count, 0 when absent.
func (u *AnthropicUsage) WebSearchRequests() int64 {
	if u == nil || u.ServerToolUse == nil {
		return 0
	}
	return u.ServerToolUse.WebSearchRequests
}

// MessageResponse is the non-streaming response of /v1/messages.
type MessageResponse struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Role         string          `json:"role"`
	Model        string          `json:"model"`
	Content      []ContentBlock  `json:"content"`
	StopReason   *string         `json:"stop_reason"`
	StopSequence *string         `json:"stop_sequence"`
	Usage        *AnthropicUsage `json:"usage,omitempty"`
}

// AnthropicErrorResponse is the Messages API error envelope.
type AnthropicErrorResponse struct {
	Type  string             `json:"type"`
	Error AnthropicErrorBody `json:"error"`
}

// AnthropicErrorBody is the nested error payload.
type AnthropicErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// IsStructured reports whether content is a block array rather than a
// plain string.
func (m *Message) IsStructured() bool {
	trimmed := strings.TrimSpace(string(m.Content))
	return strings.HasPrefix(trimmed, "[")
}

// Blocks splits array content into raw blocks. String content yields a
// single text block.
func (m *Message) Blocks() ([]json.RawMessage, error) {
	if len(m.Content) == 0 {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		b, err := json.Marshal(NewTextBlock(s))
		if err != nil {
			return nil, err
		}
		return []json.RawMessage{b}, nil
	}
	var blocks []json.RawMessage
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil, fmt.Errorf("invalid message content for role %q", m.Role)
	}
	return blocks, nil
}
