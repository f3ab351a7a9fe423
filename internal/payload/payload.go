// Package payload assembles the Messages API request document and header
// set from the options, the caller's preferences and an inbound chat request.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/n0madic/go-claudebridge/internal/budget"
	"github.com/n0madic/go-claudebridge/internal/cache"
	"github.com/n0madic/go-claudebridge/internal/capability"
	"github.com/n0madic/go-claudebridge/internal/config"
	"github.com/n0madic/go-claudebridge/internal/tools"
	"github.com/n0madic/go-claudebridge/internal/types"
)

var (
	ErrNoMessages       = errors.New("no messages in request")
	ErrNoUserMessages   = errors.New("no user messages provided")
	ErrInvalidMessage   = errors.New("invalid message content")
	ErrNilConfiguration = errors.New("nil options")
)

// Prepared is a request ready for dispatch. CacheMarkers counts every
// breakpoint in the document, including ones the caller sent inline.
type Prepared struct {
	Request      *types.MessagesRequest
	Header       http.Header
	Extensions   []string
	Allocation   budget.Allocation
	CacheMarkers int
	Tools        []tools.Descriptor
}

// Body marshals the request document.
func (p *Prepared) Body() ([]byte, error) {
	return json.Marshal(p.Request)
}

// Build validates the inbound request and composes the upstream document.
// Validation failures happen before any network interaction.
func Build(opts *config.Options, prefs config.Preferences, in *types.ChatCompletionRequest) (*Prepared, error) {
	if opts == nil {
		return nil, ErrNilConfiguration
	}
	if err := opts.RequireCredentials(); err != nil {
		return nil, err
	}
	if in == nil || len(in.Messages) == 0 {
		return nil, ErrNoMessages
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	system, turns, err := splitSystem(in.Messages)
	if err != nil {
		return nil, err
	}
	if len(turns) == 0 {
		return nil, ErrNoUserMessages
	}

	alloc := budget.New(opts.DefaultMaxTokens).Allocate(
		in.RequestedMaxTokens(), opts.EnableExtendedThinking, opts.ThinkingBudgetTokens)
	logAllocation(opts, in.RequestedMaxTokens(), alloc)

	req := &types.MessagesRequest{
		Model:     opts.Model,
		Messages:  turns,
		MaxTokens: alloc.MaxTokens,
		Stream:    in.WantsStream(),
		TopK:      in.TopK,
		TopP:      in.TopP,
	}
	switch {
	case in.Temperature != nil:
		req.Temperature = in.Temperature
	case opts.DefaultTemperature != 1.0:
		req.Temperature = types.Float64Ptr(opts.DefaultTemperature)
	}
	if stop := in.StopList(); len(stop) > 0 {
		req.StopSequences = stop
	}
	if system != "" {
		req.System, _ = json.Marshal(system)
	}
	if opts.EnableExtendedThinking {
		req.Thinking = &types.ThinkingConfig{Type: "enabled", BudgetTokens: alloc.ReasoningBudget}
	}

	descriptors := tools.Configure(opts, prefs)
	for _, d := range descriptors {
		raw, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("marshal %s tool: %w", d.ToolName(), err)
		}
		req.Tools = append(req.Tools, raw)
	}

	planner := cache.Planner{
		Enabled:      opts.EnablePromptCaching,
		SystemPrompt: opts.CacheSystemPrompt,
		UserMessages: opts.CacheUserMessages,
	}
	if opts.CacheTTL == config.CacheTTL1Hour {
		planner.TTL = "1h"
	}
	planner.Apply(req)

	extensions := capability.Negotiate(opts, prefs)
	return &Prepared{
		Request:      req,
		Header:       Headers(opts, extensions),
		Extensions:   extensions,
		Allocation:   alloc,
		CacheMarkers: cache.Count(req),
		Tools:        descriptors,
	}, nil
}

// Headers returns the non-credential request headers.
func Headers(opts *config.Options, extensions []string) http.Header {
	h := http.Header{}
	version := opts.APIVersion
	if version == "" {
		version = config.DefaultAPIVersion
	}
	h.Set("anthropic-version", version)
	h.Set("Content-Type", "application/json")
	if beta := capability.Header(extensions); beta != "" {
		h.Set("anthropic-beta", beta)
	}
	return h
}

func logAllocation(opts *config.Options, requested *int, alloc budget.Allocation) {
	req := "default"
	if requested != nil {
		req = fmt.Sprint(*requested)
	}
	attrs := []any{
		"requested", req,
		"thinking_budget", alloc.ReasoningBudget,
		"max_tokens", alloc.MaxTokens,
	}
	if !alloc.Clamped {
		slog.Debug("payload.max_tokens", attrs...)
		return
	}
	if opts.WarnOnBudgetClamp {
		slog.Warn("payload.max_tokens.clamped", attrs...)
		return
	}
	slog.Debug("payload.max_tokens.clamped", attrs...)
}

// splitSystem pops system and developer messages into the preamble and
// converts the remaining turns into Messages API turns.
func splitSystem(msgs []types.ChatMessage) (string, []types.Message, error) {
	var preamble []string
	var turns []types.Message
	for i := range msgs {
		m := &msgs[i]
		role := strings.ToLower(strings.TrimSpace(m.Role))
		switch role {
		case "system", "developer":
			if txt := strings.TrimSpace(m.TextContent()); txt != "" {
				preamble = append(preamble, txt)
			}
			continue
		case "user", "assistant":
		default:
			slog.Debug("payload.message.skipped", "role", m.Role)
			continue
		}
		content, err := normalizeContent(role, m.Content)
		if err != nil {
			return "", nil, fmt.Errorf("%w: message %d (%s): %v", ErrInvalidMessage, i, role, err)
		}
		turns = append(turns, types.Message{Role: role, Content: content})
	}
	return strings.Join(preamble, "\n"), turns, nil
}

// normalizeContent turns string content into a single text block and
// rewrites known parts of array content; unknown parts pass through.
func normalizeContent(role string, raw json.RawMessage) (json.RawMessage, error) {
	msg := types.Message{Role: role, Content: raw}
	if len(raw) == 0 {
		msg.Content = json.RawMessage("null")
	}
	parts, err := msg.Blocks()
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(parts))
	for _, p := range parts {
		converted, err := convertPart(p)
		if err != nil {
			return nil, err
		}
		out = append(out, converted)
	}
	return json.Marshal(out)
}

type chatPart struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type imageBlock struct {
	Type   string      `json:"type"`
	Source imageSource `json:"source"`
}

func convertPart(raw json.RawMessage) (json.RawMessage, error) {
	var p chatPart
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	switch p.Type {
	case "text":
		return json.Marshal(types.NewTextBlock(p.Text))
	case "image_url":
		if p.ImageURL == nil || p.ImageURL.URL == "" {
			return raw, nil
		}
		return json.Marshal(imageBlock{Type: "image", Source: imageSourceFromURL(p.ImageURL.URL)})
	}
	return raw, nil
}

// imageSourceFromURL maps a data: URL onto a base64 source and anything
// else onto a URL source.
func imageSourceFromURL(u string) imageSource {
	if rest, ok := strings.CutPrefix(u, "data:"); ok {
		meta, data, found := strings.Cut(rest, ",")
		if found && strings.HasSuffix(meta, ";base64") {
			return imageSource{
				Type:      "base64",
				MediaType: strings.TrimSuffix(meta, ";base64"),
				Data:      data,
			}
		}
	}
	return imageSource{Type: "url", URL: u}
}
