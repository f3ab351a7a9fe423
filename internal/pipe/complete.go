package pipe

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/n0madic/go-claudebridge/internal/citations"
	"github.com/n0madic/go-claudebridge/internal/config"
	"github.com/n0madic/go-claudebridge/internal/payload"
	"github.com/n0madic/go-claudebridge/internal/render"
	"github.com/n0madic/go-claudebridge/internal/telemetry"
	"github.com/n0madic/go-claudebridge/internal/types"
	"github.com/n0madic/go-claudebridge/internal/upstream"
)

// Result is a non-streaming response: the rendered document plus the
// pieces callers may want to report separately.
type Result struct {
	ID         string
	Document   string
	StopReason string
	Usage      types.AnthropicUsage
	Citations  []citations.Citation
}

// Complete sends req without streaming and returns the assembled document:
// reasoning section, visible text, citation cards and usage summary, in
// that order.
func (p *Pipe) Complete(ctx context.Context, req *types.ChatCompletionRequest, prefs config.Preferences) (*Result, error) {
	id := uuid.NewString()
	ctx, span := telemetry.Tracer().Start(ctx, "pipe.complete",
		trace.WithAttributes(attribute.String("request.id", id)))
	res, err := p.complete(ctx, req, prefs, slog.With("request_id", id))
	telemetry.End(span, err)
	if err != nil {
		return nil, err
	}
	res.ID = id
	return res, nil
}

func (p *Pipe) complete(ctx context.Context, req *types.ChatCompletionRequest, prefs config.Preferences, log *slog.Logger) (*Result, error) {
	opts := p.Options
	if opts == nil {
		return nil, payload.ErrNilConfiguration
	}
	prepared, err := payload.Build(opts, prefs, req)
	if err != nil {
		return nil, err
	}
	prepared.Request.Stream = false
	log.Info("pipe.request",
		"model", prepared.Request.Model,
		"stream", false,
		"max_tokens", prepared.Request.MaxTokens,
		"thinking", prepared.Request.Thinking != nil,
		"tools", len(prepared.Tools),
	)

	resp, err := p.Client.Do(ctx, prepared)
	if err != nil {
		log.Error("pipe.failed", "error", err)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, upstream.WrapTransport("response read", err)
	}
	var msg types.MessageResponse
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, &upstream.Error{StatusCode: resp.StatusCode, Message: "undecodable response: " + err.Error(), Body: body}
	}

	res := &Result{Document: Assemble(opts, prefs, &msg)}
	if msg.StopReason != nil {
		res.StopReason = *msg.StopReason
	}
	if msg.Usage != nil {
		res.Usage = *msg.Usage
	}
	res.Citations = responseCitations(opts, msg.Content)
	log.Info("pipe.complete",
		"blocks", len(msg.Content),
		"citations", len(res.Citations),
		"stop_reason", res.StopReason,
		"input_tokens", res.Usage.InputTokens,
		"output_tokens", res.Usage.OutputTokens,
	)
	return res, nil
}

// Assemble renders a complete Messages API response as one document.
func Assemble(opts *config.Options, prefs config.Preferences, msg *types.MessageResponse) string {
	var reasoning, text strings.Builder
	for _, b := range msg.Content {
		switch b.Type {
		case "text":
			text.WriteString(b.Text)
		case "thinking":
			reasoning.WriteString(b.Thinking)
		}
	}

	var doc strings.Builder
	if prefs.ShowThinking() && opts.ShowThinkingProcess {
		doc.WriteString(render.ReasoningSection(reasoning.String()))
	}
	doc.WriteString(text.String())
	if opts.ShowCitations {
		for i, c := range responseCitations(opts, msg.Content) {
			doc.WriteString(render.CitationCard(c, i+1))
		}
	}
	if opts.ShowTokenUsage && msg.Usage != nil {
		doc.WriteString(render.UsageSummary(*msg.Usage))
	}
	if doc.Len() == 0 {
		return render.NoResponse
	}
	return doc.String()
}

func responseCitations(opts *config.Options, blocks []types.ContentBlock) []citations.Citation {
	found := citations.FromBlocks(blocks, citations.OriginResponse)
	if opts.DeduplicateCitations {
		found = citations.Dedupe(found)
	}
	return found
}
