// Package pipe runs one chat request end to end: it builds the upstream
// document, dispatches it, reconstructs the event stream and renders the
// result as markdown fragments plus side-channel notifications.
package pipe

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/n0madic/go-claudebridge/internal/config"
	"github.com/n0madic/go-claudebridge/internal/payload"
	"github.com/n0madic/go-claudebridge/internal/render"
	"github.com/n0madic/go-claudebridge/internal/stream"
	"github.com/n0madic/go-claudebridge/internal/telemetry"
	"github.com/n0madic/go-claudebridge/internal/types"
	"github.com/n0madic/go-claudebridge/internal/upstream"
)

// Doer dispatches a prepared request. *upstream.Client implements it.
type Doer interface {
	Do(ctx context.Context, p *payload.Prepared) (*http.Response, error)
}

// Pipe is safe for concurrent use; every call owns its own state.
type Pipe struct {
	Options *config.Options
	Client  Doer
}

// New returns a pipe over opts and client. opts must not change afterwards.
func New(opts *config.Options, client Doer) *Pipe {
	return &Pipe{Options: opts, Client: client}
}

// Stream returns the response as a lazy, single-pass sequence of markdown
// fragments. Visible text is yielded as it arrives; reasoning, search and
// usage sections follow the end of the stream. Any terminal failure becomes
// one final trailer fragment. Notifications go to sink. The request is
// dispatched once: ranging the sequence again yields nothing.
func (p *Pipe) Stream(ctx context.Context, req *types.ChatCompletionRequest, prefs config.Preferences, sink Sink) iter.Seq[string] {
	var consumed atomic.Bool
	return func(yield func(string) bool) {
		if consumed.Swap(true) {
			slog.Warn("pipe.stream.reused")
			return
		}
		if sink == nil {
			sink = Discard
		}
		id := uuid.NewString()
		ctx, span := telemetry.Tracer().Start(ctx, "pipe.stream",
			trace.WithAttributes(attribute.String("request.id", id)))
		r := &run{
			opts:  p.Options,
			prefs: prefs,
			sink:  sink,
			yield: yield,
			log:   slog.With("request_id", id),
		}
		err := r.stream(ctx, p.Client, req)
		span.SetAttributes(attribute.Int("pipe.fragments", r.fragments))
		telemetry.End(span, err)
	}
}

// run is the per-request state of one Stream call.
type run struct {
	opts  *config.Options
	prefs config.Preferences
	sink  Sink
	yield func(string) bool
	log   *slog.Logger

	stopped   bool
	fragments int
}

// emit forwards a fragment unless the consumer already stopped.
func (r *run) emit(s string) bool {
	if r.stopped || s == "" {
		return !r.stopped
	}
	r.fragments++
	if !r.yield(s) {
		r.stopped = true
	}
	return !r.stopped
}

func (r *run) status(description string, done, hidden bool) {
	if !r.opts.ShowProcessingStatus {
		return
	}
	r.sink.Notify(Status{Description: description, Done: done, Hidden: hidden})
}

func (r *run) fail(err error) error {
	r.log.Error("pipe.failed", "error", err, "fragments", r.fragments)
	r.status(render.ErrorMessage(err), true, false)
	r.emit(render.ErrorTrailer(err))
	return err
}

func (r *run) stream(ctx context.Context, client Doer, req *types.ChatCompletionRequest) error {
	if r.opts == nil {
		return r.fail(payload.ErrNilConfiguration)
	}
	prepared, err := payload.Build(r.opts, r.prefs, req)
	if err != nil {
		return r.fail(err)
	}
	prepared.Request.Stream = true
	r.log.Info("pipe.request",
		"model", prepared.Request.Model,
		"stream", true,
		"max_tokens", prepared.Request.MaxTokens,
		"thinking", prepared.Request.Thinking != nil,
		"tools", len(prepared.Tools),
	)

	r.status(render.StatusConnecting, false, false)
	resp, err := client.Do(ctx, prepared)
	if err != nil {
		return r.fail(err)
	}
	defer resp.Body.Close()
	r.status(render.StatusConnected, true, true)

	rec := stream.NewReconstructor()
	rec.Dedupe = r.opts.DeduplicateCitations
	reader := stream.NewReader(resp.Body)
	for ev, readErr := range stream.Events(reader) {
		if readErr != nil {
			return r.fail(upstream.WrapTransport("stream read", readErr))
		}
		step, feedErr := rec.Feed(ev)
		if feedErr != nil {
			return r.fail(feedErr)
		}
		switch step.Signal {
		case stream.SignalThinkingStarted:
			r.status(render.StatusThinking, true, true)
		case stream.SignalSearchComplete:
			r.status(render.StatusSearchComplete, true, true)
		}
		if !r.emit(step.Text) {
			r.log.Info("pipe.consumer_stopped", "fragments", r.fragments)
			return nil
		}
	}
	if reader.Skipped() > 0 {
		r.log.Warn("pipe.records_skipped", "count", reader.Skipped())
	}

	r.finish(rec)
	return nil
}

// finish renders everything that is only known once the stream is over.
func (r *run) finish(rec *stream.Reconstructor) {
	cites := rec.Finish()
	state := rec.State()

	if r.prefs.ShowThinking() {
		if r.opts.ShowThinkingProcess {
			r.emit(render.ReasoningSection(state.Reasoning.String()))
		}
		r.emit(render.SearchSection(state.Searches, r.opts.ShowWebSearchDetails))
	}

	results := state.SearchResults()
	switch {
	case len(cites) > 0 && r.opts.ShowCitations:
		for i, c := range cites {
			r.sink.Notify(newCitation(i+1, render.CitationDocument(c), c.URL, SourceCitation))
		}
		r.log.Info("pipe.citations", "count", len(cites))
	case len(cites) == 0 && len(results) > 0:
		for i, res := range results {
			r.sink.Notify(newCitation(i+1, render.SearchResultDocument(res), res.URL, SourceSearchResults))
		}
		r.log.Info("pipe.citations.fallback", "search_results", len(results))
	case len(cites) == 0:
		r.log.Warn("pipe.citations.none", "events", len(state.History))
		if r.opts.SlogLevel() == slog.LevelDebug {
			r.emit(render.MissingCitationsReport(state.History))
		}
	}

	if r.opts.ShowTokenUsage && state.HasUsage {
		r.emit(render.UsageSummary(state.Usage))
	}

	r.log.Info("pipe.complete",
		"fragments", r.fragments,
		"text_chars", state.Text.Len(),
		"reasoning_chars", state.Reasoning.Len(),
		"searches", len(state.Searches),
		"citations", len(cites),
		"stop_reason", state.StopReason,
		"input_tokens", state.Usage.InputTokens,
		"output_tokens", state.Usage.OutputTokens,
	)
	r.status(render.StatusComplete, true, true)

	done := Finished{StopReason: state.StopReason}
	if state.HasUsage {
		usage := state.Usage
		done.Usage = &usage
	}
	r.sink.Notify(done)
}
