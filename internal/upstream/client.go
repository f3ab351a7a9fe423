// Package upstream dispatches prepared requests to the Messages API.
package upstream

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/n0madic/go-claudebridge/internal/auth"
	"github.com/n0madic/go-claudebridge/internal/config"
	"github.com/n0madic/go-claudebridge/internal/limits"
	"github.com/n0madic/go-claudebridge/internal/payload"
	"github.com/n0madic/go-claudebridge/internal/telemetry"
)

// maxErrorBody bounds how much of a failed response is read.
const maxErrorBody = 64 << 10

// Client makes requests to the Messages API. It does not retry.
type Client struct {
	BaseURL     string
	Credentials auth.Credentials
	HTTP        *http.Client
	Limits      *limits.Tracker
	Verbose     bool
	Debug       bool

	dumpMu sync.Mutex
}

// NewClient builds a client whose connect phase is bounded by
// opts.ConnectTimeout and whose whole exchange, body included, is bounded by
// opts.RequestTimeout.
func NewClient(opts *config.Options, creds auth.Credentials) *Client {
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          32,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &Client{
		BaseURL:     strings.TrimRight(opts.BaseURL, "/"),
		Credentials: creds,
		HTTP:        &http.Client{Timeout: opts.RequestTimeout, Transport: transport},
		Limits:      &limits.Tracker{},
	}
}

// Do sends the prepared request and returns the successful response with
// its body unread. Failures are *Error for non-2xx statuses and
// *TransportError for everything on the wire.
func (c *Client) Do(ctx context.Context, p *payload.Prepared) (*http.Response, error) {
	url := c.BaseURL + "/messages"
	ctx, span := telemetry.Tracer().Start(ctx, "upstream.messages",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(http.MethodPost),
			semconv.HTTPURLKey.String(url),
			attribute.String("llm.model", p.Request.Model),
			attribute.Bool("llm.stream", p.Request.Stream),
			attribute.StringSlice("anthropic.beta", p.Extensions),
		))
	resp, err := c.do(ctx, url, p)
	if resp != nil {
		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(resp.StatusCode))
	}
	telemetry.End(span, err)
	return resp, err
}

func (c *Client) do(ctx context.Context, url string, p *payload.Prepared) (*http.Response, error) {
	body, err := p.Body()
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, vs := range p.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if p.Request.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if c.Credentials == nil {
		return nil, auth.ErrNoCredentials
	}
	if err := c.Credentials.Apply(ctx, httpReq.Header); err != nil {
		return nil, err
	}

	if c.Verbose {
		slog.Info("upstream.request",
			"model", p.Request.Model,
			"messages", len(p.Request.Messages),
			"tools", len(p.Request.Tools),
			"max_tokens", p.Request.MaxTokens,
			"thinking", p.Request.Thinking != nil,
			"cache_markers", p.CacheMarkers,
			"beta", strings.Join(p.Extensions, ","),
			"auth", c.Credentials.Kind(),
			"bytes", len(body),
		)
	}
	c.dumpUpstreamRequest(httpReq, body)

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, WrapTransport("upstream request", err)
	}

	var snapshot *limits.Snapshot
	if c.Limits != nil {
		snapshot = c.Limits.Record(resp.Header)
	}
	if c.Verbose {
		attrs := []any{"status", resp.StatusCode}
		if id := resp.Header.Get("request-id"); id != "" {
			attrs = append(attrs, "request_id", id)
		}
		if snapshot != nil {
			attrs = append(attrs, "limits", snapshot.String())
		}
		slog.Info("upstream.response", attrs...)
	}
	c.dumpUpstreamResponse(resp)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	if readErr != nil {
		slog.Warn("upstream.error_body.read_failed", "status", resp.StatusCode, "error", readErr)
	}
	upErr := Classify(resp.StatusCode, errBody, resp.Header)
	if snapshot != nil {
		upErr.RetryAfter = snapshot.WaitHint(time.Now().UTC())
	}
	slog.Warn("upstream.error", "status", upErr.StatusCode, "kind", upErr.Kind.String(), "type", upErr.Type, "request_id", upErr.RequestID)
	return nil, upErr
}
