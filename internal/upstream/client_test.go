package upstream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/n0madic/go-claudebridge/internal/auth"
	"github.com/n0madic/go-claudebridge/internal/config"
	"github.com/n0madic/go-claudebridge/internal/payload"
	"github.com/n0madic/go-claudebridge/internal/types"
)

func prepared(t *testing.T, opts *config.Options) *payload.Prepared {
	t.Helper()
	req := &types.ChatCompletionRequest{
		Model:    "claude",
		Messages: []types.ChatMessage{{Role: "user", Content: []byte(`"hello"`)}},
	}
	p, err := payload.Build(opts, config.DefaultPreferences(), req)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return p
}

func newTestClient(t *testing.T, url string) (*Client, *config.Options) {
	t.Helper()
	opts := config.DefaultOptions()
	opts.APIKey = "sk-test"
	opts.BaseURL = url + "/v1/"
	opts.ConnectTimeout = 2 * time.Second
	opts.RequestTimeout = 5 * time.Second
	return NewClient(&opts, auth.APIKey(opts.APIKey)), &opts
}

func TestDoSendsHeadersAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-test" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("anthropic-version") != config.DefaultAPIVersion {
			t.Errorf("anthropic-version = %q", r.Header.Get("anthropic-version"))
		}
		if !strings.Contains(r.Header.Get("anthropic-beta"), "prompt-caching-2024-07-31") {
			t.Errorf("anthropic-beta = %q", r.Header.Get("anthropic-beta"))
		}
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		body, _ := io.ReadAll(r.Body)
		if !bytes.Contains(body, []byte(`"stream":true`)) {
			t.Errorf("body missing stream flag: %s", body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("anthropic-ratelimit-requests-limit", "50")
		w.Header().Set("anthropic-ratelimit-requests-remaining", "49")
		_, _ = io.WriteString(w, "data: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	c, opts := newTestClient(t, srv.URL)
	resp, err := c.Do(context.Background(), prepared(t, opts))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), "message_stop") {
		t.Errorf("unexpected body %q", data)
	}
	if last := c.Limits.Last(); last == nil || *last.Requests.Remaining != 49 {
		t.Errorf("rate limits not recorded: %+v", last)
	}
}

func TestDoClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   Kind
	}{
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusUnauthorized, KindUnauthenticated},
		{http.StatusBadRequest, KindMalformedRequest},
		{http.StatusInternalServerError, KindOther},
		{529, KindOther},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("request-id", "req_123")
				w.Header().Set("retry-after", "3")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"type":"error","error":{"type":"some_error","message":"details here"}}`)
			}))
			defer srv.Close()

			c, opts := newTestClient(t, srv.URL)
			_, err := c.Do(context.Background(), prepared(t, opts))
			var upErr *Error
			if !errors.As(err, &upErr) {
				t.Fatalf("expected *Error, got %T %v", err, err)
			}
			if upErr.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", upErr.Kind, tt.kind)
			}
			if upErr.StatusCode != tt.status || upErr.Type != "some_error" || upErr.Detail() != "details here" {
				t.Errorf("unexpected error %+v", upErr)
			}
			if upErr.RequestID != "req_123" {
				t.Errorf("request id = %q", upErr.RequestID)
			}
			if upErr.RetryAfter != 3*time.Second {
				t.Errorf("retry after = %v", upErr.RetryAfter)
			}
		})
	}
}

func TestClassifyPlainBody(t *testing.T) {
	e := Classify(http.StatusBadGateway, []byte("<html>bad gateway</html>"), nil)
	if e.Kind != KindOther || e.Message != "" {
		t.Fatalf("unexpected %+v", e)
	}
	if e.Detail() != "<html>bad gateway</html>" {
		t.Errorf("Detail() = %q", e.Detail())
	}
	if !strings.Contains(e.Error(), "502") {
		t.Errorf("Error() = %q", e.Error())
	}
	if Classify(http.StatusServiceUnavailable, nil, nil).Detail() != "Service Unavailable" {
		t.Error("empty body should fall back to the status text")
	}
}

func TestDoTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, opts := newTestClient(t, srv.URL)
	c.HTTP.Timeout = 50 * time.Millisecond
	_, err := c.Do(context.Background(), prepared(t, opts))
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %T %v", err, err)
	}
	if !te.Timeout() {
		t.Errorf("expected a timeout, got %v", te)
	}
}

func TestDoConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c, opts := newTestClient(t, "http://"+addr)
	_, err = c.Do(context.Background(), prepared(t, opts))
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %T %v", err, err)
	}
	if te.Timeout() || te.Canceled() {
		t.Errorf("refusal is neither timeout nor cancellation: %v", te)
	}
}

func TestDoCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, opts := newTestClient(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := c.Do(ctx, prepared(t, opts))
	var te *TransportError
	if !errors.As(err, &te) || !te.Canceled() {
		t.Fatalf("expected canceled transport error, got %v", err)
	}
}

func TestDoWithoutCredentials(t *testing.T) {
	c, opts := newTestClient(t, "http://127.0.0.1:1")
	c.Credentials = nil
	if _, err := c.Do(context.Background(), prepared(t, opts)); !errors.Is(err, auth.ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
}

func TestWrapTransport(t *testing.T) {
	if WrapTransport("read", nil) != nil {
		t.Fatal("nil stays nil")
	}
	inner := &TransportError{Op: "dial", Err: io.ErrUnexpectedEOF}
	if WrapTransport("read", inner) != error(inner) {
		t.Fatal("existing transport errors are not re-wrapped")
	}
	err := WrapTransport("stream read", context.DeadlineExceeded)
	var te *TransportError
	if !errors.As(err, &te) || !te.Timeout() || te.Op != "stream read" {
		t.Fatalf("unexpected %v", err)
	}
}

func TestDebugDumpFiltersStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"id\":\"m1\"}}\n\n"+
			"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"noise\"}}\n\n"+
			"data: {\"type\":\"message_delta\",\"delta\":{},\"usage\":{\"output_tokens\":3}}\n\n")
	}))
	defer srv.Close()

	var buf bytes.Buffer
	orig := debugOut
	debugOut = &buf
	defer func() { debugOut = orig }()

	c, opts := newTestClient(t, srv.URL)
	c.Debug = true
	resp, err := c.Do(context.Background(), prepared(t, opts))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _ = io.ReadAll(resp.Body)
	resp.Body.Close()

	out := buf.String()
	for _, want := range []string{"UPSTREAM REQUEST BEGIN", "[redacted]", "message_start", "message_delta", "UPSTREAM RESPONSE BODY status=200 END"} {
		if !strings.Contains(out, want) {
			t.Errorf("dump missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "noise") {
		t.Errorf("text deltas should not be dumped:\n%s", out)
	}
	if strings.Contains(out, "sk-test") {
		t.Errorf("api key leaked into the dump")
	}
}
