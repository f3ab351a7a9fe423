package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Kind classifies a non-success upstream status.
type Kind int

const (
	KindOther Kind = iota
	KindRateLimited
	KindUnauthenticated
	KindMalformedRequest
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindMalformedRequest:
		return "malformed_request"
	}
	return "other"
}

// Error is a non-success HTTP status from the Messages API.
type Error struct {
	StatusCode int
	Kind       Kind
	// Type and Message come from the error envelope when the body has one.
	Type       string
	Message    string
	RequestID  string
	RetryAfter time.Duration
	Body       []byte
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Type != "" {
		return fmt.Sprintf("upstream %d %s: %s", e.StatusCode, e.Type, msg)
	}
	return fmt.Sprintf("upstream %d: %s", e.StatusCode, msg)
}

// Detail is the most specific human-readable description available.
func (e *Error) Detail() string {
	if e.Message != "" {
		return e.Message
	}
	if body := strings.TrimSpace(string(e.Body)); body != "" {
		return preview(body, 300)
	}
	return http.StatusText(e.StatusCode)
}

// Classify builds an *Error from a failed response.
func Classify(status int, body []byte, headers http.Header) *Error {
	e := &Error{StatusCode: status, Body: body}
	switch status {
	case http.StatusTooManyRequests:
		e.Kind = KindRateLimited
	case http.StatusUnauthorized:
		e.Kind = KindUnauthenticated
	case http.StatusBadRequest:
		e.Kind = KindMalformedRequest
	}
	if gjson.ValidBytes(body) {
		env := gjson.GetBytes(body, "error")
		e.Type = env.Get("type").String()
		e.Message = env.Get("message").String()
	}
	if headers != nil {
		e.RequestID = headers.Get("request-id")
	}
	return e
}

// TransportError is a refusal, timeout, cancellation or mid-stream
// disconnect.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a connect or response timeout.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// Canceled reports whether the caller abandoned the request.
func (e *TransportError) Canceled() bool {
	return errors.Is(e.Err, context.Canceled)
}

// WrapTransport wraps err as a *TransportError unless it already is one.
func WrapTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
