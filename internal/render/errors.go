package render

import (
	"errors"
	"fmt"
	"time"

	"github.com/n0madic/go-claudebridge/internal/config"
	"github.com/n0madic/go-claudebridge/internal/stream"
	"github.com/n0madic/go-claudebridge/internal/upstream"
)

// ErrorMessage is the human-readable line for a terminal condition.
func ErrorMessage(err error) string {
	var (
		upErr     *upstream.Error
		transport *upstream.TransportError
		streamErr *stream.ServerError
		cfgErr    *config.ConfigurationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &upErr):
		return upstreamMessage(upErr)
	case errors.As(err, &transport):
		switch {
		case transport.Timeout():
			return "⏱️ **Request timed out**. Partial response may be shown above."
		case transport.Canceled():
			return "⏹️ **Request cancelled**. Partial response may be shown above."
		}
		return "🔌 **Connection error**. Please check your internet connection."
	case errors.As(err, &streamErr):
		kind := streamErr.Type
		if kind == "" {
			kind = "stream"
		}
		return fmt.Sprintf("❌ **API Error (%s)**: %s", kind, streamErr.Message)
	case errors.As(err, &cfgErr):
		return "❌ **Configuration error**: " + cfgErr.Err.Error()
	}
	return "❌ **Unexpected error**: " + err.Error()
}

func upstreamMessage(e *upstream.Error) string {
	switch e.Kind {
	case upstream.KindRateLimited:
		msg := "⚠️ **Rate limit exceeded**. Please wait and try again."
		if e.RetryAfter > 0 {
			msg += fmt.Sprintf(" Retry after %s.", e.RetryAfter.Round(time.Second))
		}
		return msg
	case upstream.KindUnauthenticated:
		return "❌ **Authentication failed**. Check your API key."
	case upstream.KindMalformedRequest:
		return "❌ **Bad request**: " + e.Detail()
	}
	return fmt.Sprintf("❌ **API Error (%d)**: %s", e.StatusCode, e.Detail())
}

// ErrorTrailer is ErrorMessage formatted for appending to output. Failures
// that can interrupt partial output are separated from it by a blank line.
func ErrorTrailer(err error) string {
	msg := ErrorMessage(err)
	if msg == "" {
		return ""
	}
	var upErr *upstream.Error
	var cfgErr *config.ConfigurationError
	if errors.As(err, &upErr) || errors.As(err, &cfgErr) {
		return msg
	}
	return "\n\n" + msg
}
