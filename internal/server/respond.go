package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/n0madic/go-claudebridge/internal/config"
	"github.com/n0madic/go-claudebridge/internal/payload"
	"github.com/n0madic/go-claudebridge/internal/session"
	"github.com/n0madic/go-claudebridge/internal/stream"
	"github.com/n0madic/go-claudebridge/internal/types"
	"github.com/n0madic/go-claudebridge/internal/upstream"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response.write.failed", "error", err)
	}
}

// writeOpenAIError writes an OpenAI-format error response.
func writeOpenAIError(w http.ResponseWriter, status int, errType, message string) {
	slog.Error("request failed", "status", status, "type", errType, "error", message)
	writeJSON(w, status, types.ErrorResponse{Error: types.ErrorDetail{Message: message, Type: errType}})
}

// writeError maps a pipe failure onto an HTTP status and error envelope.
func writeError(w http.ResponseWriter, err error) {
	var (
		upErr     *upstream.Error
		transport *upstream.TransportError
		streamErr *stream.ServerError
		cfgErr    *config.ConfigurationError
	)
	switch {
	case errors.As(err, &upErr):
		status := http.StatusBadGateway
		switch upErr.Kind {
		case upstream.KindRateLimited:
			status = http.StatusTooManyRequests
			if upErr.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(upErr.RetryAfter.Round(time.Second)/time.Second)))
			}
		case upstream.KindMalformedRequest:
			status = http.StatusBadRequest
		}
		errType := upErr.Type
		if errType == "" {
			errType = "upstream_error"
		}
		writeOpenAIError(w, status, errType, upErr.Detail())
	case errors.As(err, &transport):
		status := http.StatusBadGateway
		if transport.Timeout() {
			status = http.StatusGatewayTimeout
		}
		writeOpenAIError(w, status, "upstream_unavailable", transport.Error())
	case errors.As(err, &streamErr):
		writeOpenAIError(w, http.StatusBadGateway, streamErr.Type, streamErr.Message)
	case errors.As(err, &cfgErr):
		writeOpenAIError(w, http.StatusInternalServerError, "configuration_error", cfgErr.Error())
	case isInvalidRequest(err):
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
	default:
		writeOpenAIError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func isInvalidRequest(err error) bool {
	for _, target := range []error{
		payload.ErrNoMessages,
		payload.ErrNoUserMessages,
		payload.ErrInvalidMessage,
		session.ErrInvalidPreference,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// finishReason translates a Messages API stop reason.
func finishReason(stopReason string) *string {
	switch stopReason {
	case "max_tokens":
		return types.StringPtr("length")
	case "refusal":
		return types.StringPtr("content_filter")
	}
	return types.StringPtr("stop")
}
