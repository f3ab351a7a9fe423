// Package session resolves the per-caller preferences of an inbound request.
// Headers override the configured defaults one field at a time.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/n0madic/go-claudebridge/internal/config"
)

const (
	HeaderThinkingDisplay = "X-Thinking-Display"
	HeaderWebSearch       = "X-Web-Search"
	HeaderCodeExecution   = "X-Code-Execution"
)

var ErrInvalidPreference = errors.New("invalid preference header")

// Resolve layers the preference headers of h over defaults. Absent or blank
// headers keep the default; unrecognised values are rejected.
func Resolve(defaults config.Preferences, h http.Header) (config.Preferences, error) {
	prefs := defaults
	if prefs.ThinkingDisplay == "" {
		prefs.ThinkingDisplay = config.ThinkingVisible
	}

	if v := strings.ToLower(strings.TrimSpace(h.Get(HeaderThinkingDisplay))); v != "" {
		switch v {
		case config.ThinkingVisible, config.ThinkingHidden:
			prefs.ThinkingDisplay = v
		default:
			return defaults, fmt.Errorf("%w: %s=%q (want %q or %q)", ErrInvalidPreference,
				HeaderThinkingDisplay, v, config.ThinkingVisible, config.ThinkingHidden)
		}
	}

	var err error
	if prefs.EnableWebSearch, err = boolHeader(h, HeaderWebSearch, prefs.EnableWebSearch); err != nil {
		return defaults, err
	}
	if prefs.EnableCodeExecution, err = boolHeader(h, HeaderCodeExecution, prefs.EnableCodeExecution); err != nil {
		return defaults, err
	}
	return prefs, nil
}

func boolHeader(h http.Header, key string, fallback bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(h.Get(key)))
	switch v {
	case "":
		return fallback, nil
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return fallback, fmt.Errorf("%w: %s=%q", ErrInvalidPreference, key, v)
}
