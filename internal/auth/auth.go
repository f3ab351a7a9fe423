// Package auth supplies upstream credentials: a static API key or an OAuth2
// bearer token that refreshes itself.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"github.com/n0madic/go-claudebridge/internal/config"
)

// Credentials decorate an outgoing request with authentication headers.
type Credentials interface {
	Apply(ctx context.Context, h http.Header) error
	Kind() string
}

// APIKey is sent as x-api-key.
type APIKey string

func (k APIKey) Apply(_ context.Context, h http.Header) error {
	if strings.TrimSpace(string(k)) == "" {
		return ErrNoCredentials
	}
	h.Del("Authorization")
	h.Set("x-api-key", string(k))
	return nil
}

func (APIKey) Kind() string { return "api_key" }

// Bearer sends an OAuth2 access token as Authorization: Bearer.
type Bearer struct {
	source oauth2.TokenSource

	mu   sync.Mutex
	last string
}

// NewBearer wraps a token source.
func NewBearer(source oauth2.TokenSource) *Bearer {
	return &Bearer{source: source}
}

func (b *Bearer) Apply(_ context.Context, h http.Header) error {
	tok, err := b.source.Token()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	if tok.AccessToken == "" {
		return ErrNoCredentials
	}

	b.mu.Lock()
	if b.last != "" && b.last != tok.AccessToken {
		slog.Info("auth.token.refreshed", "expiry", tok.Expiry)
	}
	b.last = tok.AccessToken
	b.mu.Unlock()

	h.Del("x-api-key")
	h.Set("Authorization", tok.Type()+" "+tok.AccessToken)
	return nil
}

func (*Bearer) Kind() string { return "oauth" }

// New picks the credentials configured in opts. An API key wins over OAuth
// tokens. ctx scopes the HTTP client used for token refreshes.
func New(ctx context.Context, opts *config.Options) (Credentials, error) {
	if opts == nil {
		return nil, ErrNoCredentials
	}
	if key := strings.TrimSpace(opts.APIKey); key != "" {
		return APIKey(key), nil
	}
	o := opts.OAuth
	if strings.TrimSpace(o.AccessToken) == "" && strings.TrimSpace(o.RefreshToken) == "" {
		return nil, ErrNoCredentials
	}
	return NewBearer(NewTokenSource(ctx, o)), nil
}
