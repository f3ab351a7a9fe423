package auth

import (
	"context"
	"strings"

	"golang.org/x/oauth2"

	"github.com/n0madic/go-claudebridge/internal/config"
)

// NewOAuth2Config creates an oauth2.Config that can only refresh: the bridge
// never runs an authorization code flow, so there is no AuthURL or redirect.
func NewOAuth2Config(clientID, tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// NewTokenSource returns a token source seeded with the configured tokens.
// With a refresh token and token URL it refreshes on expiry; otherwise the
// access token is used as is.
func NewTokenSource(ctx context.Context, s config.OAuthSettings) oauth2.TokenSource {
	seed := &oauth2.Token{
		AccessToken:  strings.TrimSpace(s.AccessToken),
		RefreshToken: strings.TrimSpace(s.RefreshToken),
		TokenType:    "Bearer",
	}
	if exp, ok := TokenExpiry(seed.AccessToken); ok {
		seed.Expiry = exp
	}
	if seed.RefreshToken == "" || strings.TrimSpace(s.TokenURL) == "" {
		return oauth2.StaticTokenSource(seed)
	}
	return NewOAuth2Config(s.ClientID, strings.TrimSpace(s.TokenURL)).TokenSource(ctx, seed)
}
