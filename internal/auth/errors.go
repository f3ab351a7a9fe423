package auth

import "errors"

var (
	ErrInvalidJWT    = errors.New("invalid JWT token")
	ErrNoCredentials = errors.New("no credentials configured; set api_key or oauth tokens")
	ErrRefreshFailed = errors.New("token refresh failed")
)
