package auth

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

// ParseJWTClaims decodes the payload segment of a JWT without verifying the signature.
func ParseJWTClaims(token string) (map[string]any, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidJWT
	}
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil, err
	}
	var claims map[string]any
	if err := json.Unmarshal(data, &claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// TokenExpiry reads the exp claim of a JWT access token. Opaque tokens report
// false and are treated as non-expiring until the server rejects them.
func TokenExpiry(token string) (time.Time, bool) {
	claims, err := ParseJWTClaims(token)
	if err != nil {
		return time.Time{}, false
	}
	exp, ok := claims["exp"].(float64)
	if !ok || exp <= 0 {
		return time.Time{}, false
	}
	return time.Unix(int64(exp), 0), true
}
