package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func accessToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	body, err := json.Marshal(claims)
	if err != nil {
		t.Fatal(err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`)) + "." + enc.EncodeToString(body) + ".signature"
}

func TestParseJWTClaimsRejectsMalformed(t *testing.T) {
	for _, tok := range []string{"", "sk-ant-api03-opaque", "one.two", "a.b.c.d"} {
		if _, err := ParseJWTClaims(tok); !errors.Is(err, ErrInvalidJWT) {
			t.Errorf("%q: got %v, want ErrInvalidJWT", tok, err)
		}
	}
	if _, err := ParseJWTClaims("head.%%%.sig"); err == nil {
		t.Error("undecodable payload should fail")
	}
	bad := base64.RawURLEncoding.EncodeToString([]byte("not json"))
	if _, err := ParseJWTClaims("head." + bad + ".sig"); err == nil {
		t.Error("non-JSON payload should fail")
	}
}

func TestParseJWTClaims(t *testing.T) {
	claims, err := ParseJWTClaims(accessToken(t, map[string]any{
		"sub":   "org-42",
		"scope": "user:inference",
	}))
	if err != nil {
		t.Fatalf("ParseJWTClaims: %v", err)
	}
	if claims["sub"] != "org-42" || claims["scope"] != "user:inference" {
		t.Errorf("claims: %v", claims)
	}
}

func TestTokenExpiry(t *testing.T) {
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got, ok := TokenExpiry(accessToken(t, map[string]any{"exp": float64(want.Unix())}))
	if !ok || !got.Equal(want) {
		t.Fatalf("TokenExpiry: got %v %v, want %v", got, ok, want)
	}

	tests := map[string]string{
		"opaque":   "sk-ant-oat01-opaque",
		"no exp":   accessToken(t, map[string]any{"sub": "x"}),
		"zero exp": accessToken(t, map[string]any{"exp": 0}),
		"text exp": accessToken(t, map[string]any{"exp": "soon"}),
	}
	for name, tok := range tests {
		if _, ok := TokenExpiry(tok); ok {
			t.Errorf("%s: expected no expiry", name)
		}
	}
}
