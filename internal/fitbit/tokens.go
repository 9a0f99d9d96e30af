package fitbit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"

	"github.com/sstent/fitbitkml/internal/fileutil"
)

// Token is the on-disk representation of the Fitbit OAuth credentials.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Scope        []string
	TokenType    string

	// Extra holds keys from the token file that are not modelled above
	// (user_id, id_token, ...). They are written back untouched.
	Extra map[string]any
}

// ExpiresWithin reports whether the token is expired or expires before now+d.
// A token without an expiry never expires.
func (t *Token) ExpiresWithin(d time.Duration, now time.Time) bool {
	if t.ExpiresAt == nil {
		return false
	}
	return !t.ExpiresAt.After(now.Add(d))
}

// UnmarshalJSON accepts scope as a space separated string or a list, and
// expires_at as an ISO-8601 timestamp (naive timestamps are UTC).
func (t *Token) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	access, _ := raw["access_token"].(string)
	if access == "" {
		return fmt.Errorf("token file has no access_token")
	}

	tok := Token{AccessToken: access, Extra: map[string]any{}}
	tok.RefreshToken, _ = raw["refresh_token"].(string)
	tok.TokenType, _ = raw["token_type"].(string)

	if s, ok := raw["expires_at"].(string); ok && s != "" {
		ts, err := parseTimestamp(s)
		if err != nil {
			return fmt.Errorf("invalid expires_at %q: %w", s, err)
		}
		tok.ExpiresAt = &ts
	}

	switch scope := raw["scope"].(type) {
	case string:
		tok.Scope = strings.Fields(scope)
	case []any:
		for _, s := range scope {
			tok.Scope = append(tok.Scope, fmt.Sprint(s))
		}
	}

	for k, v := range raw {
		switch k {
		case "access_token", "refresh_token", "token_type", "expires_at", "scope":
			continue
		}
		tok.Extra[k] = v
	}

	*t = tok
	return nil
}

// MarshalJSON writes the known fields over any extra keys.
func (t Token) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(t.Extra)+5)
	for k, v := range t.Extra {
		out[k] = v
	}
	out["access_token"] = t.AccessToken
	out["token_type"] = t.TokenType
	if t.RefreshToken != "" {
		out["refresh_token"] = t.RefreshToken
	}
	if t.ExpiresAt != nil {
		out["expires_at"] = t.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if len(t.Scope) > 0 {
		out["scope"] = strings.Join(t.Scope, " ")
	}
	return json.Marshal(out)
}

// LoadToken reads token JSON from disk.
func LoadToken(path string) (*Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("failed to parse token file %s: %w", path, err)
	}
	return &tok, nil
}

// WriteToken persists tok to path, creating parent directories. The file is
// readable by the owner only.
func WriteToken(tok *Token, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create token directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	data = append(data, '\n')

	if err := fileutil.WriteFileAtomic(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// FromOAuth2 converts a token returned by the oauth2 package. The Fitbit
// token endpoint returns scope and user_id next to the standard fields.
func FromOAuth2(t *oauth2.Token) *Token {
	tok := &Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		Extra:        map[string]any{},
	}
	if !t.Expiry.IsZero() {
		exp := t.Expiry.UTC()
		tok.ExpiresAt = &exp
	}
	if scope, ok := t.Extra("scope").(string); ok {
		tok.Scope = strings.Fields(scope)
	}
	for _, key := range []string{"user_id", "id_token"} {
		if v := t.Extra(key); v != nil {
			tok.Extra[key] = v
		}
	}
	return tok
}

func parseTimestamp(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", value, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return ts, nil
}
