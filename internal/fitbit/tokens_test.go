package fitbit

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestLoadTokenParsesScopeAndExpiry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"access_token": "abc",
		"refresh_token": "def",
		"expires_at": "2024-11-01T12:00:00.123456+00:00",
		"scope": "activity location",
		"token_type": "Bearer",
		"user_id": "XYZ"
	}`), 0o600))

	tok, err := LoadToken(path)
	require.NoError(t, err)

	assert.Equal(t, "abc", tok.AccessToken)
	assert.Equal(t, "def", tok.RefreshToken)
	assert.Equal(t, []string{"activity", "location"}, tok.Scope)
	require.NotNil(t, tok.ExpiresAt)
	assert.Equal(t, 2024, tok.ExpiresAt.Year())
	assert.Equal(t, "XYZ", tok.Extra["user_id"])
}

func TestLoadTokenScopeList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"access_token":"a","scope":["profile","activity"],"expires_at":"2030-01-01T00:00:00"}`), 0o600))

	tok, err := LoadToken(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"profile", "activity"}, tok.Scope)
	assert.Equal(t, time.UTC, tok.ExpiresAt.Location())
}

func TestLoadTokenRequiresAccessToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"refresh_token":"x"}`), 0o600))

	_, err := LoadToken(path)
	assert.Error(t, err)
}

func TestWriteTokenRoundTripKeepsExtras(t *testing.T) {
	exp := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	tok := &Token{
		AccessToken:  "a",
		RefreshToken: "r",
		ExpiresAt:    &exp,
		Scope:        []string{"activity", "profile"},
		TokenType:    "Bearer",
		Extra:        map[string]any{"user_id": "U1", "access_token": "stale"},
	}
	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	require.NoError(t, WriteToken(tok, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), data[len(data)-1])

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "a", raw["access_token"])
	assert.Equal(t, "activity profile", raw["scope"])
	assert.Equal(t, "2025-03-04T05:06:07Z", raw["expires_at"])
	assert.Equal(t, "U1", raw["user_id"])

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	back, err := LoadToken(path)
	require.NoError(t, err)
	assert.True(t, exp.Equal(*back.ExpiresAt))
}

func TestWriteTokenReplacesFileAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.json")
	require.NoError(t, WriteToken(&Token{AccessToken: "first", RefreshToken: "r"}, path))
	require.NoError(t, WriteToken(&Token{AccessToken: "second", RefreshToken: "r"}, path))

	tok, err := LoadToken(path)
	require.NoError(t, err)
	assert.Equal(t, "second", tok.AccessToken)

	info, err := os.Stat(path)
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestExpiresWithin(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	soon := now.Add(30 * time.Second)
	later := now.Add(time.Hour)

	assert.False(t, (&Token{}).ExpiresWithin(time.Minute, now))
	assert.True(t, (&Token{ExpiresAt: &soon}).ExpiresWithin(time.Minute, now))
	assert.False(t, (&Token{ExpiresAt: &later}).ExpiresWithin(time.Minute, now))
}

func TestFromOAuth2(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	src := (&oauth2.Token{
		AccessToken:  "a",
		RefreshToken: "r",
		TokenType:    "Bearer",
		Expiry:       exp,
	}).WithExtra(map[string]any{"scope": "location activity", "user_id": "U"})

	tok := FromOAuth2(src)
	assert.Equal(t, []string{"location", "activity"}, tok.Scope)
	assert.Equal(t, "U", tok.Extra["user_id"])
	require.NotNil(t, tok.ExpiresAt)
	assert.True(t, exp.Equal(*tok.ExpiresAt))
}
