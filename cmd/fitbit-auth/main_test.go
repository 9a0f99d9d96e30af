package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sstent/fitbitkml/internal/fitbit"
)

func TestReadLine(t *testing.T) {
	line, err := readLine(strings.NewReader("  https://localhost:8080/callback?code=abc  \nignored\n"))
	require.NoError(t, err)
	assert.Equal(t, "https://localhost:8080/callback?code=abc", line)

	line, err = readLine(strings.NewReader("no newline"))
	require.NoError(t, err)
	assert.Equal(t, "no newline", line)
}

func TestPrintSummary(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	var out bytes.Buffer
	printSummary(&out, &fitbit.Token{
		AccessToken:  strings.Repeat("a", 40),
		RefreshToken: "r",
		ExpiresAt:    &exp,
		Scope:        []string{"activity", "location"},
		TokenType:    "Bearer",
	})

	s := out.String()
	assert.Contains(t, s, "Access token:  "+strings.Repeat("a", 20)+"...")
	assert.NotContains(t, s, strings.Repeat("a", 21))
	assert.Contains(t, s, "Token type:    Bearer")
	assert.Contains(t, s, "Scope:         activity location")
	assert.Contains(t, s, "Refresh token: yes")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 8))
	assert.Equal(t, "abcdefgh", truncate("abcdefghij", 8))
}
