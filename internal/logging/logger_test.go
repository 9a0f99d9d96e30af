package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestInitJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	Info().Str("path", "tokens.json").Msg("token_refreshed")

	out := buf.String()
	if !strings.Contains(out, `"message":"token_refreshed"`) {
		t.Errorf("expected event name in output, got: %s", out)
	}
	if !strings.Contains(out, `"path":"tokens.json"`) {
		t.Errorf("expected field in output, got: %s", out)
	}
	if !strings.Contains(out, `"level":"info"`) {
		t.Errorf("expected level in output, got: %s", out)
	}
}

func TestInitConsole(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Format: "console", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	Warn().Int("attempt", 2).Msg("fitbit_rate_limited")

	out := buf.String()
	if !strings.Contains(out, "fitbit_rate_limited") || !strings.Contains(out, "attempt=") {
		t.Errorf("unexpected console output: %s", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	Info().Msg("hidden")
	Error().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message should be filtered: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("error message missing: %s", out)
	}
}

func TestSetLoggerCapturesHelpers(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	var captured bytes.Buffer
	prev := Logger()
	SetLogger(NewTestLogger(&captured))

	Debug().Msg("fitbit_request")
	Err(errors.New("boom")).Msg("tcx_download_failed")
	child := With().Str("component", "tcx_downloader").Logger()
	child.Info().Msg("tcx_downloaded")

	SetLogger(prev)
	Info().Msg("after_restore")

	out := captured.String()
	for _, want := range []string{
		`"level":"debug"`,
		`"message":"fitbit_request"`,
		`"error":"boom"`,
		`"component":"tcx_downloader"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in captured output, got: %s", want, out)
		}
	}
	if strings.Contains(out, "after_restore") {
		t.Errorf("restored logger should not write to the capture buffer: %s", out)
	}
	if !strings.Contains(buf.String(), "after_restore") {
		t.Errorf("restored logger should write to the original output: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"DEBUG", zerolog.DebugLevel},
		{"invalid", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}
