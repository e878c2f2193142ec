package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("default level = %s, want info", cfg.Level)
	}
	if cfg.Pretty {
		t.Error("default output should be JSON, not pretty")
	}
}

func TestSetup_WritesToConfiguredOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup(Config{Level: LevelInfo, Output: buf})

	logger.Info().Str("namespace", "api-v3").Msg("cache write failed")

	output := buf.String()
	if !strings.Contains(output, "cache write failed") {
		t.Errorf("output missing message: %q", output)
	}
	if !strings.Contains(output, `"namespace":"api-v3"`) {
		t.Errorf("output missing structured field: %q", output)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"invalid", zerolog.InfoLevel}, // Should default to Info
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			result := parseLevel(tt.input)
			if result != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewLogger_TagsComponent(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf})

	logger := NewLogger("gateway")
	logger.Info().Msg("version active")

	output := buf.String()
	if !strings.Contains(output, `"component":"gateway"`) {
		t.Errorf("output missing component field: %q", output)
	}
	if !strings.Contains(output, "version active") {
		t.Errorf("output missing message: %q", output)
	}
}

func TestLogLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelWarn, Output: buf})

	logger := NewLogger("strategy")

	logger.Debug().Msg("request served")
	logger.Info().Msg("version active")
	logger.Warn().Msg("origin unreachable")
	logger.Error().Msg("seed failed")

	output := buf.String()
	if strings.Contains(output, "request served") || strings.Contains(output, "version active") {
		t.Errorf("messages below warn leaked through: %q", output)
	}
	if !strings.Contains(output, "origin unreachable") || !strings.Contains(output, "seed failed") {
		t.Errorf("warn and error messages missing: %q", output)
	}
}
