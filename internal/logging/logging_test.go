package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected LogLevel
	}{
		{name: "Debug", input: "debug", expected: LevelDebug},
		{name: "Info", input: "info", expected: LevelInfo},
		{name: "Warn", input: "warn", expected: LevelWarn},
		{name: "Error", input: "error", expected: LevelError},
		{name: "Case insensitive", input: "DEBUG", expected: LevelDebug},
		{name: "Warning alias", input: "warning", expected: LevelWarn},
		{name: "Whitespace", input: "  error ", expected: LevelError},
		{name: "Unknown defaults to info", input: "verbose", expected: LevelInfo},
		{name: "Empty defaults to info", input: "", expected: LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLevelFromEnv(t *testing.T) {
	t.Setenv("DEBUG", "")
	t.Setenv("LOG_LEVEL", "warn")
	if got := levelFromEnv(); got != LevelWarn {
		t.Errorf("levelFromEnv() = %v, want warn", got)
	}

	t.Setenv("DEBUG", "true")
	if got := levelFromEnv(); got != LevelDebug {
		t.Errorf("DEBUG=true should force debug, got %v", got)
	}

	t.Setenv("DEBUG", "nope")
	if got := levelFromEnv(); got != LevelWarn {
		t.Errorf("unrecognised DEBUG value should fall back to LOG_LEVEL, got %v", got)
	}
}

func TestLogLevelConstants(t *testing.T) {
	levels := []LogLevel{LevelDebug, LevelInfo, LevelWarn, LevelError}
	for i := 0; i < len(levels)-1; i++ {
		if levels[i] >= levels[i+1] {
			t.Errorf("Log levels should be in ascending order: %v >= %v", levels[i], levels[i+1])
		}
	}
}

func TestSetupFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	Setup(&buf, FormatText, LevelWarn)
	defer Setup(os.Stderr, FormatText, LevelInfo)

	Info("should be hidden")
	Warn("visible %d", 42)

	out := buf.String()
	if strings.Contains(out, "should be hidden") {
		t.Errorf("info message leaked at warn level: %q", out)
	}
	if !strings.Contains(out, "visible 42") {
		t.Errorf("expected warn message in output, got %q", out)
	}
	if IsDebugEnabled() {
		t.Error("debug should be disabled at warn level")
	}
}

func TestSetupJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Setup(&buf, FormatJSON, LevelDebug)
	defer Setup(os.Stderr, FormatText, LevelInfo)

	Debug("converted %s", "a.png")

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("output is not a JSON object: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "converted a.png" {
		t.Errorf("msg = %v, want %q", entry["msg"], "converted a.png")
	}
	if _, ok := entry["ts"]; !ok {
		t.Error("expected ts key in JSON output")
	}
	if !IsDebugEnabled() {
		t.Error("debug should be enabled")
	}
}

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
		{LogLevel(99), "unknown(99)"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			got := tt.level.String()
			if got != tt.expected {
				t.Errorf("LogLevel.String() = %q, want %q", got, tt.expected)
			}
		})
	}
}
