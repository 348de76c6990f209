package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithConfig(Config{Level: LevelWarn, Output: &buf})

	log.Info("hidden")
	log.Debug("hidden")
	log.Warn("shown %d", 1)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("expected info/debug to be filtered, got %q", out)
	}
	if !strings.Contains(out, "[WARN] shown 1") {
		t.Errorf("expected warn line, got %q", out)
	}
}

func TestTextFieldsAreSorted(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithConfig(Config{Level: LevelDebug, Output: &buf})

	log.With("bot").InfoWithFields("reply sent", map[string]interface{}{
		"zeta":  1,
		"alpha": "x",
	})

	line := buf.String()
	if !strings.Contains(line, "[INFO] [bot] reply sent | alpha=x zeta=1") {
		t.Errorf("unexpected line %q", line)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithConfig(Config{Level: LevelInfo, Format: FormatJSON, Output: &buf})

	log.WithFields(map[string]interface{}{"model": "m"}).With("provision").Error("download failed: %s", "404")

	var entry logEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid json %q: %v", buf.String(), err)
	}
	if entry.Level != "ERROR" || entry.Component != "provision" || entry.Message != "download failed: 404" {
		t.Errorf("unexpected entry %+v", entry)
	}
	if entry.Fields["model"] != "m" {
		t.Errorf("expected inherited field, got %v", entry.Fields)
	}
}

func TestFatalExits(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithConfig(Config{Output: &buf})
	code := -1
	log.exit = func(c int) { code = c }

	log.Fatal("boom")

	if code != 1 {
		t.Errorf("expected exit code 1, got %d", code)
	}
}
