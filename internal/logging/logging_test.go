package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/afroash/envmon/internal/config"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("NewWithWriter() failed: %v", err)
	}

	logger.Debug().Msg("hidden")
	logger.Info().Str("component", "test").Msg("visible")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["message"] != "visible" {
		t.Errorf("message = %v, want visible", entry["message"])
	}
	if entry["component"] != "test" {
		t.Errorf("component = %v, want test", entry["component"])
	}
	if _, ok := entry["time"]; !ok {
		t.Error("log line should carry a timestamp")
	}
}

func TestNewWithWriter_Text(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(config.LoggingConfig{Level: "debug", Format: "text"}, &buf)
	if err != nil {
		t.Fatalf("NewWithWriter() failed: %v", err)
	}

	logger.Debug().Msg("console line")

	out := buf.String()
	if !strings.Contains(out, "console line") {
		t.Errorf("output %q should contain message", out)
	}
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("text format should not emit JSON: %q", out)
	}
}

func TestNewWithWriter_InvalidLevel(t *testing.T) {
	if _, err := NewWithWriter(config.LoggingConfig{Level: "loud"}, &bytes.Buffer{}); err == nil {
		t.Error("NewWithWriter() expected error for invalid level")
	}
}

func TestNew_FilePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "envmon.log")

	logger, closeLog, err := New(config.LoggingConfig{Level: "info", Format: "json", FilePath: path})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	logger.Info().Msg("to file")
	if err := closeLog(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("log file = %q, want message", string(data))
	}
}
