package zerolog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/stefanmihai/entitlesync/pkg/entitlement"
)

func TestNewLogger(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output))

	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}
}

func TestLogger_Levels(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output))

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	if output.Len() == 0 {
		t.Error("Expected log output")
	}
	lines := bytes.Count(output.Bytes(), []byte("\n"))
	if lines != 4 {
		t.Errorf("Expected 4 log lines, got %d", lines)
	}
}

func TestLogger_Fields(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output))

	logger.Info("subscription state reconciled",
		entitlement.Field{Key: "profile_id", Value: "prof_1"},
		entitlement.Field{Key: "premium", Value: true},
	)

	var entry map[string]interface{}
	if err := json.Unmarshal(output.Bytes(), &entry); err != nil {
		t.Fatalf("Log line is not JSON: %v", err)
	}
	if entry["profile_id"] != "prof_1" {
		t.Errorf("profile_id = %v", entry["profile_id"])
	}
	if entry["premium"] != true {
		t.Errorf("premium = %v", entry["premium"])
	}
	if entry["message"] != "subscription state reconciled" {
		t.Errorf("message = %v", entry["message"])
	}
}

func TestLogger_RespectsLevel(t *testing.T) {
	output := bytes.Buffer{}
	logger := NewLogger(zerolog.New(&output).Level(zerolog.InfoLevel))

	logger.Debug("should be suppressed")
	if output.Len() != 0 {
		t.Error("Debug log should be suppressed at info level")
	}

	logger.Info("should be written")
	if output.Len() == 0 {
		t.Error("Info log should be written at info level")
	}
}
