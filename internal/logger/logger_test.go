package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func TestSetOutputText(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	Info("page loaded", "url", "https://example.com")

	if !strings.Contains(buf.String(), `msg="page loaded"`) || !strings.Contains(buf.String(), "url=https://example.com") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestDebugHiddenByDefault(t *testing.T) {
	old := os.Getenv("SKIM_DEBUG")
	os.Setenv("SKIM_DEBUG", "")
	defer os.Setenv("SKIM_DEBUG", old)

	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	Debug("noisy")
	if buf.Len() != 0 {
		t.Errorf("debug should be hidden, got %q", buf.String())
	}
}

func TestJSONFormat(t *testing.T) {
	old := os.Getenv("SKIM_LOG_FORMAT")
	os.Setenv("SKIM_LOG_FORMAT", "json")
	defer os.Setenv("SKIM_LOG_FORMAT", old)

	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	With("session", "ab12cd34").Warn("summary failed")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected a JSON line, got %q: %v", buf.String(), err)
	}
	if record["msg"] != "summary failed" || record["session"] != "ab12cd34" {
		t.Errorf("unexpected record %v", record)
	}
}
