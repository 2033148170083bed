package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestRedactCommonShapes(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"api key assignment", "api_key=sk1234567890abcdef1234"},
		{"bearer token", "bearer abcdefghijklmnop1234"},
		{"password", "password: hunter2hunter2"},
		{"anthropic key", "sk-ant-REDACTED"},
		{"telegram token", "8213712345:AAFyyyyyyyyyyyyyyyyyyyyyyyyyyyyyy"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Redact(tc.input)
			if got == tc.input {
				t.Fatalf("not redacted: %q", got)
			}
			if !strings.Contains(got, "[REDACTED]") {
				t.Fatalf("missing placeholder: %q", got)
			}
		})
	}
}

func TestRedactLeavesPlainText(t *testing.T) {
	input := "config patch applied hash=abc123"
	if got := Redact(input); got != input {
		t.Fatalf("plain text mangled: %q", got)
	}
}

func TestLoggerRedactsAttrValues(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "json", Output: &buf})

	logger.Info("storing credential", "value", "password: supersecretvalue")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not json: %v", err)
	}
	value, _ := record["value"].(string)
	if strings.Contains(value, "supersecretvalue") {
		t.Fatalf("secret leaked into log: %q", value)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json", Output: &buf})

	logger.Info("should be dropped")
	if buf.Len() != 0 {
		t.Fatalf("info record emitted at warn level: %s", buf.String())
	}
	logger.Warn("should be kept")
	if buf.Len() == 0 {
		t.Fatal("warn record dropped")
	}
}
