package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gameforge/gfops/tests/testutil"
)

func TestSecretRedaction(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "secret is redacted",
			input:    "my-secret-password",
			expected: "[REDACTED]",
		},
		{
			name:     "empty secret is still redacted",
			input:    "",
			expected: "[REDACTED]",
		},
		{
			name:     "complex secret is redacted",
			input:    "password123!@#",
			expected: "[REDACTED]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Secret(tt.input).String()
			if result != tt.expected {
				t.Errorf("Secret(%q).String() = %q, want %q", tt.input, result, tt.expected)
			}
			if gs := Secret(tt.input).GoString(); gs != tt.expected {
				t.Errorf("Secret(%q).GoString() = %q, want %q", tt.input, gs, tt.expected)
			}
		})
	}
}

func TestLoggerOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, false, true)

	logger.Info("starting %s", "rotation")
	logger.Success("rotated %d secrets", 3)
	logger.Warn("approaching due date")
	logger.Error("rotation failed")

	out := buf.String()
	for _, want := range []string{
		"starting rotation\n",
		"✓ rotated 3 secrets\n",
		"⚠ approaching due date\n",
		"✗ rotation failed\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestLoggerRedactsSecretArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, false, true)

	logger.Info("rotating password %s for service", Secret("hunter2-prod"))
	testutil.AssertSecretRedacted(t, buf.String(), "hunter2-prod")
}

func TestLoggerDebugGate(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, false, true)
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug output emitted with debug disabled: %q", buf.String())
	}

	buf.Reset()
	logger = NewWithWriter(&buf, true, true)
	logger.Debug("visible")
	if !strings.Contains(buf.String(), "[DEBUG] visible") {
		t.Errorf("debug output missing: %q", buf.String())
	}
}

func TestLoggerColor(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, false, false)
	logger.Success("done")
	if !strings.Contains(buf.String(), "\033[32m") {
		t.Errorf("expected ANSI color in output: %q", buf.String())
	}

	buf.Reset()
	logger = NewWithWriter(&buf, false, true)
	logger.Success("done")
	if strings.Contains(buf.String(), "\033[") {
		t.Errorf("expected no ANSI codes with color disabled: %q", buf.String())
	}
}

func TestRedactFunction(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		secrets  []string
		expected string
	}{
		{
			name:     "single secret redacted",
			input:    "The password is secret123",
			secrets:  []string{"secret123"},
			expected: "The password is [REDACTED]",
		},
		{
			name:     "multiple secrets redacted",
			input:    "User admin with password secret123 and API key abc123",
			secrets:  []string{"admin", "secret123", "abc123"},
			expected: "User [REDACTED] with password [REDACTED] and API key [REDACTED]",
		},
		{
			name:     "no secrets to redact",
			input:    "This has no secrets",
			secrets:  []string{},
			expected: "This has no secrets",
		},
		{
			name:     "short secret ignored",
			input:    "Short secret: ab",
			secrets:  []string{"ab"},
			expected: "Short secret: ab",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Redact(tt.input, tt.secrets)
			if result != tt.expected {
				t.Errorf("Redact() = %q, want %q", result, tt.expected)
			}
		})
	}
}
