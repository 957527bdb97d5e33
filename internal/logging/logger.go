package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Logger is the console logger used by every gfops command. Output goes to
// stderr so command results on stdout stay machine-parseable.
type Logger struct {
	out     io.Writer
	debug   bool
	noColor bool
}

// New creates a logger. Color is disabled when noColor is set or the
// NO_COLOR environment variable is present.
func New(debug, noColor bool) *Logger {
	return NewWithWriter(os.Stderr, debug, noColor)
}

// NewWithWriter creates a logger writing to w. Tests use this to capture
// output.
func NewWithWriter(w io.Writer, debug, noColor bool) *Logger {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		noColor = true
	}
	return &Logger{out: w, debug: debug, noColor: noColor}
}

// Info logs a progress message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.print("", "", format, args...)
}

// Success logs a completed-step message.
func (l *Logger) Success(format string, args ...interface{}) {
	l.print("✓", "\033[32m", format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.print("⚠", "\033[33m", format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.print("✗", "\033[31m", format, args...)
}

// Debug logs a message only when debug mode is enabled.
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.debug {
		return
	}
	l.print("[DEBUG]", "\033[36m", format, args...)
}

func (l *Logger) print(symbol, color, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	switch {
	case symbol == "":
		fmt.Fprintf(l.out, "%s\n", msg)
	case l.noColor:
		fmt.Fprintf(l.out, "%s %s\n", symbol, msg)
	default:
		fmt.Fprintf(l.out, "%s%s\033[0m %s\n", color, symbol, msg)
	}
}

// Secret is a string that renders as [REDACTED] no matter how it is
// formatted. Wrap any credential value in it before passing to a logger
// or error message.
type Secret string

// String implements fmt.Stringer, always returning a redacted value.
func (s Secret) String() string {
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer for %#v formatting.
func (s Secret) GoString() string {
	return "[REDACTED]"
}

// Redact replaces any occurrence of the given secret values in s with
// [REDACTED]. Values shorter than four characters are skipped to avoid
// mangling unrelated text.
func Redact(s string, secrets []string) string {
	result := s
	for _, secret := range secrets {
		if len(secret) > 3 {
			result = strings.ReplaceAll(result, secret, "[REDACTED]")
		}
	}
	return result
}
