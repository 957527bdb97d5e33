package errors

import (
	"errors"
	"fmt"
	"strings"
)

// UserError is an error meant for the operator, with enough context to fix
// the problem without reading source code.
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError points at a specific field of the configuration file.
type ConfigError struct {
	File       string
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.File != "" {
		msg += " in " + e.File
	}
	if e.Field != "" {
		msg += fmt.Sprintf(" (field '%s')", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// CommandError reports a failed external tool invocation. Stderr is
// truncated and argument values following secret-bearing flags are
// replaced before the message is built, so it is always safe to print.
type CommandError struct {
	Command    string
	Args       []string
	ExitCode   int
	Stderr     string
	Suggestion string
	Err        error
}

func (e CommandError) Error() string {
	msg := fmt.Sprintf("Command '%s' failed", e.Command)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit code: %d)", e.ExitCode)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		if len(stderr) > 300 {
			stderr = stderr[:300] + "..."
		}
		msg += ": " + stderr
	}

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

func (e CommandError) Unwrap() error {
	return e.Err
}

// secretFlags lists argument flags whose following value must never be
// printed.
var secretFlags = map[string]bool{
	"--password": true,
	"-p":         true,
	"--token":    true,
	"--key":      true,
	"--secret":   true,
}

// RedactArgs returns a copy of args with values following secret-bearing
// flags replaced by [REDACTED]. Use it before storing argv anywhere.
func RedactArgs(args []string) []string {
	out := make([]string, len(args))
	redactNext := false
	for i, a := range args {
		switch {
		case redactNext:
			out[i] = "[REDACTED]"
			redactNext = false
		case secretFlags[a]:
			out[i] = a
			redactNext = true
		case strings.Contains(a, "="):
			k := a[:strings.Index(a, "=")]
			if secretFlags[k] {
				out[i] = k + "=[REDACTED]"
			} else {
				out[i] = a
			}
		default:
			out[i] = a
		}
	}
	return out
}

// VaultError wraps a failed Vault API operation with the path that was
// touched and an actionable suggestion.
type VaultError struct {
	Op         string
	Path       string
	StatusCode int
	Suggestion string
	Err        error
}

func (e VaultError) Error() string {
	msg := fmt.Sprintf("Vault %s failed", e.Op)
	if e.Path != "" {
		msg += fmt.Sprintf(" for '%s'", e.Path)
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

func (e VaultError) Unwrap() error {
	return e.Err
}

// toolInstallHints maps the external tools gfops shells out to onto
// install instructions.
var toolInstallHints = map[string]string{
	"vault":       "Install the Vault CLI: https://developer.hashicorp.com/vault/install",
	"docker":      "Install Docker: https://docs.docker.com/get-docker/",
	"pg_dump":     "Install the PostgreSQL client tools (postgresql-client package)",
	"pg_restore":  "Install the PostgreSQL client tools (postgresql-client package)",
	"trivy":       "Install Trivy: https://aquasecurity.github.io/trivy/latest/getting-started/installation/",
	"syft":        "Install Syft: https://github.com/anchore/syft#installation",
	"git-secrets": "Install git-secrets: https://github.com/awslabs/git-secrets#installing-git-secrets",
	"git":         "Install Git from https://git-scm.com/",
}

// WrapCommandNotFound turns a missing-binary error into a CommandError
// with install instructions for the tools gfops depends on.
func WrapCommandNotFound(command string, err error) error {
	suggestion := toolInstallHints[command]
	if suggestion == "" {
		suggestion = fmt.Sprintf("Make sure '%s' is installed and in your PATH", command)
	}

	return CommandError{
		Command:    command,
		Stderr:     "command not found",
		Suggestion: suggestion,
		Err:        err,
	}
}

// IsRetryable reports whether an error looks transient enough to retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"connection refused",
		"broken pipe",
		"rate limit",
		"throttling",
		"too many requests",
		"status 500",
		"status 502",
		"status 503",
		"status 504",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// SimplifyError rewrites common low-level failures into operator-facing
// errors. Errors that are already user-facing pass through unchanged.
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	var (
		userErr UserError
		cfgErr  ConfigError
		cmdErr  CommandError
		vltErr  VaultError
	)
	if errors.As(err, &userErr) || errors.As(err, &cfgErr) ||
		errors.As(err, &cmdErr) || errors.As(err, &vltErr) {
		return err
	}

	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}
	errStr := rootErr.Error()

	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions on the state directory",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	return err
}
