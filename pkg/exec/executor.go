// Package exec provides the command execution layer used for every external
// tool gfops shells out to (docker, pg_dump, trivy, syft, git-secrets).
//
// All invocations go through the CommandExecutor interface so tests can
// substitute a mock and run hermetically. The production implementation is
// a thin wrapper over os/exec that captures stdout and stderr separately.
package exec

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
)

// CommandExecutor runs external commands. Implementations must be safe for
// concurrent use.
type CommandExecutor interface {
	// Execute runs name with args and returns captured stdout, stderr, and
	// the process error (non-nil on non-zero exit or failure to start).
	Execute(ctx context.Context, name string, args ...string) (stdout []byte, stderr []byte, err error)

	// ExecuteWith runs a fully specified command. Spec.Env entries are
	// appended to the inherited environment, which keeps secret material
	// out of argv while still reaching the child process.
	ExecuteWith(ctx context.Context, spec Spec) (stdout []byte, stderr []byte, err error)
}

// Spec describes a command invocation beyond name and args.
type Spec struct {
	Name  string
	Args  []string
	Env   []string // KEY=value pairs appended to os.Environ()
	Dir   string
	Stdin io.Reader
}

// RealCommandExecutor executes commands with os/exec.
type RealCommandExecutor struct{}

// Execute runs the command and captures its output.
func (r *RealCommandExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	return r.ExecuteWith(ctx, Spec{Name: name, Args: args})
}

// ExecuteWith runs the command described by spec.
func (r *RealCommandExecutor) ExecuteWith(ctx context.Context, spec Spec) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	if len(spec.Env) > 0 {
		cmd.Env = append(cmd.Environ(), spec.Env...)
	}
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	if spec.Stdin != nil {
		cmd.Stdin = spec.Stdin
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// DefaultExecutor is the executor used throughout gfops unless a caller
// injects its own (tests do).
var DefaultExecutor CommandExecutor = &RealCommandExecutor{}

// ExitCode extracts the process exit code from an Execute error. Returns
// -1 when the command never ran (not found, context canceled). Any error
// exposing an ExitCode() method qualifies, which lets mock executors
// report exit codes without a real process.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return -1
}
