package scan

import (
	"context"
	"errors"
	osexec "os/exec"
	"strings"

	gferrors "github.com/gameforge/gfops/internal/errors"
	"github.com/gameforge/gfops/internal/metrics"
	"github.com/gameforge/gfops/pkg/exec"
)

// Secrets registers the AWS provider patterns and then runs git-secrets
// over the repository. Exit 0 on the scan means clean, exit 1 means
// findings (reported on stderr), anything else is an execution error.
func (s *Scanner) Secrets(ctx context.Context, repoDir string) ToolResult {
	start := s.now()

	// --register-aws is idempotent; without it a fresh clone has no
	// patterns installed and the scan passes vacuously.
	if _, regStderr, err := s.executor.ExecuteWith(ctx, exec.Spec{
		Name: "git-secrets",
		Args: []string{"--register-aws"},
		Dir:  repoDir,
	}); err != nil {
		if errors.Is(err, osexec.ErrNotFound) {
			return s.toolError("git-secrets", start, gferrors.WrapCommandNotFound("git-secrets", err))
		}
		return s.toolError("git-secrets", start, gferrors.CommandError{
			Command:  "git-secrets",
			Args:     []string{"--register-aws"},
			ExitCode: exec.ExitCode(err),
			Stderr:   strings.TrimSpace(string(regStderr)),
			Err:      err,
		})
	}

	_, stderr, err := s.executor.ExecuteWith(ctx, exec.Spec{
		Name: "git-secrets",
		Args: []string{"--scan", "-r", "."},
		Dir:  repoDir,
	})
	duration := s.now().Sub(start).Seconds()

	if err == nil {
		s.logger.Success("git-secrets: no committed secrets found")
		metrics.SetScanFindings("git-secrets", "finding", 0)
		return ToolResult{Tool: "git-secrets", Status: StatusPassed, Duration: duration}
	}

	if errors.Is(err, osexec.ErrNotFound) {
		return s.toolError("git-secrets", start, gferrors.WrapCommandNotFound("git-secrets", err))
	}

	if exec.ExitCode(err) == 1 {
		findings := parseSecretFindings(stderr)
		s.logger.Error("git-secrets: %d potential secret(s) committed", len(findings))
		metrics.SetScanFindings("git-secrets", "finding", float64(len(findings)))
		return ToolResult{
			Tool:     "git-secrets",
			Status:   StatusFailed,
			Counts:   map[string]int{"findings": len(findings)},
			Duration: duration,
			Error:    strings.Join(findings, "; "),
		}
	}

	return s.toolError("git-secrets", start, gferrors.CommandError{
		Command:  "git-secrets",
		ExitCode: exec.ExitCode(err),
		Stderr:   strings.TrimSpace(string(stderr)),
		Err:      err,
	})
}

// parseSecretFindings extracts "file:line" locations from git-secrets
// stderr. The matched content itself is deliberately dropped: it may be
// a real credential and must not reach reports or notifications.
func parseSecretFindings(stderr []byte) []string {
	var findings []string
	for _, line := range strings.Split(string(stderr), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "[ERROR]") || strings.HasPrefix(line, "Possible mitigations") {
			continue
		}
		// git-secrets lines look like "path/to/file:12:matched content".
		parts := strings.SplitN(line, ":", 3)
		if len(parts) < 2 {
			continue
		}
		findings = append(findings, parts[0]+":"+parts[1])
	}
	return findings
}
