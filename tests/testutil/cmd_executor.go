// Package testutil provides testing utilities for gfops.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gameforge/gfops/pkg/exec"
)

// MockCommandExecutor provides a configurable mock for testing code that
// shells out through exec.CommandExecutor.
type MockCommandExecutor struct {
	mu sync.Mutex

	// Responses maps command patterns to their mock responses.
	// Key format: "command arg1 arg2" (space-separated command and args)
	Responses map[string]MockResponse

	// DefaultResponse is used when no matching pattern is found.
	DefaultResponse *MockResponse

	// RecordedCalls stores all calls made to Execute for verification.
	RecordedCalls []RecordedCall

	// StrictMode causes Execute to fail if no matching response is found.
	StrictMode bool
}

// MockResponse defines the expected output for a mocked command.
type MockResponse struct {
	Stdout []byte
	Stderr []byte
	Err    error
}

// RecordedCall stores information about a command execution. Env holds
// the extra environment of ExecuteWith calls so tests can assert secrets
// travel through the environment, never argv.
type RecordedCall struct {
	Command string
	Args    []string
	Env     []string
	Dir     string
}

// NewMockCommandExecutor creates a new mock executor with empty responses.
func NewMockCommandExecutor() *MockCommandExecutor {
	return &MockCommandExecutor{
		Responses:     make(map[string]MockResponse),
		RecordedCalls: make([]RecordedCall, 0),
	}
}

// Execute returns the mocked response for the given command.
func (m *MockCommandExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	return m.ExecuteWith(ctx, exec.Spec{Name: name, Args: args})
}

// ExecuteWith returns the mocked response for the given spec.
func (m *MockCommandExecutor) ExecuteWith(_ context.Context, spec exec.Spec) ([]byte, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RecordedCalls = append(m.RecordedCalls, RecordedCall{
		Command: spec.Name,
		Args:    spec.Args,
		Env:     spec.Env,
		Dir:     spec.Dir,
	})

	key := buildKey(spec.Name, spec.Args)

	if resp, ok := m.Responses[key]; ok {
		return resp.Stdout, resp.Stderr, resp.Err
	}

	// Prefix matching so tests can register "trivy image" and match the
	// full invocation.
	for pattern, resp := range m.Responses {
		if matchesPattern(key, pattern) {
			return resp.Stdout, resp.Stderr, resp.Err
		}
	}

	if m.DefaultResponse != nil {
		return m.DefaultResponse.Stdout, m.DefaultResponse.Stderr, m.DefaultResponse.Err
	}

	if m.StrictMode {
		return nil, nil, fmt.Errorf("mock: no response configured for command: %s", key)
	}

	return []byte{}, []byte{}, nil
}

// buildKey creates a lookup key from command and arguments.
func buildKey(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

// matchesPattern checks if the command key matches a pattern. Supports
// prefix matching and "*" wildcards.
func matchesPattern(key, pattern string) bool {
	if strings.Contains(pattern, "*") {
		return strings.HasPrefix(key, strings.Split(pattern, "*")[0])
	}
	return strings.HasPrefix(key, pattern)
}

// AddResponse registers a mock response for a specific command pattern.
func (m *MockCommandExecutor) AddResponse(commandPattern string, response MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[commandPattern] = response
}

// AddJSONResponse is a convenience method to add a JSON stdout response.
func (m *MockCommandExecutor) AddJSONResponse(commandPattern string, jsonData string) {
	m.AddResponse(commandPattern, MockResponse{
		Stdout: []byte(jsonData),
		Stderr: []byte{},
		Err:    nil,
	})
}

// AddErrorResponse adds an error response for a command pattern.
func (m *MockCommandExecutor) AddErrorResponse(commandPattern string, errMsg string, err error) {
	m.AddResponse(commandPattern, MockResponse{
		Stdout: []byte{},
		Stderr: []byte(errMsg),
		Err:    err,
	})
}

// GetCalls returns all recorded calls matching the given command name.
func (m *MockCommandExecutor) GetCalls(commandName string) []RecordedCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []RecordedCall
	for _, call := range m.RecordedCalls {
		if call.Command == commandName {
			matches = append(matches, call)
		}
	}
	return matches
}

// CallCount returns the number of times Execute was called.
func (m *MockCommandExecutor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.RecordedCalls)
}

// Reset clears all recorded calls and responses.
func (m *MockCommandExecutor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = make(map[string]MockResponse)
	m.RecordedCalls = make([]RecordedCall, 0)
	m.DefaultResponse = nil
}

// AssertCalled verifies that a specific command was called at least once.
func (m *MockCommandExecutor) AssertCalled(t interface{ Error(args ...interface{}) }, commandName string) bool {
	calls := m.GetCalls(commandName)
	if len(calls) == 0 {
		t.Error("expected command", commandName, "to be called, but it was not")
		return false
	}
	return true
}

// AssertNotCalled verifies that a specific command was never called.
func (m *MockCommandExecutor) AssertNotCalled(t interface{ Error(args ...interface{}) }, commandName string) bool {
	calls := m.GetCalls(commandName)
	if len(calls) > 0 {
		t.Error("expected command", commandName, "to not be called, but it was called", len(calls), "times")
		return false
	}
	return true
}

// ExitError mimics a process exit status so mock responses can carry
// exit codes (exec.ExitCode understands anything with an ExitCode
// method).
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }

// ExitCode reports the simulated exit code.
func (e *ExitError) ExitCode() int { return e.Code }

// ComposeMockResponses provides pre-configured docker compose output.
type ComposeMockResponses struct{}

// PSAllRunning returns `docker compose ps --format json` NDJSON with
// every service running and healthy.
func (ComposeMockResponses) PSAllRunning() MockResponse {
	return MockResponse{
		Stdout: []byte(`{"Service":"api","State":"running","Health":"healthy","Status":"Up 2 hours (healthy)"}
{"Service":"worker","State":"running","Health":"","Status":"Up 2 hours"}
{"Service":"redis","State":"running","Health":"healthy","Status":"Up 2 hours (healthy)"}`),
	}
}

// PSOneExited returns compose output with one service down.
func (ComposeMockResponses) PSOneExited() MockResponse {
	return MockResponse{
		Stdout: []byte(`{"Service":"api","State":"running","Health":"healthy","Status":"Up 2 hours (healthy)"}
{"Service":"worker","State":"exited","Health":"","Status":"Exited (1) 5 minutes ago"}`),
	}
}

// TrivyMockResponses provides pre-configured trivy scan output.
type TrivyMockResponses struct{}

// ImageReport returns a trivy JSON report with the given severity counts.
func (TrivyMockResponses) ImageReport(critical, high, medium int) MockResponse {
	var vulns []string
	add := func(severity string, n int) {
		for i := 0; i < n; i++ {
			vulns = append(vulns, fmt.Sprintf(
				`{"VulnerabilityID":"CVE-2024-%04d","Severity":"%s","PkgName":"libexample"}`, len(vulns), severity))
		}
	}
	add("CRITICAL", critical)
	add("HIGH", high)
	add("MEDIUM", medium)

	return MockResponse{
		Stdout: []byte(fmt.Sprintf(
			`{"Results":[{"Target":"gameforge/api:latest","Vulnerabilities":[%s]}]}`,
			strings.Join(vulns, ","))),
	}
}

// SyftMockResponses provides pre-configured syft SBOM output.
type SyftMockResponses struct{}

// CycloneDX returns a minimal CycloneDX SBOM document.
func (SyftMockResponses) CycloneDX() MockResponse {
	return MockResponse{
		Stdout: []byte(`{"bomFormat":"CycloneDX","specVersion":"1.5","components":[{"type":"library","name":"libexample","version":"1.2.3"}]}`),
	}
}

// PGDumpMockResponses provides pre-configured pg_dump output.
type PGDumpMockResponses struct{}

// Dump returns a small SQL dump on stdout.
func (PGDumpMockResponses) Dump() MockResponse {
	return MockResponse{
		Stdout: []byte("--\n-- PostgreSQL database dump\n--\nCREATE TABLE players (id bigint);\n"),
	}
}
