// Package scan drives the security scanners gfops wraps: git-secrets
// for committed credentials, trivy for image vulnerabilities, and syft
// for SBOM generation. All three are external tools invoked through the
// command executor; reports land under the configured reports
// directory.
package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gameforge/gfops/internal/audit"
	"github.com/gameforge/gfops/internal/config"
	"github.com/gameforge/gfops/internal/logging"
	"github.com/gameforge/gfops/internal/notify"
	"github.com/gameforge/gfops/pkg/exec"
)

// DefaultSeverityThreshold gates image scans when the config is silent.
const DefaultSeverityThreshold = "HIGH"

// Status classifies a tool run.
type Status string

const (
	StatusPassed Status = "passed"
	StatusFailed Status = "failed" // gate failed: findings at/above threshold
	StatusError  Status = "error"  // the tool itself could not run
)

// ToolResult is the outcome of one scanner.
type ToolResult struct {
	Tool       string         `json:"tool"`
	Status     Status         `json:"status"`
	Counts     map[string]int `json:"counts,omitempty"`
	ReportFile string         `json:"report_file,omitempty"`
	Duration   float64        `json:"duration_seconds"`
	Error      string         `json:"error,omitempty"`
}

// Failed reports whether the run should fail the scan gate.
func (r ToolResult) Failed() bool { return r.Status != StatusPassed }

// Summary is the scan-summary-<date>.json document.
type Summary struct {
	Date        string       `json:"date"`
	Environment string       `json:"environment"`
	Results     []ToolResult `json:"results"`
	Passed      bool         `json:"passed"`
}

// Scanner runs the security scanners.
type Scanner struct {
	cfg         config.ScanConfig
	environment string
	executor    exec.CommandExecutor
	logger      *logging.Logger
	auditor     *audit.Recorder
	notifier    *notify.Manager

	now func() time.Time
}

// NewScanner creates a scanner.
func NewScanner(cfg config.ScanConfig, environment string, executor exec.CommandExecutor, logger *logging.Logger) *Scanner {
	if executor == nil {
		executor = exec.DefaultExecutor
	}
	if logger == nil {
		logger = logging.New(false, true)
	}
	if cfg.SeverityThreshold == "" {
		cfg.SeverityThreshold = DefaultSeverityThreshold
	}
	if cfg.ReportsDir == "" {
		cfg.ReportsDir = "reports"
	}
	return &Scanner{
		cfg:         cfg,
		environment: environment,
		executor:    executor,
		logger:      logger,
		now:         time.Now,
	}
}

// SetAuditor wires the audit recorder.
func (s *Scanner) SetAuditor(rec *audit.Recorder) { s.auditor = rec }

// SetNotifier wires the notification manager.
func (s *Scanner) SetNotifier(m *notify.Manager) { s.notifier = m }

// RunAll runs secrets, image, and sbom in order, writes the summary,
// and returns an error when any gate failed.
func (s *Scanner) RunAll(ctx context.Context, repoDir string) (*Summary, error) {
	date := s.now().UTC().Format("2006-01-02")
	summary := &Summary{Date: date, Environment: s.environment, Passed: true}

	summary.Results = append(summary.Results, s.Secrets(ctx, repoDir))
	if s.cfg.Image != "" {
		summary.Results = append(summary.Results, s.Image(ctx))
		summary.Results = append(summary.Results, s.SBOM(ctx))
	} else {
		s.logger.Warn("No scan.image configured; skipping image and SBOM scans")
	}

	for _, result := range summary.Results {
		if result.Failed() {
			summary.Passed = false
		}
	}

	if err := s.writeSummary(summary); err != nil {
		return summary, err
	}
	s.record(ctx, summary)

	if !summary.Passed {
		return summary, fmt.Errorf("security scan failed: %s", failedTools(summary))
	}
	return summary, nil
}

func (s *Scanner) writeSummary(summary *Summary) error {
	if err := os.MkdirAll(s.cfg.ReportsDir, 0o700); err != nil {
		return fmt.Errorf("create reports directory: %w", err)
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encode scan summary: %w", err)
	}
	path := filepath.Join(s.cfg.ReportsDir, "scan-summary-"+summary.Date+".json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write scan summary: %w", err)
	}
	return nil
}

func (s *Scanner) record(ctx context.Context, summary *Summary) {
	result := "success"
	severity := audit.SeverityLow
	if !summary.Passed {
		result = "failure"
		severity = audit.SeverityHigh
	}

	details := map[string]string{}
	for _, tool := range summary.Results {
		details[tool.Tool] = string(tool.Status)
	}

	event := audit.NewEvent(audit.TypeScan, severity, s.environment, "scan", "all", result)
	event.Details = details
	s.auditor.Record(ctx, event)

	if !summary.Passed {
		s.notifier.Publish(notify.Event{
			Type:        notify.EventScanFailed,
			Timestamp:   s.now().UTC(),
			Environment: s.environment,
			Success:     false,
			Error:       fmt.Errorf("scan gate failed: %s", failedTools(summary)),
			Details:     details,
		})
	}
}

func failedTools(summary *Summary) string {
	var names []string
	for _, result := range summary.Results {
		if result.Failed() {
			names = append(names, result.Tool)
		}
	}
	return strings.Join(names, ", ")
}

// writeReport persists raw scanner output under the reports directory.
func (s *Scanner) writeReport(name string, data []byte) (string, error) {
	if err := os.MkdirAll(s.cfg.ReportsDir, 0o700); err != nil {
		return "", fmt.Errorf("create reports directory: %w", err)
	}
	path := filepath.Join(s.cfg.ReportsDir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write report %s: %w", name, err)
	}
	return name, nil
}

// sanitizeImageName turns an image reference into a filename fragment.
func sanitizeImageName(image string) string {
	replacer := strings.NewReplacer("/", "-", ":", "-", "@", "-")
	return replacer.Replace(image)
}

func (s *Scanner) toolError(tool string, start time.Time, err error) ToolResult {
	return ToolResult{
		Tool:     tool,
		Status:   StatusError,
		Duration: time.Since(start).Seconds(),
		Error:    err.Error(),
	}
}

// severityRank orders severities for threshold comparison.
var severityRank = map[string]int{
	"UNKNOWN":  0,
	"LOW":      1,
	"MEDIUM":   2,
	"HIGH":     3,
	"CRITICAL": 4,
}

// severitiesAtOrAbove returns the comma-joined severities trivy should
// report for a threshold.
func severitiesAtOrAbove(threshold string) string {
	rank := severityRank[strings.ToUpper(threshold)]
	var out []string
	for _, severity := range []string{"LOW", "MEDIUM", "HIGH", "CRITICAL"} {
		if severityRank[severity] >= rank {
			out = append(out, severity)
		}
	}
	return strings.Join(out, ",")
}
