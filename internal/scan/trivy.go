package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	osexec "os/exec"
	"strings"

	gferrors "github.com/gameforge/gfops/internal/errors"
	"github.com/gameforge/gfops/internal/metrics"
	"github.com/gameforge/gfops/pkg/exec"
)

// trivyReport is the slice of trivy's JSON output we consume.
type trivyReport struct {
	Results []struct {
		Target          string `json:"Target"`
		Vulnerabilities []struct {
			VulnerabilityID string `json:"VulnerabilityID"`
			Severity        string `json:"Severity"`
			PkgName         string `json:"PkgName"`
		} `json:"Vulnerabilities"`
	} `json:"Results"`
}

// Image runs trivy against the configured image and gates on the
// severity threshold. The raw JSON report is stored for later review.
func (s *Scanner) Image(ctx context.Context) ToolResult {
	start := s.now()

	stdout, stderr, err := s.executor.Execute(ctx, "trivy",
		"image", "--format", "json", "--severity", severitiesAtOrAbove(s.cfg.SeverityThreshold), s.cfg.Image)
	duration := s.now().Sub(start).Seconds()

	if err != nil {
		if errors.Is(err, osexec.ErrNotFound) {
			return s.toolError("trivy", start, gferrors.WrapCommandNotFound("trivy", err))
		}
		return s.toolError("trivy", start, gferrors.CommandError{
			Command:  "trivy",
			ExitCode: exec.ExitCode(err),
			Stderr:   strings.TrimSpace(string(stderr)),
			Err:      err,
		})
	}

	var report trivyReport
	if err := json.Unmarshal(stdout, &report); err != nil {
		return s.toolError("trivy", start, fmt.Errorf("parse trivy output: %w", err))
	}

	counts := map[string]int{}
	gated := 0
	thresholdRank := severityRank[s.cfg.SeverityThreshold]
	for _, result := range report.Results {
		for _, vuln := range result.Vulnerabilities {
			severity := strings.ToUpper(vuln.Severity)
			counts[severity]++
			if severityRank[severity] >= thresholdRank {
				gated++
			}
		}
	}
	for severity, count := range counts {
		metrics.SetScanFindings("trivy", strings.ToLower(severity), float64(count))
	}

	reportFile, err := s.writeReport(
		fmt.Sprintf("trivy-%s-%s.json", sanitizeImageName(s.cfg.Image), s.now().UTC().Format("2006-01-02")), stdout)
	if err != nil {
		return s.toolError("trivy", start, err)
	}

	result := ToolResult{
		Tool:       "trivy",
		Status:     StatusPassed,
		Counts:     counts,
		ReportFile: reportFile,
		Duration:   duration,
	}
	if gated > 0 {
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("%d finding(s) at or above %s", gated, s.cfg.SeverityThreshold)
		s.logger.Error("trivy: %s", result.Error)
	} else {
		s.logger.Success("trivy: no findings at or above %s", s.cfg.SeverityThreshold)
	}
	return result
}
