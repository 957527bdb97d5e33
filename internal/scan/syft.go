package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	osexec "os/exec"
	"strings"

	gferrors "github.com/gameforge/gfops/internal/errors"
	"github.com/gameforge/gfops/pkg/exec"
)

// cycloneDXDocument is the slice of a CycloneDX SBOM we consume.
type cycloneDXDocument struct {
	BOMFormat  string `json:"bomFormat"`
	Components []struct {
		Type    string `json:"type"`
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"components"`
}

// SBOM generates a CycloneDX SBOM for the configured image with syft.
// SBOM generation never gates the scan; an execution error does.
func (s *Scanner) SBOM(ctx context.Context) ToolResult {
	start := s.now()

	stdout, stderr, err := s.executor.Execute(ctx, "syft", s.cfg.Image, "-o", "cyclonedx-json")
	duration := s.now().Sub(start).Seconds()

	if err != nil {
		if errors.Is(err, osexec.ErrNotFound) {
			return s.toolError("syft", start, gferrors.WrapCommandNotFound("syft", err))
		}
		return s.toolError("syft", start, gferrors.CommandError{
			Command:  "syft",
			ExitCode: exec.ExitCode(err),
			Stderr:   strings.TrimSpace(string(stderr)),
			Err:      err,
		})
	}

	var doc cycloneDXDocument
	if err := json.Unmarshal(stdout, &doc); err != nil {
		return s.toolError("syft", start, fmt.Errorf("parse syft output: %w", err))
	}
	if doc.BOMFormat != "CycloneDX" {
		return s.toolError("syft", start, fmt.Errorf("unexpected SBOM format %q", doc.BOMFormat))
	}

	reportFile, err := s.writeReport(
		fmt.Sprintf("sbom-%s-%s.json", sanitizeImageName(s.cfg.Image), s.now().UTC().Format("2006-01-02")), stdout)
	if err != nil {
		return s.toolError("syft", start, err)
	}

	s.logger.Success("syft: SBOM with %d components written to %s", len(doc.Components), reportFile)
	return ToolResult{
		Tool:       "syft",
		Status:     StatusPassed,
		Counts:     map[string]int{"components": len(doc.Components)},
		ReportFile: reportFile,
		Duration:   duration,
	}
}
