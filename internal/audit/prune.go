package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Retention defaults, in days. Seven years for the ordinary trail, ten
// for day files containing critical events.
const (
	DefaultRetentionDays  = 2555
	CriticalRetentionDays = 3650
)

// PruneResult reports what a prune pass did.
type PruneResult struct {
	// Removed lists deleted day files (base names).
	Removed []string

	// KeptCritical lists files past normal retention that were kept
	// because they contain critical events.
	KeptCritical []string

	// Scanned is the total number of day files considered.
	Scanned int
}

// Prune deletes day files older than retentionDays, except files that
// contain at least one critical event, which are kept for
// CriticalRetentionDays. retentionDays <= 0 uses the default.
func Prune(dir string, now time.Time, retentionDays int) (*PruneResult, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	criticalDays := CriticalRetentionDays
	if retentionDays > criticalDays {
		criticalDays = retentionDays
	}

	files, err := listDayFiles(dir)
	if err != nil {
		return nil, err
	}

	result := &PruneResult{Scanned: len(files)}
	for _, path := range files {
		base := filepath.Base(path)
		day, ok := parseDayFileDate(base)
		if !ok {
			continue
		}

		ageDays := int(now.UTC().Sub(day).Hours() / 24)
		if ageDays <= retentionDays {
			continue
		}

		critical, err := fileHasCritical(path)
		if err != nil {
			return nil, err
		}
		if critical && ageDays <= criticalDays {
			result.KeptCritical = append(result.KeptCritical, base)
			continue
		}

		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("failed to remove %s: %w", base, err)
		}
		result.Removed = append(result.Removed, base)
	}
	return result, nil
}

// fileHasCritical reports whether any line in the file carries critical
// severity. Unparseable lines are ignored; they cannot raise severity.
func fileHasCritical(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to open audit file: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var probe struct {
			Severity Severity `json:"severity"`
		}
		if err := json.Unmarshal([]byte(line), &probe); err != nil {
			continue
		}
		if probe.Severity == SeverityCritical {
			return true, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return false, nil
}
