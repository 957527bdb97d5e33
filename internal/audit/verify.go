package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// maxLineSize bounds one audit line when re-reading day files.
const maxLineSize = 1 << 20

// MalformedLine points at a day-file line that failed validation.
type MalformedLine struct {
	File string
	Line int
	Err  string
}

// VerifyReport summarizes a full re-validation of the audit trail.
type VerifyReport struct {
	FilesScanned int
	ValidEvents  int
	ByType       map[string]int
	BySeverity   map[string]int
	Malformed    []MalformedLine
}

// Clean reports whether every line in every file validated.
func (r *VerifyReport) Clean() bool {
	return len(r.Malformed) == 0
}

// VerifyDir re-validates every line of every day file under dir. A
// missing directory is an empty (clean) trail, not an error.
func VerifyDir(dir string) (*VerifyReport, error) {
	report := &VerifyReport{
		ByType:     make(map[string]int),
		BySeverity: make(map[string]int),
	}

	files, err := listDayFiles(dir)
	if err != nil {
		return nil, err
	}

	for _, path := range files {
		if err := verifyFile(path, report); err != nil {
			return nil, err
		}
		report.FilesScanned++
	}
	return report, nil
}

func verifyFile(path string, report *VerifyReport) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	defer func() { _ = f.Close() }()

	base := filepath.Base(path)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			report.Malformed = append(report.Malformed, MalformedLine{File: base, Line: lineNo, Err: err.Error()})
			continue
		}
		if err := Validate(event); err != nil {
			report.Malformed = append(report.Malformed, MalformedLine{File: base, Line: lineNo, Err: err.Error()})
			continue
		}

		report.ValidEvents++
		report.ByType[string(event.EventType)]++
		report.BySeverity[string(event.Severity)]++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", base, err)
	}
	return nil
}

// listDayFiles returns the day files under dir, oldest first. A missing
// directory yields an empty list.
func listDayFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read audit directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := parseDayFileDate(entry.Name()); !ok {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// parseDayFileDate extracts the UTC day from a file named
// audit-YYYY-MM-DD.jsonl.
func parseDayFileDate(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, "audit-") || !strings.HasSuffix(name, ".jsonl") {
		return time.Time{}, false
	}
	day := strings.TrimSuffix(strings.TrimPrefix(name, "audit-"), ".jsonl")
	t, err := time.Parse("2006-01-02", day)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
