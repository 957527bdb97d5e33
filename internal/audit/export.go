package audit

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Export streams events recorded at or after since to w, oldest file
// first. Format is "json" (one event per line) or "csv". Lines that do
// not parse are skipped; run verify to find them. Returns the number of
// events written.
func Export(w io.Writer, dir string, since time.Time, format string) (int, error) {
	files, err := listDayFiles(dir)
	if err != nil {
		return 0, err
	}

	switch strings.ToLower(format) {
	case "", "json":
		return exportJSON(w, files, since)
	case "csv":
		return exportCSV(w, files, since)
	default:
		return 0, fmt.Errorf("unsupported export format: %s (must be json or csv)", format)
	}
}

func exportJSON(w io.Writer, files []string, since time.Time) (int, error) {
	count := 0
	err := eachEvent(files, since, func(line string, _ Event) error {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}

func exportCSV(w io.Writer, files []string, since time.Time) (int, error) {
	writer := csv.NewWriter(w)
	header := []string{"event_id", "timestamp", "event_type", "severity", "environment", "actor", "action", "resource", "result", "details"}
	if err := writer.Write(header); err != nil {
		return 0, err
	}

	count := 0
	err := eachEvent(files, since, func(_ string, event Event) error {
		row := []string{
			event.EventID,
			event.Timestamp.UTC().Format(time.RFC3339),
			string(event.EventType),
			string(event.Severity),
			event.Environment,
			event.Actor,
			event.Action,
			event.Resource,
			event.Result,
			flattenDetails(event.Details),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return count, err
	}
	writer.Flush()
	return count, writer.Error()
}

// eachEvent calls fn for every parseable event at or after since.
func eachEvent(files []string, since time.Time, fn func(line string, event Event) error) error {
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open audit file: %w", err)
		}

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var event Event
			if err := json.Unmarshal([]byte(line), &event); err != nil {
				continue
			}
			if !since.IsZero() && event.Timestamp.Before(since) {
				continue
			}
			if err := fn(line, event); err != nil {
				_ = f.Close()
				return err
			}
		}
		scanErr := scanner.Err()
		_ = f.Close()
		if scanErr != nil {
			return fmt.Errorf("failed to read %s: %w", path, scanErr)
		}
	}
	return nil
}

// flattenDetails renders a details map as stable k=v pairs for CSV.
func flattenDetails(details map[string]string) string {
	if len(details) == 0 {
		return ""
	}
	keys := make([]string, 0, len(details))
	for key := range details {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+strconv.Quote(details[key]))
	}
	return strings.Join(pairs, " ")
}
