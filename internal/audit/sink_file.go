package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// dayFileFormat names one day's JSONL file, e.g. audit-2025-03-14.jsonl.
const dayFileFormat = "audit-%s.jsonl"

// FileSink appends events to one JSONL file per UTC day. Files are 0600
// and never rewritten; retention is handled by Prune, not the sink.
type FileSink struct {
	dir string
	mu  sync.Mutex
}

// NewFileSink creates a sink writing under dir.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// Name identifies the sink in warning logs.
func (s *FileSink) Name() string {
	return "file"
}

// Dir returns the directory day files are written to.
func (s *FileSink) Dir() string {
	return s.dir
}

// Write appends the event to the day file for its timestamp.
func (s *FileSink) Write(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	day := event.Timestamp.UTC().Format("2006-01-02")
	path := filepath.Join(s.dir, fmt.Sprintf(dayFileFormat, day))

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := fmt.Fprintf(f, "%s\n", data); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}
