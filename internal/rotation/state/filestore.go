package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
)

// recordSchema guards status records on every read and write so a
// corrupted or hand-edited file surfaces as an explicit error rather
// than a zero-valued record.
const recordSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["timestamp", "type", "environment", "success", "next_due"],
  "properties": {
    "timestamp": {"type": "string", "format": "date-time"},
    "type": {"type": "string", "minLength": 1},
    "environment": {"type": "string", "minLength": 1},
    "success": {"type": "boolean"},
    "secrets_rotated": {"type": ["array", "null"], "items": {"type": "string"}},
    "next_due": {"type": "string", "format": "date-time"},
    "rotation_count": {"type": "integer", "minimum": 0},
    "success_count": {"type": "integer", "minimum": 0},
    "failure_count": {"type": "integer", "minimum": 0},
    "last_error": {"type": "string"},
    "duration_ms": {"type": "integer", "minimum": 0}
  },
  "additionalProperties": false
}`

// historyTimeFormat is RFC 3339 with fixed-width fractional seconds, so
// directory listings sort chronologically and same-second entries do not
// collide.
const historyTimeFormat = "2006-01-02T15:04:05.000000000Z"

var (
	recordSchemaOnce sync.Once
	recordValidator  *gojsonschema.Schema
	recordSchemaErr  error
)

func compiledRecordSchema() (*gojsonschema.Schema, error) {
	recordSchemaOnce.Do(func() {
		recordValidator, recordSchemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(recordSchema))
	})
	return recordValidator, recordSchemaErr
}

func validateRecordJSON(data []byte, source string) error {
	schema, err := compiledRecordSchema()
	if err != nil {
		return fmt.Errorf("compile status record schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validate %s: %w", source, err)
	}
	if !result.Valid() {
		var messages []string
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}
		return fmt.Errorf("invalid status record %s:\n  - %s", source, strings.Join(messages, "\n  - "))
	}
	return nil
}

// FileStore implements Store on the local filesystem: one file per
// status record and grant, one file per history entry.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a file-backed store rooted at baseDir. The
// directory tree is created lazily on first write.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: baseDir}
}

// SaveRecord validates and writes the status record for the record's
// environment and type, replacing any previous one.
func (fs *FileStore) SaveRecord(rec *Record) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status record: %w", err)
	}
	if err := validateRecordJSON(data, fmt.Sprintf("for %s/%s", rec.Environment, rec.Type)); err != nil {
		return err
	}

	dir := filepath.Join(fs.baseDir, "status")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create status directory: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, statusFilename(rec.Environment, rec.Type)), data)
}

// GetRecord returns the status record for a type, or ErrNotFound when
// the type has never been rotated.
func (fs *FileStore) GetRecord(environment, secretType string) (*Record, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	path := filepath.Join(fs.baseDir, "status", statusFilename(environment, secretType))
	return readRecordFile(path)
}

// ListRecords returns all status records for an environment, sorted by
// type name. Environments with no records yield an empty slice.
func (fs *FileStore) ListRecords(environment string) ([]*Record, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	dir := filepath.Join(fs.baseDir, "status")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read status directory: %w", err)
	}

	prefix := sanitizeFilename(environment) + "-"
	var records []*Record
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || filepath.Ext(name) != ".json" {
			continue
		}
		rec, err := readRecordFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Type < records[j].Type })
	return records, nil
}

func readRecordFile(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read status file: %w", err)
	}
	if err := validateRecordJSON(data, path); err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal status file %s: %w", path, err)
	}
	return &rec, nil
}

// AppendHistory writes one history entry. A missing ID is filled with a
// fresh UUID.
func (fs *FileStore) AppendHistory(entry *HistoryEntry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	dir := filepath.Join(fs.baseDir, "history", historyDirname(entry.Environment, entry.Type))
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create history directory: %w", err)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	name := entry.Timestamp.UTC().Format(historyTimeFormat) + ".json"
	return writeFileAtomic(filepath.Join(dir, name), data)
}

// GetHistory returns history entries newest-first, up to limit entries
// (limit <= 0 means all). A type with no history yields an empty slice.
func (fs *FileStore) GetHistory(environment, secretType string, limit int) ([]*HistoryEntry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	dir := filepath.Join(fs.baseDir, "history", historyDirname(environment, secretType))
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read history directory: %w", err)
	}

	// Filenames are fixed-width UTC timestamps, so reverse name order is
	// newest-first.
	sort.Slice(files, func(i, j int) bool { return files[i].Name() > files[j].Name() })

	var entries []*HistoryEntry
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			continue
		}
		var entry HistoryEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
		if limit > 0 && len(entries) >= limit {
			break
		}
	}
	return entries, nil
}

// SaveGrant records a manual approval, replacing any existing grant for
// the same environment and type.
func (fs *FileStore) SaveGrant(g *Grant) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir := filepath.Join(fs.baseDir, "approvals")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create approvals directory: %w", err)
	}
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal grant: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, grantFilename(g.Environment, g.Type)), data)
}

// GetGrant returns the stored grant for a type, or ErrNotFound.
func (fs *FileStore) GetGrant(environment, secretType string) (*Grant, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	path := filepath.Join(fs.baseDir, "approvals", grantFilename(environment, secretType))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read grant file: %w", err)
	}
	var g Grant
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("unmarshal grant file %s: %w", path, err)
	}
	return &g, nil
}

// DeleteGrant removes a grant. Deleting a grant that does not exist is
// not an error.
func (fs *FileStore) DeleteGrant(environment, secretType string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path := filepath.Join(fs.baseDir, "approvals", grantFilename(environment, secretType))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove grant file: %w", err)
	}
	return nil
}

// writeFileAtomic writes through a temp file in the target directory and
// renames it into place, so a crash mid-write never leaves a truncated
// record behind.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func statusFilename(environment, secretType string) string {
	return fmt.Sprintf("%s-%s.json", sanitizeFilename(environment), sanitizeFilename(secretType))
}

func historyDirname(environment, secretType string) string {
	return fmt.Sprintf("%s-%s", sanitizeFilename(environment), sanitizeFilename(secretType))
}

func grantFilename(environment, secretType string) string {
	return fmt.Sprintf("%s-%s.json", sanitizeFilename(environment), sanitizeFilename(secretType))
}

// sanitizeFilename replaces characters that might be problematic in
// filenames.
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "-",
		"?", "-",
		"\"", "-",
		"<", "-",
		">", "-",
		"|", "-",
		" ", "_",
	)
	return replacer.Replace(name)
}
