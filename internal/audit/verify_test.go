package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink := NewFileSink(dir)

	rotation := validRotationEvent()
	rotation.Timestamp = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, sink.Write(context.Background(), rotation))

	backup := NewEvent(TypeBackup, SeverityMedium, "production", "backup_run", "postgres", "success")
	backup.Timestamp = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	require.NoError(t, sink.Write(context.Background(), backup))

	// Two bad lines: one that is not JSON, one that fails the schema.
	path := filepath.Join(dir, "audit-2025-03-14.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("not json at all\n{\"event_id\": \"nope\"}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	report, err := VerifyDir(dir)
	require.NoError(t, err)

	assert.Equal(t, 1, report.FilesScanned)
	assert.Equal(t, 2, report.ValidEvents)
	assert.Equal(t, 1, report.ByType["rotation"])
	assert.Equal(t, 1, report.ByType["backup"])
	assert.Equal(t, 1, report.BySeverity["high"])
	assert.Equal(t, 1, report.BySeverity["medium"])

	require.Len(t, report.Malformed, 2)
	assert.False(t, report.Clean())
	assert.Equal(t, "audit-2025-03-14.jsonl", report.Malformed[0].File)
	assert.Equal(t, 3, report.Malformed[0].Line)
	assert.Equal(t, 4, report.Malformed[1].Line)
}

func TestVerifyDir_MissingDirIsClean(t *testing.T) {
	t.Parallel()

	report, err := VerifyDir(filepath.Join(t.TempDir(), "never-created"))
	require.NoError(t, err)
	assert.Equal(t, 0, report.FilesScanned)
	assert.True(t, report.Clean())
}

func TestVerifyDir_IgnoresForeignFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("notes"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "audit-not-a-date.jsonl"), []byte("x"), 0600))

	report, err := VerifyDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 0, report.FilesScanned)
}

func TestParseDayFileDate(t *testing.T) {
	t.Parallel()

	day, ok := parseDayFileDate("audit-2025-03-14.jsonl")
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), day)

	_, ok = parseDayFileDate("audit-2025-03-14.json")
	assert.False(t, ok)
	_, ok = parseDayFileDate("other-2025-03-14.jsonl")
	assert.False(t, ok)
}
