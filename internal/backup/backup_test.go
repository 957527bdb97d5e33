package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gameforge/gfops/internal/audit"
	"github.com/gameforge/gfops/internal/config"
	"github.com/gameforge/gfops/internal/logging"
	"github.com/gameforge/gfops/tests/testutil"
)

type fakeBackupRedis struct {
	mu       sync.Mutex
	lastSave int64
	saved    bool
	bgErr    error
	closed   bool
}

func (f *fakeBackupRedis) BgSave(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bgErr != nil {
		return "", f.bgErr
	}
	f.saved = true
	return "Background saving started", nil
}

func (f *fakeBackupRedis) LastSave(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved {
		return f.lastSave + 1, nil
	}
	return f.lastSave, nil
}

func (f *fakeBackupRedis) Close() error {
	f.closed = true
	return nil
}

type captureSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Write(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func newTestRunner(t *testing.T) (*Runner, *testutil.MockCommandExecutor, *testutil.FakeVault, *captureSink) {
	t.Helper()

	dir := t.TempDir()
	dumpPath := filepath.Join(dir, "dump.rdb")
	require.NoError(t, os.WriteFile(dumpPath, []byte("REDIS0011fake-rdb-payload"), 0o600))

	executor := testutil.NewMockCommandExecutor()
	executor.AddResponse("pg_dump", testutil.PGDumpMockResponses{}.Dump())

	store := testutil.NewFakeVault()
	store.Seed("production/database/admin", map[string]interface{}{"password": "pg-admin-pass"})
	store.Seed("production/internal/redis", map[string]interface{}{"password": "redis-pass", "addr": "localhost:6379"})

	cfg := config.BackupConfig{
		OutputDir:     filepath.Join(dir, "backups"),
		Postgres:      config.PostgresBackup{Host: "db.internal", Port: 5433, User: "gameforge", Database: "gameforge"},
		RedisAddr:     "localhost:6379",
		RedisDumpPath: dumpPath,
	}

	runner := NewRunner(cfg, "production", store, executor, nil, logging.New(false, true))
	runner.redisDial = func(addr, password string) RedisBackupConn { return &fakeBackupRedis{} }
	runner.sleep = func(context.Context, time.Duration) error { return nil }

	sink := &captureSink{}
	runner.SetAuditor(audit.NewRecorder([]audit.Sink{sink}, nil))
	return runner, executor, store, sink
}

func TestRunProducesCompleteSet(t *testing.T) {
	t.Parallel()

	runner, executor, _, sink := newTestRunner(t)

	manifest, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, manifest.Success)
	require.Len(t, manifest.Components, 2)
	for _, component := range manifest.Components {
		assert.True(t, component.Success)
		assert.NotEmpty(t, component.SHA256)
		assert.Greater(t, component.SizeBytes, int64(0))
	}

	setDir := filepath.Join(runner.cfg.OutputDir, manifest.Timestamp)
	assert.FileExists(t, filepath.Join(setDir, "postgres.sql.gz"))
	assert.FileExists(t, filepath.Join(setDir, "redis.rdb"))
	assert.FileExists(t, filepath.Join(setDir, ManifestName))

	info, err := os.Stat(filepath.Join(setDir, ManifestName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.Len(t, sink.events, 1)
	assert.Equal(t, audit.TypeBackup, sink.events[0].EventType)
	assert.Equal(t, "success", sink.events[0].Result)

	calls := executor.GetCalls("pg_dump")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Env, "PGPASSWORD=pg-admin-pass")
	for _, arg := range calls[0].Args {
		assert.NotContains(t, arg, "pg-admin-pass")
	}
	assert.Contains(t, calls[0].Args, "db.internal")
	assert.Contains(t, calls[0].Args, "5433")
}

func TestRunUploadsToS3(t *testing.T) {
	t.Parallel()

	runner, _, _, _ := newTestRunner(t)
	api := newFakeS3()
	runner.uploader = NewUploaderWithAPI(api, "gameforge-backups", "backups")

	manifest, err := runner.Run(context.Background())
	require.NoError(t, err)

	prefix := "backups/production/" + manifest.Timestamp + "/"
	assert.Contains(t, api.objects, prefix+"postgres.sql.gz")
	assert.Contains(t, api.objects, prefix+"redis.rdb")
	assert.Contains(t, api.objects, prefix+ManifestName)
}

func TestRunPartialWhenS3Fails(t *testing.T) {
	t.Parallel()

	runner, _, _, _ := newTestRunner(t)
	api := newFakeS3()
	api.putErr = errors.New("AccessDenied")
	runner.uploader = NewUploaderWithAPI(api, "gameforge-backups", "backups")

	manifest, err := runner.Run(context.Background())

	require.Error(t, err)
	assert.False(t, manifest.Success)
}

func TestRunPartialWhenPostgresFails(t *testing.T) {
	t.Parallel()

	runner, executor, _, sink := newTestRunner(t)
	executor.AddErrorResponse("pg_dump", "connection refused", errors.New("exit status 1"))

	manifest, err := runner.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "partial")
	require.NotNil(t, manifest)
	assert.False(t, manifest.Success)

	// Redis still ran despite the postgres failure.
	var redisComponent *Component
	for i := range manifest.Components {
		if manifest.Components[i].Name == "redis" {
			redisComponent = &manifest.Components[i]
		}
	}
	require.NotNil(t, redisComponent)
	assert.True(t, redisComponent.Success)

	require.Len(t, sink.events, 1)
	assert.Equal(t, "failure", sink.events[0].Result)
	// Audit details carry the error, never the password.
	assert.NotContains(t, sink.events[0].Details["postgres"], "pg-admin-pass")
}

func TestRunNothingConfigured(t *testing.T) {
	t.Parallel()

	runner, _, _, _ := newTestRunner(t)
	runner.cfg.Postgres.Database = ""
	runner.cfg.RedisAddr = ""

	_, err := runner.Run(context.Background())

	assert.Error(t, err)
}

func TestRunRedisWithoutStoredPassword(t *testing.T) {
	t.Parallel()

	runner, _, _, _ := newTestRunner(t)
	runner.cfg.Postgres.Database = ""

	var dialedPassword string
	runner.redisDial = func(addr, password string) RedisBackupConn {
		dialedPassword = password
		return &fakeBackupRedis{}
	}

	store := testutil.NewFakeVault()
	store.Seed("production/database/admin", map[string]interface{}{"password": "x"})
	runner.store = store

	manifest, err := runner.Run(context.Background())

	require.NoError(t, err)
	assert.True(t, manifest.Success)
	assert.Empty(t, dialedPassword)
}

func TestRunRedisBgsaveFails(t *testing.T) {
	t.Parallel()

	runner, _, _, _ := newTestRunner(t)
	runner.cfg.Postgres.Database = ""
	runner.redisDial = func(addr, password string) RedisBackupConn {
		return &fakeBackupRedis{bgErr: errors.New("MISCONF Redis is configured to save RDB snapshots")}
	}

	manifest, err := runner.Run(context.Background())

	require.Error(t, err)
	assert.False(t, manifest.Success)
	assert.Contains(t, manifest.Components[0].Error, "BGSAVE")
}

func TestVerifySetClean(t *testing.T) {
	t.Parallel()

	runner, _, _, _ := newTestRunner(t)
	manifest, err := runner.Run(context.Background())
	require.NoError(t, err)

	problems, err := VerifySet(runner.cfg.OutputDir, manifest.Timestamp)

	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestVerifySetDetectsTampering(t *testing.T) {
	t.Parallel()

	runner, _, _, _ := newTestRunner(t)
	manifest, err := runner.Run(context.Background())
	require.NoError(t, err)

	setDir := filepath.Join(runner.cfg.OutputDir, manifest.Timestamp)
	require.NoError(t, os.WriteFile(filepath.Join(setDir, "postgres.sql.gz"), []byte("corrupted"), 0o600))

	problems, err := VerifySet(runner.cfg.OutputDir, manifest.Timestamp)

	require.NoError(t, err)
	require.NotEmpty(t, problems)
	var messages []string
	for _, problem := range problems {
		assert.Equal(t, "postgres", problem.Component)
		messages = append(messages, problem.Message)
	}
	assert.Contains(t, strings.Join(messages, "; "), "checksum mismatch")
}

func TestVerifySetMissingFile(t *testing.T) {
	t.Parallel()

	runner, _, _, _ := newTestRunner(t)
	manifest, err := runner.Run(context.Background())
	require.NoError(t, err)

	setDir := filepath.Join(runner.cfg.OutputDir, manifest.Timestamp)
	require.NoError(t, os.Remove(filepath.Join(setDir, "redis.rdb")))

	problems, err := VerifySet(runner.cfg.OutputDir, manifest.Timestamp)

	require.NoError(t, err)
	require.Len(t, problems, 1)
	assert.Equal(t, "redis", problems[0].Component)
}

func TestListLocal(t *testing.T) {
	t.Parallel()

	runner, _, _, _ := newTestRunner(t)
	manifest, err := runner.Run(context.Background())
	require.NoError(t, err)

	sets, err := ListLocal(runner.cfg.OutputDir)

	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, manifest.Timestamp, sets[0].Timestamp)
	assert.True(t, sets[0].Success)
	assert.Equal(t, 2, sets[0].Components)
	assert.Greater(t, sets[0].SizeBytes, int64(0))
}

func TestListLocalMissingDir(t *testing.T) {
	t.Parallel()

	sets, err := ListLocal(filepath.Join(t.TempDir(), "nope"))

	require.NoError(t, err)
	assert.Empty(t, sets)
}

func TestPruneDeletesOldSets(t *testing.T) {
	t.Parallel()

	runner, _, _, sink := newTestRunner(t)

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	runner.now = func() time.Time { return now }

	makeSet := func(created time.Time) string {
		timestamp := created.Format(setTimestampLayout)
		setDir := filepath.Join(runner.cfg.OutputDir, timestamp)
		require.NoError(t, os.MkdirAll(setDir, 0o700))
		require.NoError(t, writeManifest(setDir, &Manifest{
			Timestamp: timestamp, Environment: "production", CreatedAt: created, Success: true,
		}))
		return timestamp
	}

	oldSet := makeSet(now.AddDate(0, 0, -45))
	newSet := makeSet(now.AddDate(0, 0, -5))

	result, err := runner.Prune(context.Background(), false)

	require.NoError(t, err)
	assert.Equal(t, []string{oldSet}, result.Local)
	assert.NoDirExists(t, filepath.Join(runner.cfg.OutputDir, oldSet))
	assert.DirExists(t, filepath.Join(runner.cfg.OutputDir, newSet))

	require.Len(t, sink.events, 1)
	assert.Equal(t, "prune", sink.events[0].Action)
}

func TestPruneDryRun(t *testing.T) {
	t.Parallel()

	runner, _, _, sink := newTestRunner(t)

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	runner.now = func() time.Time { return now }

	old := now.AddDate(0, 0, -45)
	timestamp := old.Format(setTimestampLayout)
	setDir := filepath.Join(runner.cfg.OutputDir, timestamp)
	require.NoError(t, os.MkdirAll(setDir, 0o700))
	require.NoError(t, writeManifest(setDir, &Manifest{Timestamp: timestamp, CreatedAt: old, Success: true}))

	result, err := runner.Prune(context.Background(), true)

	require.NoError(t, err)
	assert.Equal(t, []string{timestamp}, result.Local)
	assert.DirExists(t, setDir)
	assert.Empty(t, sink.events)
}
