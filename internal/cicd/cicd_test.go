package cicd

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gameforge/gfops/internal/audit"
	"github.com/gameforge/gfops/internal/config"
	"github.com/gameforge/gfops/internal/logging"
	"github.com/gameforge/gfops/internal/secure"
	"github.com/gameforge/gfops/tests/testutil"
)

type fakeTarget struct {
	mu     sync.Mutex
	name   string
	pushed map[string]string
	err    error
}

func newFakeTarget(name string) *fakeTarget {
	return &fakeTarget{name: name, pushed: make(map[string]string)}
}

func (f *fakeTarget) Name() string { return f.name }

func (f *fakeTarget) Push(_ context.Context, name string, value *secure.Buffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	return value.WithBytes(func(b []byte) error {
		f.pushed[name] = string(b)
		return nil
	})
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

func newTestSyncer(t *testing.T) (*Syncer, *testutil.FakeVault, *captureSink) {
	t.Helper()

	store := testutil.NewFakeVault()
	store.Seed("production/app/credentials", map[string]interface{}{
		"api_key":    "live-api-key",
		"jwt_secret": "live-jwt-secret",
	})

	cfg := config.SyncConfig{
		Secrets: []config.SecretToSync{
			{VaultPath: "production/app/credentials#api_key", TargetName: "PROD_API_KEY", Targets: []string{"github", "gitlab"}},
			{VaultPath: "production/app/credentials#jwt_secret", TargetName: "PROD_JWT_SECRET", Targets: []string{"aws"}},
		},
	}

	syncer := NewSyncer(cfg, "production", store, logging.New(false, true))
	sink := &captureSink{}
	syncer.SetAuditor(audit.NewRecorder([]audit.Sink{sink}, nil))
	return syncer, store, sink
}

func TestSyncPushesAllMappings(t *testing.T) {
	t.Parallel()

	syncer, _, sink := newTestSyncer(t)
	github := newFakeTarget("github")
	gitlab := newFakeTarget("gitlab")
	aws := newFakeTarget("aws")
	syncer.Register(github)
	syncer.Register(gitlab)
	syncer.Register(aws)

	results, err := syncer.Sync(context.Background(), nil)

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "live-api-key", github.pushed["PROD_API_KEY"])
	assert.Equal(t, "live-api-key", gitlab.pushed["PROD_API_KEY"])
	assert.Equal(t, "live-jwt-secret", aws.pushed["PROD_JWT_SECRET"])

	// One audit event per push, names only.
	require.Len(t, sink.events, 3)
	for _, event := range sink.events {
		assert.Equal(t, audit.TypeSync, event.EventType)
		assert.Equal(t, "success", event.Result)
		assert.Equal(t, "production/app/credentials", event.Details["vault_path"])
		for _, value := range event.Details {
			assert.NotContains(t, value, "live-api-key")
			assert.NotContains(t, value, "live-jwt-secret")
		}
	}
}

func TestSyncTargetFilter(t *testing.T) {
	t.Parallel()

	syncer, _, _ := newTestSyncer(t)
	github := newFakeTarget("github")
	gitlab := newFakeTarget("gitlab")
	syncer.Register(github)
	syncer.Register(gitlab)

	results, err := syncer.Sync(context.Background(), []string{"github"})

	require.NoError(t, err)
	assert.Equal(t, "live-api-key", github.pushed["PROD_API_KEY"])
	assert.Empty(t, gitlab.pushed)

	// The aws-only mapping produced no pushes under the filter.
	assert.Empty(t, results[1].Pushes)
}

func TestSyncUnconfiguredTarget(t *testing.T) {
	t.Parallel()

	syncer, _, sink := newTestSyncer(t)
	syncer.Register(newFakeTarget("github"))
	syncer.Register(newFakeTarget("aws"))

	results, err := syncer.Sync(context.Background(), nil)

	require.Error(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Failed())

	var failures int
	for _, event := range sink.events {
		if event.Result == "failure" {
			failures++
		}
	}
	assert.Equal(t, 1, failures)
}

func TestSyncPushFailure(t *testing.T) {
	t.Parallel()

	syncer, _, _ := newTestSyncer(t)
	github := newFakeTarget("github")
	github.err = errors.New("403 Forbidden")
	syncer.Register(github)
	syncer.Register(newFakeTarget("gitlab"))
	syncer.Register(newFakeTarget("aws"))

	results, err := syncer.Sync(context.Background(), nil)

	require.Error(t, err)
	assert.True(t, results[0].Failed())
	// The gitlab push of the same mapping still went through.
	require.Len(t, results[0].Pushes, 2)
	assert.Error(t, results[0].Pushes[0].Err)
	assert.NoError(t, results[0].Pushes[1].Err)
}

func TestSyncVaultReadFails(t *testing.T) {
	t.Parallel()

	syncer, store, _ := newTestSyncer(t)
	store.ReadErr = errors.New("permission denied")
	syncer.Register(newFakeTarget("github"))
	syncer.Register(newFakeTarget("gitlab"))
	syncer.Register(newFakeTarget("aws"))

	results, err := syncer.Sync(context.Background(), nil)

	require.Error(t, err)
	for _, result := range results {
		assert.True(t, result.Failed())
	}
}

func TestSyncNoMappings(t *testing.T) {
	t.Parallel()

	syncer := NewSyncer(config.SyncConfig{}, "production", testutil.NewFakeVault(), logging.New(false, true))

	_, err := syncer.Sync(context.Background(), nil)

	assert.Error(t, err)
}

func TestRegisterFromConfigSkipsMissingTokens(t *testing.T) {
	// Mutates process env; no t.Parallel.
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("GITLAB_TOKEN", "glpat-test")

	cfg := config.SyncConfig{
		GitHub: config.GitHubSync{Owner: "gameforge", Repo: "platform"},
		GitLab: config.GitLabSync{ProjectID: "1234"},
	}
	syncer := NewSyncer(cfg, "production", testutil.NewFakeVault(), logging.New(false, true))

	require.NoError(t, syncer.RegisterFromConfig(context.Background()))

	assert.Equal(t, []string{"gitlab"}, syncer.Targets())
}
