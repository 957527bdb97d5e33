package alertd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gameforge/gfops/internal/audit"
	"github.com/gameforge/gfops/internal/config"
	"github.com/gameforge/gfops/internal/logging"
	"github.com/gameforge/gfops/tests/testutil"
)

func firingAlert(service string) Alert {
	return Alert{
		Status: StatusFiring,
		Labels: map[string]string{
			"alertname": "ServiceDown",
			"severity":  "critical",
			"service":   service,
		},
	}
}

func newTestRemediator(t *testing.T, cfg config.RemediationConfig) (*Remediator, *testutil.MockCommandExecutor, *captureSink) {
	t.Helper()

	executor := testutil.NewMockCommandExecutor()
	executor.AddResponse("docker compose restart", testutil.MockResponse{})

	r := NewRemediator(cfg, "production", executor, logging.New(false, true))
	sink := &captureSink{}
	r.SetAuditor(audit.NewRecorder([]audit.Sink{sink}, nil))
	return r, executor, sink
}

func TestRemediatorRestartsAllowedService(t *testing.T) {
	t.Parallel()

	r, executor, sink := newTestRemediator(t, config.RemediationConfig{
		Enabled:  true,
		Services: []string{"game-server", "matchmaker"},
	})

	restarted, err := r.Handle(context.Background(), firingAlert("game-server"))

	require.NoError(t, err)
	assert.True(t, restarted)

	calls := executor.GetCalls("docker")
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"compose", "restart", "game-server"}, calls[0].Args)

	require.Len(t, sink.events, 1)
	assert.Equal(t, audit.TypeRemediation, sink.events[0].EventType)
	assert.Equal(t, "restart", sink.events[0].Action)
	assert.Equal(t, "game-server", sink.events[0].Resource)
	assert.Equal(t, "success", sink.events[0].Result)
}

func TestRemediatorHonorsCooldown(t *testing.T) {
	t.Parallel()

	r, executor, _ := newTestRemediator(t, config.RemediationConfig{
		Enabled:  true,
		Services: []string{"game-server"},
	})

	clock := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	restarted, err := r.Handle(context.Background(), firingAlert("game-server"))
	require.NoError(t, err)
	require.True(t, restarted)

	// Five minutes later, still inside the default ten-minute window.
	clock = clock.Add(5 * time.Minute)
	restarted, err = r.Handle(context.Background(), firingAlert("game-server"))
	require.NoError(t, err)
	assert.False(t, restarted)
	assert.Equal(t, 1, executor.CallCount())

	// Past the window the restart runs again.
	clock = clock.Add(6 * time.Minute)
	restarted, err = r.Handle(context.Background(), firingAlert("game-server"))
	require.NoError(t, err)
	assert.True(t, restarted)
	assert.Equal(t, 2, executor.CallCount())
}

func TestRemediatorCooldownIsPerService(t *testing.T) {
	t.Parallel()

	r, executor, _ := newTestRemediator(t, config.RemediationConfig{
		Enabled:  true,
		Services: []string{"game-server", "matchmaker"},
	})

	restarted, err := r.Handle(context.Background(), firingAlert("game-server"))
	require.NoError(t, err)
	require.True(t, restarted)

	restarted, err = r.Handle(context.Background(), firingAlert("matchmaker"))
	require.NoError(t, err)
	assert.True(t, restarted)
	assert.Equal(t, 2, executor.CallCount())
}

func TestRemediatorSkipsUnlistedService(t *testing.T) {
	t.Parallel()

	r, executor, sink := newTestRemediator(t, config.RemediationConfig{
		Enabled:  true,
		Services: []string{"game-server"},
	})

	restarted, err := r.Handle(context.Background(), firingAlert("postgres"))

	require.NoError(t, err)
	assert.False(t, restarted)
	assert.Zero(t, executor.CallCount())
	assert.Empty(t, sink.events)
}

func TestRemediatorDisabled(t *testing.T) {
	t.Parallel()

	r, executor, _ := newTestRemediator(t, config.RemediationConfig{
		Services: []string{"game-server"},
	})

	restarted, err := r.Handle(context.Background(), firingAlert("game-server"))

	require.NoError(t, err)
	assert.False(t, restarted)
	assert.Zero(t, executor.CallCount())
}

func TestRemediatorSkipsResolvedAlert(t *testing.T) {
	t.Parallel()

	r, executor, _ := newTestRemediator(t, config.RemediationConfig{
		Enabled:  true,
		Services: []string{"game-server"},
	})

	alert := firingAlert("game-server")
	alert.Status = StatusResolved
	restarted, err := r.Handle(context.Background(), alert)

	require.NoError(t, err)
	assert.False(t, restarted)
	assert.Zero(t, executor.CallCount())
}

func TestRemediatorSkipsAlertWithoutService(t *testing.T) {
	t.Parallel()

	r, executor, _ := newTestRemediator(t, config.RemediationConfig{
		Enabled:  true,
		Services: []string{"game-server"},
	})

	alert := firingAlert("")
	delete(alert.Labels, "service")
	restarted, err := r.Handle(context.Background(), alert)

	require.NoError(t, err)
	assert.False(t, restarted)
	assert.Zero(t, executor.CallCount())
}

func TestRemediatorRestartFails(t *testing.T) {
	t.Parallel()

	r, executor, sink := newTestRemediator(t, config.RemediationConfig{
		Enabled:  true,
		Services: []string{"game-server"},
	})
	executor.AddErrorResponse("docker compose restart", "no such service: game-server", &testutil.ExitError{Code: 1})

	restarted, err := r.Handle(context.Background(), firingAlert("game-server"))

	require.Error(t, err)
	assert.False(t, restarted)
	assert.Contains(t, err.Error(), "docker compose restart game-server")

	require.Len(t, sink.events, 1)
	assert.Equal(t, "failure", sink.events[0].Result)
	assert.Equal(t, audit.SeverityHigh, sink.events[0].Severity)
}

func TestCustomCooldown(t *testing.T) {
	t.Parallel()

	r := NewRemediator(config.RemediationConfig{
		Cooldown: config.Duration(30 * time.Second),
	}, "production", testutil.NewMockCommandExecutor(), logging.New(false, true))

	assert.Equal(t, 30*time.Second, r.cooldown())
}
