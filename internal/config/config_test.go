package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gferrors "github.com/gameforge/gfops/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gfops.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
environment: production
vault:
  address: https://vault.gameforge.io:8200
  mount: gameforge
  timeout: 30
rotation:
  delay_between: 30s
  approval_ttl: 4h
  frequencies:
    application: 30
  critical: [root, database]
  database:
    driver: postgres
    rotate_users: [gameforge_app]
  internal:
    redis_addr: redis:6379
notifications:
  slack:
    webhook_url: https://hooks.slack.com/services/T00/B00/xyz
    channel: "#gameforge-ops"
    mentions:
      on_failure: ["@oncall"]
monitor:
  endpoints:
    - name: api
      url: https://gameforge.io/health
      expected_status: [200, 204]
      critical: true
  prometheus_url: http://prometheus:9090
  interval: 15s
  max_attempts: 10
backup:
  output_dir: /var/backups/gameforge
  s3:
    bucket: gameforge-backups
    region: us-east-1
scan:
  image: gameforge/app:latest
  severity_threshold: high
sync:
  github: {owner: gameforge, repo: platform}
  secrets:
    - vault_path: app/credentials#api_key
      target_name: API_KEY
      targets: [github, aws]
alertd:
  listen: ":9095"
  remediation:
    enabled: true
    cooldown: 10m
    services: [gameforge-app]
`)

	cfg := &Config{Path: path}
	require.NoError(t, cfg.Load())

	def := cfg.Definition
	assert.Equal(t, "production", def.Environment)
	assert.Equal(t, "https://vault.gameforge.io:8200", def.Vault.Address)
	assert.Equal(t, "gameforge", def.Vault.Mount)

	assert.Equal(t, 30*time.Second, def.Rotation.DelayBetween.Std(0))
	assert.Equal(t, 4*time.Hour, def.Rotation.ApprovalTTL.Std(0))
	assert.Equal(t, 30, def.Rotation.Frequencies["application"])
	assert.Equal(t, []string{"root", "database"}, def.Rotation.Critical)
	assert.True(t, def.Rotation.StaggerEnabled())

	require.Len(t, def.Monitor.Endpoints, 1)
	assert.Equal(t, []int{200, 204}, def.Monitor.Endpoints[0].ExpectedStatus)
	assert.Equal(t, 15*time.Second, def.Monitor.Interval.Std(0))

	assert.Equal(t, "HIGH", def.Scan.SeverityThreshold)
	require.Len(t, def.Sync.Secrets, 1)
	assert.Equal(t, 10*time.Minute, def.Alertd.Remediation.Cooldown.Std(0))

	require.NotNil(t, def.Notifications.Slack)
	assert.Equal(t, []string{"@oncall"}, def.Notifications.Slack.Mentions.OnFailure)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	cfg := &Config{Path: filepath.Join(t.TempDir(), "absent.yaml")}
	err := cfg.Load()

	var cfgErr gferrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Suggestion, "gfops.yaml")
}

func TestLoadInvalidYAML(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "environment: [unclosed")
	cfg := &Config{Path: path}
	err := cfg.Load()

	var cfgErr gferrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Message, "invalid YAML")
}

func TestValidationErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		yaml       string
		wantField  string
		wantInText string
	}{
		{
			name:       "bad vault address",
			yaml:       "vault:\n  address: not-a-url\n",
			wantField:  "vault.address",
			wantInText: "http(s) URL",
		},
		{
			name:       "unknown frequency type",
			yaml:       "rotation:\n  frequencies:\n    sessions: 7\n",
			wantField:  "rotation.frequencies.sessions",
			wantInText: "application, database, internal, root, tls",
		},
		{
			name:       "zero frequency",
			yaml:       "rotation:\n  frequencies:\n    application: 0\n",
			wantField:  "rotation.frequencies.application",
			wantInText: "at least 1 day",
		},
		{
			name:       "unknown critical type",
			yaml:       "rotation:\n  critical: [everything]\n",
			wantField:  "rotation.critical",
			wantInText: "Valid types",
		},
		{
			name:       "bad database driver",
			yaml:       "rotation:\n  database:\n    driver: oracle\n",
			wantField:  "rotation.database.driver",
			wantInText: "postgres",
		},
		{
			name:       "endpoint without url",
			yaml:       "monitor:\n  endpoints:\n    - name: api\n",
			wantField:  "monitor.endpoints[0]",
			wantInText: "name and a full URL",
		},
		{
			name:       "bad severity",
			yaml:       "scan:\n  severity_threshold: EXTREME\n",
			wantField:  "scan.severity_threshold",
			wantInText: "LOW, MEDIUM, HIGH, CRITICAL",
		},
		{
			name:       "bad sync target",
			yaml:       "sync:\n  secrets:\n    - vault_path: a#b\n      target_name: X\n      targets: [jenkins]\n",
			wantField:  "sync.secrets[0].targets",
			wantInText: "github, gitlab, aws",
		},
		{
			name:       "slack without webhook",
			yaml:       "notifications:\n  slack:\n    channel: '#ops'\n",
			wantField:  "notifications.slack.webhook_url",
			wantInText: "incoming webhook",
		},
		{
			name:       "bad webhook backoff",
			yaml:       "notifications:\n  webhooks:\n    - name: x\n      url: https://example.com\n      retry: {backoff: quadratic}\n",
			wantField:  "notifications.webhooks[0].retry.backoff",
			wantInText: "fixed, linear, or exponential",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := &Config{Path: writeConfig(t, tt.yaml)}
			err := cfg.Load()

			var cfgErr gferrors.ConfigError
			require.ErrorAs(t, err, &cfgErr, "expected a config error")
			assert.Equal(t, tt.wantField, cfgErr.Field)
			assert.Contains(t, cfgErr.Error(), tt.wantInText)
		})
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{Path: writeConfig(t, "environment: ''\n")}
	require.NoError(t, cfg.Load())

	assert.Equal(t, "development", cfg.Definition.Environment)
	assert.Equal(t, "gameforge", cfg.Definition.Vault.Mount)
	assert.True(t, cfg.Definition.Rotation.StaggerEnabled())
}

func TestStaggerDisabled(t *testing.T) {
	t.Parallel()

	cfg := &Config{Path: writeConfig(t, "rotation:\n  stagger: false\n")}
	require.NoError(t, cfg.Load())
	assert.False(t, cfg.Definition.Rotation.StaggerEnabled())
}

func TestDurationForms(t *testing.T) {
	t.Parallel()

	cfg := &Config{Path: writeConfig(t, "vault:\n  timeout: 45\nrotation:\n  delay_between: 10\n  approval_ttl: 90m\n")}
	require.NoError(t, cfg.Load())

	assert.Equal(t, 10*time.Second, cfg.Definition.Rotation.DelayBetween.Std(0))
	assert.Equal(t, 90*time.Minute, cfg.Definition.Rotation.ApprovalTTL.Std(0))
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "explicit.yaml", ResolvePath("explicit.yaml"))

	t.Setenv("GFOPS_CONFIG", "/etc/gfops/gfops.yaml")
	assert.Equal(t, "/etc/gfops/gfops.yaml", ResolvePath(""))

	t.Setenv("GFOPS_CONFIG", "")
	assert.Equal(t, DefaultPath, ResolvePath(""))
}
