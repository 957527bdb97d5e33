// Package config loads and validates the gfops.yaml configuration file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	gferrors "github.com/gameforge/gfops/internal/errors"
	"github.com/gameforge/gfops/internal/logging"
)

// DefaultPath is the configuration file looked up when --config and
// GFOPS_CONFIG are both unset.
const DefaultPath = "gfops.yaml"

// Config carries the loaded definition plus the process-wide settings the
// root command wires in before any subcommand runs.
type Config struct {
	Path           string
	Logger         *logging.Logger
	NonInteractive bool
	Definition     *Definition
}

// Definition is the gfops.yaml structure.
type Definition struct {
	Environment   string             `yaml:"environment"`
	Vault         VaultConfig        `yaml:"vault"`
	Rotation      RotationConfig     `yaml:"rotation"`
	Notifications NotificationConfig `yaml:"notifications"`
	Monitor       MonitorConfig      `yaml:"monitor"`
	Backup        BackupConfig       `yaml:"backup"`
	Scan          ScanConfig         `yaml:"scan"`
	Sync          SyncConfig         `yaml:"sync"`
	Audit         AuditConfig        `yaml:"audit"`
	Alertd        AlertdConfig       `yaml:"alertd"`
}

// VaultConfig points gfops at the Vault cluster. Address and token may
// also come from VAULT_ADDR / VAULT_TOKEN.
type VaultConfig struct {
	Address        string `yaml:"address,omitempty"`
	Mount          string `yaml:"mount,omitempty"`
	Namespace      string `yaml:"namespace,omitempty"`
	TimeoutSeconds int    `yaml:"timeout,omitempty"`
}

// RotationConfig controls the rotation engine.
type RotationConfig struct {
	// StateDir overrides the default state directory.
	StateDir string `yaml:"state_dir,omitempty"`

	// DelayBetween is the pause between two sequential rotations.
	// Defaults to 30s.
	DelayBetween Duration `yaml:"delay_between,omitempty"`

	// ApprovalTTL is how long an approval grant stays valid. Defaults to 4h.
	ApprovalTTL Duration `yaml:"approval_ttl,omitempty"`

	// Stagger offsets per-type schedules so no two types fire together.
	// Defaults to true; an explicit false packs everything at 02:00.
	Stagger *bool `yaml:"stagger,omitempty"`

	// Frequencies overrides rotation frequencies per secret type, in days.
	Frequencies map[string]int `yaml:"frequencies,omitempty"`

	// Critical overrides the set of types requiring manual approval.
	Critical []string `yaml:"critical,omitempty"`

	Database DatabaseRotationConfig `yaml:"database,omitempty"`
	Internal InternalRotationConfig `yaml:"internal,omitempty"`
	TLS      TLSRotationConfig      `yaml:"tls,omitempty"`
}

// DatabaseRotationConfig describes the database whose role passwords are
// rotated. The admin DSN's password portion is resolved from Vault at
// rotation time, never stored here.
type DatabaseRotationConfig struct {
	Driver      string   `yaml:"driver,omitempty"` // postgres (default) or mysql
	DSN         string   `yaml:"dsn,omitempty"`
	RotateUsers []string `yaml:"rotate_users,omitempty"`
}

// InternalRotationConfig describes the internal services (today: Redis)
// whose credentials rotate daily.
type InternalRotationConfig struct {
	RedisAddr string `yaml:"redis_addr,omitempty"`
}

// TLSRotationConfig describes the self-signed certificate gfops issues.
type TLSRotationConfig struct {
	CommonName string   `yaml:"common_name,omitempty"`
	Hosts      []string `yaml:"hosts,omitempty"`
}

// MonitorConfig drives deployment verification and the monitor loop.
type MonitorConfig struct {
	Endpoints      []EndpointCheckConfig `yaml:"endpoints,omitempty"`
	ComposeProject string                `yaml:"compose_project,omitempty"`
	PrometheusURL  string                `yaml:"prometheus_url,omitempty"`
	Interval       Duration              `yaml:"interval,omitempty"`
	MaxAttempts    int                   `yaml:"max_attempts,omitempty"`
}

// EndpointCheckConfig is one HTTP endpoint to probe.
type EndpointCheckConfig struct {
	Name           string   `yaml:"name"`
	URL            string   `yaml:"url"`
	ExpectedStatus []int    `yaml:"expected_status,omitempty"`
	Timeout        Duration `yaml:"timeout,omitempty"`
	Critical       bool     `yaml:"critical,omitempty"`
	Insecure       bool     `yaml:"insecure,omitempty"`
}

// BackupConfig drives database and cache backups.
type BackupConfig struct {
	OutputDir     string         `yaml:"output_dir,omitempty"`
	Postgres      PostgresBackup `yaml:"postgres,omitempty"`
	RedisAddr     string         `yaml:"redis_addr,omitempty"`
	RedisDumpPath string         `yaml:"redis_dump_path,omitempty"`
	S3            S3Config       `yaml:"s3,omitempty"`
	RetentionDays int            `yaml:"retention_days,omitempty"`
}

// PostgresBackup identifies the database to dump. The password comes from
// Vault at backup time.
type PostgresBackup struct {
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	User     string `yaml:"user,omitempty"`
	Database string `yaml:"database,omitempty"`
}

// S3Config is the backup upload target.
type S3Config struct {
	Bucket string `yaml:"bucket,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
	Region string `yaml:"region,omitempty"`
}

// ScanConfig drives the security scanners.
type ScanConfig struct {
	ReportsDir        string `yaml:"reports_dir,omitempty"`
	Image             string `yaml:"image,omitempty"`
	SeverityThreshold string `yaml:"severity_threshold,omitempty"` // findings at/above fail
}

// SyncConfig maps rotated Vault secrets onto CI/CD secret stores.
type SyncConfig struct {
	GitHub  GitHubSync    `yaml:"github,omitempty"`
	GitLab  GitLabSync    `yaml:"gitlab,omitempty"`
	AWS     AWSSync       `yaml:"aws,omitempty"`
	Secrets []SecretToSync `yaml:"secrets,omitempty"`
}

// GitHubSync identifies the repository whose Actions secrets are updated.
// The token comes from GITHUB_TOKEN.
type GitHubSync struct {
	Owner string `yaml:"owner,omitempty"`
	Repo  string `yaml:"repo,omitempty"`
}

// GitLabSync identifies the project whose CI variables are updated. The
// token comes from GITLAB_TOKEN.
type GitLabSync struct {
	BaseURL   string `yaml:"base_url,omitempty"`
	ProjectID string `yaml:"project_id,omitempty"`
}

// AWSSync mirrors secrets into AWS Secrets Manager under a name prefix.
type AWSSync struct {
	Region string `yaml:"region,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
}

// SecretToSync is one mapping from a Vault secret to CI/CD store entries.
type SecretToSync struct {
	VaultPath  string   `yaml:"vault_path"`
	TargetName string   `yaml:"target_name"`
	Targets    []string `yaml:"targets"` // github, gitlab, aws
}

// AuditConfig controls the audit trail sinks.
type AuditConfig struct {
	Dir              string `yaml:"dir,omitempty"`
	ElasticsearchURL string `yaml:"elasticsearch_url,omitempty"`
	RetentionDays    int    `yaml:"retention_days,omitempty"`
}

// AlertdConfig configures the Alertmanager webhook receiver.
type AlertdConfig struct {
	Listen           string            `yaml:"listen,omitempty"`
	EmergencyChannel string            `yaml:"emergency_channel,omitempty"`
	Remediation      RemediationConfig `yaml:"remediation,omitempty"`
}

// RemediationConfig gates automatic service restarts.
type RemediationConfig struct {
	Enabled  bool     `yaml:"enabled,omitempty"`
	Cooldown Duration `yaml:"cooldown,omitempty"`
	Services []string `yaml:"services,omitempty"`
}

// Duration parses either a Go duration string ("30s", "4h") or a bare
// integer number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var secs int
	if err := value.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like '30s' or a number of seconds")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration, substituting def when unset.
func (d Duration) Std(def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return time.Duration(d)
}

// validSecretTypes mirrors the rotation engine's type set. Kept here so a
// config typo fails at load time instead of silently never rotating.
var validSecretTypes = map[string]bool{
	"root":        true,
	"application": true,
	"tls":         true,
	"internal":    true,
	"database":    true,
}

// ResolvePath determines the config file path: explicit flag, then
// GFOPS_CONFIG, then the default.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("GFOPS_CONFIG"); env != "" {
		return env
	}
	return DefaultPath
}

// Load reads, parses, and validates the configuration file at c.Path.
func (c *Config) Load() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return gferrors.ConfigError{
				File:       c.Path,
				Field:      "path",
				Message:    "configuration file not found",
				Suggestion: "Create gfops.yaml in the working directory or point --config / GFOPS_CONFIG at it",
			}
		}
		return gferrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions on " + c.Path,
			Err:        err,
		}
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return gferrors.ConfigError{
			File:       c.Path,
			Message:    "invalid YAML: " + err.Error(),
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if err := def.validate(c.Path); err != nil {
		return err
	}

	c.Definition = &def
	return nil
}

func (d *Definition) validate(file string) error {
	if d.Environment == "" {
		d.Environment = "development"
	}

	if d.Vault.Address != "" {
		u, err := url.Parse(d.Vault.Address)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return gferrors.ConfigError{
				File:       file,
				Field:      "vault.address",
				Value:      d.Vault.Address,
				Message:    "must be an http(s) URL",
				Suggestion: "Use the full address, e.g. https://vault.gameforge.io:8200",
			}
		}
	}
	if d.Vault.Mount == "" {
		d.Vault.Mount = "gameforge"
	}

	for name, days := range d.Rotation.Frequencies {
		if !validSecretTypes[name] {
			return gferrors.ConfigError{
				File:       file,
				Field:      "rotation.frequencies." + name,
				Message:    "unknown secret type",
				Suggestion: "Valid types: " + strings.Join(secretTypeNames(), ", "),
			}
		}
		if days < 1 {
			return gferrors.ConfigError{
				File:       file,
				Field:      "rotation.frequencies." + name,
				Value:      days,
				Message:    "frequency must be at least 1 day",
				Suggestion: "Use a positive number of days, e.g. 45",
			}
		}
	}
	for _, name := range d.Rotation.Critical {
		if !validSecretTypes[name] {
			return gferrors.ConfigError{
				File:       file,
				Field:      "rotation.critical",
				Value:      name,
				Message:    "unknown secret type",
				Suggestion: "Valid types: " + strings.Join(secretTypeNames(), ", "),
			}
		}
	}

	if drv := d.Rotation.Database.Driver; drv != "" && drv != "postgres" && drv != "mysql" {
		return gferrors.ConfigError{
			File:       file,
			Field:      "rotation.database.driver",
			Value:      drv,
			Message:    "unsupported driver",
			Suggestion: "Use 'postgres' or 'mysql'",
		}
	}

	for i, ep := range d.Monitor.Endpoints {
		if ep.Name == "" || ep.URL == "" {
			return gferrors.ConfigError{
				File:       file,
				Field:      fmt.Sprintf("monitor.endpoints[%d]", i),
				Message:    "endpoint checks need both name and url",
				Suggestion: "Give every endpoint a name and a full URL",
			}
		}
	}

	if th := d.Scan.SeverityThreshold; th != "" {
		switch strings.ToUpper(th) {
		case "LOW", "MEDIUM", "HIGH", "CRITICAL":
			d.Scan.SeverityThreshold = strings.ToUpper(th)
		default:
			return gferrors.ConfigError{
				File:       file,
				Field:      "scan.severity_threshold",
				Value:      th,
				Message:    "unknown severity",
				Suggestion: "Use one of: LOW, MEDIUM, HIGH, CRITICAL",
			}
		}
	}

	for i, s := range d.Sync.Secrets {
		if s.VaultPath == "" || s.TargetName == "" {
			return gferrors.ConfigError{
				File:       file,
				Field:      fmt.Sprintf("sync.secrets[%d]", i),
				Message:    "mappings need vault_path and target_name",
				Suggestion: "Set vault_path (e.g. app/credentials#api_key) and target_name",
			}
		}
		for _, target := range s.Targets {
			switch target {
			case "github", "gitlab", "aws":
			default:
				return gferrors.ConfigError{
					File:       file,
					Field:      fmt.Sprintf("sync.secrets[%d].targets", i),
					Value:      target,
					Message:    "unknown sync target",
					Suggestion: "Valid targets: github, gitlab, aws",
				}
			}
		}
	}

	if err := d.Notifications.validate(file); err != nil {
		return err
	}

	return nil
}

func secretTypeNames() []string {
	names := make([]string, 0, len(validSecretTypes))
	for name := range validSecretTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StaggerEnabled reports whether schedule staggering is on (the default).
func (r RotationConfig) StaggerEnabled() bool {
	return r.Stagger == nil || *r.Stagger
}
