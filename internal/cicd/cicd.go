// Package cicd propagates rotated secret values from Vault into CI/CD
// secret stores: GitHub Actions repository secrets, GitLab CI variables,
// and an AWS Secrets Manager mirror. Values transit only in protected
// memory; audit records and results reference secrets by name, never by
// value.
package cicd

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/gameforge/gfops/internal/audit"
	"github.com/gameforge/gfops/internal/config"
	"github.com/gameforge/gfops/internal/logging"
	"github.com/gameforge/gfops/internal/metrics"
	"github.com/gameforge/gfops/internal/secure"
	"github.com/gameforge/gfops/internal/vault"
)

// Target pushes one named secret value into a CI/CD secret store.
type Target interface {
	// Name identifies the target ("github", "gitlab", "aws").
	Name() string

	// Push stores value under name. The buffer stays owned by the caller.
	Push(ctx context.Context, name string, value *secure.Buffer) error
}

// PushResult is the outcome of one push to one target.
type PushResult struct {
	Target string
	Err    error
}

// MappingResult groups the push outcomes of one configured mapping.
type MappingResult struct {
	VaultPath  string
	TargetName string
	Pushes     []PushResult
}

// Failed reports whether any push of the mapping failed.
func (r MappingResult) Failed() bool {
	for _, push := range r.Pushes {
		if push.Err != nil {
			return true
		}
	}
	return false
}

// Syncer reads mapped values from Vault and fans them out to targets.
type Syncer struct {
	cfg         config.SyncConfig
	environment string
	store       vault.Store
	targets     map[string]Target
	logger      *logging.Logger
	auditor     *audit.Recorder
}

// NewSyncer creates a syncer with no targets registered.
func NewSyncer(cfg config.SyncConfig, environment string, store vault.Store, logger *logging.Logger) *Syncer {
	if logger == nil {
		logger = logging.New(false, true)
	}
	return &Syncer{
		cfg:         cfg,
		environment: environment,
		store:       store,
		targets:     make(map[string]Target),
		logger:      logger,
	}
}

// SetAuditor wires the audit recorder.
func (s *Syncer) SetAuditor(rec *audit.Recorder) { s.auditor = rec }

// Register adds a target store.
func (s *Syncer) Register(target Target) {
	s.targets[target.Name()] = target
}

// Targets lists the registered target names, sorted.
func (s *Syncer) Targets() []string {
	names := make([]string, 0, len(s.targets))
	for name := range s.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterFromConfig builds and registers every target the config and
// environment variables make possible. Tokens come from GITHUB_TOKEN and
// GITLAB_TOKEN, never from the config file.
func (s *Syncer) RegisterFromConfig(ctx context.Context) error {
	if s.cfg.GitHub.Owner != "" && s.cfg.GitHub.Repo != "" {
		token := os.Getenv("GITHUB_TOKEN")
		if token == "" {
			s.logger.Warn("GITHUB_TOKEN is not set; skipping the GitHub target")
		} else {
			s.Register(NewGitHubTarget(s.cfg.GitHub.Owner, s.cfg.GitHub.Repo, token))
		}
	}

	if s.cfg.GitLab.ProjectID != "" {
		token := os.Getenv("GITLAB_TOKEN")
		if token == "" {
			s.logger.Warn("GITLAB_TOKEN is not set; skipping the GitLab target")
		} else {
			s.Register(NewGitLabTarget(s.cfg.GitLab.BaseURL, s.cfg.GitLab.ProjectID, token))
		}
	}

	if s.cfg.AWS.Region != "" || s.cfg.AWS.Prefix != "" {
		target, err := NewAWSTarget(ctx, s.cfg.AWS.Region, s.cfg.AWS.Prefix)
		if err != nil {
			return err
		}
		s.Register(target)
	}
	return nil
}

// Sync pushes every configured mapping. only narrows the targets when
// non-empty. The error is non-nil when any push failed.
func (s *Syncer) Sync(ctx context.Context, only []string) ([]MappingResult, error) {
	if len(s.cfg.Secrets) == 0 {
		return nil, fmt.Errorf("no sync.secrets mappings configured")
	}

	wanted := map[string]bool{}
	for _, name := range only {
		wanted[name] = true
	}

	var results []MappingResult
	failed := false
	for _, mapping := range s.cfg.Secrets {
		result := s.syncMapping(ctx, mapping, wanted)
		if result.Failed() {
			failed = true
		}
		results = append(results, result)
	}

	if failed {
		return results, fmt.Errorf("one or more secret pushes failed")
	}
	return results, nil
}

func (s *Syncer) syncMapping(ctx context.Context, mapping config.SecretToSync, wanted map[string]bool) MappingResult {
	result := MappingResult{VaultPath: mapping.VaultPath, TargetName: mapping.TargetName}

	targets := make([]string, 0, len(mapping.Targets))
	for _, name := range mapping.Targets {
		if len(wanted) == 0 || wanted[name] {
			targets = append(targets, name)
		}
	}
	if len(targets) == 0 {
		return result
	}

	value, err := s.store.ReadKVField(ctx, mapping.VaultPath)
	if err != nil {
		for _, name := range targets {
			result.Pushes = append(result.Pushes, PushResult{Target: name, Err: fmt.Errorf("read %s: %w", mapping.VaultPath, err)})
			metrics.RecordSyncPush(name, "failure")
		}
		return result
	}
	buffer := secure.NewBuffer([]byte(value))
	defer buffer.Destroy()

	for _, name := range targets {
		push := PushResult{Target: name}
		target, ok := s.targets[name]
		if !ok {
			push.Err = fmt.Errorf("target %q is not configured", name)
		} else {
			push.Err = target.Push(ctx, mapping.TargetName, buffer)
		}
		result.Pushes = append(result.Pushes, push)
		s.record(ctx, mapping, name, push.Err)
	}
	return result
}

// record emits the push metric and audit event. Only names travel into
// the audit trail.
func (s *Syncer) record(ctx context.Context, mapping config.SecretToSync, target string, pushErr error) {
	outcome := "success"
	severity := audit.SeverityMedium
	if pushErr != nil {
		outcome = "failure"
		severity = audit.SeverityHigh
		s.logger.Error("Push %s to %s failed: %v", mapping.TargetName, target, pushErr)
	} else {
		s.logger.Success("Pushed %s to %s", mapping.TargetName, target)
	}
	metrics.RecordSyncPush(target, outcome)

	path, _ := vault.ParseReference(mapping.VaultPath)
	event := audit.NewEvent(audit.TypeSync, severity, s.environment, "push", mapping.TargetName, outcome)
	event.Details = map[string]string{
		"target":     target,
		"vault_path": path,
	}
	s.auditor.Record(ctx, event)
}
