// Package commands wires the gfops subcommands: flag parsing, config
// loading, and the plumbing from config to the internal packages.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gameforge/gfops/internal/audit"
	"github.com/gameforge/gfops/internal/config"
	"github.com/gameforge/gfops/internal/notify"
	"github.com/gameforge/gfops/internal/rotation"
	"github.com/gameforge/gfops/internal/rotation/state"
	"github.com/gameforge/gfops/internal/vault"
)

// loadConfig loads gfops.yaml when a command first needs it.
func loadConfig(cfg *config.Config) (*config.Definition, error) {
	if cfg.Definition != nil {
		return cfg.Definition, nil
	}
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg.Definition, nil
}

// stateDir resolves the rotation state directory.
func stateDir(def *config.Definition) string {
	if def.Rotation.StateDir != "" {
		return def.Rotation.StateDir
	}
	return state.DefaultDir()
}

// newStateStore opens the file-backed rotation state store.
func newStateStore(def *config.Definition) *state.FileStore {
	return state.NewFileStore(stateDir(def))
}

// auditDir resolves where the audit day files live.
func auditDir(def *config.Definition) string {
	if def.Audit.Dir != "" {
		return def.Audit.Dir
	}
	return audit.DefaultDir()
}

// newVaultClient connects to Vault using the config plus the usual
// environment fallbacks.
func newVaultClient(cfg *config.Config, def *config.Definition) (*vault.Client, error) {
	return vault.NewClient(vault.Config{
		Address:   def.Vault.Address,
		Namespace: def.Vault.Namespace,
		Mount:     def.Vault.Mount,
		Timeout:   time.Duration(def.Vault.TimeoutSeconds) * time.Second,
	}, cfg.Logger)
}

// newNotifier builds and starts the notification manager. The caller
// must Stop it to drain queued events.
func newNotifier(ctx context.Context, cfg *config.Config, def *config.Definition) (*notify.Manager, error) {
	manager, err := notify.FromConfig(&def.Notifications, cfg.Logger)
	if err != nil {
		return nil, err
	}
	manager.Start(ctx)
	return manager, nil
}

// newAuditor builds the audit recorder from the config.
func newAuditor(cfg *config.Config, def *config.Definition) *audit.Recorder {
	return audit.FromConfig(&def.Audit, cfg.Logger)
}

// newOrchestrator assembles the rotation orchestrator with all five
// rotators registered against the given Vault store.
func newOrchestrator(cfg *config.Config, def *config.Definition, store vault.Store, files state.Store) (*rotation.Orchestrator, error) {
	logger := cfg.Logger
	freqs := rotation.FrequenciesFromConfig(def.Rotation.Frequencies)
	critical := rotation.CriticalFromConfig(def.Rotation.Critical)

	orch := rotation.NewOrchestrator(files, freqs, critical, logger)

	redisAddr := def.Rotation.Internal.RedisAddr
	if redisAddr == "" {
		redisAddr = "redis:6379"
	}
	dbCfg := def.Rotation.Database
	driver := dbCfg.Driver
	if driver == "" {
		driver = "postgres"
	}

	rotators := []rotation.Rotator{
		rotation.NewRootRotator(store, nil, logger),
		rotation.NewDatabaseRotator(store, driver, dbCfg.DSN, dbCfg.RotateUsers, logger),
		rotation.NewTLSRotator(store, def.Rotation.TLS.CommonName, def.Rotation.TLS.Hosts, logger),
		rotation.NewApplicationRotator(store, logger),
		rotation.NewInternalRotator(store, redisAddr, logger),
	}
	for _, r := range rotators {
		if err := orch.Register(r); err != nil {
			return nil, fmt.Errorf("register %s rotator: %w", r.Type(), err)
		}
	}
	return orch, nil
}

// printJSON renders v as indented JSON on stdout.
func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// printYAML renders v as YAML on stdout.
func printYAML(v interface{}) error {
	encoder := yaml.NewEncoder(os.Stdout)
	defer func() { _ = encoder.Close() }()
	return encoder.Encode(v)
}

// currentActor is who is driving this command, for approvals and audit.
func currentActor() string {
	return audit.CurrentActor()
}
