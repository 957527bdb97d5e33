// Package backup produces timestamped backup sets of the GameForge
// Postgres database and Redis cache, uploads them to S3, and verifies
// and prunes existing sets. Every set carries a manifest with byte
// sizes and SHA-256 checksums so verification never trusts filenames.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gameforge/gfops/internal/audit"
	"github.com/gameforge/gfops/internal/config"
	"github.com/gameforge/gfops/internal/logging"
	"github.com/gameforge/gfops/internal/metrics"
	"github.com/gameforge/gfops/internal/notify"
	"github.com/gameforge/gfops/internal/vault"
	"github.com/gameforge/gfops/pkg/exec"
)

// setTimestampLayout names backup set directories: UTC, sortable.
const setTimestampLayout = "20060102-150405"

// ManifestName is the manifest file inside every backup set.
const ManifestName = "manifest.json"

// DefaultRetentionDays keeps a month of backups unless configured.
const DefaultRetentionDays = 30

// Component is one artifact inside a backup set.
type Component struct {
	Name      string  `json:"name"`
	File      string  `json:"file"`
	SizeBytes int64   `json:"size_bytes"`
	SHA256    string  `json:"sha256"`
	Duration  float64 `json:"duration_seconds"`
	Success   bool    `json:"success"`
	Error     string  `json:"error,omitempty"`
}

// Manifest describes a backup set.
type Manifest struct {
	Timestamp   string      `json:"timestamp"`
	Environment string      `json:"environment"`
	CreatedAt   time.Time   `json:"created_at"`
	Duration    float64     `json:"duration_seconds"`
	Success     bool        `json:"success"`
	Components  []Component `json:"components"`
}

// Runner drives backup runs.
type Runner struct {
	cfg         config.BackupConfig
	environment string
	store       vault.Store
	executor    exec.CommandExecutor
	uploader    *Uploader
	logger      *logging.Logger
	auditor     *audit.Recorder
	notifier    *notify.Manager

	// redisDial and now/sleep are replaced in tests.
	redisDial RedisDialer
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a backup runner. The uploader may be nil when no S3
// bucket is configured.
func NewRunner(cfg config.BackupConfig, environment string, store vault.Store, executor exec.CommandExecutor, uploader *Uploader, logger *logging.Logger) *Runner {
	if executor == nil {
		executor = exec.DefaultExecutor
	}
	if logger == nil {
		logger = logging.New(false, true)
	}
	return &Runner{
		cfg:         cfg,
		environment: environment,
		store:       store,
		executor:    executor,
		uploader:    uploader,
		logger:      logger,
		redisDial:   DialBackupRedis,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

// SetAuditor wires the audit recorder.
func (r *Runner) SetAuditor(rec *audit.Recorder) { r.auditor = rec }

// SetNotifier wires the notification manager.
func (r *Runner) SetNotifier(m *notify.Manager) { r.notifier = m }

// Run produces one backup set. The returned manifest reflects partial
// failures; err is non-nil when any component failed.
func (r *Runner) Run(ctx context.Context) (*Manifest, error) {
	if r.cfg.OutputDir == "" {
		return nil, fmt.Errorf("backup.output_dir is not configured")
	}

	start := r.now().UTC()
	timestamp := start.Format(setTimestampLayout)
	setDir := filepath.Join(r.cfg.OutputDir, timestamp)
	if err := os.MkdirAll(setDir, 0o700); err != nil {
		return nil, fmt.Errorf("create backup set directory: %w", err)
	}

	manifest := &Manifest{
		Timestamp:   timestamp,
		Environment: r.environment,
		CreatedAt:   start,
	}

	if r.cfg.Postgres.Database != "" {
		manifest.Components = append(manifest.Components, r.runComponent(ctx, "postgres", setDir, r.dumpPostgres))
	}
	if r.cfg.RedisAddr != "" {
		manifest.Components = append(manifest.Components, r.runComponent(ctx, "redis", setDir, r.dumpRedis))
	}
	if len(manifest.Components) == 0 {
		return nil, fmt.Errorf("nothing to back up: configure backup.postgres and/or backup.redis_addr")
	}

	manifest.Success = true
	for _, component := range manifest.Components {
		if !component.Success {
			manifest.Success = false
		}
	}
	manifest.Duration = r.now().UTC().Sub(start).Seconds()

	if err := writeManifest(setDir, manifest); err != nil {
		return manifest, err
	}

	if r.uploader != nil {
		if err := r.upload(ctx, setDir, manifest); err != nil {
			r.logger.Warn("S3 upload failed: %v", err)
			manifest.Success = false
		}
	} else {
		r.logger.Warn("No S3 bucket configured; backup set stays local only")
	}

	r.record(ctx, manifest)

	if !manifest.Success {
		return manifest, fmt.Errorf("backup set %s is partial", timestamp)
	}
	return manifest, nil
}

// runComponent executes one dump function and fills in size and
// checksum from the produced file.
func (r *Runner) runComponent(ctx context.Context, name, setDir string, dump func(ctx context.Context, setDir string) (string, error)) Component {
	start := r.now()
	component := Component{Name: name}

	file, err := dump(ctx, setDir)
	component.Duration = r.now().Sub(start).Seconds()
	component.File = file
	if err != nil {
		component.Error = err.Error()
		r.logger.Error("Backup component %s failed: %v", name, err)
		return component
	}

	path := filepath.Join(setDir, file)
	size, sum, err := fileSizeAndSHA256(path)
	if err != nil {
		component.Error = err.Error()
		return component
	}
	component.SizeBytes = size
	component.SHA256 = sum
	component.Success = true

	metrics.AddBackupBytes(name, size)
	r.logger.Success("Backed up %s (%s, %s)", name, file, humanBytes(size))
	return component
}

// upload pushes every set file, manifest last so a complete manifest in
// S3 implies the data objects made it.
func (r *Runner) upload(ctx context.Context, setDir string, manifest *Manifest) error {
	for _, component := range manifest.Components {
		if !component.Success {
			continue
		}
		if err := r.uploader.Upload(ctx, r.environment, manifest.Timestamp, filepath.Join(setDir, component.File)); err != nil {
			return err
		}
	}
	if err := r.uploader.Upload(ctx, r.environment, manifest.Timestamp, filepath.Join(setDir, ManifestName)); err != nil {
		return err
	}
	r.logger.Success("Uploaded backup set %s to s3://%s", manifest.Timestamp, r.uploader.Bucket())
	return nil
}

// record emits the audit event, notification, and run metric.
func (r *Runner) record(ctx context.Context, manifest *Manifest) {
	result := "success"
	eventType := notify.EventBackupCompleted
	severity := audit.SeverityLow
	if !manifest.Success {
		result = "failure"
		eventType = notify.EventBackupFailed
		severity = audit.SeverityHigh
	}
	metrics.RecordBackupRun(result)

	details := map[string]string{}
	for _, component := range manifest.Components {
		if component.Success {
			details[component.Name] = fmt.Sprintf("%d bytes", component.SizeBytes)
		} else {
			details[component.Name] = "failed: " + component.Error
		}
	}

	event := audit.NewEvent(audit.TypeBackup, severity, r.environment, "run", manifest.Timestamp, result)
	event.Details = details
	r.auditor.Record(ctx, event)

	var eventErr error
	if !manifest.Success {
		eventErr = fmt.Errorf("backup set %s is partial", manifest.Timestamp)
	}
	r.notifier.Publish(notify.Event{
		Type:        eventType,
		Timestamp:   r.now().UTC(),
		Environment: r.environment,
		Success:     manifest.Success,
		Error:       eventErr,
		Duration:    time.Duration(manifest.Duration * float64(time.Second)),
		Details:     details,
	})
}

// writeManifest persists the manifest with owner-only permissions like
// every other gfops state file.
func writeManifest(setDir string, manifest *Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(setDir, ManifestName), data, 0o600); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func humanBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
