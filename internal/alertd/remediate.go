package alertd

import (
	"context"
	"sync"
	"time"

	"github.com/gameforge/gfops/internal/audit"
	"github.com/gameforge/gfops/internal/config"
	gferrors "github.com/gameforge/gfops/internal/errors"
	"github.com/gameforge/gfops/internal/logging"
	"github.com/gameforge/gfops/internal/metrics"
	"github.com/gameforge/gfops/internal/notify"
	"github.com/gameforge/gfops/pkg/exec"
)

// DefaultCooldown is the minimum gap between two restarts of the same
// service.
const DefaultCooldown = 10 * time.Minute

// Remediator restarts services named by firing alerts, gated by an
// allow list and a per-service cooldown.
type Remediator struct {
	cfg         config.RemediationConfig
	environment string
	executor    exec.CommandExecutor
	logger      *logging.Logger
	auditor     *audit.Recorder
	notifier    *notify.Manager

	mu   sync.Mutex
	last map[string]time.Time

	now func() time.Time
}

// NewRemediator creates a remediator. A disabled config yields a
// remediator that skips everything.
func NewRemediator(cfg config.RemediationConfig, environment string, executor exec.CommandExecutor, logger *logging.Logger) *Remediator {
	return &Remediator{
		cfg:         cfg,
		environment: environment,
		executor:    executor,
		logger:      logger,
		last:        make(map[string]time.Time),
		now:         time.Now,
	}
}

// SetAuditor attaches an audit recorder.
func (r *Remediator) SetAuditor(auditor *audit.Recorder) { r.auditor = auditor }

// SetNotifier attaches a notification manager.
func (r *Remediator) SetNotifier(notifier *notify.Manager) { r.notifier = notifier }

// cooldown returns the configured cooldown, defaulted.
func (r *Remediator) cooldown() time.Duration {
	if d := time.Duration(r.cfg.Cooldown); d > 0 {
		return d
	}
	return DefaultCooldown
}

// allowed reports whether the service is on the restart allow list.
func (r *Remediator) allowed(service string) bool {
	for _, s := range r.cfg.Services {
		if s == service {
			return true
		}
	}
	return false
}

// Handle restarts the alert's service when remediation applies. It
// returns true only when a restart actually ran.
func (r *Remediator) Handle(ctx context.Context, alert Alert) (bool, error) {
	if !r.cfg.Enabled || alert.Resolved() {
		return false, nil
	}
	service := alert.Service()
	if service == "" {
		return false, nil
	}
	if !r.allowed(service) {
		r.logger.Debug("Service %s is not on the remediation allow list, leaving it alone", service)
		return false, nil
	}

	r.mu.Lock()
	if previous, ok := r.last[service]; ok && r.now().Sub(previous) < r.cooldown() {
		r.mu.Unlock()
		r.logger.Info("Skipping restart of %s, still in cooldown", service)
		return false, nil
	}
	r.last[service] = r.now()
	r.mu.Unlock()

	r.logger.Info("Restarting %s in response to alert %s", service, alert.Name())

	_, stderr, err := r.executor.Execute(ctx, "docker", "compose", "restart", service)
	if err != nil {
		restartErr := gferrors.CommandError{
			Command:  "docker compose restart " + service,
			ExitCode: exec.ExitCode(err),
			Stderr:   string(stderr),
			Err:      err,
		}
		r.record(ctx, alert, service, restartErr)
		return false, restartErr
	}

	metrics.RecordRemediation(service)
	r.record(ctx, alert, service, nil)
	r.logger.Success("Restarted %s", service)
	return true, nil
}

// record audits the restart and announces it.
func (r *Remediator) record(ctx context.Context, alert Alert, service string, restartErr error) {
	result := "success"
	severity := audit.SeverityMedium
	if restartErr != nil {
		result = "failure"
		severity = audit.SeverityHigh
	}

	event := audit.NewEvent(audit.TypeRemediation, severity, r.environment, "restart", service, result)
	event.Actor = "alertd"
	event.Details = map[string]string{
		"service":   service,
		"alertname": alert.Name(),
	}
	r.auditor.Record(ctx, event)

	r.notifier.Publish(notify.Event{
		Type:        notify.EventRemediationPerformed,
		Environment: r.environment,
		Success:     restartErr == nil,
		Error:       restartErr,
		Details: map[string]string{
			"service":   service,
			"alertname": alert.Name(),
		},
	})
}

// LastRestart returns when the service was last restarted, for status
// reporting.
func (r *Remediator) LastRestart(service string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.last[service]
	return t, ok
}
