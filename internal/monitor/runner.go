package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/gameforge/gfops/internal/audit"
	"github.com/gameforge/gfops/internal/config"
	"github.com/gameforge/gfops/internal/logging"
	"github.com/gameforge/gfops/internal/notify"
	"github.com/gameforge/gfops/pkg/exec"
)

// Poll loop defaults: 20 attempts at 30s is ten minutes of patience.
const (
	DefaultInterval    = 30 * time.Second
	DefaultMaxAttempts = 20
)

// Runner executes the configured checks, once for `gfops verify` or in a
// poll loop for `gfops monitor`.
type Runner struct {
	checks      []Check
	environment string
	interval    time.Duration
	maxAttempts int
	logger      *logging.Logger
	auditor     *audit.Recorder
	notifier    *notify.Manager

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a runner over the given checks.
func NewRunner(checks []Check, environment string, interval time.Duration, maxAttempts int, logger *logging.Logger) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = logging.New(false, true)
	}
	return &Runner{
		checks:      checks,
		environment: environment,
		interval:    interval,
		maxAttempts: maxAttempts,
		logger:      logger,
		sleep:       sleepCtx,
	}
}

// FromConfig builds a runner from the monitor section. Database and
// Redis checks need Vault-resolved credentials, so the command layer
// adds those separately via Add.
func FromConfig(def *config.Definition, executor exec.CommandExecutor, logger *logging.Logger) *Runner {
	var checks []Check
	for _, ep := range def.Monitor.Endpoints {
		checks = append(checks, NewEndpointCheck(
			ep.Name, ep.URL, ep.ExpectedStatus, ep.Timeout.Std(defaultEndpointTimeout), ep.Critical, ep.Insecure))
	}
	if def.Monitor.ComposeProject != "" {
		checks = append(checks, NewComposeCheck(def.Monitor.ComposeProject, executor))
	}
	if def.Monitor.PrometheusURL != "" {
		checks = append(checks, NewPrometheusCheck(def.Monitor.PrometheusURL, false))
	}

	return NewRunner(checks, def.Environment,
		def.Monitor.Interval.Std(DefaultInterval), def.Monitor.MaxAttempts, logger)
}

// Add appends a check built outside FromConfig.
func (r *Runner) Add(check Check) { r.checks = append(r.checks, check) }

// Checks returns the configured checks.
func (r *Runner) Checks() []Check { return r.checks }

// SetAuditor wires the audit recorder used on monitor exhaustion.
func (r *Runner) SetAuditor(rec *audit.Recorder) { r.auditor = rec }

// SetNotifier wires the notification manager used on monitor exhaustion.
func (r *Runner) SetNotifier(m *notify.Manager) { r.notifier = m }

// Verify runs every check once. Healthy is true when no critical check
// failed; non-critical failures are reported but do not fail the run.
func (r *Runner) Verify(ctx context.Context) ([]Result, bool) {
	results := make([]Result, 0, len(r.checks))
	healthy := true
	for _, check := range r.checks {
		result := check.Run(ctx)
		results = append(results, result)
		if !result.Healthy && result.Critical {
			healthy = false
		}
	}
	return results, healthy
}

// Monitor polls the checks until every critical one passes or the
// attempt budget runs out. The returned results are from the last
// iteration.
func (r *Runner) Monitor(ctx context.Context) ([]Result, error) {
	if len(r.checks) == 0 {
		return nil, fmt.Errorf("no checks configured")
	}

	start := time.Now()
	var results []Result
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		var healthy bool
		results, healthy = r.Verify(ctx)
		if healthy {
			r.logger.Success("Deployment healthy after %s (attempt %d/%d)",
				time.Since(start).Round(time.Second), attempt, r.maxAttempts)
			return results, nil
		}

		failing := failingCritical(results)
		r.logger.Warn("Attempt %d/%d: %d critical check(s) failing: %s",
			attempt, r.maxAttempts, len(failing), joinNames(failing))

		if attempt < r.maxAttempts {
			if err := r.sleep(ctx, r.interval); err != nil {
				return results, err
			}
		}
	}

	failing := failingCritical(results)
	err := fmt.Errorf("deployment unhealthy after %d attempts: %s", r.maxAttempts, joinNames(failing))
	r.recordExhaustion(ctx, failing)
	return results, err
}

// recordExhaustion emits the audit event and failure notification when
// the poll loop gives up.
func (r *Runner) recordExhaustion(ctx context.Context, failing []Result) {
	details := make(map[string]string, len(failing))
	for _, result := range failing {
		details[result.Name] = result.Message
	}

	event := audit.NewEvent(audit.TypeDeployment, audit.SeverityHigh,
		r.environment, "monitor", "deployment", "failure")
	event.Details = details
	r.auditor.Record(ctx, event)

	r.notifier.Publish(notify.Event{
		Type:        notify.EventDeploymentFailed,
		Timestamp:   time.Now().UTC(),
		Environment: r.environment,
		Success:     false,
		Error:       fmt.Errorf("%d critical check(s) still failing", len(failing)),
		Details:     details,
	})
}

func failingCritical(results []Result) []Result {
	var failing []Result
	for _, result := range results {
		if !result.Healthy && result.Critical {
			failing = append(failing, result)
		}
	}
	return failing
}

func joinNames(results []Result) string {
	names := ""
	for i, result := range results {
		if i > 0 {
			names += ", "
		}
		names += result.Name
	}
	return names
}

// sleepCtx waits for d or the context, whichever ends first.
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
