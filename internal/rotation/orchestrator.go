package rotation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gameforge/gfops/internal/audit"
	gferrors "github.com/gameforge/gfops/internal/errors"
	"github.com/gameforge/gfops/internal/logging"
	"github.com/gameforge/gfops/internal/metrics"
	"github.com/gameforge/gfops/internal/notify"
	"github.com/gameforge/gfops/internal/rotation/state"
)

// DefaultDelay is the pause between two sequential rotation attempts,
// kept from the original runbooks to avoid hammering the backing
// services.
const DefaultDelay = 30 * time.Second

// RunRequest selects what one rotation run covers.
type RunRequest struct {
	// Types to consider; empty means all five.
	Types []SecretType

	// Environment scopes state records and Vault paths.
	Environment string

	// Force rotates regardless of dueness. It does not bypass the
	// approval gate.
	Force bool

	// DryRun reports what would rotate without touching anything.
	DryRun bool

	// ApprovedBy carries an explicit command-line approval (--yes) for
	// critical types. Ignored in non-interactive mode, where only a
	// stored grant counts.
	ApprovedBy string

	// Delay overrides the pause between attempts; zero means default.
	Delay time.Duration

	// TriggeredBy is recorded in history: "manual" or "schedule".
	TriggeredBy string

	// NonInteractive marks runs with nobody at the terminal.
	NonInteractive bool
}

// Outcome classifies one type's fate within a run.
type Outcome string

const (
	OutcomeRotated     Outcome = "rotated"
	OutcomeFailed      Outcome = "failed"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeWouldRotate Outcome = "would_rotate"
)

// TypeResult is one type's outcome within a run.
type TypeResult struct {
	Type     SecretType
	Outcome  Outcome
	Reason   string
	Err      error
	Duration time.Duration

	// Secrets lists the logical names rotated, never values.
	Secrets []string

	// RolledBack is set when verification failed and the rollback
	// succeeded.
	RolledBack bool

	// ApprovedBy names who cleared a critical rotation.
	ApprovedBy string
}

// RunResult aggregates a whole rotation run.
type RunResult struct {
	Environment string
	StartedAt   time.Time
	Duration    time.Duration
	Results     []TypeResult
}

// Failed reports whether any type failed; drives the exit code.
func (r *RunResult) Failed() bool {
	for _, tr := range r.Results {
		if tr.Outcome == OutcomeFailed {
			return true
		}
	}
	return false
}

// Rotated counts the types rotated successfully.
func (r *RunResult) Rotated() int {
	n := 0
	for _, tr := range r.Results {
		if tr.Outcome == OutcomeRotated {
			n++
		}
	}
	return n
}

// Orchestrator runs rotations sequentially with full bookkeeping:
// state records, history, audit events, metrics, and notifications
// around every attempt.
type Orchestrator struct {
	store    state.Store
	freqs    Frequencies
	critical CriticalSet
	logger   *logging.Logger

	mu       sync.RWMutex
	rotators map[SecretType]Rotator
	notifier *notify.Manager
	auditor  *audit.Recorder

	// Seams for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator creates an orchestrator over the given store.
func NewOrchestrator(store state.Store, freqs Frequencies, critical CriticalSet, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.New(false, true)
	}
	return &Orchestrator{
		store:    store,
		freqs:    freqs,
		critical: critical,
		logger:   logger,
		rotators: make(map[SecretType]Rotator),
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Register adds a rotator. Registering the same type twice is a
// programming error.
func (o *Orchestrator) Register(r Rotator) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	t := r.Type()
	if _, exists := o.rotators[t]; exists {
		return fmt.Errorf("rotator for type '%s' already registered", t)
	}
	o.rotators[t] = r
	o.logger.Debug("Registered rotator for %s secrets", t)
	return nil
}

// SetNotifier wires the notification manager. The manager must be
// started before events will be delivered.
func (o *Orchestrator) SetNotifier(manager *notify.Manager) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notifier = manager
}

// SetAuditRecorder wires the audit trail.
func (o *Orchestrator) SetAuditRecorder(recorder *audit.Recorder) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.auditor = recorder
}

// Run executes one rotation pass. A failed type never aborts the run;
// the caller inspects RunResult.Failed for the exit code. The returned
// error is reserved for run-level problems (context cancellation).
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	start := o.now()
	result := &RunResult{Environment: req.Environment, StartedAt: start}

	types := req.Types
	if len(types) == 0 {
		types = AllTypes()
	} else {
		types = canonicalize(types)
	}

	delay := req.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = "manual"
	}

	planner := NewPlanner(o.store, req.Environment, o.freqs, o.critical)
	attempted := false

	for _, t := range types {
		if err := ctx.Err(); err != nil {
			result.Duration = o.now().Sub(start)
			return result, err
		}

		plan, err := planner.PlanType(o.now(), t)
		if err != nil {
			result.Results = append(result.Results, TypeResult{Type: t, Outcome: OutcomeFailed, Err: err, Reason: "state unreadable"})
			continue
		}

		if !plan.Due && !req.Force {
			o.logger.Debug("Skipping %s: not due until %s", t, plan.NextDue.Format(time.RFC3339))
			result.Results = append(result.Results, TypeResult{
				Type:    t,
				Outcome: OutcomeSkipped,
				Reason:  fmt.Sprintf("not due until %s", plan.NextDue.Format("2006-01-02")),
			})
			continue
		}

		if req.DryRun {
			result.Results = append(result.Results, o.dryRunResult(plan, req))
			continue
		}

		rotator := o.rotatorFor(t)
		if rotator == nil {
			result.Results = append(result.Results, TypeResult{
				Type:    t,
				Outcome: OutcomeFailed,
				Err:     fmt.Errorf("no rotator configured for type '%s'", t),
				Reason:  "not configured",
			})
			continue
		}

		approvedBy, gateErr := o.approvalGate(plan, req)
		if gateErr != nil {
			result.Results = append(result.Results, TypeResult{Type: t, Outcome: OutcomeFailed, Err: gateErr, Reason: "approval missing"})
			o.recordDenied(ctx, plan, req, gateErr)
			continue
		}

		if attempted {
			o.logger.Debug("Waiting %s before rotating %s", delay, t)
			if err := o.sleep(ctx, delay); err != nil {
				result.Duration = o.now().Sub(start)
				return result, err
			}
		}
		attempted = true

		result.Results = append(result.Results, o.rotateOne(ctx, rotator, plan, req, approvedBy))
	}

	result.Duration = o.now().Sub(start)
	return result, nil
}

// dryRunResult reports what a real run would do without touching state,
// grants, or external systems.
func (o *Orchestrator) dryRunResult(plan TypePlan, req RunRequest) TypeResult {
	tr := TypeResult{Type: plan.Type, Outcome: OutcomeWouldRotate}
	if !plan.Critical {
		tr.Reason = "would rotate"
		return tr
	}

	grant, err := o.store.GetGrant(req.Environment, string(plan.Type))
	switch {
	case err == nil && grant.Valid(o.now()):
		tr.Reason = "would rotate (approved by " + grant.GrantedBy + ")"
	case req.ApprovedBy != "" && !req.NonInteractive:
		tr.Reason = "would rotate (approved on command line)"
	default:
		tr.Reason = "would require approval"
	}
	return tr
}

// approvalGate clears a critical rotation: a stored grant is consumed,
// otherwise an interactive --yes counts. Anything else is a hard
// per-type failure.
func (o *Orchestrator) approvalGate(plan TypePlan, req RunRequest) (string, error) {
	if !plan.Critical {
		return "", nil
	}

	grant, err := consumeGrant(o.store, req.Environment, plan.Type, o.now())
	if err != nil {
		return "", err
	}
	if grant != nil {
		o.logger.Info("Using approval grant from %s for %s rotation", grant.GrantedBy, plan.Type)
		return grant.GrantedBy, nil
	}

	if req.ApprovedBy != "" && !req.NonInteractive {
		return req.ApprovedBy, nil
	}

	return "", gferrors.UserError{
		Message:    fmt.Sprintf("Rotation of critical type '%s' requires approval", plan.Type),
		Suggestion: fmt.Sprintf("Grant one with: gfops approve %s --by <name>", plan.Type),
	}
}

// rotateOne performs a single attempt with full bookkeeping.
func (o *Orchestrator) rotateOne(ctx context.Context, rotator Rotator, plan TypePlan, req RunRequest, approvedBy string) TypeResult {
	t := plan.Type
	start := o.now()
	freq := o.freqs.For(t)

	o.logger.Info("Rotating %s secrets in %s", t, req.Environment)
	o.publish(notify.Event{
		Type:        notify.EventRotationStarted,
		Environment: req.Environment,
		SecretType:  string(t),
		Success:     true,
	})

	res, err := rotator.Rotate(ctx, Request{Environment: req.Environment, Frequency: freq})
	rolledBack := false

	if err == nil {
		if verr := rotator.Verify(ctx, res); verr != nil {
			err = fmt.Errorf("verification failed: %w", verr)
			rolledBack = o.rollback(ctx, rotator, res, req.Environment)
		}
	}

	duration := o.now().Sub(start)
	success := err == nil

	record := o.buildRecord(plan, req, res, err, start, freq)
	if saveErr := o.store.SaveRecord(record); saveErr != nil {
		o.logger.Error("Failed to persist rotation state for %s: %v", t, saveErr)
	}
	o.appendHistory(t, req, res, err, start, duration)
	o.recordAudit(ctx, plan, req, res, err, approvedBy, rolledBack)

	resultLabel := "success"
	if !success {
		resultLabel = "failure"
	}
	metrics.RecordRotation(string(t), req.Environment, resultLabel, duration.Seconds())
	if success {
		metrics.SetSecretAge(string(t), req.Environment, 0)
	}

	if success {
		o.logger.Success("Rotated %s secrets (%s)", t, duration.Round(time.Millisecond))
		o.publish(notify.Event{
			Type:        notify.EventRotationCompleted,
			Environment: req.Environment,
			SecretType:  string(t),
			Success:     true,
			Duration:    duration,
			Details:     rotatedDetails(res),
		})
		return TypeResult{
			Type:       t,
			Outcome:    OutcomeRotated,
			Duration:   duration,
			Secrets:    res.SecretsRotated,
			ApprovedBy: approvedBy,
		}
	}

	o.logger.Error("Rotation of %s failed: %v", t, err)
	eventType := notify.EventRotationFailed
	if rolledBack {
		eventType = notify.EventRotationRollback
	}
	o.publish(notify.Event{
		Type:        eventType,
		Environment: req.Environment,
		SecretType:  string(t),
		Success:     false,
		Error:       err,
		Duration:    duration,
	})
	return TypeResult{
		Type:       t,
		Outcome:    OutcomeFailed,
		Err:        err,
		Reason:     "rotation failed",
		Duration:   duration,
		RolledBack: rolledBack,
		ApprovedBy: approvedBy,
	}
}

// rollback undoes a rotation whose verification failed. Best effort.
func (o *Orchestrator) rollback(ctx context.Context, rotator Rotator, res *Result, environment string) bool {
	o.logger.Warn("Verification failed for %s, rolling back", res.Type)
	if err := rotator.Rollback(ctx, res); err != nil {
		o.logger.Error("Rollback of %s failed: %v", res.Type, err)
		o.recordEvent(ctx, audit.NewEvent(audit.TypeRotation, audit.SeverityCritical, environment,
			"rollback", vaultResource(res, environment), "failure"), map[string]string{
			"secret_type": string(res.Type),
			"error":       err.Error(),
		})
		return false
	}
	o.logger.Warn("Rolled back %s after failed verification", res.Type)
	o.recordEvent(ctx, audit.NewEvent(audit.TypeRotation, audit.SeverityHigh, environment,
		"rollback", vaultResource(res, environment), "success"), map[string]string{
		"secret_type": string(res.Type),
	})
	return true
}

// buildRecord derives the new status record from the attempt. On
// failure the due date is preserved so the type stays due.
func (o *Orchestrator) buildRecord(plan TypePlan, req RunRequest, res *Result, err error, start time.Time, freq time.Duration) *state.Record {
	record := &state.Record{
		Timestamp:   start,
		Type:        string(plan.Type),
		Environment: req.Environment,
		Success:     err == nil,
		DurationMS:  o.now().Sub(start).Milliseconds(),
	}

	if prior := plan.Record; prior != nil {
		record.RotationCount = prior.RotationCount
		record.SuccessCount = prior.SuccessCount
		record.FailureCount = prior.FailureCount
	}
	record.RotationCount++

	if err == nil {
		record.SuccessCount++
		record.NextDue = start.Add(freq)
		if res != nil {
			record.SecretsRotated = res.SecretsRotated
		}
	} else {
		record.FailureCount++
		record.LastError = err.Error()
		record.NextDue = start
		if prior := plan.Record; prior != nil {
			record.NextDue = prior.NextDue
		}
	}
	return record
}

func (o *Orchestrator) appendHistory(t SecretType, req RunRequest, res *Result, err error, start time.Time, duration time.Duration) {
	entry := &state.HistoryEntry{
		Timestamp:   start,
		Type:        string(t),
		Environment: req.Environment,
		Action:      "rotate",
		Success:     err == nil,
		DurationMS:  duration.Milliseconds(),
		TriggeredBy: req.TriggeredBy,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if res != nil {
		entry.SecretsRotated = res.SecretsRotated
	}
	if appendErr := o.store.AppendHistory(entry); appendErr != nil {
		o.logger.Error("Failed to append rotation history for %s: %v", t, appendErr)
	}
}

// recordAudit emits the per-attempt audit event.
func (o *Orchestrator) recordAudit(ctx context.Context, plan TypePlan, req RunRequest, res *Result, err error, approvedBy string, rolledBack bool) {
	severity := audit.SeverityMedium
	if plan.Critical {
		severity = audit.SeverityHigh
	}
	result := "success"
	if err != nil {
		result = "failure"
		severity = audit.SeverityHigh
		if plan.Critical {
			severity = audit.SeverityCritical
		}
	}

	details := map[string]string{
		"secret_type":  string(plan.Type),
		"triggered_by": req.TriggeredBy,
	}
	if approvedBy != "" {
		details["approved_by"] = approvedBy
	}
	if rolledBack {
		details["rolled_back"] = "true"
	}
	if err != nil {
		details["error"] = err.Error()
	}

	o.recordEvent(ctx, audit.NewEvent(audit.TypeRotation, severity, req.Environment,
		"rotate", vaultResource(res, req.Environment), result), details)
}

// recordDenied audits a critical rotation blocked by the approval gate.
func (o *Orchestrator) recordDenied(ctx context.Context, plan TypePlan, req RunRequest, gateErr error) {
	o.recordEvent(ctx, audit.NewEvent(audit.TypeRotation, audit.SeverityHigh, req.Environment,
		"rotate", "secret/"+req.Environment+"/"+string(plan.Type), "denied"), map[string]string{
		"secret_type":  string(plan.Type),
		"triggered_by": req.TriggeredBy,
		"reason":       gateErr.Error(),
	})
}

func (o *Orchestrator) recordEvent(ctx context.Context, event audit.Event, details map[string]string) {
	event.Details = details
	o.auditRecorder().Record(ctx, event)
}

func (o *Orchestrator) publish(event notify.Event) {
	o.mu.RLock()
	manager := o.notifier
	o.mu.RUnlock()
	manager.Publish(event)
}

func (o *Orchestrator) auditRecorder() *audit.Recorder {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.auditor
}

func (o *Orchestrator) rotatorFor(t SecretType) Rotator {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.rotators[t]
}

// canonicalize orders and dedupes requested types.
func canonicalize(requested []SecretType) []SecretType {
	want := make(map[SecretType]bool, len(requested))
	for _, t := range requested {
		want[t] = true
	}
	var out []SecretType
	for _, t := range CanonicalOrder {
		if want[t] {
			out = append(out, t)
		}
	}
	return out
}

func rotatedDetails(res *Result) map[string]string {
	if res == nil || len(res.SecretsRotated) == 0 {
		return nil
	}
	return map[string]string{"secrets": joinNames(res.SecretsRotated)}
}

func joinNames(names []string) string {
	out := ""
	for i, name := range names {
		if i > 0 {
			out += ", "
		}
		out += name
	}
	return out
}

func vaultResource(res *Result, environment string) string {
	if res != nil && res.VaultPath != "" {
		return res.VaultPath
	}
	if res != nil {
		return "secret/" + environment + "/" + string(res.Type)
	}
	return "secret/" + environment
}

// sleepContext waits for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
