// Package audit records every security-relevant operation (rotations,
// approvals, backups, scans, syncs, alerts, remediations) as structured
// events. Events land in an append-only JSONL file per day and,
// optionally, an Elasticsearch daily index. Audit failures never fail
// the operation being audited; they are logged and swallowed.
package audit

import (
	"context"
	"os"
	"os/user"
	"time"

	"github.com/google/uuid"

	"github.com/gameforge/gfops/internal/logging"
)

// EventType classifies what kind of operation an event records.
type EventType string

const (
	TypeRotation    EventType = "rotation"
	TypeApproval    EventType = "approval"
	TypeBackup      EventType = "backup"
	TypeScan        EventType = "scan"
	TypeSync        EventType = "sync"
	TypeAlert       EventType = "alert"
	TypeRemediation EventType = "remediation"
	TypeDeployment  EventType = "deployment"
	TypeSystem      EventType = "system"
)

// Severity grades how security-relevant an event is. Critical events
// extend the retention of the day files that contain them.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Event is one audit record. Details must never contain secret values;
// reference secrets by path or type only.
type Event struct {
	EventID     string            `json:"event_id"`
	Timestamp   time.Time         `json:"timestamp"`
	EventType   EventType         `json:"event_type"`
	Severity    Severity          `json:"severity"`
	Environment string            `json:"environment"`
	Actor       string            `json:"actor"`
	Action      string            `json:"action"`
	Resource    string            `json:"resource"`
	Result      string            `json:"result"`
	Details     map[string]string `json:"details,omitempty"`
}

// NewEvent builds an event with a fresh ID, a UTC timestamp, and the
// current OS user as actor. Daemons overwrite Actor with their own name.
func NewEvent(eventType EventType, severity Severity, environment, action, resource, result string) Event {
	return Event{
		EventID:     uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		EventType:   eventType,
		Severity:    severity,
		Environment: environment,
		Actor:       CurrentActor(),
		Action:      action,
		Resource:    resource,
		Result:      result,
	}
}

// CurrentActor identifies who is driving this process: the OS user for
// interactive runs, or "unknown" when that cannot be determined.
func CurrentActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

// Sink receives validated events. Implementations must be safe for
// concurrent use.
type Sink interface {
	// Name identifies the sink in warning logs.
	Name() string

	// Write persists one event.
	Write(ctx context.Context, event Event) error
}

// Recorder validates events and fans them out to all sinks. A nil
// Recorder is a valid no-op, so callers never guard audit calls.
type Recorder struct {
	sinks  []Sink
	logger *logging.Logger
}

// NewRecorder creates a recorder over the given sinks.
func NewRecorder(sinks []Sink, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.New(false, true)
	}
	return &Recorder{sinks: sinks, logger: logger}
}

// Record validates the event and writes it to every sink. Failures are
// logged as warnings and never propagated: an unavailable audit sink
// must not block a rotation or a backup.
func (r *Recorder) Record(ctx context.Context, event Event) {
	if r == nil {
		return
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.Timestamp = event.Timestamp.UTC()
	if event.Actor == "" {
		event.Actor = CurrentActor()
	}

	if err := Validate(event); err != nil {
		r.logger.Warn("Dropping invalid audit event (%s/%s): %v", event.EventType, event.Action, err)
		return
	}

	for _, sink := range r.sinks {
		if err := sink.Write(ctx, event); err != nil {
			r.logger.Warn("Audit sink %s failed for event %s: %v", sink.Name(), event.EventID, err)
		}
	}
}

// Sinks returns the registered sinks, mainly for readiness checks.
func (r *Recorder) Sinks() []Sink {
	if r == nil {
		return nil
	}
	return r.sinks
}
