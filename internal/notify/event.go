package notify

import (
	"time"
)

// EventType identifies what happened.
type EventType string

const (
	// EventRotationStarted indicates a secret rotation has started.
	EventRotationStarted EventType = "rotation_started"

	// EventRotationCompleted indicates a secret rotation succeeded.
	EventRotationCompleted EventType = "rotation_completed"

	// EventRotationFailed indicates a secret rotation failed.
	EventRotationFailed EventType = "rotation_failed"

	// EventRotationRollback indicates a failed rotation was rolled back.
	EventRotationRollback EventType = "rotation_rollback"

	// EventBackupCompleted indicates a backup run succeeded.
	EventBackupCompleted EventType = "backup_completed"

	// EventBackupFailed indicates a backup run failed or was partial.
	EventBackupFailed EventType = "backup_failed"

	// EventScanFailed indicates a security scan gate failed.
	EventScanFailed EventType = "scan_failed"

	// EventDeploymentFailed indicates the monitor loop exhausted its
	// attempts without the deployment becoming healthy.
	EventDeploymentFailed EventType = "deployment_failed"

	// EventAlertReceived indicates the alert receiver accepted an alert.
	EventAlertReceived EventType = "alert_received"

	// EventRemediationPerformed indicates an automatic service restart ran.
	EventRemediationPerformed EventType = "remediation_performed"
)

// Event is one operational occurrence worth telling a human about.
type Event struct {
	// Type is the kind of event.
	Type EventType

	// Timestamp is when the event occurred.
	Timestamp time.Time

	// Environment is the environment name (e.g. "production").
	Environment string

	// SecretType is set for rotation events ("root", "application", ...).
	SecretType string

	// Success reports the outcome for completed/failed pairs.
	Success bool

	// Error carries the failure when Success is false.
	Error error

	// Duration is how long the operation took, when known.
	Duration time.Duration

	// Details holds additional context. Never secret values.
	Details map[string]string
}

// Failed reports whether the event describes a failure a human should
// look at.
func (e Event) Failed() bool {
	switch e.Type {
	case EventRotationFailed, EventRotationRollback, EventBackupFailed, EventScanFailed, EventDeploymentFailed:
		return true
	}
	return !e.Success && e.Error != nil
}

// AllEventTypes returns every valid event type.
func AllEventTypes() []EventType {
	return []EventType{
		EventRotationStarted,
		EventRotationCompleted,
		EventRotationFailed,
		EventRotationRollback,
		EventBackupCompleted,
		EventBackupFailed,
		EventScanFailed,
		EventDeploymentFailed,
		EventAlertReceived,
		EventRemediationPerformed,
	}
}
