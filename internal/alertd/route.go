package alertd

import (
	"context"

	"github.com/gameforge/gfops/internal/audit"
	"github.com/gameforge/gfops/internal/metrics"
	"github.com/gameforge/gfops/internal/notify"
)

// handleAlert routes one alert: critical pages, warning posts, anything
// else is logged only. Firing criticals may also trigger a restart.
func (s *Server) handleAlert(ctx context.Context, alert Alert) {
	severity := alert.Severity()
	metrics.RecordAlertReceived(severity)

	s.logger.Info("Alert %s [%s] %s", alert.Name(), severity, alert.Status)
	s.recordAlert(ctx, alert, severity)

	switch severity {
	case "critical":
		s.notifier.Publish(s.alertEvent(alert, severity, s.cfg.EmergencyChannel))
	case "warning":
		s.notifier.Publish(s.alertEvent(alert, severity, ""))
	default:
		// Informational severities stay out of Slack.
	}

	if _, err := s.remediator.Handle(ctx, alert); err != nil {
		s.logger.Error("Remediation for %s failed: %v", alert.Name(), err)
	}
}

// alertEvent builds the notification for an alert. Critical firing
// alerts are routed to the emergency channel with an @here; resolutions
// go out without the ping so PagerDuty can close the incident quietly.
func (s *Server) alertEvent(alert Alert, severity, channel string) notify.Event {
	details := map[string]string{
		"alertname": alert.Name(),
		"severity":  severity,
		"status":    alert.Status,
	}
	if summary := alert.Summary(); summary != "" {
		details["summary"] = summary
	}
	if service := alert.Service(); service != "" {
		details["service"] = service
	}
	if channel != "" {
		details["channel"] = channel
	}
	if severity == "critical" && !alert.Resolved() {
		details["mention"] = "@here"
	}

	return notify.Event{
		Type:        notify.EventAlertReceived,
		Environment: s.environment,
		Success:     alert.Resolved(),
		Details:     details,
	}
}

// recordAlert writes the audit trail entry for a received alert.
func (s *Server) recordAlert(ctx context.Context, alert Alert, severity string) {
	auditSeverity := audit.SeverityLow
	switch severity {
	case "critical":
		auditSeverity = audit.SeverityHigh
	case "warning":
		auditSeverity = audit.SeverityMedium
	}

	event := audit.NewEvent(audit.TypeAlert, auditSeverity, s.environment, "receive", alert.Name(), alert.Status)
	event.Actor = "alertd"
	event.Details = map[string]string{
		"alertname": alert.Name(),
		"severity":  severity,
	}
	if service := alert.Service(); service != "" {
		event.Details["service"] = service
	}
	s.auditor.Record(ctx, event)
}
