package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gameforge/gfops/internal/config"
)

// pagerDutyAPIURL is the Events API v2 enqueue endpoint.
const pagerDutyAPIURL = "https://events.pagerduty.com/v2/enqueue"

// PagerDutyConfig holds configuration for PagerDuty notifications.
type PagerDutyConfig struct {
	// IntegrationKey is the Events API v2 routing key.
	IntegrationKey string

	// Severity is the default incident severity: critical, error,
	// warning, info. Defaults to "error".
	Severity string

	// Events filters which event types are sent. Empty sends all.
	Events []string

	// AutoResolve resolves the open incident when a later event for the
	// same secret type succeeds.
	AutoResolve bool
}

// PagerDutyProvider triggers and resolves incidents through the Events
// API v2. Failure-class events trigger; success events resolve when
// auto-resolve is on; everything else is ignored.
type PagerDutyProvider struct {
	config PagerDutyConfig
	client *http.Client
	apiURL string
}

// NewPagerDutyProvider creates a PagerDuty notification provider.
func NewPagerDutyProvider(cfg PagerDutyConfig) *PagerDutyProvider {
	return &PagerDutyProvider{
		config: cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		apiURL: pagerDutyAPIURL,
	}
}

// Name returns the provider name.
func (p *PagerDutyProvider) Name() string {
	return "pagerduty"
}

// Supports returns true if this provider handles the given event type.
func (p *PagerDutyProvider) Supports(eventType EventType) bool {
	return eventFilterAllows(p.config.Events, eventType)
}

// Validate checks if the provider configuration is valid.
func (p *PagerDutyProvider) Validate() error {
	if p.config.IntegrationKey == "" {
		return fmt.Errorf("integration key is required")
	}
	if p.config.Severity != "" {
		switch strings.ToLower(p.config.Severity) {
		case "critical", "error", "warning", "info":
		default:
			return fmt.Errorf("invalid severity: %s (must be critical, error, warning, or info)", p.config.Severity)
		}
	}
	return nil
}

// Send enqueues a PagerDuty event for the given operational event.
func (p *PagerDutyProvider) Send(ctx context.Context, event Event) error {
	action := p.determineAction(event)
	if action == "" {
		return nil
	}
	if action == "resolve" && !p.config.AutoResolve {
		return nil
	}

	body, err := json.Marshal(p.buildPayload(event, action))
	if err != nil {
		return fmt.Errorf("marshal PagerDuty payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send PagerDuty notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("PagerDuty returned status %d", resp.StatusCode)
	}
	return nil
}

// determineAction maps an event to a PagerDuty event action. Started
// events and routine successes produce nothing.
func (p *PagerDutyProvider) determineAction(event Event) string {
	switch event.Type {
	case EventRotationFailed, EventRotationRollback, EventBackupFailed, EventScanFailed, EventDeploymentFailed:
		return "trigger"
	case EventRotationCompleted, EventBackupCompleted:
		if event.Success {
			return "resolve"
		}
		return "trigger"
	case EventAlertReceived:
		if event.Details["severity"] == "critical" {
			if event.Details["status"] == "resolved" {
				return "resolve"
			}
			return "trigger"
		}
		return ""
	default:
		return ""
	}
}

// buildPayload creates the Events API v2 request body.
func (p *PagerDutyProvider) buildPayload(event Event, action string) map[string]interface{} {
	payload := map[string]interface{}{
		"routing_key":  p.config.IntegrationKey,
		"event_action": action,
		"dedup_key":    p.dedupKey(event),
	}

	summary := p.buildSummary(event)
	if action == "resolve" {
		payload["payload"] = map[string]interface{}{
			"summary":  summary,
			"severity": p.severity(event),
			"source":   "gfops",
		}
		return payload
	}

	customDetails := map[string]interface{}{
		"environment": event.Environment,
		"event_type":  string(event.Type),
		"timestamp":   event.Timestamp.Format(time.RFC3339),
	}
	if event.SecretType != "" {
		customDetails["secret_type"] = event.SecretType
	}
	if event.Duration > 0 {
		customDetails["duration"] = event.Duration.String()
	}
	if event.Error != nil {
		customDetails["error"] = event.Error.Error()
	}
	for k, v := range event.Details {
		customDetails[k] = v
	}

	payload["payload"] = map[string]interface{}{
		"summary":        summary,
		"severity":       p.severity(event),
		"source":         "gfops",
		"custom_details": customDetails,
	}
	return payload
}

// buildSummary creates the human-readable incident summary.
func (p *PagerDutyProvider) buildSummary(event Event) string {
	subject := event.SecretType
	if subject == "" {
		if name, ok := event.Details["alertname"]; ok {
			subject = name
		} else if comp, ok := event.Details["component"]; ok {
			subject = comp
		}
	}

	summary := fmt.Sprintf("gfops %s: %s (%s)", eventTitle(event), subject, event.Environment)
	if event.Error != nil {
		summary = fmt.Sprintf("%s - %s", summary, event.Error.Error())
	}

	// PagerDuty caps summaries at 1024 characters.
	if len(summary) > 1024 {
		summary = summary[:1021] + "..."
	}
	return summary
}

// dedupKey groups the trigger and its later resolve into one incident.
func (p *PagerDutyProvider) dedupKey(event Event) string {
	subject := event.SecretType
	if subject == "" {
		if name, ok := event.Details["alertname"]; ok {
			subject = name
		} else {
			subject = string(event.Type)
		}
	}
	return strings.Join([]string{"gfops", event.Environment, subject}, "-")
}

// severity returns the severity to report, preferring the alert's own
// severity label over the configured default.
func (p *PagerDutyProvider) severity(event Event) string {
	if s := event.Details["severity"]; s == "critical" || s == "warning" || s == "error" || s == "info" {
		return s
	}
	if p.config.Severity != "" {
		return strings.ToLower(p.config.Severity)
	}
	return "error"
}

// CreatePagerDutyProvider builds a PagerDuty provider from the loaded
// config.
func CreatePagerDutyProvider(cfg *config.PagerDutyNotificationConfig) (*PagerDutyProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("pagerduty config is nil")
	}

	provider := NewPagerDutyProvider(PagerDutyConfig{
		IntegrationKey: cfg.IntegrationKey,
		Severity:       cfg.Severity,
		Events:         cfg.Events,
		AutoResolve:    cfg.AutoResolve,
	})
	if err := provider.Validate(); err != nil {
		return nil, err
	}
	return provider, nil
}
