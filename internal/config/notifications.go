package config

import (
	"fmt"
	"strings"

	gferrors "github.com/gameforge/gfops/internal/errors"
)

// NotificationConfig holds the notification channels for rotation,
// backup, scan, and alert events.
type NotificationConfig struct {
	// Slack posts to an incoming webhook.
	Slack *SlackNotificationConfig `yaml:"slack,omitempty"`

	// PagerDuty triggers incidents through the Events API v2.
	PagerDuty *PagerDutyNotificationConfig `yaml:"pagerduty,omitempty"`

	// Webhooks are additional generic JSON POST targets.
	Webhooks []WebhookNotificationConfig `yaml:"webhooks,omitempty"`
}

// SlackNotificationConfig holds Slack webhook settings.
type SlackNotificationConfig struct {
	// WebhookURL is the Slack incoming webhook URL.
	WebhookURL string `yaml:"webhook_url"`

	// Channel overrides the webhook's default channel (optional).
	Channel string `yaml:"channel,omitempty"`

	// Events filters which event types are sent. Empty sends all.
	Events []string `yaml:"events,omitempty"`

	// Mentions lists who to ping for specific outcomes.
	Mentions *SlackMentions `yaml:"mentions,omitempty"`
}

// SlackMentions defines who to mention per outcome.
type SlackMentions struct {
	// OnFailure lists handles mentioned when an operation fails,
	// e.g. ["@oncall", "@platform-team"].
	OnFailure []string `yaml:"on_failure,omitempty"`

	// OnRollback lists handles mentioned when a rotation rolls back.
	OnRollback []string `yaml:"on_rollback,omitempty"`
}

// PagerDutyNotificationConfig holds PagerDuty Events API settings.
type PagerDutyNotificationConfig struct {
	// IntegrationKey is the Events API v2 routing key.
	IntegrationKey string `yaml:"integration_key"`

	// Severity is the default incident severity: critical, error,
	// warning, info.
	Severity string `yaml:"severity,omitempty"`

	// Events filters which event types trigger incidents.
	Events []string `yaml:"events,omitempty"`

	// AutoResolve resolves the incident when a later event for the same
	// secret type succeeds.
	AutoResolve bool `yaml:"auto_resolve,omitempty"`
}

// WebhookNotificationConfig holds one generic webhook target.
type WebhookNotificationConfig struct {
	// Name is a human-readable label used in logs.
	Name string `yaml:"name"`

	// URL is the endpoint to POST to.
	URL string `yaml:"url"`

	// Method defaults to POST.
	Method string `yaml:"method,omitempty"`

	// Headers are added to every request.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Events filters which event types are sent.
	Events []string `yaml:"events,omitempty"`

	// PayloadTemplate is an optional text/template for the request body.
	// The default payload is the JSON-encoded event.
	PayloadTemplate string `yaml:"payload_template,omitempty"`

	// Retry controls delivery retries.
	Retry *WebhookRetryConfig `yaml:"retry,omitempty"`

	// TimeoutSeconds bounds one delivery attempt (default 10).
	TimeoutSeconds int `yaml:"timeout,omitempty"`
}

// WebhookRetryConfig holds webhook retry settings.
type WebhookRetryConfig struct {
	// MaxAttempts is the total number of tries (default 3).
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// Backoff strategy: fixed, linear, exponential (default exponential).
	Backoff string `yaml:"backoff,omitempty"`
}

func (n *NotificationConfig) validate(file string) error {
	if n.Slack != nil && n.Slack.WebhookURL == "" {
		return gferrors.ConfigError{
			File:       file,
			Field:      "notifications.slack.webhook_url",
			Message:    "Slack is configured without a webhook URL",
			Suggestion: "Create an incoming webhook at https://api.slack.com/messaging/webhooks",
		}
	}
	if n.PagerDuty != nil && n.PagerDuty.IntegrationKey == "" {
		return gferrors.ConfigError{
			File:       file,
			Field:      "notifications.pagerduty.integration_key",
			Message:    "PagerDuty is configured without an integration key",
			Suggestion: "Add an Events API v2 integration to the service and paste its routing key",
		}
	}
	for i, wh := range n.Webhooks {
		if wh.URL == "" {
			return gferrors.ConfigError{
				File:       file,
				Field:      fmt.Sprintf("notifications.webhooks[%d].url", i),
				Message:    "webhook target without a URL",
				Suggestion: "Set the url field or remove the entry",
			}
		}
		if wh.Retry != nil && wh.Retry.Backoff != "" {
			switch strings.ToLower(wh.Retry.Backoff) {
			case "fixed", "linear", "exponential":
			default:
				return gferrors.ConfigError{
					File:       file,
					Field:      fmt.Sprintf("notifications.webhooks[%d].retry.backoff", i),
					Value:      wh.Retry.Backoff,
					Message:    "unknown backoff strategy",
					Suggestion: "Use fixed, linear, or exponential",
				}
			}
		}
	}
	return nil
}
