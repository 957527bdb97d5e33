// Package notify fans operational events out to Slack, PagerDuty, and
// generic webhooks. Delivery is asynchronous and best-effort: a
// notification failure never fails the operation that produced it.
package notify

import (
	"context"
)

// Provider delivers events to one notification channel.
type Provider interface {
	// Name returns the provider name (e.g. "slack", "pagerduty", "webhook").
	Name() string

	// Send delivers a notification for the given event.
	Send(ctx context.Context, event Event) error

	// Supports returns true if this provider handles the given event type.
	Supports(eventType EventType) bool

	// Validate checks if the provider configuration is valid.
	Validate() error
}
