package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gameforge/gfops/internal/config"
)

// SlackConfig holds configuration for Slack webhook notifications.
type SlackConfig struct {
	// WebhookURL is the Slack incoming webhook URL.
	WebhookURL string

	// Channel overrides the webhook's default channel (optional).
	Channel string

	// Events filters which event types are sent. Empty sends all.
	Events []string

	// Mentions specifies who to ping for specific outcomes.
	Mentions *SlackMentions
}

// SlackMentions defines who to mention per outcome.
type SlackMentions struct {
	// OnFailure lists Slack handles mentioned when an operation fails.
	OnFailure []string

	// OnRollback lists Slack handles mentioned when a rotation rolls back.
	OnRollback []string
}

// SlackProvider posts Block Kit messages to a Slack incoming webhook.
type SlackProvider struct {
	config SlackConfig
	client *http.Client
}

// NewSlackProvider creates a Slack notification provider.
func NewSlackProvider(cfg SlackConfig) *SlackProvider {
	return &SlackProvider{
		config: cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name returns the provider name.
func (p *SlackProvider) Name() string {
	return "slack"
}

// Supports returns true if this provider handles the given event type.
func (p *SlackProvider) Supports(eventType EventType) bool {
	return eventFilterAllows(p.config.Events, eventType)
}

// Validate checks if the provider configuration is valid.
func (p *SlackProvider) Validate() error {
	if p.config.WebhookURL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	parsed, err := url.Parse(p.config.WebhookURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid webhook URL: %s", p.config.WebhookURL)
	}
	return nil
}

// Send posts the event to Slack.
func (p *SlackProvider) Send(ctx context.Context, event Event) error {
	message := p.buildMessage(event)

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal Slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send Slack notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

// buildMessage creates a Block Kit formatted Slack message.
func (p *SlackProvider) buildMessage(event Event) map[string]interface{} {
	blocks := make([]map[string]interface{}, 0)

	blocks = append(blocks, map[string]interface{}{
		"type": "header",
		"text": map[string]interface{}{
			"type":  "plain_text",
			"text":  fmt.Sprintf("%s %s", eventEmoji(event), eventTitle(event)),
			"emoji": true,
		},
	})

	fields := []map[string]interface{}{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Environment:*\n%s", event.Environment),
		},
	}
	if event.SecretType != "" {
		fields = append(fields, map[string]interface{}{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Secret Type:*\n%s", event.SecretType),
		})
	}
	if event.Duration > 0 {
		fields = append(fields, map[string]interface{}{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Duration:*\n%s", event.Duration.Round(time.Millisecond)),
		})
	}
	for _, key := range detailKeys(event.Details) {
		// Routing hints, not content.
		if key == "channel" || key == "mention" {
			continue
		}
		fields = append(fields, map[string]interface{}{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*%s:*\n%s", titleCase(key), event.Details[key]),
		})
	}
	// Slack caps section fields at ten.
	if len(fields) > 10 {
		fields = fields[:10]
	}
	blocks = append(blocks, map[string]interface{}{
		"type":   "section",
		"fields": fields,
	})

	if event.Error != nil {
		blocks = append(blocks, map[string]interface{}{
			"type": "section",
			"text": map[string]interface{}{
				"type": "mrkdwn",
				"text": fmt.Sprintf(":warning: *Error:*\n```%s```", event.Error.Error()),
			},
		})
	}

	if mentions := p.mentionsFor(event); mentions != "" {
		blocks = append(blocks, map[string]interface{}{
			"type": "section",
			"text": map[string]interface{}{
				"type": "mrkdwn",
				"text": fmt.Sprintf("*Attention:* %s", mentions),
			},
		})
	}

	blocks = append(blocks, map[string]interface{}{
		"type": "context",
		"elements": []map[string]interface{}{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("<!date^%d^{date_short_pretty} at {time}|%s>",
					event.Timestamp.Unix(), event.Timestamp.Format(time.RFC3339)),
			},
		},
	})
	blocks = append(blocks, map[string]interface{}{"type": "divider"})

	message := map[string]interface{}{"blocks": blocks}
	if p.config.Channel != "" {
		message["channel"] = p.config.Channel
	}
	// An event-level channel wins over the configured default, so a
	// critical alert can land in the emergency channel.
	if ch := event.Details["channel"]; ch != "" {
		message["channel"] = ch
	}
	return message
}

// mentionsFor returns the Slack mentions to attach, if any.
func (p *SlackProvider) mentionsFor(event Event) string {
	if m := event.Details["mention"]; m != "" {
		return m
	}
	if p.config.Mentions == nil {
		return ""
	}

	var mentions []string
	switch event.Type {
	case EventRotationRollback:
		mentions = p.config.Mentions.OnRollback
	default:
		if event.Failed() {
			mentions = p.config.Mentions.OnFailure
		}
	}

	return strings.Join(mentions, " ")
}

// eventEmoji returns the Slack emoji for the event.
func eventEmoji(event Event) string {
	switch event.Type {
	case EventRotationStarted:
		return ":arrows_counterclockwise:"
	case EventRotationCompleted:
		return ":white_check_mark:"
	case EventRotationFailed:
		return ":x:"
	case EventRotationRollback:
		return ":rewind:"
	case EventBackupCompleted:
		return ":floppy_disk:"
	case EventBackupFailed:
		return ":x:"
	case EventScanFailed:
		return ":rotating_light:"
	case EventDeploymentFailed:
		return ":fire:"
	case EventAlertReceived:
		if event.Details["severity"] == "critical" {
			return ":rotating_light:"
		}
		return ":bell:"
	case EventRemediationPerformed:
		return ":wrench:"
	default:
		return ":bell:"
	}
}

// eventTitle returns a human-readable title for the event.
func eventTitle(event Event) string {
	switch event.Type {
	case EventRotationStarted:
		return "Secret Rotation Started"
	case EventRotationCompleted:
		return "Secret Rotation Completed"
	case EventRotationFailed:
		return "Secret Rotation Failed"
	case EventRotationRollback:
		return "Secret Rotation Rolled Back"
	case EventBackupCompleted:
		return "Backup Completed"
	case EventBackupFailed:
		return "Backup Failed"
	case EventScanFailed:
		return "Security Scan Failed"
	case EventDeploymentFailed:
		return "Deployment Unhealthy"
	case EventAlertReceived:
		return "Alert Received"
	case EventRemediationPerformed:
		return "Automatic Remediation Performed"
	default:
		return "Operational Event"
	}
}

// eventFilterAllows applies a config event filter; an empty filter
// allows everything.
func eventFilterAllows(filter []string, eventType EventType) bool {
	if len(filter) == 0 {
		return true
	}
	for _, e := range filter {
		if strings.EqualFold(e, string(eventType)) {
			return true
		}
	}
	return false
}

// detailKeys returns detail map keys in a stable order.
func detailKeys(details map[string]string) []string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// titleCase renders a snake_case detail key as a field label.
func titleCase(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// CreateSlackProvider builds a Slack provider from the loaded config.
func CreateSlackProvider(cfg *config.SlackNotificationConfig) (*SlackProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("slack config is nil")
	}

	slackConfig := SlackConfig{
		WebhookURL: cfg.WebhookURL,
		Channel:    cfg.Channel,
		Events:     cfg.Events,
	}
	if cfg.Mentions != nil {
		slackConfig.Mentions = &SlackMentions{
			OnFailure:  cfg.Mentions.OnFailure,
			OnRollback: cfg.Mentions.OnRollback,
		}
	}

	provider := NewSlackProvider(slackConfig)
	if err := provider.Validate(); err != nil {
		return nil, err
	}
	return provider, nil
}
