package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/template"
	"time"

	"github.com/gameforge/gfops/internal/config"
)

// RetryConfig holds delivery retry settings for webhooks.
type RetryConfig struct {
	// MaxAttempts is the total number of tries (default 3).
	MaxAttempts int

	// Backoff strategy: fixed, linear, exponential (default exponential).
	Backoff string

	// InitialWait is the wait before the second attempt (default 1s).
	InitialWait time.Duration
}

// WebhookConfig holds configuration for one generic webhook target.
type WebhookConfig struct {
	// Name is a human-readable label used in logs.
	Name string

	// URL is the endpoint to deliver to.
	URL string

	// Method defaults to POST.
	Method string

	// Headers are added to every request.
	Headers map[string]string

	// Events filters which event types are sent. Empty sends all.
	Events []string

	// PayloadTemplate is an optional text/template for the request body.
	// The default payload is the JSON-encoded event.
	PayloadTemplate string

	// Retry controls delivery retries.
	Retry *RetryConfig

	// Timeout bounds one delivery attempt.
	Timeout time.Duration
}

// WebhookProvider delivers events as JSON to an arbitrary HTTP endpoint,
// retrying transient failures. A 4xx response is treated as permanent
// and not retried.
type WebhookProvider struct {
	config   WebhookConfig
	client   *http.Client
	template *template.Template
}

// statusError marks a non-2xx response so retry logic can tell client
// errors from server errors.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.code)
}

// NewWebhookProvider creates a webhook notification provider.
func NewWebhookProvider(cfg WebhookConfig) *WebhookProvider {
	if cfg.Method == "" {
		cfg.Method = "POST"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = &RetryConfig{}
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.Backoff == "" {
		cfg.Retry.Backoff = "exponential"
	}
	if cfg.Retry.InitialWait == 0 {
		cfg.Retry.InitialWait = 1 * time.Second
	}

	provider := &WebhookProvider{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.PayloadTemplate != "" {
		if tmpl, err := template.New("payload").Parse(cfg.PayloadTemplate); err == nil {
			provider.template = tmpl
		}
	}
	return provider
}

// Name returns the provider name.
func (p *WebhookProvider) Name() string {
	if p.config.Name != "" {
		return "webhook:" + p.config.Name
	}
	return "webhook"
}

// Supports returns true if this provider handles the given event type.
func (p *WebhookProvider) Supports(eventType EventType) bool {
	return eventFilterAllows(p.config.Events, eventType)
}

// Validate checks if the provider configuration is valid.
func (p *WebhookProvider) Validate() error {
	if p.config.URL == "" {
		return fmt.Errorf("URL is required")
	}
	parsed, err := url.Parse(p.config.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid URL: %s", p.config.URL)
	}

	switch strings.ToUpper(p.config.Method) {
	case "POST", "PUT", "PATCH", "":
	default:
		return fmt.Errorf("invalid method: %s (must be POST, PUT, or PATCH)", p.config.Method)
	}

	if p.config.Retry != nil && p.config.Retry.Backoff != "" {
		switch strings.ToLower(p.config.Retry.Backoff) {
		case "fixed", "linear", "exponential":
		default:
			return fmt.Errorf("invalid backoff strategy: %s (must be fixed, linear, or exponential)", p.config.Retry.Backoff)
		}
	}
	return nil
}

// Send delivers the event, retrying on network errors and 5xx responses.
func (p *WebhookProvider) Send(ctx context.Context, event Event) error {
	payload, err := p.buildPayload(event)
	if err != nil {
		return fmt.Errorf("build payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= p.config.Retry.MaxAttempts; attempt++ {
		err := p.doSend(ctx, payload)
		if err == nil {
			return nil
		}
		lastErr = err

		var se *statusError
		if errors.As(err, &se) && se.code >= 400 && se.code < 500 {
			return fmt.Errorf("webhook rejected delivery: %w", err)
		}

		if attempt < p.config.Retry.MaxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff(attempt)):
			}
		}
	}

	return fmt.Errorf("webhook failed after %d attempts: %w", p.config.Retry.MaxAttempts, lastErr)
}

func (p *WebhookProvider) doSend(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(p.config.Method), p.config.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range p.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

// webhookTemplateData is the payload template's view of an event.
type webhookTemplateData struct {
	Type        string
	Environment string
	SecretType  string
	Success     bool
	Error       string
	Duration    string
	Timestamp   string
	Details     map[string]string
}

func (p *WebhookProvider) buildPayload(event Event) ([]byte, error) {
	if p.template == nil {
		return p.buildDefaultPayload(event)
	}

	data := webhookTemplateData{
		Type:        string(event.Type),
		Environment: event.Environment,
		SecretType:  event.SecretType,
		Success:     event.Success,
		Duration:    event.Duration.String(),
		Timestamp:   event.Timestamp.Format(time.RFC3339),
		Details:     event.Details,
	}
	if event.Error != nil {
		data.Error = event.Error.Error()
	}

	var buf bytes.Buffer
	if err := p.template.Execute(&buf, data); err != nil {
		// Fall back to the default payload on template errors.
		return p.buildDefaultPayload(event)
	}
	return buf.Bytes(), nil
}

func (p *WebhookProvider) buildDefaultPayload(event Event) ([]byte, error) {
	payload := map[string]interface{}{
		"event":       string(event.Type),
		"environment": event.Environment,
		"success":     event.Success,
		"timestamp":   event.Timestamp.Format(time.RFC3339),
	}
	if event.SecretType != "" {
		payload["secret_type"] = event.SecretType
	}
	if event.Duration > 0 {
		payload["duration_seconds"] = event.Duration.Seconds()
	}
	if event.Error != nil {
		payload["error"] = event.Error.Error()
	}
	if len(event.Details) > 0 {
		payload["details"] = event.Details
	}
	return json.Marshal(payload)
}

// backoff computes the wait before the next attempt.
func (p *WebhookProvider) backoff(attempt int) time.Duration {
	initial := p.config.Retry.InitialWait
	switch strings.ToLower(p.config.Retry.Backoff) {
	case "linear":
		return initial * time.Duration(attempt)
	case "exponential":
		return initial * time.Duration(1<<(attempt-1))
	default:
		return initial
	}
}

// CreateWebhookProvider builds a webhook provider from the loaded config.
func CreateWebhookProvider(cfg *config.WebhookNotificationConfig) (*WebhookProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("webhook config is nil")
	}

	webhookConfig := WebhookConfig{
		Name:            cfg.Name,
		URL:             cfg.URL,
		Method:          cfg.Method,
		Headers:         cfg.Headers,
		Events:          cfg.Events,
		PayloadTemplate: cfg.PayloadTemplate,
	}
	if cfg.TimeoutSeconds > 0 {
		webhookConfig.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if cfg.Retry != nil {
		webhookConfig.Retry = &RetryConfig{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Backoff:     cfg.Retry.Backoff,
		}
	}

	provider := NewWebhookProvider(webhookConfig)
	if err := provider.Validate(); err != nil {
		return nil, err
	}
	return provider, nil
}
