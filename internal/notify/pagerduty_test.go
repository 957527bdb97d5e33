package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gameforge/gfops/internal/config"
)

func TestPagerDutyProvider_Name(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "pagerduty", NewPagerDutyProvider(PagerDutyConfig{}).Name())
}

func TestPagerDutyProvider_Validate(t *testing.T) {
	t.Parallel()

	assert.Error(t, NewPagerDutyProvider(PagerDutyConfig{}).Validate())
	assert.Error(t, NewPagerDutyProvider(PagerDutyConfig{IntegrationKey: "k", Severity: "urgent"}).Validate())
	assert.NoError(t, NewPagerDutyProvider(PagerDutyConfig{IntegrationKey: "k", Severity: "critical"}).Validate())
}

func TestPagerDutyProvider_Send_TriggerOnFailure(t *testing.T) {
	t.Parallel()

	var payload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &payload))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	provider := NewPagerDutyProvider(PagerDutyConfig{
		IntegrationKey: "test-key",
		Severity:       "critical",
	})
	provider.apiURL = server.URL

	event := Event{
		Type:        EventRotationFailed,
		Environment: "production",
		SecretType:  "database",
		Error:       errors.New("alter user failed"),
		Timestamp:   time.Now(),
	}
	require.NoError(t, provider.Send(context.Background(), event))

	assert.Equal(t, "test-key", payload["routing_key"])
	assert.Equal(t, "trigger", payload["event_action"])
	assert.Equal(t, "gfops-production-database", payload["dedup_key"])

	inner := payload["payload"].(map[string]interface{})
	assert.Equal(t, "critical", inner["severity"])
	assert.Contains(t, inner["summary"], "database")
	details := inner["custom_details"].(map[string]interface{})
	assert.Equal(t, "alter user failed", details["error"])
}

func TestPagerDutyProvider_Send_ResolveOnSuccess(t *testing.T) {
	t.Parallel()

	var payload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &payload))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	provider := NewPagerDutyProvider(PagerDutyConfig{
		IntegrationKey: "test-key",
		AutoResolve:    true,
	})
	provider.apiURL = server.URL

	event := Event{
		Type:        EventRotationCompleted,
		Environment: "production",
		SecretType:  "database",
		Success:     true,
		Timestamp:   time.Now(),
	}
	require.NoError(t, provider.Send(context.Background(), event))

	assert.Equal(t, "resolve", payload["event_action"])
	assert.Equal(t, "gfops-production-database", payload["dedup_key"])
}

func TestPagerDutyProvider_Send_SkipsResolveWithoutAutoResolve(t *testing.T) {
	t.Parallel()

	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	provider := NewPagerDutyProvider(PagerDutyConfig{IntegrationKey: "test-key"})
	provider.apiURL = server.URL

	event := Event{
		Type:        EventRotationCompleted,
		Environment: "production",
		SecretType:  "tls",
		Success:     true,
		Timestamp:   time.Now(),
	}
	require.NoError(t, provider.Send(context.Background(), event))
	assert.False(t, called, "success without auto_resolve must not hit the API")
}

func TestPagerDutyProvider_Send_IgnoresStartedEvents(t *testing.T) {
	t.Parallel()

	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	provider := NewPagerDutyProvider(PagerDutyConfig{IntegrationKey: "test-key"})
	provider.apiURL = server.URL

	require.NoError(t, provider.Send(context.Background(), Event{
		Type:      EventRotationStarted,
		Timestamp: time.Now(),
	}))
	assert.False(t, called)
}

func TestPagerDutyProvider_Send_CriticalAlert(t *testing.T) {
	t.Parallel()

	var payload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &payload))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	provider := NewPagerDutyProvider(PagerDutyConfig{IntegrationKey: "test-key"})
	provider.apiURL = server.URL

	event := Event{
		Type:        EventAlertReceived,
		Environment: "production",
		Timestamp:   time.Now(),
		Details: map[string]string{
			"severity":  "critical",
			"alertname": "ServiceDown",
		},
	}
	require.NoError(t, provider.Send(context.Background(), event))

	assert.Equal(t, "trigger", payload["event_action"])
	assert.Equal(t, "gfops-production-ServiceDown", payload["dedup_key"])
	inner := payload["payload"].(map[string]interface{})
	assert.Equal(t, "critical", inner["severity"])
}

func TestPagerDutyProvider_Send_WarningAlertIgnored(t *testing.T) {
	t.Parallel()

	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	provider := NewPagerDutyProvider(PagerDutyConfig{IntegrationKey: "test-key"})
	provider.apiURL = server.URL

	require.NoError(t, provider.Send(context.Background(), Event{
		Type:      EventAlertReceived,
		Timestamp: time.Now(),
		Details:   map[string]string{"severity": "warning"},
	}))
	assert.False(t, called)
}

func TestCreatePagerDutyProvider(t *testing.T) {
	t.Parallel()

	_, err := CreatePagerDutyProvider(nil)
	assert.Error(t, err)

	_, err = CreatePagerDutyProvider(&config.PagerDutyNotificationConfig{})
	assert.Error(t, err)

	provider, err := CreatePagerDutyProvider(&config.PagerDutyNotificationConfig{
		IntegrationKey: "key",
		Severity:       "critical",
		AutoResolve:    true,
	})
	require.NoError(t, err)
	assert.True(t, provider.config.AutoResolve)
}
