package alertd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gameforge/gfops/internal/audit"
	"github.com/gameforge/gfops/internal/config"
	"github.com/gameforge/gfops/internal/logging"
	"github.com/gameforge/gfops/internal/notify"
	"github.com/gameforge/gfops/tests/testutil"
)

type captureProvider struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *captureProvider) Name() string                        { return "capture" }
func (p *captureProvider) Supports(notify.EventType) bool      { return true }
func (p *captureProvider) Validate() error                     { return nil }
func (p *captureProvider) Send(_ context.Context, e notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *captureProvider) all() []notify.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notify.Event(nil), p.events...)
}

type captureSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Write(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

type serverFixture struct {
	server   *Server
	notifier *notify.Manager
	provider *captureProvider
	sink     *captureSink
	executor *testutil.MockCommandExecutor
}

func newTestServer(t *testing.T, cfg config.AlertdConfig) *serverFixture {
	t.Helper()

	logger := logging.New(false, true)
	provider := &captureProvider{}
	notifier := notify.NewManager(0, logger)
	notifier.Register(provider)
	notifier.Start(context.Background())
	t.Cleanup(notifier.Stop)

	sink := &captureSink{}
	auditor := audit.NewRecorder([]audit.Sink{sink}, logger)

	executor := testutil.NewMockCommandExecutor()
	executor.AddResponse("docker compose restart", testutil.MockResponse{})

	remediator := NewRemediator(cfg.Remediation, "production", executor, logger)
	remediator.SetAuditor(auditor)
	remediator.SetNotifier(notifier)

	return &serverFixture{
		server:   NewServer(cfg, "production", notifier, auditor, remediator, logger),
		notifier: notifier,
		provider: provider,
		sink:     sink,
		executor: executor,
	}
}

func postWebhook(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

const criticalAlertBody = `{
	"version": "4",
	"status": "firing",
	"receiver": "gfops",
	"alerts": [{
		"status": "firing",
		"labels": {"alertname": "GameServerDown", "severity": "critical", "service": "game-server"},
		"annotations": {"summary": "game-server is not responding"},
		"startsAt": "2026-08-25T10:00:00Z",
		"fingerprint": "abc123"
	}]
}`

func TestWebhookCriticalAlertPagesEmergencyChannel(t *testing.T) {
	t.Parallel()

	f := newTestServer(t, config.AlertdConfig{EmergencyChannel: "#ops-emergency"})
	rec := postWebhook(t, f.server.Handler(), criticalAlertBody)

	require.Equal(t, http.StatusOK, rec.Code)
	f.notifier.Stop()

	events := f.provider.all()
	require.Len(t, events, 1)
	assert.Equal(t, notify.EventAlertReceived, events[0].Type)
	assert.Equal(t, "#ops-emergency", events[0].Details["channel"])
	assert.Equal(t, "@here", events[0].Details["mention"])
	assert.Equal(t, "critical", events[0].Details["severity"])
	assert.Equal(t, "GameServerDown", events[0].Details["alertname"])
	assert.Equal(t, "game-server is not responding", events[0].Details["summary"])

	require.Len(t, f.sink.events, 1)
	assert.Equal(t, audit.TypeAlert, f.sink.events[0].EventType)
	assert.Equal(t, audit.SeverityHigh, f.sink.events[0].Severity)
	assert.Equal(t, "alertd", f.sink.events[0].Actor)
	assert.Equal(t, "firing", f.sink.events[0].Result)
}

func TestWebhookWarningAlertUsesRegularChannel(t *testing.T) {
	t.Parallel()

	f := newTestServer(t, config.AlertdConfig{EmergencyChannel: "#ops-emergency"})
	body := `{"version":"4","status":"firing","alerts":[{"status":"firing","labels":{"alertname":"HighLatency","severity":"warning"}}]}`
	rec := postWebhook(t, f.server.Handler(), body)

	require.Equal(t, http.StatusOK, rec.Code)
	f.notifier.Stop()

	events := f.provider.all()
	require.Len(t, events, 1)
	assert.Empty(t, events[0].Details["channel"])
	assert.Empty(t, events[0].Details["mention"])
	assert.Equal(t, "warning", events[0].Details["severity"])
}

func TestWebhookInfoAlertLogsOnly(t *testing.T) {
	t.Parallel()

	f := newTestServer(t, config.AlertdConfig{})
	body := `{"version":"4","status":"firing","alerts":[{"status":"firing","labels":{"alertname":"DiskFilling","severity":"info"}}]}`
	rec := postWebhook(t, f.server.Handler(), body)

	require.Equal(t, http.StatusOK, rec.Code)
	f.notifier.Stop()

	assert.Empty(t, f.provider.all())
	// Still on the audit trail.
	require.Len(t, f.sink.events, 1)
	assert.Equal(t, audit.SeverityLow, f.sink.events[0].Severity)
}

func TestWebhookResolvedCriticalSkipsMention(t *testing.T) {
	t.Parallel()

	f := newTestServer(t, config.AlertdConfig{EmergencyChannel: "#ops-emergency"})
	body := `{"version":"4","status":"resolved","alerts":[{"status":"resolved","labels":{"alertname":"GameServerDown","severity":"critical"}}]}`
	rec := postWebhook(t, f.server.Handler(), body)

	require.Equal(t, http.StatusOK, rec.Code)
	f.notifier.Stop()

	events := f.provider.all()
	require.Len(t, events, 1)
	assert.Equal(t, "resolved", events[0].Details["status"])
	assert.Empty(t, events[0].Details["mention"])
	assert.True(t, events[0].Success)
}

func TestWebhookMalformedPayload(t *testing.T) {
	t.Parallel()

	f := newTestServer(t, config.AlertdConfig{})
	rec := postWebhook(t, f.server.Handler(), `{"alerts": [`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.sink.events)
}

func TestWebhookRejectsNonPost(t *testing.T) {
	t.Parallel()

	f := newTestServer(t, config.AlertdConfig{})
	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWebhookBodyTooLarge(t *testing.T) {
	t.Parallel()

	f := newTestServer(t, config.AlertdConfig{})
	huge := `{"version":"4","status":"firing","receiver":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	rec := postWebhook(t, f.server.Handler(), huge)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	f := newTestServer(t, config.AlertdConfig{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	f := newTestServer(t, config.AlertdConfig{})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Without providers the receiver has nowhere to send alerts.
	logger := logging.New(false, true)
	bare := NewServer(config.AlertdConfig{}, "production", notify.NewManager(0, logger), audit.NewRecorder(nil, logger), NewRemediator(config.RemediationConfig{}, "production", testutil.NewMockCommandExecutor(), logger), logger)
	rec = httptest.NewRecorder()
	bare.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebhookTriggersRemediation(t *testing.T) {
	t.Parallel()

	f := newTestServer(t, config.AlertdConfig{
		EmergencyChannel: "#ops-emergency",
		Remediation: config.RemediationConfig{
			Enabled:  true,
			Services: []string{"game-server"},
		},
	})
	rec := postWebhook(t, f.server.Handler(), criticalAlertBody)

	require.Equal(t, http.StatusOK, rec.Code)
	calls := f.executor.GetCalls("docker")
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"compose", "restart", "game-server"}, calls[0].Args)

	f.notifier.Stop()
	var remediations int
	for _, e := range f.provider.all() {
		if e.Type == notify.EventRemediationPerformed {
			remediations++
		}
	}
	assert.Equal(t, 1, remediations)
}

func TestRunShutsDownOnContextCancel(t *testing.T) {
	t.Parallel()

	f := newTestServer(t, config.AlertdConfig{Listen: "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
