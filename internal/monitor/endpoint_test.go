package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEndpointCheckHealthy(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	check := NewEndpointCheck("api", server.URL, nil, time.Second, true, false)
	result := check.Run(context.Background())

	assert.True(t, result.Healthy)
	assert.True(t, result.Critical)
	assert.Equal(t, "api", result.Name)
	assert.Contains(t, result.Message, "200")
	assert.Greater(t, result.Latency, time.Duration(0))
}

func TestEndpointCheckUnexpectedStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	check := NewEndpointCheck("api", server.URL, nil, time.Second, true, false)
	result := check.Run(context.Background())

	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "503")
}

func TestEndpointCheckExpectedStatusSet(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	// A login endpoint legitimately answers 401 to an unauthenticated GET.
	check := NewEndpointCheck("login", server.URL, []int{200, 401}, time.Second, false, false)
	result := check.Run(context.Background())

	assert.True(t, result.Healthy)
	assert.False(t, result.Critical)
}

func TestEndpointCheckConnectionRefused(t *testing.T) {
	t.Parallel()

	check := NewEndpointCheck("api", "http://127.0.0.1:1", nil, time.Second, true, false)
	result := check.Run(context.Background())

	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "request failed")
}

func TestEndpointCheckInvalidURL(t *testing.T) {
	t.Parallel()

	check := NewEndpointCheck("api", "http://bad url with spaces", nil, time.Second, true, false)
	result := check.Run(context.Background())

	assert.False(t, result.Healthy)
}

func TestEndpointCheckInsecureTLS(t *testing.T) {
	t.Parallel()

	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	strict := NewEndpointCheck("grafana", server.URL, nil, time.Second, false, false)
	assert.False(t, strict.Run(context.Background()).Healthy)

	insecure := NewEndpointCheck("grafana", server.URL, nil, time.Second, false, true)
	assert.True(t, insecure.Run(context.Background()).Healthy)
}
