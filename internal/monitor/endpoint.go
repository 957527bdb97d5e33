package monitor

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Endpoint check defaults.
const (
	defaultEndpointTimeout = 10 * time.Second

	// latencyWarnThreshold marks a slow-but-healthy endpoint in the
	// result details.
	latencyWarnThreshold = 2 * time.Second
)

// EndpointCheck probes one HTTP endpoint with a GET and compares the
// status code against the expected set.
type EndpointCheck struct {
	name     string
	url      string
	expected []int
	critical bool
	client   *http.Client
}

// NewEndpointCheck creates an endpoint check. An empty expected set
// means 200 only. Insecure skips TLS verification for staging stacks
// running on self-signed certificates.
func NewEndpointCheck(name, url string, expected []int, timeout time.Duration, critical, insecure bool) *EndpointCheck {
	if len(expected) == 0 {
		expected = []int{http.StatusOK}
	}
	if timeout <= 0 {
		timeout = defaultEndpointTimeout
	}

	transport := http.DefaultTransport
	if insecure {
		transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}

	return &EndpointCheck{
		name:     name,
		url:      url,
		expected: expected,
		critical: critical,
		client:   &http.Client{Timeout: timeout, Transport: transport},
	}
}

// Name implements Check.
func (c *EndpointCheck) Name() string { return c.name }

// Critical implements Check.
func (c *EndpointCheck) Critical() bool { return c.critical }

// Run implements Check.
func (c *EndpointCheck) Run(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fail(c.name, c.critical, 0, fmt.Sprintf("invalid URL: %v", err))
	}

	resp, err := c.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return fail(c.name, c.critical, latency, fmt.Sprintf("request failed: %v", err))
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	for _, want := range c.expected {
		if resp.StatusCode == want {
			result := ok(c.name, c.critical, latency, fmt.Sprintf("HTTP %d", resp.StatusCode))
			if latency > latencyWarnThreshold {
				result.Details = map[string]string{"warning": fmt.Sprintf("slow response (%s)", latency.Round(time.Millisecond))}
			}
			return result
		}
	}
	return fail(c.name, c.critical, latency,
		fmt.Sprintf("HTTP %d, expected %v", resp.StatusCode, c.expected))
}
