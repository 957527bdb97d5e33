// Package monitor verifies a GameForge deployment: HTTP endpoints,
// docker compose service state, database and Redis round-trips, and
// Prometheus target health. One-shot verification backs `gfops verify`;
// the polling loop backs `gfops monitor`.
package monitor

import (
	"context"
	"time"
)

// Check probes one aspect of the deployment.
type Check interface {
	// Name identifies the check in output and logs.
	Name() string

	// Critical marks checks whose failure fails the whole verification.
	Critical() bool

	// Run performs the probe. Failures are reported in the Result, not
	// as errors; Run never panics on misconfiguration.
	Run(ctx context.Context) Result
}

// Result is the outcome of one check.
type Result struct {
	Name     string            `json:"name"`
	Healthy  bool              `json:"healthy"`
	Critical bool              `json:"critical"`
	Latency  time.Duration     `json:"latency_ms"`
	Message  string            `json:"message,omitempty"`
	Details  map[string]string `json:"details,omitempty"`
}

// ok builds a healthy result.
func ok(name string, critical bool, latency time.Duration, message string) Result {
	return Result{Name: name, Healthy: true, Critical: critical, Latency: latency, Message: message}
}

// fail builds an unhealthy result.
func fail(name string, critical bool, latency time.Duration, message string) Result {
	return Result{Name: name, Healthy: false, Critical: critical, Latency: latency, Message: message}
}
