package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	osexec "os/exec"
	"strings"
	"time"

	gferrors "github.com/gameforge/gfops/internal/errors"
	"github.com/gameforge/gfops/pkg/exec"
)

// ComposeCheck verifies every service of a docker compose project is
// running (and healthy, when it has a healthcheck) by parsing
// `docker compose ps --format json`.
type ComposeCheck struct {
	project  string
	executor exec.CommandExecutor
}

// NewComposeCheck creates the compose check. Compose problems are
// always critical: a stopped container is a down deployment.
func NewComposeCheck(project string, executor exec.CommandExecutor) *ComposeCheck {
	if executor == nil {
		executor = exec.DefaultExecutor
	}
	return &ComposeCheck{project: project, executor: executor}
}

// Name implements Check.
func (c *ComposeCheck) Name() string { return "compose:" + c.project }

// Critical implements Check.
func (c *ComposeCheck) Critical() bool { return true }

// composeService is one line of `docker compose ps --format json`
// output. Docker emits NDJSON, one object per service.
type composeService struct {
	Service string `json:"Service"`
	State   string `json:"State"`
	Health  string `json:"Health"`
	Status  string `json:"Status"`
}

// Run implements Check.
func (c *ComposeCheck) Run(ctx context.Context) Result {
	start := time.Now()

	stdout, stderr, err := c.executor.Execute(ctx, "docker",
		"compose", "-p", c.project, "ps", "--format", "json")
	latency := time.Since(start)
	if err != nil {
		if errors.Is(err, osexec.ErrNotFound) {
			return fail(c.Name(), true, latency, gferrors.WrapCommandNotFound("docker", err).Error())
		}
		return fail(c.Name(), true, latency,
			fmt.Sprintf("docker compose ps failed: %s", strings.TrimSpace(string(stderr))))
	}

	services, err := parseComposePS(stdout)
	if err != nil {
		return fail(c.Name(), true, latency, err.Error())
	}
	if len(services) == 0 {
		return fail(c.Name(), true, latency, fmt.Sprintf("no services found for project %q", c.project))
	}

	details := make(map[string]string, len(services))
	unhealthy := 0
	for _, svc := range services {
		state := svc.State
		if svc.Health != "" {
			state += "/" + svc.Health
		}
		details[svc.Service] = state

		if svc.State != "running" || (svc.Health != "" && svc.Health != "healthy") {
			unhealthy++
		}
	}

	if unhealthy > 0 {
		result := fail(c.Name(), true, latency,
			fmt.Sprintf("%d of %d services unhealthy", unhealthy, len(services)))
		result.Details = details
		return result
	}
	result := ok(c.Name(), true, latency, fmt.Sprintf("%d services running", len(services)))
	result.Details = details
	return result
}

// parseComposePS handles both output shapes docker has used: NDJSON
// (one object per line, current) and a single JSON array (older
// releases).
func parseComposePS(out []byte) ([]composeService, error) {
	trimmed := strings.TrimSpace(string(out))
	if trimmed == "" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var services []composeService
		if err := json.Unmarshal([]byte(trimmed), &services); err != nil {
			return nil, fmt.Errorf("parse docker compose ps output: %w", err)
		}
		return services, nil
	}

	var services []composeService
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var svc composeService
		if err := json.Unmarshal([]byte(line), &svc); err != nil {
			return nil, fmt.Errorf("parse docker compose ps output: %w", err)
		}
		services = append(services, svc)
	}
	return services, nil
}
