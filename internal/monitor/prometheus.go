package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// PrometheusCheck asks Prometheus for target health via an instant
// query of `up`. Any target reporting 0 fails the check.
type PrometheusCheck struct {
	url      string
	critical bool

	// query overrides the API call in tests.
	query func(ctx context.Context, expr string) (model.Value, error)
}

// NewPrometheusCheck creates the target-health check.
func NewPrometheusCheck(url string, critical bool) *PrometheusCheck {
	return &PrometheusCheck{url: url, critical: critical}
}

// Name implements Check.
func (c *PrometheusCheck) Name() string { return "prometheus" }

// Critical implements Check.
func (c *PrometheusCheck) Critical() bool { return c.critical }

// Run implements Check.
func (c *PrometheusCheck) Run(ctx context.Context) Result {
	query := c.query
	if query == nil {
		client, err := api.NewClient(api.Config{Address: c.url})
		if err != nil {
			return fail(c.Name(), c.critical, 0, fmt.Sprintf("invalid prometheus URL: %v", err))
		}
		v1api := promv1.NewAPI(client)
		query = func(ctx context.Context, expr string) (model.Value, error) {
			value, _, err := v1api.Query(ctx, expr, time.Now())
			return value, err
		}
	}

	start := time.Now()
	value, err := query(ctx, "up")
	latency := time.Since(start)
	if err != nil {
		return fail(c.Name(), c.critical, latency, fmt.Sprintf("query failed: %v", err))
	}

	vector, isVector := value.(model.Vector)
	if !isVector {
		return fail(c.Name(), c.critical, latency, fmt.Sprintf("unexpected result type %s", value.Type()))
	}
	if len(vector) == 0 {
		return fail(c.Name(), c.critical, latency, "prometheus reports no targets")
	}

	var down []string
	for _, sample := range vector {
		if sample.Value == 0 {
			down = append(down, targetLabel(sample.Metric))
		}
	}
	sort.Strings(down)

	if len(down) > 0 {
		result := fail(c.Name(), c.critical, latency,
			fmt.Sprintf("%d of %d targets down", len(down), len(vector)))
		result.Details = map[string]string{"down": strings.Join(down, ", ")}
		return result
	}
	return ok(c.Name(), c.critical, latency, fmt.Sprintf("%d targets up", len(vector)))
}

// targetLabel names a sample by job/instance for the failure report.
func targetLabel(metric model.Metric) string {
	job := string(metric["job"])
	instance := string(metric["instance"])
	switch {
	case job != "" && instance != "":
		return job + "/" + instance
	case job != "":
		return job
	case instance != "":
		return instance
	default:
		return metric.String()
	}
}
