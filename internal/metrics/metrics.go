// Package metrics exposes Prometheus instrumentation for gfops.
//
// Registration is lazy: short-lived CLI invocations that never serve
// /metrics skip it entirely, while the alertd and schedule daemons call
// Init once at startup. All recorders are nil-safe so call sites never
// guard on whether metrics are enabled.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	rotationAttemptsTotal *prometheus.CounterVec
	rotationDuration      *prometheus.HistogramVec
	secretAgeDays         *prometheus.GaugeVec

	backupRunsTotal  *prometheus.CounterVec
	backupBytesTotal *prometheus.CounterVec

	scanFindings *prometheus.GaugeVec

	syncPushesTotal *prometheus.CounterVec

	alertsReceivedTotal *prometheus.CounterVec
	remediationsTotal   *prometheus.CounterVec

	initOnce   sync.Once
	registered bool
)

// Init registers all metrics with the default registry. Safe to call more
// than once.
func Init() {
	initOnce.Do(func() {
		rotationAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gfops_rotation_attempts_total",
				Help: "Rotation attempts by secret type and outcome",
			},
			[]string{"type", "environment", "result"},
		)

		rotationDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gfops_rotation_duration_seconds",
				Help:    "Duration of rotation operations in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120},
			},
			[]string{"type"},
		)

		secretAgeDays = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gfops_secret_age_days",
				Help: "Days since the last successful rotation",
			},
			[]string{"type", "environment"},
		)

		backupRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gfops_backup_runs_total",
				Help: "Backup runs by outcome",
			},
			[]string{"result"},
		)

		backupBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gfops_backup_bytes_total",
				Help: "Bytes written to backup sets by component",
			},
			[]string{"component"},
		)

		scanFindings = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gfops_scan_findings",
				Help: "Findings reported by the last scan run",
			},
			[]string{"tool", "severity"},
		)

		syncPushesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gfops_sync_pushes_total",
				Help: "CI/CD secret store pushes by target and outcome",
			},
			[]string{"target", "result"},
		)

		alertsReceivedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gfops_alerts_received_total",
				Help: "Alertmanager notifications received by severity",
			},
			[]string{"severity"},
		)

		remediationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gfops_remediations_total",
				Help: "Automatic service restarts performed",
			},
			[]string{"service"},
		)

		registered = true
	})
}

// Registered reports whether Init has run.
func Registered() bool {
	return registered
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRotation records one rotation attempt.
func RecordRotation(secretType, environment, result string, seconds float64) {
	if !registered {
		return
	}
	if rotationAttemptsTotal != nil {
		rotationAttemptsTotal.WithLabelValues(secretType, environment, result).Inc()
	}
	if rotationDuration != nil {
		rotationDuration.WithLabelValues(secretType).Observe(seconds)
	}
}

// SetSecretAge publishes the age of a secret in days.
func SetSecretAge(secretType, environment string, days float64) {
	if !registered || secretAgeDays == nil {
		return
	}
	secretAgeDays.WithLabelValues(secretType, environment).Set(days)
}

// RecordBackupRun records a backup run outcome.
func RecordBackupRun(result string) {
	if !registered || backupRunsTotal == nil {
		return
	}
	backupRunsTotal.WithLabelValues(result).Inc()
}

// AddBackupBytes accumulates bytes written for one backup component.
func AddBackupBytes(component string, n int64) {
	if !registered || backupBytesTotal == nil || n < 0 {
		return
	}
	backupBytesTotal.WithLabelValues(component).Add(float64(n))
}

// SetScanFindings publishes the finding count from the last scan.
func SetScanFindings(tool, severity string, count float64) {
	if !registered || scanFindings == nil {
		return
	}
	scanFindings.WithLabelValues(tool, severity).Set(count)
}

// RecordSyncPush records one CI/CD store push.
func RecordSyncPush(target, result string) {
	if !registered || syncPushesTotal == nil {
		return
	}
	syncPushesTotal.WithLabelValues(target, result).Inc()
}

// RecordAlertReceived counts an incoming Alertmanager notification.
func RecordAlertReceived(severity string) {
	if !registered || alertsReceivedTotal == nil {
		return
	}
	alertsReceivedTotal.WithLabelValues(severity).Inc()
}

// RecordRemediation counts an automatic service restart.
func RecordRemediation(service string) {
	if !registered || remediationsTotal == nil {
		return
	}
	remediationsTotal.WithLabelValues(service).Inc()
}
