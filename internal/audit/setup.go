package audit

import (
	"path/filepath"

	"github.com/gameforge/gfops/internal/config"
	"github.com/gameforge/gfops/internal/logging"
	"github.com/gameforge/gfops/internal/rotation/state"
)

// DefaultDir is where day files live when the config does not say:
// the audit subdirectory of the state directory.
func DefaultDir() string {
	return filepath.Join(state.DefaultDir(), "audit")
}

// FromConfig builds a recorder with the file sink always on and the
// Elasticsearch sink when a cluster URL is configured.
func FromConfig(cfg *config.AuditConfig, logger *logging.Logger) *Recorder {
	dir := ""
	esURL := ""
	if cfg != nil {
		dir = cfg.Dir
		esURL = cfg.ElasticsearchURL
	}
	if dir == "" {
		dir = DefaultDir()
	}

	sinks := []Sink{NewFileSink(dir)}
	if esURL != "" {
		sinks = append(sinks, NewElasticsearchSink(esURL))
	}
	return NewRecorder(sinks, logger)
}
