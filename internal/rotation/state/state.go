// Package state persists rotation bookkeeping: the per-type status
// record, the rotation history, and manual approval grants. Everything is
// JSON on local disk; concurrent access within one process is guarded by
// a mutex, across processes the last writer wins.
package state

import (
	"errors"
	"os"
	"path/filepath"
	"time"
)

// ErrNotFound is returned when no record exists yet, which for status
// records means the secret type has never been rotated.
var ErrNotFound = errors.New("no state recorded")

// Record is the per-type rotation status written after every attempt.
type Record struct {
	Timestamp      time.Time `json:"timestamp"`
	Type           string    `json:"type"`
	Environment    string    `json:"environment"`
	Success        bool      `json:"success"`
	SecretsRotated []string  `json:"secrets_rotated"`
	NextDue        time.Time `json:"next_due"`
	RotationCount  int       `json:"rotation_count"`
	SuccessCount   int       `json:"success_count"`
	FailureCount   int       `json:"failure_count"`
	LastError      string    `json:"last_error,omitempty"`
	DurationMS     int64     `json:"duration_ms"`
}

// HistoryEntry is one line of the rotation history for a secret type.
type HistoryEntry struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Type           string    `json:"type"`
	Environment    string    `json:"environment"`
	Action         string    `json:"action"` // rotate or rollback
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
	DurationMS     int64     `json:"duration_ms"`
	SecretsRotated []string  `json:"secrets_rotated,omitempty"`
	TriggeredBy    string    `json:"triggered_by,omitempty"` // manual, schedule, forced
}

// Grant is a manual approval for rotating a critical secret type. Grants
// are single-use and expire.
type Grant struct {
	Type        string    `json:"type"`
	Environment string    `json:"environment"`
	GrantedBy   string    `json:"granted_by"`
	GrantedAt   time.Time `json:"granted_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid reports whether the grant is still usable at the given time.
func (g *Grant) Valid(now time.Time) bool {
	return g != nil && now.Before(g.ExpiresAt)
}

// Store is the persistence surface the rotation engine depends on.
type Store interface {
	SaveRecord(rec *Record) error
	GetRecord(environment, secretType string) (*Record, error)
	ListRecords(environment string) ([]*Record, error)

	AppendHistory(entry *HistoryEntry) error
	GetHistory(environment, secretType string, limit int) ([]*HistoryEntry, error)

	SaveGrant(g *Grant) error
	GetGrant(environment, secretType string) (*Grant, error)
	DeleteGrant(environment, secretType string) error
}

// DefaultDir resolves the state directory: GFOPS_STATE_DIR, then
// XDG_STATE_HOME/gfops, then ~/.local/state/gfops.
func DefaultDir() string {
	if dir := os.Getenv("GFOPS_STATE_DIR"); dir != "" {
		return dir
	}
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "gfops")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gfops-state"
	}
	return filepath.Join(home, ".local", "state", "gfops")
}
