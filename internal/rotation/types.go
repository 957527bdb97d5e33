// Package rotation implements the secret rotation engine: per-type due
// computation, the approval gate for critical types, the sequential
// orchestrator, and one rotator per secret type (Vault root token,
// application credentials, TLS certificate, Redis password, database
// role passwords).
package rotation

import (
	"context"
	"sort"
	"strings"
	"time"

	gferrors "github.com/gameforge/gfops/internal/errors"
)

// SecretType identifies one class of rotated credentials.
type SecretType string

const (
	TypeRoot        SecretType = "root"
	TypeApplication SecretType = "application"
	TypeTLS         SecretType = "tls"
	TypeInternal    SecretType = "internal"
	TypeDatabase    SecretType = "database"
)

// CanonicalOrder is the fixed processing order for rotation runs:
// highest-privilege credentials first, most frequently rotated last.
var CanonicalOrder = []SecretType{TypeRoot, TypeDatabase, TypeTLS, TypeApplication, TypeInternal}

// DefaultFrequencies is the rotation interval per type, in days.
var DefaultFrequencies = map[SecretType]int{
	TypeRoot:        90,
	TypeApplication: 45,
	TypeTLS:         60,
	TypeInternal:    1,
	TypeDatabase:    90,
}

// DefaultCritical lists the types that require manual approval.
var DefaultCritical = []SecretType{TypeRoot, TypeDatabase}

// AllTypes returns every secret type in canonical order.
func AllTypes() []SecretType {
	out := make([]SecretType, len(CanonicalOrder))
	copy(out, CanonicalOrder)
	return out
}

// ParseType validates a user-supplied type name.
func ParseType(name string) (SecretType, error) {
	t := SecretType(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range CanonicalOrder {
		if t == known {
			return t, nil
		}
	}
	return "", gferrors.UserError{
		Message:    "Unknown secret type: " + name,
		Suggestion: "Valid types: " + typeNames(CanonicalOrder),
	}
}

func typeNames(types []SecretType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

// Frequencies maps each type to its rotation interval.
type Frequencies map[SecretType]time.Duration

// FrequenciesFromConfig merges per-type day overrides over the defaults.
// Unknown keys are ignored; config validation already rejected them.
func FrequenciesFromConfig(overrides map[string]int) Frequencies {
	freqs := make(Frequencies, len(DefaultFrequencies))
	for t, days := range DefaultFrequencies {
		freqs[t] = time.Duration(days) * 24 * time.Hour
	}
	for name, days := range overrides {
		if days < 1 {
			continue
		}
		t := SecretType(name)
		if _, known := freqs[t]; known {
			freqs[t] = time.Duration(days) * 24 * time.Hour
		}
	}
	return freqs
}

// For returns the interval for t, falling back to the default.
func (f Frequencies) For(t SecretType) time.Duration {
	if d, ok := f[t]; ok {
		return d
	}
	return time.Duration(DefaultFrequencies[t]) * 24 * time.Hour
}

// CriticalSet holds the types that may not rotate without approval.
type CriticalSet map[SecretType]bool

// CriticalFromConfig builds the set from config names, defaulting to
// root and database when none are configured.
func CriticalFromConfig(names []string) CriticalSet {
	set := make(CriticalSet)
	if len(names) == 0 {
		for _, t := range DefaultCritical {
			set[t] = true
		}
		return set
	}
	for _, name := range names {
		set[SecretType(name)] = true
	}
	return set
}

// Contains reports whether t requires manual approval.
func (c CriticalSet) Contains(t SecretType) bool {
	return c[t]
}

// Names returns the critical type names, sorted.
func (c CriticalSet) Names() []string {
	names := make([]string, 0, len(c))
	for t := range c {
		names = append(names, string(t))
	}
	sort.Strings(names)
	return names
}

// Request carries what a rotator needs for one attempt.
type Request struct {
	// Environment scopes Vault paths and state records.
	Environment string

	// Frequency is the type's rotation interval; rotators derive token
	// TTLs and certificate validity from it (2x the interval so the old
	// credential survives one missed rotation).
	Frequency time.Duration
}

// Result reports what one rotation attempt changed. Rotators stash
// whatever Verify and Rollback need in the unexported carry field;
// secret values never appear in the exported fields.
type Result struct {
	// Type is the rotated secret type.
	Type SecretType

	// SecretsRotated lists the logical names rotated, e.g. jwt_secret.
	SecretsRotated []string

	// VaultPath is where the new material was stored.
	VaultPath string

	// Version is the KV version written, zero when not applicable.
	Version int

	// carry holds rotator-private verification and rollback state.
	carry any
}

// Rotator rotates one secret type end to end.
type Rotator interface {
	// Type names the secret type this rotator handles.
	Type() SecretType

	// Rotate generates and stores the new credential.
	Rotate(ctx context.Context, req Request) (*Result, error)

	// Verify proves the new credential works. A verification failure
	// triggers Rollback.
	Verify(ctx context.Context, res *Result) error

	// Rollback undoes a rotation whose verification failed. Best
	// effort: errors are reported but the type is already failed.
	Rollback(ctx context.Context, res *Result) error
}
