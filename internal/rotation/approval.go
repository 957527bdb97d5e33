package rotation

import (
	"errors"
	"fmt"
	"time"

	gferrors "github.com/gameforge/gfops/internal/errors"
	"github.com/gameforge/gfops/internal/rotation/state"
)

// DefaultApprovalTTL is how long a grant stays usable.
const DefaultApprovalTTL = 4 * time.Hour

// Approve records a single-use grant allowing the next rotation of a
// critical type. Approving a non-critical type is rejected: those
// rotate unattended and a grant would only mislead.
func Approve(store state.Store, critical CriticalSet, t SecretType, environment, grantedBy string, ttl time.Duration, now time.Time) (*state.Grant, error) {
	if !critical.Contains(t) {
		return nil, gferrors.UserError{
			Message:    fmt.Sprintf("Secret type '%s' does not require approval", t),
			Suggestion: "Only critical types take grants: " + typeNames(criticalTypes(critical)),
		}
	}
	if grantedBy == "" {
		return nil, gferrors.UserError{
			Message:    "Approval needs a name for the audit trail",
			Suggestion: fmt.Sprintf("Re-run with --by <name>, e.g. gfops approve %s --by jane", t),
		}
	}
	if ttl <= 0 {
		ttl = DefaultApprovalTTL
	}

	grant := &state.Grant{
		Type:        string(t),
		Environment: environment,
		GrantedBy:   grantedBy,
		GrantedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := store.SaveGrant(grant); err != nil {
		return nil, fmt.Errorf("failed to save approval grant: %w", err)
	}
	return grant, nil
}

// criticalTypes lists the set in canonical order for error messages.
func criticalTypes(critical CriticalSet) []SecretType {
	var types []SecretType
	for _, t := range CanonicalOrder {
		if critical.Contains(t) {
			types = append(types, t)
		}
	}
	return types
}

// consumeGrant fetches and deletes the grant for a type, returning nil
// when no usable grant exists. Expired grants are reaped on sight so
// they never linger in the approvals directory.
func consumeGrant(store state.Store, environment string, t SecretType, now time.Time) (*state.Grant, error) {
	grant, err := store.GetGrant(environment, string(t))
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read approval grant: %w", err)
	}

	if !grant.Valid(now) {
		if err := store.DeleteGrant(environment, string(t)); err != nil {
			return nil, fmt.Errorf("failed to reap expired grant: %w", err)
		}
		return nil, nil
	}

	if err := store.DeleteGrant(environment, string(t)); err != nil {
		return nil, fmt.Errorf("failed to consume approval grant: %w", err)
	}
	return grant, nil
}
