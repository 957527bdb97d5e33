package rotation

import (
	"context"
	"fmt"
	"time"

	"github.com/gameforge/gfops/internal/logging"
	"github.com/gameforge/gfops/internal/secure"
	"github.com/gameforge/gfops/internal/vault"
)

// DefaultRootPolicies is the policy set attached to newly minted root
// tokens when the config does not override it.
var DefaultRootPolicies = []string{"root"}

// RootRotator rotates the platform's emergency root token: it mints a
// new orphan token, proves it with a self-lookup, records its accessor
// in KV, and retires the previous token by accessor. The token value
// itself never leaves protected memory and is never stored.
type RootRotator struct {
	store    vault.Store
	policies []string
	logger   *logging.Logger
	now      func() time.Time
}

// NewRootRotator creates the root token rotator. An empty policy list
// falls back to DefaultRootPolicies.
func NewRootRotator(store vault.Store, policies []string, logger *logging.Logger) *RootRotator {
	if len(policies) == 0 {
		policies = DefaultRootPolicies
	}
	return &RootRotator{
		store:    store,
		policies: policies,
		logger:   logger,
		now:      time.Now,
	}
}

// Type implements Rotator.
func (r *RootRotator) Type() SecretType {
	return TypeRoot
}

// rootCarry is the private state Verify and Rollback need: the new token
// in protected memory, both accessors, and the KV version to restore on
// rollback.
type rootCarry struct {
	token        *secure.Buffer
	accessor     string
	prevAccessor string
	prevVersion  int
}

// Rotate mints the replacement token and records its accessor under
// <env>/root-token. The previous accessor is kept in the carry so Verify
// can retire it once the new token is proven.
func (r *RootRotator) Rotate(ctx context.Context, req Request) (*Result, error) {
	path := kvPath(req.Environment, "root-token")

	carry := &rootCarry{}
	if data, err := r.store.ReadKV(ctx, path); err == nil {
		if prev, ok := data["accessor"].(string); ok {
			carry.prevAccessor = prev
		}
	} else if !vault.IsNotFound(err) {
		return nil, fmt.Errorf("read current root token record: %w", err)
	}

	// The TTL spans two rotation intervals so a missed rotation never
	// strands the platform without a root credential.
	ttl := 2 * req.Frequency
	token, accessor, err := r.store.TokenCreateOrphan(ctx, r.policies, ttl)
	if err != nil {
		return nil, fmt.Errorf("mint root token: %w", err)
	}
	carry.token = secure.NewBuffer([]byte(token))
	carry.accessor = accessor
	token = ""

	version, err := r.store.WriteKV(ctx, path, map[string]interface{}{
		"accessor":   accessor,
		"policies":   joinNames(r.policies),
		"ttl":        ttl.String(),
		"rotated_at": rotatedAt(r.now()),
	})
	if err != nil {
		// The token exists but nothing references it; revoke rather
		// than leave an orphan credential behind.
		if revokeErr := r.store.RevokeAccessor(ctx, accessor); revokeErr != nil {
			r.logger.Warn("Could not revoke freshly minted root token after failed record write: %v", revokeErr)
		}
		carry.token.Destroy()
		return nil, fmt.Errorf("record root token accessor: %w", err)
	}
	if version > 1 {
		carry.prevVersion = version - 1
	}

	return &Result{
		Type:           TypeRoot,
		SecretsRotated: []string{"root_token"},
		VaultPath:      path,
		Version:        version,
		carry:          carry,
	}, nil
}

// Verify proves the new token with a self-lookup and, once proven,
// revokes the previous token's accessor. Failure to retire the old
// token is a warning, not a verification failure: it expires by TTL.
func (r *RootRotator) Verify(ctx context.Context, res *Result) error {
	carry, ok := res.carry.(*rootCarry)
	if !ok || carry.token == nil {
		return fmt.Errorf("root rotation result carries no token")
	}

	var policies []string
	err := carry.token.WithBytes(func(token []byte) error {
		var lookupErr error
		policies, lookupErr = r.store.TokenLookup(ctx, string(token))
		return lookupErr
	})
	if err != nil {
		return fmt.Errorf("self-lookup of new root token: %w", err)
	}
	if len(policies) == 0 {
		return fmt.Errorf("new root token carries no policies")
	}

	if carry.prevAccessor != "" && carry.prevAccessor != carry.accessor {
		if err := r.store.RevokeAccessor(ctx, carry.prevAccessor); err != nil {
			r.logger.Warn("Could not revoke previous root token accessor: %v", err)
		} else {
			r.logger.Debug("Revoked previous root token accessor")
		}
	}

	carry.token.Destroy()
	return nil
}

// Rollback revokes the new token and points the KV record back at the
// previous one, leaving the old (still unrevoked) token in service.
func (r *RootRotator) Rollback(ctx context.Context, res *Result) error {
	carry, ok := res.carry.(*rootCarry)
	if !ok {
		return fmt.Errorf("root rotation result carries no rollback state")
	}
	if carry.token != nil {
		carry.token.Destroy()
	}

	var firstErr error
	if carry.accessor != "" {
		if err := r.store.RevokeAccessor(ctx, carry.accessor); err != nil {
			firstErr = fmt.Errorf("revoke new root token: %w", err)
		}
	}

	if carry.prevVersion >= 1 {
		if err := restoreVersion(ctx, r.store, res.VaultPath, carry.prevVersion); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
