package rotation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gameforge/gfops/internal/vault"
)

// kvPath builds an environment-scoped KV v2 path, e.g.
// kvPath("production", "app", "credentials") -> "production/app/credentials".
func kvPath(environment string, parts ...string) string {
	return strings.Join(append([]string{environment}, parts...), "/")
}

// restoreVersion points a KV secret back at a prior version by writing
// that version's data as the newest one. KV v2 keeps the failed version
// in history, which is what an audit wants.
func restoreVersion(ctx context.Context, store vault.Store, path string, version int) error {
	if version < 1 {
		return fmt.Errorf("no prior version of %s to restore", path)
	}
	data, err := store.ReadKVVersion(ctx, path, version)
	if err != nil {
		return fmt.Errorf("read prior version %d of %s: %w", version, path, err)
	}
	if _, err := store.WriteKV(ctx, path, data); err != nil {
		return fmt.Errorf("restore version %d of %s: %w", version, path, err)
	}
	return nil
}

// rotatedAt stamps KV writes so an operator reading the secret in the
// Vault UI can see when it last changed without consulting gfops.
func rotatedAt(now time.Time) string {
	return now.UTC().Format(time.RFC3339)
}
