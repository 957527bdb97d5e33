package rotation

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/gameforge/gfops/internal/logging"
	"github.com/gameforge/gfops/internal/secure"
	"github.com/gameforge/gfops/internal/vault"
)

// Application credential lengths. The JWT signing key is the longest
// because it outlives individual requests; the encryption key length is
// fixed by the cipher it feeds.
const (
	jwtSecretLength     = 64
	apiKeyLength        = 48
	encryptionKeyLength = 32
)

// applicationSecretNames lists the rotated credentials in the order they
// appear in reports.
var applicationSecretNames = []string{"jwt_secret", "api_key", "encryption_key"}

// ApplicationRotator replaces the application-facing credentials (JWT
// signing key, API key, encryption key) with fresh random values in one
// KV write. The previous set stays readable through KV v2 versioning, so
// rollback is a version restore rather than a re-generation.
type ApplicationRotator struct {
	store  vault.Store
	logger *logging.Logger
	now    func() time.Time
}

// NewApplicationRotator creates the application credential rotator.
func NewApplicationRotator(store vault.Store, logger *logging.Logger) *ApplicationRotator {
	return &ApplicationRotator{store: store, logger: logger, now: time.Now}
}

// Type implements Rotator.
func (r *ApplicationRotator) Type() SecretType {
	return TypeApplication
}

// appCarry keeps the generated values in protected memory for Verify's
// read-back comparison, plus the version to restore on rollback.
type appCarry struct {
	values      map[string]*secure.Buffer
	prevVersion int
}

func (c *appCarry) destroy() {
	for _, buf := range c.values {
		buf.Destroy()
	}
}

// Rotate generates the three credentials and writes them to
// <env>/app/credentials in a single KV version.
func (r *ApplicationRotator) Rotate(ctx context.Context, req Request) (*Result, error) {
	path := kvPath(req.Environment, "app", "credentials")

	lengths := map[string]int{
		"jwt_secret":     jwtSecretLength,
		"api_key":        apiKeyLength,
		"encryption_key": encryptionKeyLength,
	}

	carry := &appCarry{values: make(map[string]*secure.Buffer, len(lengths))}
	data := map[string]interface{}{"rotated_at": rotatedAt(r.now())}
	for _, name := range applicationSecretNames {
		value, err := GenerateSecret(lengths[name])
		if err != nil {
			carry.destroy()
			return nil, fmt.Errorf("generate %s: %w", name, err)
		}
		carry.values[name] = secure.NewBuffer([]byte(value))
		data[name] = value
	}

	version, err := r.store.WriteKV(ctx, path, data)
	for name := range data {
		if name != "rotated_at" {
			data[name] = ""
		}
	}
	if err != nil {
		carry.destroy()
		return nil, fmt.Errorf("write application credentials: %w", err)
	}
	if version > 1 {
		carry.prevVersion = version - 1
	}

	return &Result{
		Type:           TypeApplication,
		SecretsRotated: applicationSecretNames,
		VaultPath:      path,
		Version:        version,
		carry:          carry,
	}, nil
}

// Verify reads the credentials back and compares them against the
// generated values, proving the write landed intact.
func (r *ApplicationRotator) Verify(ctx context.Context, res *Result) error {
	carry, ok := res.carry.(*appCarry)
	if !ok {
		return fmt.Errorf("application rotation result carries no values")
	}

	data, err := r.store.ReadKV(ctx, res.VaultPath)
	if err != nil {
		return fmt.Errorf("read back application credentials: %w", err)
	}

	for name, buf := range carry.values {
		stored, ok := data[name].(string)
		if !ok || stored == "" {
			return fmt.Errorf("credential %q missing from stored secret", name)
		}
		match := false
		if err := buf.WithBytes(func(want []byte) error {
			match = subtle.ConstantTimeCompare(want, []byte(stored)) == 1
			return nil
		}); err != nil {
			return fmt.Errorf("open generated %s for comparison: %w", name, err)
		}
		if !match {
			return fmt.Errorf("stored %q does not match the generated value", name)
		}
	}

	carry.destroy()
	return nil
}

// Rollback restores the previous credential set via KV versioning. A
// first-ever rotation has nothing to restore; the failed values simply
// remain as the latest (unverified) version.
func (r *ApplicationRotator) Rollback(ctx context.Context, res *Result) error {
	carry, ok := res.carry.(*appCarry)
	if !ok {
		return fmt.Errorf("application rotation result carries no rollback state")
	}
	carry.destroy()

	if carry.prevVersion < 1 {
		r.logger.Warn("No previous application credential version to restore")
		return nil
	}
	return restoreVersion(ctx, r.store, res.VaultPath, carry.prevVersion)
}
