// Package vault wraps the HashiCorp Vault HTTP API for the operations
// gfops performs: KV v2 reads and writes for rotated secret material,
// token minting for root credential rotation, and health probes.
//
// The wrapper never shells out to the vault CLI. Consumers depend on the
// Store interface so tests can substitute a fake without a server.
package vault

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	gferrors "github.com/gameforge/gfops/internal/errors"
	"github.com/gameforge/gfops/internal/logging"
)

// Store is the Vault surface consumed by rotators, sync, and doctor.
type Store interface {
	// ReadKV returns the data map of a KV v2 secret.
	ReadKV(ctx context.Context, path string) (map[string]interface{}, error)

	// ReadKVField resolves a "path#field" reference to a single value.
	// Without a #field suffix the secret must contain exactly one entry.
	ReadKVField(ctx context.Context, ref string) (string, error)

	// ReadKVVersion returns the data map of a specific secret version,
	// used to restore prior values during rollback.
	ReadKVVersion(ctx context.Context, path string, version int) (map[string]interface{}, error)

	// WriteKV writes the data map to a KV v2 secret and returns the new
	// version number.
	WriteKV(ctx context.Context, path string, data map[string]interface{}) (int, error)

	// TokenCreateOrphan mints an orphan token with the given policies and
	// TTL, returning the token and its accessor.
	TokenCreateOrphan(ctx context.Context, policies []string, ttl time.Duration) (token, accessor string, err error)

	// TokenLookup verifies a token by self-lookup using a throwaway
	// client, returning its policies.
	TokenLookup(ctx context.Context, token string) ([]string, error)

	// RevokeAccessor revokes the token behind an accessor.
	RevokeAccessor(ctx context.Context, accessor string) error

	// Health reports initialization/seal status of the cluster.
	Health(ctx context.Context) (initialized, sealed bool, err error)
}

// Config carries the connection settings for NewClient.
type Config struct {
	Address   string
	Token     string // empty means resolve via env, keyring, token file
	Namespace string
	Mount     string // KV v2 mount, default "gameforge"
	Timeout   time.Duration
}

// Client implements Store against a real Vault cluster.
type Client struct {
	api         *api.Client
	mount       string
	tokenSource string
	logger      *logging.Logger
}

var _ Store = (*Client)(nil)

// NewClient builds a client from cfg. The token is resolved from, in
// order: cfg.Token, VAULT_TOKEN, the OS keyring, ~/.vault-token.
func NewClient(cfg Config, logger *logging.Logger) (*Client, error) {
	apiCfg := api.DefaultConfig()
	if cfg.Address != "" {
		apiCfg.Address = cfg.Address
	}
	if cfg.Timeout > 0 {
		apiCfg.Timeout = cfg.Timeout
	}

	if _, err := url.Parse(apiCfg.Address); err != nil || apiCfg.Address == "" {
		return nil, gferrors.UserError{
			Message:    "No Vault address configured",
			Suggestion: "Set vault.address in gfops.yaml or export VAULT_ADDR",
		}
	}

	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, gferrors.UserError{
			Message:    "Failed to create Vault client",
			Details:    err.Error(),
			Suggestion: "Check vault.address in gfops.yaml",
			Err:        err,
		}
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	token, source := cfg.Token, "config"
	if token == "" {
		token, source, err = ResolveToken(apiCfg.Address)
		if err != nil {
			return nil, err
		}
	}
	client.SetToken(token)

	mount := cfg.Mount
	if mount == "" {
		mount = "gameforge"
	}

	return &Client{api: client, mount: mount, tokenSource: source, logger: logger}, nil
}

// TokenSource reports where the client token came from (config, env,
// keyring, file). Used by doctor.
func (c *Client) TokenSource() string {
	return c.tokenSource
}

// Mount returns the KV v2 mount the client operates on.
func (c *Client) Mount() string {
	return c.mount
}

// ReadKV reads a KV v2 secret.
func (c *Client) ReadKV(ctx context.Context, path string) (map[string]interface{}, error) {
	secret, err := c.api.KVv2(c.mount).Get(ctx, path)
	if err != nil {
		return nil, c.wrapErr("read", path, err)
	}
	return secret.Data, nil
}

// ReadKVField resolves "path#field" to one string value.
func (c *Client) ReadKVField(ctx context.Context, ref string) (string, error) {
	path, field := ParseReference(ref)

	data, err := c.ReadKV(ctx, path)
	if err != nil {
		return "", err
	}

	if field == "" {
		if len(data) != 1 {
			keys := make([]string, 0, len(data))
			for k := range data {
				keys = append(keys, k)
			}
			return "", gferrors.UserError{
				Message:    fmt.Sprintf("Secret '%s' has %d fields; reference one explicitly", path, len(data)),
				Suggestion: fmt.Sprintf("Use '%s#<field>' with one of: %s", path, strings.Join(keys, ", ")),
			}
		}
		for _, v := range data {
			return fmt.Sprintf("%v", v), nil
		}
	}

	v, ok := data[field]
	if !ok {
		return "", gferrors.UserError{
			Message:    fmt.Sprintf("Field '%s' not found in secret '%s'", field, path),
			Suggestion: fmt.Sprintf("Check the field name with: vault kv get %s/%s", c.mount, path),
		}
	}
	return fmt.Sprintf("%v", v), nil
}

// ReadKVVersion reads one historical version of a KV v2 secret.
func (c *Client) ReadKVVersion(ctx context.Context, path string, version int) (map[string]interface{}, error) {
	secret, err := c.api.KVv2(c.mount).GetVersion(ctx, path, version)
	if err != nil {
		return nil, c.wrapErr("read", fmt.Sprintf("%s@v%d", path, version), err)
	}
	return secret.Data, nil
}

// WriteKV writes a KV v2 secret, returning the new version.
func (c *Client) WriteKV(ctx context.Context, path string, data map[string]interface{}) (int, error) {
	secret, err := c.api.KVv2(c.mount).Put(ctx, path, data)
	if err != nil {
		return 0, c.wrapErr("write", path, err)
	}
	if secret != nil && secret.VersionMetadata != nil {
		return secret.VersionMetadata.Version, nil
	}
	return 0, nil
}

// TokenCreateOrphan mints an orphan token.
func (c *Client) TokenCreateOrphan(ctx context.Context, policies []string, ttl time.Duration) (string, string, error) {
	secret, err := c.api.Auth().Token().CreateOrphanWithContext(ctx, &api.TokenCreateRequest{
		Policies:    policies,
		TTL:         ttl.String(),
		DisplayName: "gfops-root-rotation",
	})
	if err != nil {
		return "", "", c.wrapErr("token create", "auth/token/create-orphan", err)
	}
	if secret == nil || secret.Auth == nil {
		return "", "", gferrors.VaultError{
			Op:  "token create",
			Err: errors.New("response contained no auth data"),
		}
	}
	return secret.Auth.ClientToken, secret.Auth.Accessor, nil
}

// TokenLookup self-looks-up the given token with a cloned client so the
// configured token is untouched.
func (c *Client) TokenLookup(ctx context.Context, token string) ([]string, error) {
	clone, err := c.api.Clone()
	if err != nil {
		return nil, c.wrapErr("token lookup", "auth/token/lookup-self", err)
	}
	clone.SetToken(token)

	secret, err := clone.Auth().Token().LookupSelfWithContext(ctx)
	if err != nil {
		return nil, c.wrapErr("token lookup", "auth/token/lookup-self", err)
	}
	policies, err := secret.TokenPolicies()
	if err != nil {
		return nil, c.wrapErr("token lookup", "auth/token/lookup-self", err)
	}
	return policies, nil
}

// RevokeAccessor revokes the token behind accessor.
func (c *Client) RevokeAccessor(ctx context.Context, accessor string) error {
	if err := c.api.Auth().Token().RevokeAccessorWithContext(ctx, accessor); err != nil {
		return c.wrapErr("token revoke", "auth/token/revoke-accessor", err)
	}
	return nil
}

// Health probes sys/health.
func (c *Client) Health(ctx context.Context) (bool, bool, error) {
	resp, err := c.api.Sys().HealthWithContext(ctx)
	if err != nil {
		return false, false, c.wrapErr("health", "sys/health", err)
	}
	return resp.Initialized, resp.Sealed, nil
}

// ParseReference splits "path#field" into its parts. Field is empty when
// no separator is present.
func ParseReference(ref string) (path, field string) {
	if i := strings.Index(ref, "#"); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

// IsNotFound reports whether err means the secret or version does not
// exist. Rotators use it to distinguish "first rotation ever" from a
// real failure.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, api.ErrSecretNotFound) {
		return true
	}
	var verr gferrors.VaultError
	if errors.As(err, &verr) {
		return verr.StatusCode == 404
	}
	return false
}

// wrapErr maps Vault API failures onto operator-facing errors with
// actionable suggestions.
func (c *Client) wrapErr(op, path string, err error) error {
	var respErr *api.ResponseError
	if errors.As(err, &respErr) {
		suggestion := ""
		switch respErr.StatusCode {
		case 403:
			suggestion = fmt.Sprintf("The token lacks access to '%s'. Request a policy granting it, or check VAULT_TOKEN", path)
		case 404:
			suggestion = fmt.Sprintf("Path '%s' not found under mount '%s'. KV v2 paths do not include the data/ prefix here", path, c.mount)
		case 503:
			suggestion = "Vault is sealed or standby. Check 'vault status' on the cluster"
		}
		return gferrors.VaultError{
			Op:         op,
			Path:       path,
			StatusCode: respErr.StatusCode,
			Suggestion: suggestion,
			Err:        err,
		}
	}

	if strings.Contains(err.Error(), "connection refused") || strings.Contains(err.Error(), "no such host") {
		return gferrors.VaultError{
			Op:         op,
			Path:       path,
			Suggestion: "Vault is unreachable. Check vault.address and your network",
			Err:        err,
		}
	}

	return gferrors.VaultError{Op: op, Path: path, Err: err}
}
