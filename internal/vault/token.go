package vault

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"

	gferrors "github.com/gameforge/gfops/internal/errors"
)

const keyringService = "gfops"

// ResolveToken finds a Vault token for the given address. Order:
// VAULT_TOKEN, the OS keyring, ~/.vault-token. The returned source is
// one of "env", "keyring", "file".
func ResolveToken(address string) (token, source string, err error) {
	if t := os.Getenv("VAULT_TOKEN"); t != "" {
		return t, "env", nil
	}

	t, kerr := keyring.Get(keyringService, keyringUser(address))
	if kerr == nil && t != "" {
		return t, "keyring", nil
	}
	if kerr != nil && !errors.Is(kerr, keyring.ErrNotFound) && !errors.Is(kerr, keyring.ErrUnsupportedPlatform) {
		// A broken keyring should not block env-less operation; fall
		// through to the token file.
		_ = kerr
	}

	home, herr := os.UserHomeDir()
	if herr == nil {
		data, ferr := os.ReadFile(filepath.Join(home, ".vault-token"))
		if ferr == nil {
			if t := strings.TrimSpace(string(data)); t != "" {
				return t, "file", nil
			}
		}
	}

	return "", "", gferrors.UserError{
		Message:    "No Vault token found",
		Suggestion: "Export VAULT_TOKEN, run 'gfops login', or log in with the vault CLI",
	}
}

// StoreToken saves a token for the address into the OS keyring.
func StoreToken(address, token string) error {
	if err := keyring.Set(keyringService, keyringUser(address), token); err != nil {
		return gferrors.UserError{
			Message:    "Failed to store token in the OS keyring",
			Details:    err.Error(),
			Suggestion: "Export VAULT_TOKEN instead if this system has no keyring service",
			Err:        err,
		}
	}
	return nil
}

// DeleteToken removes the stored token for the address from the keyring.
func DeleteToken(address string) error {
	err := keyring.Delete(keyringService, keyringUser(address))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return gferrors.UserError{
			Message: "Failed to remove token from the OS keyring",
			Details: err.Error(),
			Err:     err,
		}
	}
	return nil
}

// keyringUser namespaces stored tokens by cluster address.
func keyringUser(address string) string {
	return "vault-token:" + address
}
