package rotation

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// Character classes for generated credentials. Symbols avoid shell and
// URL metacharacters so rotated values survive DSNs and env files.
const (
	charsLower   = "abcdefghijklmnopqrstuvwxyz"
	charsUpper   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	charsDigits  = "0123456789"
	charsSymbols = "-_.~+"
)

// MinSecretLength is the floor for any generated credential.
const MinSecretLength = 16

// GenerateSecret returns a random string of the given length over
// letters, digits, and symbols. Used for keys where no per-class
// guarantee is needed.
func GenerateSecret(length int) (string, error) {
	if length < MinSecretLength {
		return "", fmt.Errorf("secret length %d below minimum %d", length, MinSecretLength)
	}
	return randomString(length, charsLower+charsUpper+charsDigits+charsSymbols)
}

// GeneratePassword returns a random string guaranteed to contain at
// least one lowercase, one uppercase, one digit, and one symbol. Used
// for database and Redis passwords where policy checkers expect all
// four classes.
func GeneratePassword(length int) (string, error) {
	if length < MinSecretLength {
		return "", fmt.Errorf("password length %d below minimum %d", length, MinSecretLength)
	}

	for attempts := 0; attempts < 10; attempts++ {
		value, err := randomString(length, charsLower+charsUpper+charsDigits+charsSymbols)
		if err != nil {
			return "", err
		}
		if hasAllClasses(value) {
			return value, nil
		}
	}

	// Vanishingly unlikely at length 16+, but never return a weak value.
	return "", fmt.Errorf("failed to generate a password with all character classes")
}

func hasAllClasses(value string) bool {
	return strings.ContainsAny(value, charsLower) &&
		strings.ContainsAny(value, charsUpper) &&
		strings.ContainsAny(value, charsDigits) &&
		strings.ContainsAny(value, charsSymbols)
}

// randomString picks length characters from charset using crypto/rand
// without modulo bias.
func randomString(length int, charset string) (string, error) {
	max := big.NewInt(int64(len(charset)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		out[i] = charset[n.Int64()]
	}
	return string(out), nil
}
