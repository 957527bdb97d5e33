package logging_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gameforge/gfops/internal/logging"
)

// Redaction must hold at every level a credential value could travel
// through, including debug output.

func TestSecretRedactionAtInfoLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, false, true)

	secretValue := "super-secret-password-12345"
	logger.Info("retrieved secret: %s", logging.Secret(secretValue))

	out := buf.String()
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, secretValue)
	assert.Contains(t, out, "retrieved secret")
}

func TestSecretRedactionAtDebugLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, true, true)

	secretValue := "debug-secret-api-key-67890"
	logger.Debug("processing secret: %s", logging.Secret(secretValue))

	out := buf.String()
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, secretValue)
}

func TestSecretRedactionInErrors(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, false, true)

	secretValue := "prod-db-password-xyz"
	logger.Error("authentication failed for password %s", logging.Secret(secretValue))

	out := buf.String()
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, secretValue)
}

func TestSecretRedactionWithVerbFormatting(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, false, true)

	secretValue := "verb-formatted-secret-value"
	logger.Info("value=%v govalue=%#v", logging.Secret(secretValue), logging.Secret(secretValue))

	out := buf.String()
	assert.NotContains(t, out, secretValue)
}
