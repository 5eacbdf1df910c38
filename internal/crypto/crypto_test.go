package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptSecretRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("super-secret-api-key", "hunter2")
	require.NoError(t, err)

	secret, err := DecryptSecret(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "super-secret-api-key", secret)
}

func TestDecryptSecretWrongPassword(t *testing.T) {
	blob, err := EncryptSecret("super-secret-api-key", "hunter2")
	require.NoError(t, err)

	_, err = DecryptSecret(blob, "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decryption failed")
}

func TestLoadSecretPrefersRaw(t *testing.T) {
	secret, err := LoadSecret(SecretConfig{RawSecret: "inline"})
	require.NoError(t, err)
	assert.Equal(t, "inline", secret)
}

func TestLoadSecretNoSource(t *testing.T) {
	_, err := LoadSecret(SecretConfig{})
	require.Error(t, err)
}

func TestHMACHeadersDeterministic(t *testing.T) {
	auth := &HMACAuth{Key: "key-1", Secret: "secret-1"}

	a := auth.HeadersAt("GET", "/api/v1/balance", "", 1700000000)
	b := auth.HeadersAt("GET", "/api/v1/balance", "", 1700000000)
	assert.Equal(t, a, b)
	assert.Equal(t, "key-1", a["X-API-KEY"])
	assert.Equal(t, "1700000000", a["X-API-TIMESTAMP"])
	assert.NotEmpty(t, a["X-API-SIGNATURE"])

	// A different path must produce a different signature.
	c := auth.HeadersAt("GET", "/api/v1/orders", "", 1700000000)
	assert.NotEqual(t, a["X-API-SIGNATURE"], c["X-API-SIGNATURE"])
}

func TestHMACStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "key-123456", Secret: "secret-123456"}
	s := auth.String()
	assert.NotContains(t, s, "123456")
}
