package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *CryptoService {
	t.Helper()

	privPEM, _, err := GenerateKeyPair()
	require.NoError(t, err)
	dataKey, err := GenerateDataKey()
	require.NoError(t, err)

	t.Setenv(EnvRSAPrivateKey, privPEM)
	t.Setenv(EnvDataEncryptionKey, dataKey)

	cs, err := NewCryptoService()
	require.NoError(t, err)
	return cs
}

func TestNewCryptoService_MissingEnv(t *testing.T) {
	t.Setenv(EnvRSAPrivateKey, "")
	t.Setenv(EnvDataEncryptionKey, "")

	_, err := NewCryptoService()
	assert.Error(t, err)
}

func TestEncryptForStorage_RoundTrip(t *testing.T) {
	cs := newTestService(t)

	token := "a1-DerivApiTokenXYZ"
	enc, err := cs.EncryptForStorage(token)
	require.NoError(t, err)

	assert.True(t, cs.IsEncryptedStorageValue(enc))
	assert.NotContains(t, enc, token)

	dec, err := cs.DecryptFromStorage(enc)
	require.NoError(t, err)
	assert.Equal(t, token, dec)
}

func TestEncryptForStorage_EmptyAndIdempotent(t *testing.T) {
	cs := newTestService(t)

	enc, err := cs.EncryptForStorage("")
	require.NoError(t, err)
	assert.Equal(t, "", enc)

	once, err := cs.EncryptForStorage("secret")
	require.NoError(t, err)

	// re-encrypting an encrypted value must pass it through unchanged
	twice, err := cs.EncryptForStorage(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestDecryptFromStorage_RejectsPlaintext(t *testing.T) {
	cs := newTestService(t)

	_, err := cs.DecryptFromStorage("not-encrypted-value")
	assert.Error(t, err)
}

func TestEncryptForStorage_AADMismatch(t *testing.T) {
	cs := newTestService(t)

	enc, err := cs.EncryptForStorage("secret", "user-1")
	require.NoError(t, err)

	_, err = cs.DecryptFromStorage(enc, "user-2")
	assert.Error(t, err, "wrong AAD must fail authentication")

	dec, err := cs.DecryptFromStorage(enc, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "secret", dec)
}

func TestDataKeyNormalization(t *testing.T) {
	privPEM, _, err := GenerateKeyPair()
	require.NoError(t, err)
	t.Setenv(EnvRSAPrivateKey, privPEM)

	// a non-decodable passphrase is hashed into a usable key
	t.Setenv(EnvDataEncryptionKey, "just a passphrase, not base64!!")

	cs, err := NewCryptoService()
	require.NoError(t, err)
	assert.True(t, cs.HasDataKey())

	enc, err := cs.EncryptForStorage("value")
	require.NoError(t, err)
	dec, err := cs.DecryptFromStorage(enc)
	require.NoError(t, err)
	assert.Equal(t, "value", dec)
}

// buildPayload constructs a browser-style envelope against the service's
// public key, the way the dashboard encrypts an API token before submit.
func buildPayload(t *testing.T, pub *rsa.PublicKey, plaintext string, ts int64) *EncryptedPayload {
	t.Helper()

	aesKey := make([]byte, 32)
	_, err := rand.Read(aesKey)
	require.NoError(t, err)

	block, err := aes.NewCipher(aesKey)
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)

	iv := make([]byte, gcm.NonceSize())
	_, err = rand.Read(iv)
	require.NoError(t, err)

	ciphertext := gcm.Seal(nil, iv, []byte(plaintext), nil)

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, aesKey, nil)
	require.NoError(t, err)

	return &EncryptedPayload{
		WrappedKey: base64.RawURLEncoding.EncodeToString(wrapped),
		IV:         base64.RawURLEncoding.EncodeToString(iv),
		Ciphertext: base64.RawURLEncoding.EncodeToString(ciphertext),
		TS:         ts,
	}
}

func TestDecryptPayload(t *testing.T) {
	cs := newTestService(t)

	payload := buildPayload(t, cs.publicKey, "token-from-browser", time.Now().Unix())
	plain, err := cs.DecryptPayload(payload)
	require.NoError(t, err)
	assert.Equal(t, "token-from-browser", string(plain))
}

func TestDecryptPayload_StaleTimestamp(t *testing.T) {
	cs := newTestService(t)

	stale := time.Now().Add(-10 * time.Minute).Unix()
	payload := buildPayload(t, cs.publicKey, "token", stale)

	_, err := cs.DecryptPayload(payload)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "timestamp")
}
