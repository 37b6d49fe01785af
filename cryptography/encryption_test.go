package cryptography

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errorutils "github.com/yfaming/wechatpay/errors"
	testutils "github.com/yfaming/wechatpay/test"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testutils.RandomBytes(32)

	for _, size := range []int{0, 1, 16, 255, 4096} {
		plaintext := testutils.RandomBytes(size)
		aad := []byte("certificate")

		ciphertext, nonce, err := EncryptMessage(key, plaintext, aad)
		require.NoError(t, err)
		assert.Len(t, nonce, GCMNonceSize)

		decrypted, err := DecryptMessage(key, ciphertext, aad, nonce)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestDecryptTamperDetection(t *testing.T) {
	key := testutils.RandomBytes(32)
	plaintext := []byte(`{"mchid":"1900000001"}`)
	aad := []byte("transaction")

	ciphertext, nonce, err := EncryptMessage(key, plaintext, aad)
	require.NoError(t, err)

	// flip a ciphertext byte
	tampered := append([]byte(nil), ciphertext...)
	tampered[0] ^= 0x01
	_, err = DecryptMessage(key, tampered, aad, nonce)
	assert.ErrorIs(t, err, errorutils.ErrDecryptionFailed)

	// flip a nonce byte
	badNonce := append([]byte(nil), nonce...)
	badNonce[0] ^= 0x01
	_, err = DecryptMessage(key, ciphertext, aad, badNonce)
	assert.ErrorIs(t, err, errorutils.ErrDecryptionFailed)

	// change the associated data
	_, err = DecryptMessage(key, ciphertext, []byte("refund"), nonce)
	assert.ErrorIs(t, err, errorutils.ErrDecryptionFailed)

	// wrong key
	_, err = DecryptMessage(testutils.RandomBytes(32), ciphertext, aad, nonce)
	assert.ErrorIs(t, err, errorutils.ErrDecryptionFailed)
}

func TestDecryptKeyLength(t *testing.T) {
	_, err := DecryptMessage(testutils.RandomBytes(16), []byte("x"), nil, testutils.RandomBytes(12))
	assert.ErrorIs(t, err, errorutils.ErrDecryptionFailed)
}

func TestEncryptKeyLength(t *testing.T) {
	_, _, err := EncryptMessage(testutils.RandomBytes(31), []byte("x"), nil)
	assert.Error(t, err)
}

func TestNonceString(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		nonce, err := NonceString(NonceStringLength)
		require.NoError(t, err)
		require.Len(t, nonce, 32)
		assert.False(t, strings.ContainsAny(nonce, "0O1lI"), "nonce must avoid ambiguous characters: %s", nonce)
		assert.False(t, seen[nonce], "nonce collision: %s", nonce)
		seen[nonce] = true
	}
}
