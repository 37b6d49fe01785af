package cryptography

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"

	errorutils "github.com/yfaming/wechatpay/errors"
)

// The key argument must be 32 bytes long (AEAD_AES_256_GCM)
var keyLength = 32

// GCMNonceSize - the nonce size the gateway uses for AEAD_AES_256_GCM
const GCMNonceSize = 12

// EncryptMessage uses AES-256-GCM to encrypt the message with a fresh random nonce
func EncryptMessage(key []byte, plaintext []byte, associatedData []byte) (ciphertext []byte, nonce []byte, err error) {
	if len(key) != keyLength {
		return nil, nil, errors.New("encryption key is not the correct key length")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, GCMNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, err
	}

	return gcm.Seal(nil, nonce, plaintext, associatedData), nonce, nil
}

// DecryptMessage uses AES-256-GCM to decrypt the message.
// The nonce and associated data must be taken verbatim from the encrypted envelope.
// All failures surface as the same decryption error.
func DecryptMessage(key []byte, ciphertext []byte, associatedData []byte, nonce []byte) ([]byte, error) {
	if len(key) != keyLength {
		return nil, errorutils.ErrDecryptionFailed
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errorutils.ErrDecryptionFailed
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(nonce))
	if err != nil {
		return nil, errorutils.ErrDecryptionFailed
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, associatedData)
	if err != nil {
		return nil, errorutils.ErrDecryptionFailed
	}
	return plaintext, nil
}
