package errors

import "errors"

// IsErrInvalidSignature is a helper method for determining if an error indicates an invalid signature
func IsErrInvalidSignature(err error) bool {
	return errors.Is(err, ErrInvalidSignature)
}

// IsErrDecryptionFailed is a helper method for determining if an error indicates an AEAD decryption failure
func IsErrDecryptionFailed(err error) bool {
	return errors.Is(err, ErrDecryptionFailed)
}

// IsErrUnknownSerial is a helper method for determining if an error indicates a stale trust store.
// Callers should refresh the gateway certificates and retry once.
func IsErrUnknownSerial(err error) bool {
	return errors.Is(err, ErrUnknownSerial)
}

// IsErrNoAvailableCertificates is a helper method for determining if an error indicates an
// all-expired certificate set
func IsErrNoAvailableCertificates(err error) bool {
	return errors.Is(err, ErrNoAvailableCertificates)
}
