package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrInvalidSignature - the signature on a response or notification did not verify
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrDecryptionFailed - an AEAD ciphertext failed to authenticate or decrypt
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrUnknownSerial - no trusted certificate matches the claimed serial number
	ErrUnknownSerial = errors.New("no certificate found for serial number")
	// ErrNoAvailableCertificates - every supplied gateway certificate has expired
	ErrNoAvailableCertificates = errors.New("no available certificates found")
	// ErrCertificateExpired - a certificate is expired
	ErrCertificateExpired = errors.New("certificate expired")
	// ErrInvalidPublicKey - the certificate does not carry a usable RSA public key
	ErrInvalidPublicKey = errors.New("certificate does not contain an rsa public key")
	// ErrStreamingBody - the request body is not replayable and cannot be signed
	ErrStreamingBody = errors.New("request body must be fully materialized for signing")
	// ErrUnknownNotificationType - the notification resource declares an unrecognized original type
	ErrUnknownNotificationType = errors.New("unknown notification resource type")
	// ErrFailedBodyRead - failed to read body
	ErrFailedBodyRead = errors.New("failed to read the response body")
	// ErrFailedBodyUnmarshal - failed to decode body
	ErrFailedBodyUnmarshal = errors.New("failed to unmarshal the response body")
)

// ErrorBundle creates a new response error
type ErrorBundle struct {
	cause   error
	message string
	data    interface{}
}

// New creates a new response error
func New(cause error, message string, data interface{}) error {
	return &ErrorBundle{
		cause,
		message,
		data,
	}
}

// Data from error origin
func (e ErrorBundle) Data() interface{} {
	return e.data
}

// Cause returns the associated cause
func (e ErrorBundle) Cause() error {
	return e.cause
}

// Unwrap returns the associated cause
func (e ErrorBundle) Unwrap() error {
	return e.cause
}

// Error turns into an error
func (e ErrorBundle) Error() string {
	return e.message
}

// DataToString returns string representation of data
func (e ErrorBundle) DataToString() string {
	if e.data == nil {
		return "no error bundle data"
	}
	b, err := json.Marshal(e.data)
	if err != nil {
		return fmt.Sprintf("error retrieving error bundle data %s", err.Error())
	}
	return string(b)
}

// Wrap wraps an error
func Wrap(cause error, message string) error {
	return &ErrorBundle{
		cause:   cause,
		message: message,
		data:    nil,
	}
}

// MissingHeader - constructs the protocol-shape error for an absent required header
func MissingHeader(name string) error {
	return fmt.Errorf("missing `%s` header", name)
}
