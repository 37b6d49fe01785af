package wechatpay

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	errorutils "github.com/yfaming/wechatpay/errors"
)

// Response headers carrying the gateway's signature metadata
const (
	// SerialHeader selects which gateway certificate signed the response
	SerialHeader = "Wechatpay-Serial"
	// SignatureHeader carries the base64 RSA signature
	SignatureHeader = "Wechatpay-Signature"
	// TimestampHeader carries the signing timestamp
	TimestampHeader = "Wechatpay-Timestamp"
	// NonceHeader carries the signing nonce
	NonceHeader = "Wechatpay-Nonce"
)

var signatureVerificationTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_signature_verification_total",
		Help: "Counts gateway signature verifications partitioned by outcome",
	},
	[]string{"status"},
)

func init() {
	prometheus.MustRegister(signatureVerificationTotal)
}

// signedResponseEnvelope holds the signature metadata extracted from a
// response (or notification) along with the raw body as received
type signedResponseEnvelope struct {
	serialNo  string
	signature string // base64, decoded only at verification time
	timestamp string
	nonce     string
	body      []byte
}

// envelopeFromHeaders extracts the signature metadata from response headers.
// A missing header is an error naming the missing field.
func envelopeFromHeaders(h http.Header, body []byte) (*signedResponseEnvelope, error) {
	serialNo := h.Get(SerialHeader)
	if serialNo == "" {
		return nil, errorutils.MissingHeader(SerialHeader)
	}
	signature := h.Get(SignatureHeader)
	if signature == "" {
		return nil, errorutils.MissingHeader(SignatureHeader)
	}
	timestamp := h.Get(TimestampHeader)
	if timestamp == "" {
		return nil, errorutils.MissingHeader(TimestampHeader)
	}
	nonce := h.Get(NonceHeader)
	if nonce == "" {
		return nil, errorutils.MissingHeader(NonceHeader)
	}
	return &signedResponseEnvelope{
		serialNo:  serialNo,
		signature: signature,
		timestamp: timestamp,
		nonce:     nonce,
		body:      body,
	}, nil
}

// responseCanonicalMessage builds the byte string covered by a response
// signature: TIMESTAMP, NONCE and BODY, each terminated by a newline. The
// gateway's signature only covers its own response envelope, so unlike the
// request form there is no method or path field.
func responseCanonicalMessage(timestamp, nonce string, body []byte) []byte {
	var msg bytes.Buffer
	msg.WriteString(timestamp)
	msg.WriteByte('\n')
	msg.WriteString(nonce)
	msg.WriteByte('\n')
	msg.Write(body)
	msg.WriteByte('\n')
	return msg.Bytes()
}

// verifyEnvelope checks the envelope's RSA-SHA256 PKCS#1 v1.5 signature.
// Malformed base64, a malformed signature and a cryptographic mismatch all
// surface as the same invalid-signature error.
func verifyEnvelope(publicKey *rsa.PublicKey, envelope *signedResponseEnvelope) error {
	sig, err := base64.StdEncoding.DecodeString(envelope.signature)
	if err != nil {
		return errorutils.ErrInvalidSignature
	}
	digest := sha256.Sum256(responseCanonicalMessage(envelope.timestamp, envelope.nonce, envelope.body))
	if err := rsa.VerifyPKCS1v15(publicKey, crypto.SHA256, digest[:], sig); err != nil {
		return errorutils.ErrInvalidSignature
	}
	return nil
}

// verifyResponse validates the gateway signature on a response given its
// headers and fully read body, returning the body bytes unchanged on success.
// An unknown serial number is the caller's signal to refresh the trust store
// and retry once; the client never refreshes on its own.
func (c *Client) verifyResponse(ctx context.Context, header http.Header, body []byte) ([]byte, error) {
	envelope, err := envelopeFromHeaders(header, body)
	if err != nil {
		return nil, err
	}

	certificate, err := c.trustStore().lookup(envelope.serialNo)
	if err != nil {
		signatureVerificationTotal.With(prometheus.Labels{"status": "unknown_serial"}).Inc()
		return nil, err
	}
	publicKey, err := certificate.PublicKey()
	if err != nil {
		return nil, err
	}

	if err := verifyEnvelope(publicKey, envelope); err != nil {
		signatureVerificationTotal.With(prometheus.Labels{"status": "failure"}).Inc()
		return nil, err
	}
	signatureVerificationTotal.With(prometheus.Labels{"status": "success"}).Inc()
	return envelope.body, nil
}
