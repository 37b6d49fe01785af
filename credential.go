package wechatpay

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/yfaming/wechatpay/cryptography"
	errorutils "github.com/yfaming/wechatpay/errors"
)

// SignatureType is the authorization scheme tag the gateway expects on signed requests
const SignatureType = "WECHATPAY2-SHA256-RSA2048"

// minRSAKeyBits - merchant keys below this size are rejected at construction
const minRSAKeyBits = 2048

// apiV3KeyLength - the shared symmetric key doubles as an AES-256 key
const apiV3KeyLength = 32

// MerchantCredential holds the merchant's private signing key and identity.
// It is immutable after construction and its textual representation redacts
// all key material.
type MerchantCredential struct {
	mchID                  string
	mchCertificateSerialNo string
	mchRSAPrivateKey       *rsa.PrivateKey
	mchAPIv3Key            []byte
}

// NewMerchantCredential validates and constructs a merchant credential
func NewMerchantCredential(mchID, mchCertificateSerialNo string, privateKey *rsa.PrivateKey, apiV3Key string) (*MerchantCredential, error) {
	if mchID == "" {
		return nil, errors.New("missing `mchID`")
	}
	if mchCertificateSerialNo == "" {
		return nil, errors.New("missing `mchCertificateSerialNo`")
	}
	if privateKey == nil {
		return nil, errors.New("missing `privateKey`")
	}
	if privateKey.N.BitLen() < minRSAKeyBits {
		return nil, fmt.Errorf("merchant private key must be at least %d bits", minRSAKeyBits)
	}
	if len(apiV3Key) != apiV3KeyLength {
		return nil, fmt.Errorf("api v3 key must be %d bytes", apiV3KeyLength)
	}
	return &MerchantCredential{
		mchID:                  mchID,
		mchCertificateSerialNo: mchCertificateSerialNo,
		mchRSAPrivateKey:       privateKey,
		mchAPIv3Key:            []byte(apiV3Key),
	}, nil
}

// ParseRSAPrivateKey parses a PEM encoded RSA private key in either PKCS#1 or PKCS#8 form
func ParseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("failed to decode private key pem block")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errorutils.Wrap(err, "failed to parse private key")
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not an rsa key")
	}
	return key, nil
}

// MchID - the merchant identifier
func (mc *MerchantCredential) MchID() string {
	return mc.mchID
}

// MchCertificateSerialNo - the serial number of the merchant's own certificate
func (mc *MerchantCredential) MchCertificateSerialNo() string {
	return mc.mchCertificateSerialNo
}

// SignRequest signs the outgoing request with the merchant RSA private key and
// sets the Authorization header. Only the request headers are mutated.
func (mc *MerchantCredential) SignRequest(req *http.Request) error {
	body, err := materializeBody(req)
	if err != nil {
		return err
	}

	timestamp := time.Now().Unix()
	nonce, err := cryptography.NonceString(cryptography.NonceStringLength)
	if err != nil {
		return errorutils.Wrap(err, "failed to generate nonce")
	}

	msg := requestCanonicalMessage(req.Method, requestPathWithQuery(req.URL), timestamp, nonce, body)
	signature, err := mc.sign(msg)
	if err != nil {
		return errorutils.Wrap(err, "failed to sign request")
	}

	req.Header.Set("Authorization", fmt.Sprintf(
		`%s mchid="%s",nonce_str="%s",signature="%s",timestamp="%d",serial_no="%s"`,
		SignatureType, mc.mchID, nonce, signature, timestamp, mc.mchCertificateSerialNo,
	))
	return nil
}

// sign produces a base64 RSA-SHA256 PKCS#1 v1.5 signature over msg
func (mc *MerchantCredential) sign(msg []byte) (string, error) {
	digest := sha256.Sum256(msg)
	sig, err := rsa.SignPKCS1v15(rand.Reader, mc.mchRSAPrivateKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// AESDecrypt decrypts an AEAD_AES_256_GCM payload using the merchant api v3 key.
// The nonce and associated data come verbatim from the encrypted envelope.
func (mc *MerchantCredential) AESDecrypt(ciphertext, associatedData, nonce []byte) ([]byte, error) {
	return cryptography.DecryptMessage(mc.mchAPIv3Key, ciphertext, associatedData, nonce)
}

// String implements fmt.Stringer, redacting all key material
func (mc *MerchantCredential) String() string {
	return fmt.Sprintf("MerchantCredential{mchID: %s, mchCertificateSerialNo: ..., mchRSAPrivateKey: ..., mchAPIv3Key: ...}", mc.mchID)
}

// requestCanonicalMessage builds the exact byte string covered by a request
// signature: METHOD, PATH[?QUERY], TIMESTAMP, NONCE and BODY, each terminated
// by a newline. The body may be empty.
func requestCanonicalMessage(method, pathWithQuery string, timestamp int64, nonce string, body []byte) []byte {
	var msg bytes.Buffer
	msg.WriteString(method)
	msg.WriteByte('\n')
	msg.WriteString(pathWithQuery)
	msg.WriteByte('\n')
	msg.WriteString(strconv.FormatInt(timestamp, 10))
	msg.WriteByte('\n')
	msg.WriteString(nonce)
	msg.WriteByte('\n')
	msg.Write(body)
	msg.WriteByte('\n')
	return msg.Bytes()
}

func requestPathWithQuery(u *url.URL) string {
	if u.RawQuery != "" {
		return u.Path + "?" + u.RawQuery
	}
	return u.Path
}

// materializeBody returns the full request body bytes, buffering one-shot
// bodies so the request remains sendable after signing. Signing hashes the
// body in full, so streaming bodies cannot be signed incrementally.
func materializeBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		rc, err := req.GetBody()
		if err != nil {
			return nil, errorutils.Wrap(err, errorutils.ErrStreamingBody.Error())
		}
		defer func() { _ = rc.Close() }()
		return io.ReadAll(rc)
	}
	// buffer-first: drain the one-shot body and replace it with a replayable one
	b, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, errorutils.Wrap(err, errorutils.ErrStreamingBody.Error())
	}
	_ = req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(b))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
	req.ContentLength = int64(len(b))
	return b, nil
}
