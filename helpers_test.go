package wechatpay

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	timeutils "github.com/yfaming/wechatpay/time"
)

const (
	testMchID       = "1900000001"
	testMchSerialNo = "3775B6A45ACD588826D15E583A95F5DD"
	testAPIv3Key    = "0123456789abcdef0123456789abcdef"
)

func newTestPrivateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func newTestCredential(t *testing.T) *MerchantCredential {
	t.Helper()
	credential, err := NewMerchantCredential(testMchID, testMchSerialNo, newTestPrivateKey(t), testAPIv3Key)
	require.NoError(t, err)
	return credential
}

// newTestGatewayCertificate self-signs a certificate over the key so tests can
// stand in for the gateway side of the protocol
func newTestGatewayCertificate(t *testing.T, key *rsa.PrivateKey, serialNo string, effective, expire time.Time) (*GatewayCertificate, []byte) {
	t.Helper()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "Tenpay.com"},
		NotBefore:    effective,
		NotAfter:     expire,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	return &GatewayCertificate{
		SerialNo:      serialNo,
		EffectiveTime: timeutils.New(effective),
		ExpireTime:    timeutils.New(expire),
		Certificate:   cert,
	}, pemBytes
}

func mustParseWireTime(t *testing.T, value string) timeutils.Time {
	t.Helper()
	parsed, err := timeutils.Parse(value)
	require.NoError(t, err)
	return parsed
}

func pemEncode(t *testing.T, blockType string, der []byte) []byte {
	t.Helper()
	return pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
}

// signResponseHeaders signs body the way the gateway signs its responses and
// sets the four Wechatpay-* headers on h
func signResponseHeaders(t *testing.T, key *rsa.PrivateKey, serialNo, timestamp, nonce string, body []byte, h http.Header) {
	t.Helper()
	digest := sha256.Sum256(responseCanonicalMessage(timestamp, nonce, body))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	require.NoError(t, err)

	h.Set(SerialHeader, serialNo)
	h.Set(SignatureHeader, base64.StdEncoding.EncodeToString(sig))
	h.Set(TimestampHeader, timestamp)
	h.Set(NonceHeader, nonce)
}

// newTestClient assembles a client trusting a single gateway certificate,
// pointed at a local test server
func newTestClient(t *testing.T, credential *MerchantCredential, gatewayCert *GatewayCertificate, baseURL string) *Client {
	t.Helper()
	client, err := New(context.Background(), Config{
		Credential:   credential,
		Certificates: []*GatewayCertificate{gatewayCert},
		BaseURL:      baseURL,
	})
	require.NoError(t, err)
	return client
}
