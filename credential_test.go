package wechatpay

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestCanonicalMessage(t *testing.T) {
	msg := requestCanonicalMessage(
		http.MethodGet,
		"/v3/certificates",
		1554208460,
		"593BEC0C930BF1AFEB40B4A08C8FB242",
		nil,
	)
	expected := "GET\n/v3/certificates\n1554208460\n593BEC0C930BF1AFEB40B4A08C8FB242\n\n"
	assert.Equal(t, expected, string(msg))

	msg = requestCanonicalMessage(
		http.MethodPost,
		"/v3/pay/transactions/jsapi",
		1554208460,
		"593BEC0C930BF1AFEB40B4A08C8FB242",
		[]byte(`{"mchid":"1900000001"}`),
	)
	expected = "POST\n/v3/pay/transactions/jsapi\n1554208460\n593BEC0C930BF1AFEB40B4A08C8FB242\n{\"mchid\":\"1900000001\"}\n"
	assert.Equal(t, expected, string(msg))
}

func TestRequestPathWithQuery(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://api.mch.weixin.qq.com/v3/pay/transactions/id/42?mchid=1900000001", nil)
	require.NoError(t, err)
	assert.Equal(t, "/v3/pay/transactions/id/42?mchid=1900000001", requestPathWithQuery(req.URL))

	req, err = http.NewRequest(http.MethodGet, "https://api.mch.weixin.qq.com/v3/certificates", nil)
	require.NoError(t, err)
	assert.Equal(t, "/v3/certificates", requestPathWithQuery(req.URL))
}

// parseAuthorization splits the Authorization header into its key value pairs
func parseAuthorization(t *testing.T, auth string) map[string]string {
	t.Helper()
	require.True(t, strings.HasPrefix(auth, SignatureType+" "))
	fields := map[string]string{}
	for _, part := range strings.Split(strings.TrimPrefix(auth, SignatureType+" "), ",") {
		kv := strings.SplitN(part, "=", 2)
		require.Len(t, kv, 2)
		fields[kv[0]] = strings.Trim(kv[1], `"`)
	}
	return fields
}

func TestSignRequest(t *testing.T) {
	credential := newTestCredential(t)

	body := []byte(`{"mchid":"1900000001","out_trade_no":"abc123"}`)
	req, err := http.NewRequest(http.MethodPost, "https://api.mch.weixin.qq.com/v3/pay/transactions/jsapi", bytes.NewReader(body))
	require.NoError(t, err)

	err = credential.SignRequest(req)
	require.NoError(t, err)

	fields := parseAuthorization(t, req.Header.Get("Authorization"))
	assert.Equal(t, testMchID, fields["mchid"])
	assert.Equal(t, testMchSerialNo, fields["serial_no"])
	assert.Len(t, fields["nonce_str"], 32)

	timestamp, err := strconv.ParseInt(fields["timestamp"], 10, 64)
	require.NoError(t, err)

	// the signature must verify against the canonical message
	msg := requestCanonicalMessage(http.MethodPost, "/v3/pay/transactions/jsapi", timestamp, fields["nonce_str"], body)
	sig, err := base64.StdEncoding.DecodeString(fields["signature"])
	require.NoError(t, err)
	digest := sha256.Sum256(msg)
	err = rsa.VerifyPKCS1v15(&credential.mchRSAPrivateKey.PublicKey, crypto.SHA256, digest[:], sig)
	assert.NoError(t, err)

	// the body must still be sendable after signing
	sent, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, body, sent)
}

func TestSignRequestEmptyBody(t *testing.T) {
	credential := newTestCredential(t)

	req, err := http.NewRequest(http.MethodGet, "https://api.mch.weixin.qq.com/v3/certificates", nil)
	require.NoError(t, err)

	err = credential.SignRequest(req)
	require.NoError(t, err)

	fields := parseAuthorization(t, req.Header.Get("Authorization"))
	timestamp, err := strconv.ParseInt(fields["timestamp"], 10, 64)
	require.NoError(t, err)

	msg := requestCanonicalMessage(http.MethodGet, "/v3/certificates", timestamp, fields["nonce_str"], nil)
	sig, err := base64.StdEncoding.DecodeString(fields["signature"])
	require.NoError(t, err)
	digest := sha256.Sum256(msg)
	err = rsa.VerifyPKCS1v15(&credential.mchRSAPrivateKey.PublicKey, crypto.SHA256, digest[:], sig)
	assert.NoError(t, err)
}

func TestSignRequestBuffersOneShotBody(t *testing.T) {
	credential := newTestCredential(t)

	body := []byte(`{"mchid":"1900000001"}`)
	req, err := http.NewRequest(http.MethodPost, "https://api.mch.weixin.qq.com/v3/pay/transactions/native", nil)
	require.NoError(t, err)
	// a one-shot body with no GetBody, as a streaming caller would produce
	req.Body = io.NopCloser(io.LimitReader(bytes.NewReader(body), int64(len(body))))
	req.GetBody = nil

	err = credential.SignRequest(req)
	require.NoError(t, err)

	require.NotNil(t, req.GetBody)
	assert.Equal(t, int64(len(body)), req.ContentLength)

	sent, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, body, sent)

	replay, err := req.GetBody()
	require.NoError(t, err)
	replayed, err := io.ReadAll(replay)
	require.NoError(t, err)
	assert.Equal(t, body, replayed)
}

func TestNewMerchantCredential(t *testing.T) {
	key := newTestPrivateKey(t)

	_, err := NewMerchantCredential("", testMchSerialNo, key, testAPIv3Key)
	assert.Error(t, err)

	_, err = NewMerchantCredential(testMchID, "", key, testAPIv3Key)
	assert.Error(t, err)

	_, err = NewMerchantCredential(testMchID, testMchSerialNo, nil, testAPIv3Key)
	assert.Error(t, err)

	_, err = NewMerchantCredential(testMchID, testMchSerialNo, key, "too short")
	assert.Error(t, err)

	credential, err := NewMerchantCredential(testMchID, testMchSerialNo, key, testAPIv3Key)
	require.NoError(t, err)
	assert.Equal(t, testMchID, credential.MchID())
	assert.Equal(t, testMchSerialNo, credential.MchCertificateSerialNo())
}

func TestMerchantCredentialStringRedactsKeys(t *testing.T) {
	credential := newTestCredential(t)
	s := credential.String()
	assert.Contains(t, s, testMchID)
	assert.NotContains(t, s, testMchSerialNo)
	assert.NotContains(t, s, testAPIv3Key)
}

func TestParseRSAPrivateKey(t *testing.T) {
	key := newTestPrivateKey(t)

	pkcs1 := pemEncode(t, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key))
	parsed, err := ParseRSAPrivateKey(pkcs1)
	require.NoError(t, err)
	assert.Equal(t, 0, parsed.N.Cmp(key.N))

	pkcs8Bytes, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pkcs8 := pemEncode(t, "PRIVATE KEY", pkcs8Bytes)
	parsed, err = ParseRSAPrivateKey(pkcs8)
	require.NoError(t, err)
	assert.Equal(t, 0, parsed.N.Cmp(key.N))

	_, err = ParseRSAPrivateKey([]byte("not a pem block"))
	assert.Error(t, err)
}
