package wechatpay

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appctx "github.com/yfaming/wechatpay/context"
)

func TestNewValidatesConfig(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Credential")

	// a credential alone is not enough, the trust store must be seeded
	_, err = New(ctx, Config{Credential: newTestCredential(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Certificates")
}

func TestNewDefaults(t *testing.T) {
	credential := newTestCredential(t)
	gatewayKey := newTestPrivateKey(t)
	gatewayCert, _ := newTestGatewayCertificate(t, gatewayKey, "GWSERIAL001",
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))

	client, err := New(context.Background(), Config{
		Credential:   credential,
		Certificates: []*GatewayCertificate{gatewayCert},
	})
	require.NoError(t, err)
	assert.Equal(t, ProductionBaseURL, client.baseURL.String())
	assert.Equal(t, defaultUserAgent, client.userAgent)
	require.NotNil(t, client.client)
	assert.Equal(t, 10*time.Second, client.client.Timeout)
}

func TestNewRequest(t *testing.T) {
	credential := newTestCredential(t)
	gatewayKey := newTestPrivateKey(t)
	gatewayCert, _ := newTestGatewayCertificate(t, gatewayKey, "GWSERIAL001",
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	client := newTestClient(t, credential, gatewayCert, "https://api.mch.weixin.qq.com/v3")

	req, err := client.NewRequest(context.Background(), http.MethodGet, "/certificates", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://api.mch.weixin.qq.com/v3/certificates", req.URL.String())
	assert.Equal(t, "application/json", req.Header.Get("Accept"))
	assert.Equal(t, defaultUserAgent, req.Header.Get("User-Agent"))
	assert.Empty(t, req.Header.Get("Content-Type"))

	req, err = client.NewRequest(context.Background(), http.MethodGet, "/pay/transactions/id/42", nil,
		&merchantQuery{MchID: testMchID})
	require.NoError(t, err)
	assert.Equal(t, "mchid="+testMchID, req.URL.RawQuery)

	body := struct {
		MchID string `json:"mchid"`
	}{MchID: testMchID}
	req, err = client.NewRequest(context.Background(), http.MethodPost, "/pay/transactions/native", &body, nil)
	require.NoError(t, err)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	require.NotNil(t, req.Body)
}

func TestMerchantQueryGenerateQueryString(t *testing.T) {
	values, err := (&merchantQuery{MchID: testMchID}).GenerateQueryString()
	require.NoError(t, err)
	assert.Equal(t, url.Values{"mchid": []string{testMchID}}, values)

	// sanity check the struct tags stay aligned with the encoder
	direct, err := query.Values(merchantQuery{MchID: testMchID})
	require.NoError(t, err)
	assert.Equal(t, direct, values)
}

func TestExecuteGatewayError(t *testing.T) {
	credential := newTestCredential(t)
	gatewayKey := newTestPrivateKey(t)
	gatewayCert, _ := newTestGatewayCertificate(t, gatewayKey, "GWSERIAL001",
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))

	// error responses carry no signature headers, and none are required
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"ORDER_NOT_EXIST","message":"order not found","detail":{"field":"out_trade_no","location":"uri_template"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, credential, gatewayCert, server.URL)

	_, err := client.QueryTradeByOutTradeNo(context.Background(), "missing")
	require.Error(t, err)

	gatewayErr, ok := err.(*GatewayError)
	require.True(t, ok)
	assert.Equal(t, "ORDER_NOT_EXIST", gatewayErr.Code)
	assert.Equal(t, "order not found", gatewayErr.Message)
	assert.Equal(t, http.StatusNotFound, gatewayErr.HTTPStatusCode)
	assert.Equal(t, "out_trade_no", gatewayErr.Detail.Field)
	assert.Contains(t, gatewayErr.Error(), "ORDER_NOT_EXIST")
}

func TestExecuteGatewayErrorUnparsableBody(t *testing.T) {
	credential := newTestCredential(t)
	gatewayKey := newTestPrivateKey(t)
	gatewayCert, _ := newTestGatewayCertificate(t, gatewayKey, "GWSERIAL001",
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer server.Close()

	client := newTestClient(t, credential, gatewayCert, server.URL)

	_, err := client.QueryTradeByOutTradeNo(context.Background(), "abc123")
	require.Error(t, err)

	gatewayErr, ok := err.(*GatewayError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, gatewayErr.HTTPStatusCode)
	assert.Empty(t, gatewayErr.Code)
}

func TestExecuteRejectsUnsignedSuccess(t *testing.T) {
	credential := newTestCredential(t)
	gatewayKey := newTestPrivateKey(t)
	gatewayCert, _ := newTestGatewayCertificate(t, gatewayKey, "GWSERIAL001",
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))

	// a success response with no signature headers must not be trusted
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"prepay_id":"wx123"}`))
	}))
	defer server.Close()

	client := newTestClient(t, credential, gatewayCert, server.URL)

	_, err := client.CreateNativeTrade(context.Background(), &CreateTradeParams{
		AppID:       "wx1234567890",
		MchID:       testMchID,
		Description: "test order",
		OutTradeNo:  "abc123",
		NotifyURL:   "https://merchant.example.com/callback",
		Amount:      NewCNYAmount(100),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing `"+SerialHeader+"` header")
}

func TestExecuteLogsTraceID(t *testing.T) {
	credential := newTestCredential(t)
	gatewayKey := newTestPrivateKey(t)
	gatewayCert, _ := newTestGatewayCertificate(t, gatewayKey, "GWSERIAL001",
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"ORDER_NOT_EXIST","message":"order not found"}`))
	}))
	defer server.Close()

	client := newTestClient(t, credential, gatewayCert, server.URL)

	var buf bytes.Buffer
	ctx := context.WithValue(context.Background(), appctx.LogWriterCTXKey, &buf)

	_, err := client.QueryTradeByOutTradeNo(ctx, "missing")
	require.Error(t, err)

	// every log line for the request carries a correlation trace id
	log := buf.String()
	assert.Contains(t, log, `"traceID":"`)
	assert.Contains(t, log, `"module":"wechatpay.Execute"`)
	assert.Contains(t, log, `"response_status":404`)
}

func TestRedactSensitiveHeaders(t *testing.T) {
	dump := []byte("POST /v3/pay/transactions/jsapi HTTP/1.1\r\n" +
		"Authorization: WECHATPAY2-SHA256-RSA2048 mchid=\"1900000001\",signature=\"c2VjcmV0\"\n" +
		"Wechatpay-Signature: c2VjcmV0c2ln\n" +
		"Content-Type: application/json\n")

	redacted := string(RedactSensitiveHeaders(dump))
	assert.NotContains(t, redacted, "c2VjcmV0")
	assert.Contains(t, redacted, "Authorization: WECHATPAY2-SHA256-RSA2048 <signature>")
	assert.Contains(t, redacted, "Wechatpay-Signature: <sig>")
	assert.Contains(t, redacted, "Content-Type: application/json")
}
