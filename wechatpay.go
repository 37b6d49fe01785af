// Package wechatpay implements a client for the WeChat Pay API v3.
// Outbound requests are signed with the merchant's RSA private key, and
// responses and webhook notifications are verified against the gateway's
// rotating platform certificates.
package wechatpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	appctx "github.com/yfaming/wechatpay/context"
	errorutils "github.com/yfaming/wechatpay/errors"
	"github.com/yfaming/wechatpay/logging"
	"github.com/yfaming/wechatpay/requestutils"
)

// ProductionBaseURL is the gateway's production API v3 base url
const ProductionBaseURL = "https://api.mch.weixin.qq.com/v3"

// defaultUserAgent - the gateway may reject requests without a User-Agent
const defaultUserAgent = "wechatpay Go client"

// AlgorithmAEADAES256GCM is the only resource encryption algorithm the gateway supports
const AlgorithmAEADAES256GCM = "AEAD_AES_256_GCM"

// regular expression mapped to the replacement
var redactHeaders = map[*regexp.Regexp][]byte{
	regexp.MustCompile(`(?i)authorization: (?i)wechatpay2.+\n`): []byte("Authorization: WECHATPAY2-SHA256-RSA2048 <signature>\n"),
	regexp.MustCompile(`(?i)wechatpay-signature: .+\n`):         []byte("Wechatpay-Signature: <sig>\n"),
}

// RedactSensitiveHeaders from http request dumps
func RedactSensitiveHeaders(corpus []byte) []byte {
	for k, v := range redactHeaders {
		corpus = k.ReplaceAll(corpus, v)
	}
	return corpus
}

var concurrentClientRequests = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "concurrent_client_requests",
		Help: "Gauge that holds the current number of client requests",
	},
	[]string{
		"host",
		"method",
	},
)

func init() {
	prometheus.MustRegister(concurrentClientRequests)
}

// QueryStringBody - a type to generate the query string from a request "body" for the client
type QueryStringBody interface {
	// GenerateQueryString - function to generate the query string
	GenerateQueryString() (url.Values, error)
}

// Client is a WeChat Pay API v3 client. It signs every outbound request with
// the merchant credential and verifies every successful response against the
// gateway certificate trust store before handing it to the caller.
type Client struct {
	baseURL    *url.URL
	credential *MerchantCredential
	userAgent  string
	client     *http.Client

	mu    sync.RWMutex
	store *certificateStore
}

// Config assembles a Client. Credential is required, and exactly one of
// Certificates or FetchCertificates must be provided to seed the trust store.
type Config struct {
	// Credential - the merchant's signing credential (required)
	Credential *MerchantCredential
	// Certificates - an initial set of gateway certificates
	Certificates []*GatewayCertificate
	// FetchCertificates - fetch the gateway certificate list during New
	FetchCertificates bool
	// BaseURL - defaults to ProductionBaseURL
	BaseURL string
	// UserAgent - defaults to the library user agent
	UserAgent string
	// HTTPClient - defaults to a client with a 10s timeout
	HTTPClient *http.Client
}

// New validates the config and returns a new Client
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Credential == nil {
		return nil, errors.New("missing `Credential`")
	}

	rawBaseURL := cfg.BaseURL
	if rawBaseURL == "" {
		rawBaseURL = ProductionBaseURL
	}
	baseURL, err := url.Parse(rawBaseURL)
	if err != nil {
		return nil, errorutils.Wrap(err, "invalid base url")
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: time.Second * 10,
		}
	}

	c := &Client{
		baseURL:    baseURL,
		credential: cfg.Credential,
		userAgent:  userAgent,
		client:     httpClient,
	}

	switch {
	case len(cfg.Certificates) > 0:
		store, err := newCertificateStore(cfg.Certificates, time.Now())
		if err != nil {
			return nil, err
		}
		c.store = store
	case cfg.FetchCertificates:
		if _, err := c.RefreshCertificates(ctx); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("one of `Certificates` or `FetchCertificates` must be provided")
	}

	return c, nil
}

// NewRequest creates a request against the gateway, JSON encoding the body passed
func (c *Client) NewRequest(
	ctx context.Context,
	method,
	path string,
	body interface{},
	qsb QueryStringBody,
) (*http.Request, error) {
	qs := ""
	if qsb != nil {
		v, err := qsb.GenerateQueryString()
		if err != nil {
			return nil, errorutils.Wrap(err, "failed to generate query string")
		}
		qs = v.Encode()
	}

	resolved := *c.baseURL
	resolved.Path = strings.TrimRight(c.baseURL.Path, "/") + path
	resolved.RawQuery = qs

	var buf io.Reader
	if body != nil && method != http.MethodGet {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errorutils.Wrap(err, "unable to encode body")
		}
		buf = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, resolved.String(), buf)
	if err != nil {
		return nil, errorutils.Wrap(err, "malformed request")
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if buf != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req.WithContext(ctx), nil
}

// Execute signs and sends the request, verifies the response signature, and
// decodes the verified JSON body into v when v is non-nil. The verified body
// bytes are returned unchanged. A non-success status is returned as a
// *GatewayError without signature verification, since the gateway does not
// sign error responses.
func (c *Client) Execute(ctx context.Context, req *http.Request, v interface{}) ([]byte, error) {
	// tag the context logger with a trace id so all log lines for this
	// request can be correlated
	ctx = logging.Logger(ctx, "wechatpay.Execute").WithContext(ctx)
	logging.AddTraceIDToContext(ctx)
	logger := logging.FromContext(ctx)

	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	if err := c.credential.SignRequest(req); err != nil {
		return nil, err
	}

	// concurrent client request instrumentation
	concurrentClientRequests.With(
		prometheus.Labels{
			"host": req.URL.Host, "method": req.Method,
		}).Inc()

	defer func() {
		concurrentClientRequests.With(
			prometheus.Labels{
				"host": req.URL.Host, "method": req.Method,
			}).Dec()
	}()

	debug, okDebug := ctx.Value(appctx.DebugLoggingCTXKey).(bool)
	if okDebug && debug {
		// dump out the full request, right before we submit it
		requestDump, err := httputil.DumpRequestOut(req, true)
		if err != nil {
			logger.Error().Err(err).Str("type", "http.Request").Msg("failed to dump request body")
		} else {
			logger.Debug().Str("type", "http.Request").Msg(string(RedactSensitiveHeaders(requestDump)))
		}
	}

	resp, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, errorutils.Wrap(err, "failed client request")
	}

	if okDebug && debug {
		dump, err := httputil.DumpResponse(resp, false)
		if err != nil {
			logger.Error().Err(err).Str("type", "http.Response").Msg("failed to dump response")
		} else {
			logger.Debug().Str("type", "http.Response").Msg(string(dump))
		}
	}

	body, err := requestutils.Read(ctx, resp.Body)
	if err != nil {
		return nil, errorutils.Wrap(err, errorutils.ErrFailedBodyRead.Error())
	}

	status := resp.StatusCode
	if status < 200 || status > 299 {
		logger.Warn().
			Int("response_status", status).
			Str("path", req.URL.Path).
			Msg("gateway returned a non-success status")
		return nil, newGatewayError(status, body)
	}

	verified, err := c.verifyResponse(ctx, resp.Header, body)
	if err != nil {
		return nil, err
	}

	if v != nil {
		if err := json.Unmarshal(verified, v); err != nil {
			return verified, errorutils.Wrap(err, errorutils.ErrFailedBodyUnmarshal.Error())
		}
	}
	return verified, nil
}
