package wechatpay

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	errorutils "github.com/yfaming/wechatpay/errors"
	"github.com/yfaming/wechatpay/logging"
	"github.com/yfaming/wechatpay/requestutils"
	timeutils "github.com/yfaming/wechatpay/time"
)

var certificateRefreshTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_certificate_refresh_total",
		Help: "Counts gateway certificate refresh attempts partitioned by outcome",
	},
	[]string{"status"},
)

func init() {
	prometheus.MustRegister(certificateRefreshTotal)
}

// GatewayCertificate is one of the gateway's rotating public-key certificates
type GatewayCertificate struct {
	SerialNo      string
	EffectiveTime timeutils.Time
	ExpireTime    timeutils.Time
	Certificate   *x509.Certificate
}

// PublicKey derives the RSA public key from the certificate's subject public key info
func (gc *GatewayCertificate) PublicKey() (*rsa.PublicKey, error) {
	pub, ok := gc.Certificate.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, errorutils.ErrInvalidPublicKey
	}
	return pub, nil
}

// ParseCertificate parses certificate bytes in PEM form, falling back to raw DER
func ParseCertificate(data []byte) (*x509.Certificate, error) {
	der := data
	if block, _ := pem.Decode(data); block != nil {
		der = block.Bytes
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, errorutils.Wrap(err, "failed to parse gateway certificate")
	}
	return cert, nil
}

// certificateStore is an immutable snapshot of the currently trusted gateway
// certificates, newest effective time first. Stores are replaced wholesale,
// never mutated, so concurrent readers always see a consistent set.
type certificateStore struct {
	certificates []*GatewayCertificate
}

// newCertificateStore filters expired certificates against now and sorts the
// survivors newest-first. An all-expired (or empty) input is a hard error.
func newCertificateStore(certificates []*GatewayCertificate, now time.Time) (*certificateStore, error) {
	available := make([]*GatewayCertificate, 0, len(certificates))
	for _, c := range certificates {
		if now.Before(c.ExpireTime.Time) {
			available = append(available, c)
		}
	}
	if len(available) == 0 {
		return nil, errorutils.ErrNoAvailableCertificates
	}
	sort.SliceStable(available, func(i, j int) bool {
		return available[i].EffectiveTime.After(available[j].EffectiveTime.Time)
	})
	return &certificateStore{certificates: available}, nil
}

// lookup finds a certificate by exact serial number match
func (s *certificateStore) lookup(serialNo string) (*GatewayCertificate, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: %s", errorutils.ErrUnknownSerial, serialNo)
	}
	for _, c := range s.certificates {
		if c.SerialNo == serialNo {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", errorutils.ErrUnknownSerial, serialNo)
}

// trustStore returns the current store snapshot
func (c *Client) trustStore() *certificateStore {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store
}

// replaceStore atomically swaps in a new complete store
func (c *Client) replaceStore(store *certificateStore) {
	c.mu.Lock()
	c.store = store
	c.mu.Unlock()
}

// Certificates returns the currently trusted gateway certificates, newest first
func (c *Client) Certificates() []*GatewayCertificate {
	store := c.trustStore()
	if store == nil {
		return nil
	}
	out := make([]*GatewayCertificate, len(store.certificates))
	copy(out, store.certificates)
	return out
}

type encryptedCertificate struct {
	Algorithm      string `json:"algorithm"`
	Nonce          string `json:"nonce"`
	AssociatedData string `json:"associated_data"`
	Ciphertext     string `json:"ciphertext"`
}

type certificateEntry struct {
	SerialNo           string               `json:"serial_no"`
	EffectiveTime      timeutils.Time       `json:"effective_time"`
	ExpireTime         timeutils.Time       `json:"expire_time"`
	EncryptCertificate encryptedCertificate `json:"encrypt_certificate"`
}

type certificateListResponse struct {
	Data []certificateEntry `json:"data"`
}

// RefreshCertificates fetches the gateway certificate list and atomically
// replaces the trust store with the new batch. On any failure the existing
// trust store is left untouched; a forged or tampered certificate list never
// partially replaces trusted state.
func (c *Client) RefreshCertificates(ctx context.Context) ([]*GatewayCertificate, error) {
	ctx = logging.Logger(ctx, "wechatpay.RefreshCertificates").WithContext(ctx)
	logging.AddTraceIDToContext(ctx)
	logger := logging.FromContext(ctx)

	certificates, err := c.fetchCertificates(ctx)
	if err != nil {
		certificateRefreshTotal.With(prometheus.Labels{"status": "failure"}).Inc()
		logger.Error().Err(err).Msg("failed to fetch gateway certificates")
		return nil, err
	}

	store, err := newCertificateStore(certificates, time.Now())
	if err != nil {
		certificateRefreshTotal.With(prometheus.Labels{"status": "failure"}).Inc()
		return nil, err
	}

	c.replaceStore(store)
	certificateRefreshTotal.With(prometheus.Labels{"status": "success"}).Inc()
	logger.Info().Int("certificates", len(store.certificates)).Msg("gateway certificate trust store replaced")
	return certificates, nil
}

// fetchCertificates retrieves and validates the gateway certificate list.
//
// Verification order is inverted here: the response cannot be checked against
// a pre-existing trusted key, because this call is how staleness is resolved.
// The batch is decrypted first, the certificate matching the response's
// claimed signing serial is located within the batch, and only then is the
// response signature checked against that freshly derived key.
func (c *Client) fetchCertificates(ctx context.Context) ([]*GatewayCertificate, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, "/certificates", nil, nil)
	if err != nil {
		return nil, err
	}
	if err := c.credential.SignRequest(req); err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, errorutils.Wrap(err, "failed to fetch gateway certificates")
	}
	body, err := requestutils.Read(ctx, resp.Body)
	if err != nil {
		return nil, errorutils.Wrap(err, errorutils.ErrFailedBodyRead.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newGatewayError(resp.StatusCode, body)
	}

	// capture the claimed signing serial, but do not verify yet
	serialNo := resp.Header.Get(SerialHeader)
	if serialNo == "" {
		return nil, errorutils.MissingHeader(SerialHeader)
	}

	var list certificateListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, errorutils.Wrap(err, errorutils.ErrFailedBodyUnmarshal.Error())
	}

	certificates := make([]*GatewayCertificate, 0, len(list.Data))
	for _, entry := range list.Data {
		if entry.EncryptCertificate.Algorithm != AlgorithmAEADAES256GCM {
			return nil, fmt.Errorf("unsupported certificate encryption algorithm: %s", entry.EncryptCertificate.Algorithm)
		}
		ciphertext, err := base64.StdEncoding.DecodeString(entry.EncryptCertificate.Ciphertext)
		if err != nil {
			return nil, errorutils.Wrap(err, "failed to decode certificate ciphertext")
		}
		plain, err := c.credential.AESDecrypt(
			ciphertext,
			[]byte(entry.EncryptCertificate.AssociatedData),
			[]byte(entry.EncryptCertificate.Nonce),
		)
		if err != nil {
			return nil, err
		}
		cert, err := ParseCertificate(plain)
		if err != nil {
			return nil, err
		}
		gc := &GatewayCertificate{
			SerialNo:      entry.SerialNo,
			EffectiveTime: entry.EffectiveTime,
			ExpireTime:    entry.ExpireTime,
			Certificate:   cert,
		}
		if _, err := gc.PublicKey(); err != nil {
			return nil, err
		}
		certificates = append(certificates, gc)
	}

	// the batch proves itself: the signing certificate must be in the batch
	var signing *GatewayCertificate
	for _, gc := range certificates {
		if gc.SerialNo == serialNo {
			signing = gc
			break
		}
	}
	if signing == nil {
		return nil, fmt.Errorf("%w: %s", errorutils.ErrUnknownSerial, serialNo)
	}
	publicKey, err := signing.PublicKey()
	if err != nil {
		return nil, err
	}

	envelope, err := envelopeFromHeaders(resp.Header, body)
	if err != nil {
		return nil, err
	}
	if err := verifyEnvelope(publicKey, envelope); err != nil {
		return nil, err
	}

	return certificates, nil
}
