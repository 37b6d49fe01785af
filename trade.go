package wechatpay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-querystring/query"
	"github.com/yfaming/wechatpay/cryptography"
	errorutils "github.com/yfaming/wechatpay/errors"
	timeutils "github.com/yfaming/wechatpay/time"
)

// CreateJSAPITrade creates a JSAPI trade and returns the prepay id
func (c *Client) CreateJSAPITrade(ctx context.Context, params *JSAPICreateTradeParams) (string, error) {
	req, err := c.NewRequest(ctx, http.MethodPost, "/pay/transactions/jsapi", params, nil)
	if err != nil {
		return "", err
	}
	var res struct {
		PrepayID string `json:"prepay_id"`
	}
	if _, err := c.Execute(ctx, req, &res); err != nil {
		return "", err
	}
	return res.PrepayID, nil
}

// CreateAppTrade creates an App trade and returns the prepay id
func (c *Client) CreateAppTrade(ctx context.Context, params *CreateTradeParams) (string, error) {
	req, err := c.NewRequest(ctx, http.MethodPost, "/pay/transactions/app", params, nil)
	if err != nil {
		return "", err
	}
	var res struct {
		PrepayID string `json:"prepay_id"`
	}
	if _, err := c.Execute(ctx, req, &res); err != nil {
		return "", err
	}
	return res.PrepayID, nil
}

// CreateH5Trade creates an H5 trade and returns the h5 url
func (c *Client) CreateH5Trade(ctx context.Context, params *CreateTradeParams) (string, error) {
	req, err := c.NewRequest(ctx, http.MethodPost, "/pay/transactions/h5", params, nil)
	if err != nil {
		return "", err
	}
	var res struct {
		H5URL string `json:"h5_url"`
	}
	if _, err := c.Execute(ctx, req, &res); err != nil {
		return "", err
	}
	return res.H5URL, nil
}

// CreateNativeTrade creates a Native trade and returns the QR code url,
// which is presented to the user to scan and pay
func (c *Client) CreateNativeTrade(ctx context.Context, params *CreateTradeParams) (string, error) {
	req, err := c.NewRequest(ctx, http.MethodPost, "/pay/transactions/native", params, nil)
	if err != nil {
		return "", err
	}
	var res struct {
		CodeURL string `json:"code_url"`
	}
	if _, err := c.Execute(ctx, req, &res); err != nil {
		return "", err
	}
	return res.CodeURL, nil
}

// merchantQuery - query string for trade lookups
type merchantQuery struct {
	MchID string `url:"mchid"`
}

// GenerateQueryString - implement the QueryStringBody interface
func (q *merchantQuery) GenerateQueryString() (url.Values, error) {
	return query.Values(q)
}

// QueryTradeByTransactionID queries a trade by the gateway transaction id
func (c *Client) QueryTradeByTransactionID(ctx context.Context, transactionID string) (*Trade, error) {
	path := fmt.Sprintf("/pay/transactions/id/%s", url.PathEscape(transactionID))
	req, err := c.NewRequest(ctx, http.MethodGet, path, nil, &merchantQuery{MchID: c.credential.MchID()})
	if err != nil {
		return nil, err
	}
	trade := &Trade{}
	if _, err := c.Execute(ctx, req, trade); err != nil {
		return nil, err
	}
	return trade, nil
}

// QueryTradeByOutTradeNo queries a trade by the merchant order number
func (c *Client) QueryTradeByOutTradeNo(ctx context.Context, outTradeNo string) (*Trade, error) {
	path := fmt.Sprintf("/pay/transactions/out-trade-no/%s", url.PathEscape(outTradeNo))
	req, err := c.NewRequest(ctx, http.MethodGet, path, nil, &merchantQuery{MchID: c.credential.MchID()})
	if err != nil {
		return nil, err
	}
	trade := &Trade{}
	if _, err := c.Execute(ctx, req, trade); err != nil {
		return nil, err
	}
	return trade, nil
}

// CloseTrade closes an unpaid trade by the merchant order number
func (c *Client) CloseTrade(ctx context.Context, outTradeNo string) error {
	body := struct {
		MchID string `json:"mchid"`
	}{MchID: c.credential.MchID()}

	path := fmt.Sprintf("/pay/transactions/out-trade-no/%s/close", url.PathEscape(outTradeNo))
	req, err := c.NewRequest(ctx, http.MethodPost, path, &body, nil)
	if err != nil {
		return err
	}
	_, err = c.Execute(ctx, req, nil)
	return err
}

// JSAPITradeSignature carries the parameters the front end needs to invoke
// payment with a prepay id
type JSAPITradeSignature struct {
	AppID string `json:"app_id"`
	// Timestamp - in seconds, as a string
	Timestamp string `json:"timestamp"`
	NonceStr  string `json:"nonce_str"`
	// Package - must be of the form `prepay_id=xxxxx`, no quotes around xxxxx
	Package string `json:"package"`
	// SignType - always RSA
	SignType string `json:"sign_type"`
	PaySign  string `json:"pay_sign"`
}

// SignJSAPITrade signs a prepay id returned by CreateJSAPITrade for the
// front end to invoke payment
func (c *Client) SignJSAPITrade(prepayID, appID string) (*JSAPITradeSignature, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonce, err := cryptography.NonceString(cryptography.NonceStringLength)
	if err != nil {
		return nil, errorutils.Wrap(err, "failed to generate nonce")
	}
	pkg := fmt.Sprintf("prepay_id=%s", prepayID)
	msg := fmt.Sprintf("%s\n%s\n%s\n%s\n", appID, timestamp, nonce, pkg)

	signature, err := c.credential.sign([]byte(msg))
	if err != nil {
		return nil, errorutils.Wrap(err, "failed to sign jsapi trade")
	}
	return &JSAPITradeSignature{
		AppID:     appID,
		Timestamp: timestamp,
		NonceStr:  nonce,
		Package:   pkg,
		SignType:  "RSA",
		PaySign:   signature,
	}, nil
}

// GenerateOutTradeNo generates a 27 character merchant order number of the
// form mca8fa-nua7q2-adaf8a-ada8fa: four 6 character groups joined by `-`
func GenerateOutTradeNo() (string, error) {
	groups := make([]string, 4)
	for i := range groups {
		g, err := cryptography.NonceString(6)
		if err != nil {
			return "", err
		}
		groups[i] = g
	}
	return strings.Join(groups, "-"), nil
}

// JSAPICreateTradeParams are the parameters for a JSAPI trade creation.
// Unlike the other trade types, JSAPI requires the payer's openid.
type JSAPICreateTradeParams struct {
	AppID string `json:"appid"`
	MchID string `json:"mchid"`
	// Description - at most 127 characters
	Description string `json:"description"`
	// OutTradeNo - merchant order number, unique within the merchant account,
	// 6 to 32 characters of digits, letters, _-*
	OutTradeNo string `json:"out_trade_no"`
	// TimeExpire - when the order expires
	TimeExpire *timeutils.Time `json:"time_expire,omitempty"`
	// Attach - echoed back verbatim in queries and payment notifications
	Attach *string `json:"attach,omitempty"`
	// NotifyURL - callback url for payment results, must be reachable from
	// the public internet and carry no parameters
	NotifyURL string `json:"notify_url"`
	// GoodsTag - order promotion tag
	GoodsTag *string `json:"goods_tag,omitempty"`
	// SupportFapiao - enable the electronic invoice entry point
	SupportFapiao *bool `json:"support_fapiao,omitempty"`
	// Amount - order amount
	Amount Amount `json:"amount"`
	// Payer - the paying user
	Payer Payer `json:"payer"`
	// Detail - promotion functionality
	Detail *CreateTradePromotionDetail `json:"detail,omitempty"`
	// SceneInfo - payment scene description
	SceneInfo *CreateTradeSceneInfo `json:"scene_info,omitempty"`
	// SettleInfo - settlement information
	SettleInfo *SettleInfo `json:"settle_info,omitempty"`
}

// CreateTradeParams are the parameters for App, H5 and Native trade
// creation; compared to JSAPI there is no payer field
type CreateTradeParams struct {
	AppID         string                      `json:"appid"`
	MchID         string                      `json:"mchid"`
	Description   string                      `json:"description"`
	OutTradeNo    string                      `json:"out_trade_no"`
	TimeExpire    *timeutils.Time             `json:"time_expire,omitempty"`
	Attach        *string                     `json:"attach,omitempty"`
	NotifyURL     string                      `json:"notify_url"`
	GoodsTag      *string                     `json:"goods_tag,omitempty"`
	SupportFapiao *bool                       `json:"support_fapiao,omitempty"`
	Amount        Amount                      `json:"amount"`
	Detail        *CreateTradePromotionDetail `json:"detail,omitempty"`
	SceneInfo     *CreateTradeSceneInfo       `json:"scene_info,omitempty"`
	SettleInfo    *SettleInfo                 `json:"settle_info,omitempty"`
}

// Amount is an order amount in minor units
type Amount struct {
	// Total - order total in cents
	Total int64 `json:"total"`
	// Currency - CNY only for domestic merchants
	Currency string `json:"currency"`
}

// NewCNYAmount returns an order amount denominated in CNY cents
func NewCNYAmount(total int64) Amount {
	return Amount{Total: total, Currency: "CNY"}
}

// PaidAmount is the amount information of a paid order: total/currency are
// from order creation, payer_total/payer_currency are what the user actually paid
type PaidAmount struct {
	Total         *int64  `json:"total,omitempty"`
	Currency      *string `json:"currency,omitempty"`
	PayerTotal    *int64  `json:"payer_total,omitempty"`
	PayerCurrency *string `json:"payer_currency,omitempty"`
}

// Payer identifies the paying user within the merchant's app
type Payer struct {
	// Openid - the user's unique id under the merchant app id
	Openid string `json:"openid,omitempty"`
}

// CreateTradePromotionDetail - promotion parameters at order creation
type CreateTradePromotionDetail struct {
	// CostPrice - the original order price, guards against splitting one
	// receipt across multiple payments to collect promotions repeatedly
	CostPrice *int64 `json:"cost_price,omitempty"`
	// InvoiceID - receipt id
	InvoiceID   *string                  `json:"invoice_id,omitempty"`
	GoodsDetail []CreateTradeGoodsDetail `json:"goods_detail"`
}

// TradePromotionDetail - promotion information on a queried trade
type TradePromotionDetail struct {
	CouponID string  `json:"coupon_id"`
	Name     *string `json:"name,omitempty"`
	// Scope - GLOBAL or SINGLE
	Scope *string `json:"scope,omitempty"`
	// PromotionType - CASH or NOCASH
	PromotionType *string `json:"type,omitempty"`
	// Amount - coupon face value in cents
	Amount              int64              `json:"amount"`
	StockID             *string            `json:"stock_id,omitempty"`
	WechatpayContribute *int64             `json:"wechatpay_contribute,omitempty"`
	MerchantContribute  *int64             `json:"merchant_contribute,omitempty"`
	OtherContribute     *int64             `json:"other_contribute,omitempty"`
	Currency            *string            `json:"currency,omitempty"`
	GoodsDetail         []TradeGoodsDetail `json:"goods_detail"`
}

// CreateTradeGoodsDetail - a single item at order creation
type CreateTradeGoodsDetail struct {
	MerchantGoodsID  string  `json:"merchant_goods_id"`
	WechatpayGoodsID *string `json:"wechatpay_goods_id,omitempty"`
	GoodsName        *string `json:"goods_name,omitempty"`
	Quantity         int64   `json:"quantity"`
	// UnitPrice - in cents, after any merchant discount
	UnitPrice int64 `json:"unit_price"`
}

// TradeGoodsDetail - a single item on a queried trade
type TradeGoodsDetail struct {
	GoodsID        string  `json:"goods_id"`
	Quantity       int64   `json:"quantity"`
	UnitPrice      int64   `json:"unit_price"`
	DiscountAmount int64   `json:"discount_amount"`
	GoodsRemark    *string `json:"goods_remark,omitempty"`
}

// CreateTradeSceneInfo - payment scene information at order creation
type CreateTradeSceneInfo struct {
	// PayerClientIP - IPv4 or IPv6
	PayerClientIP string    `json:"payer_client_ip"`
	DeviceID      string    `json:"device_id"`
	StoreInfo     StoreInfo `json:"store_info"`
}

// TradeSceneInfo - payment scene information on a queried trade
type TradeSceneInfo struct {
	DeviceID *string `json:"device_id,omitempty"`
}

// StoreInfo - merchant store information
type StoreInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	AreaCode string `json:"area_code"`
	Address  string `json:"address"`
}

// SettleInfo - settlement information
type SettleInfo struct {
	// ProfitSharing - whether profit sharing is enabled for the order
	ProfitSharing *bool `json:"profit_sharing,omitempty"`
}

// Trade is a queried trade
type Trade struct {
	AppID      string `json:"appid"`
	MchID      string `json:"mchid"`
	OutTradeNo string `json:"out_trade_no"`
	// TransactionID - the gateway order number, at most 32 characters
	TransactionID  *string    `json:"transaction_id,omitempty"`
	TradeType      *TradeType `json:"trade_type,omitempty"`
	TradeState     TradeState `json:"trade_state"`
	TradeStateDesc string     `json:"trade_state_desc"`
	BankType       *string    `json:"bank_type,omitempty"`
	Attach         *string    `json:"attach,omitempty"`
	// SuccessTime - when payment completed
	SuccessTime *timeutils.Time `json:"success_time,omitempty"`
	// Payer - documented as always present, in practice omitted before payment
	Payer *Payer `json:"payer,omitempty"`
	// Amount - present once the trade is paid
	Amount          *PaidAmount            `json:"amount,omitempty"`
	SceneInfo       *TradeSceneInfo        `json:"scene_info,omitempty"`
	PromotionDetail []TradePromotionDetail `json:"promotion_detail,omitempty"`
}

// TradeType - how a trade was initiated
type TradeType string

// Trade types
const (
	TradeTypeJSAPI  TradeType = "JSAPI"
	TradeTypeNative TradeType = "NATIVE"
	TradeTypeApp    TradeType = "APP"
	// TradeTypeMicropay - payment code payment
	TradeTypeMicropay TradeType = "MICROPAY"
	// TradeTypeMweb - H5 payment
	TradeTypeMweb TradeType = "MWEB"
	// TradeTypeFacepay - face recognition payment
	TradeTypeFacepay TradeType = "FACEPAY"
)

// UnmarshalJSON rejects unknown trade types rather than guessing
func (t *TradeType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch v := TradeType(strings.ToUpper(s)); v {
	case TradeTypeJSAPI, TradeTypeNative, TradeTypeApp, TradeTypeMicropay, TradeTypeMweb, TradeTypeFacepay:
		*t = v
		return nil
	default:
		return fmt.Errorf("unknown trade type: %s", s)
	}
}

// TradeState - the state of a trade
type TradeState string

// Trade states
const (
	TradeStateSuccess TradeState = "SUCCESS"
	// TradeStateRefund - transferred into refund
	TradeStateRefund TradeState = "REFUND"
	TradeStateNotPay TradeState = "NOTPAY"
	TradeStateClosed TradeState = "CLOSED"
	// TradeStateRevoked - payment code payments only
	TradeStateRevoked TradeState = "REVOKED"
	// TradeStateUserPaying - payment code payments only
	TradeStateUserPaying TradeState = "USERPAYING"
	// TradeStatePayError - payment code payments only
	TradeStatePayError TradeState = "PAYERROR"
)

// UnmarshalJSON rejects unknown trade states rather than guessing
func (t *TradeState) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch v := TradeState(strings.ToUpper(s)); v {
	case TradeStateSuccess, TradeStateRefund, TradeStateNotPay, TradeStateClosed,
		TradeStateRevoked, TradeStateUserPaying, TradeStatePayError:
		*t = v
		return nil
	default:
		return fmt.Errorf("unknown trade state: %s", s)
	}
}
