package wechatpay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	timeutils "github.com/yfaming/wechatpay/time"
)

// ApplyRefund requests a full or partial refund of a paid trade
func (c *Client) ApplyRefund(ctx context.Context, params *RefundParams) (*Refund, error) {
	req, err := c.NewRequest(ctx, http.MethodPost, "/refund/domestic/refunds", params, nil)
	if err != nil {
		return nil, err
	}
	refund := &Refund{}
	if _, err := c.Execute(ctx, req, refund); err != nil {
		return nil, err
	}
	return refund, nil
}

// QueryRefund queries a refund by the merchant refund number
func (c *Client) QueryRefund(ctx context.Context, outRefundNo string) (*Refund, error) {
	path := fmt.Sprintf("/refund/domestic/refunds/%s", url.PathEscape(outRefundNo))
	req, err := c.NewRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	refund := &Refund{}
	if _, err := c.Execute(ctx, req, refund); err != nil {
		return nil, err
	}
	return refund, nil
}

// GenerateOutRefundNo generates a merchant refund number in the same format
// as GenerateOutTradeNo
func GenerateOutRefundNo() (string, error) {
	return GenerateOutTradeNo()
}

// RefundParams are the parameters for a refund application. Exactly one of
// TransactionID and OutTradeNo must be set to identify the trade being
// refunded.
type RefundParams struct {
	// TransactionID - the gateway order number of the trade to refund
	TransactionID string `json:"transaction_id,omitempty"`
	// OutTradeNo - the merchant order number of the trade to refund
	OutTradeNo string `json:"out_trade_no,omitempty"`
	// OutRefundNo - merchant refund number, unique within the merchant
	// account, 6 to 64 characters of digits, letters, _-|*@
	OutRefundNo string `json:"out_refund_no"`
	// Reason - echoed to the user in the refund notification message
	Reason *string `json:"reason,omitempty"`
	// NotifyURL - callback url for the refund result, overrides the
	// merchant account configuration for this refund only
	NotifyURL *string `json:"notify_url,omitempty"`
	// FundsAccount - e.g. AVAILABLE, when refunding from a specific account
	FundsAccount *string `json:"funds_account,omitempty"`
	// Amount - refund amount
	Amount RefundApplyingAmount `json:"amount"`
	// GoodsDetail - the items being refunded
	GoodsDetail []RefundGoodsDetail `json:"goods_detail,omitempty"`
}

// RefundApplyingAmount is the amount information of a refund application
type RefundApplyingAmount struct {
	// Total - the original order total in cents
	Total int64 `json:"total"`
	// Refund - the amount to refund in cents, at most the remaining
	// refundable amount of the order
	Refund int64 `json:"refund"`
	// Currency - CNY only for domestic merchants
	Currency string `json:"currency"`
	// From - the accounts the refund is drawn from, when specified their
	// sum must equal Refund
	From []RefundFromAccount `json:"from,omitempty"`
}

// RefundFromAccount designates an account a refund draws funds from
type RefundFromAccount struct {
	// Account - AVAILABLE or UNAVAILABLE
	Account string `json:"account"`
	// Amount - in cents
	Amount int64 `json:"amount"`
}

// RefundGoodsDetail - a single item being refunded
type RefundGoodsDetail struct {
	MerchantGoodsID  string  `json:"merchant_goods_id"`
	WechatpayGoodsID *string `json:"wechatpay_goods_id,omitempty"`
	GoodsName        *string `json:"goods_name,omitempty"`
	// UnitPrice - in cents, after any merchant discount
	UnitPrice int64 `json:"unit_price"`
	// RefundAmount - in cents
	RefundAmount int64 `json:"refund_amount"`
	// RefundQuantity - the quantity being refunded
	RefundQuantity int64 `json:"refund_quantity"`
}

// Refund is a refund as returned by the gateway, from both the apply and
// query operations and from refund notifications
type Refund struct {
	// RefundID - the gateway refund number
	RefundID    string `json:"refund_id"`
	OutRefundNo string `json:"out_refund_no"`
	// TransactionID - the gateway order number of the refunded trade
	TransactionID string `json:"transaction_id"`
	OutTradeNo    string `json:"out_trade_no"`
	// Channel - e.g. ORIGINAL, BALANCE, OTHER_BALANCE, OTHER_BANKCARD
	Channel *string `json:"channel,omitempty"`
	// UserReceivedAccount - where the refund lands, e.g. a masked card number
	UserReceivedAccount string `json:"user_received_account"`
	// SuccessTime - present when Status is SUCCESS
	SuccessTime *timeutils.Time `json:"success_time,omitempty"`
	CreateTime  timeutils.Time  `json:"create_time"`
	Status      RefundStatus    `json:"status"`
	// FundsAccount - the account the refund was drawn from
	FundsAccount *string `json:"funds_account,omitempty"`
	// Amount - refund amount information
	Amount          RefundActualAmount      `json:"amount"`
	PromotionDetail []RefundPromotionDetail `json:"promotion_detail,omitempty"`
}

// RefundActualAmount is the amount information on a settled or settling refund
type RefundActualAmount struct {
	// Total - the original order total in cents
	Total int64 `json:"total"`
	// Refund - the refund amount in cents
	Refund int64 `json:"refund"`
	// PayerTotal - what the user actually paid, in cents
	PayerTotal int64 `json:"payer_total"`
	// PayerRefund - what is returned to the user, in cents
	PayerRefund int64 `json:"payer_refund"`
	// From - the accounts the refund was drawn from
	From []RefundFromAccount `json:"from,omitempty"`
	// SettlementTotal - order total minus non-cash coupons, in cents
	SettlementTotal *int64 `json:"settlement_total,omitempty"`
	// SettlementRefund - refund minus non-cash coupon refunds, in cents
	SettlementRefund *int64 `json:"settlement_refund,omitempty"`
	// DiscountRefund - refunded promotion amount, in cents
	DiscountRefund *int64  `json:"discount_refund,omitempty"`
	Currency       *string `json:"currency,omitempty"`
	// RefundFee - handling fee charged for the refund, in cents
	RefundFee *int64 `json:"refund_fee,omitempty"`
}

// RefundPromotionDetail - promotion information on a refund
type RefundPromotionDetail struct {
	PromotionID string `json:"promotion_id"`
	// Scope - GLOBAL or SINGLE
	Scope string `json:"scope"`
	// PromotionType - COUPON or DISCOUNT
	PromotionType string `json:"type"`
	// Amount - coupon face value in cents
	Amount int64 `json:"amount"`
	// RefundAmount - refunded coupon amount in cents
	RefundAmount int64               `json:"refund_amount"`
	GoodsDetail  []RefundGoodsDetail `json:"goods_detail,omitempty"`
}

// RefundStatus - the state of a refund
type RefundStatus string

// Refund states
const (
	RefundStatusSuccess RefundStatus = "SUCCESS"
	RefundStatusClosed  RefundStatus = "CLOSED"
	// RefundStatusProcessing - the refund is in flight
	RefundStatusProcessing RefundStatus = "PROCESSING"
	// RefundStatusAbnormal - the refund failed, e.g. the user's card was
	// cancelled; funds must be returned through other means
	RefundStatusAbnormal RefundStatus = "ABNORMAL"
)

// UnmarshalJSON rejects unknown refund states rather than guessing
func (r *RefundStatus) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch v := RefundStatus(strings.ToUpper(s)); v {
	case RefundStatusSuccess, RefundStatusClosed, RefundStatusProcessing, RefundStatusAbnormal:
		*r = v
		return nil
	default:
		return fmt.Errorf("unknown refund status: %s", s)
	}
}
