package wechatpay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	errorutils "github.com/yfaming/wechatpay/errors"
	"github.com/yfaming/wechatpay/requestutils"
	timeutils "github.com/yfaming/wechatpay/time"
)

// Notification resource original types, selecting the business schema the
// decrypted plaintext is parsed as
const (
	// OriginalTypeTransaction - a payment result notification
	OriginalTypeTransaction = "transaction"
	// OriginalTypeRefund - a refund result notification
	OriginalTypeRefund = "refund"
)

// Notification is a webhook delivery from the gateway, covering both payment
// and refund results
type Notification struct {
	// ID - unique notification id, at most 36 characters
	ID string `json:"id"`
	// CreateTime - when the notification was created
	CreateTime timeutils.Time `json:"create_time"`
	// EventType - e.g. TRANSACTION.SUCCESS, REFUND.SUCCESS, REFUND.ABNORMAL, REFUND.CLOSED
	EventType string `json:"event_type"`
	// ResourceType - the resource data type, encrypt-resource for payment results
	ResourceType string `json:"resource_type"`
	// Resource - the encrypted resource data
	Resource NotificationResource `json:"resource"`
	// Summary - a short human readable summary
	Summary string `json:"summary"`
}

// NotificationResource is the AEAD encrypted payload embedded in a notification
type NotificationResource struct {
	// Algorithm - only AEAD_AES_256_GCM is supported
	Algorithm string `json:"algorithm"`
	// Ciphertext - base64 encoded
	Ciphertext string `json:"ciphertext"`
	// AssociatedData - authenticated but not encrypted
	AssociatedData string `json:"associated_data"`
	// OriginalType - selects the decrypted schema, transaction or refund
	OriginalType string `json:"original_type"`
	// Nonce - the AEAD nonce
	Nonce string `json:"nonce"`
}

// NotificationEvent is the decrypted notification payload. Exactly one field
// is set, selected by the resource's original type.
type NotificationEvent struct {
	Trade  *Trade
	Refund *Refund
}

// VerifyNotification checks the gateway signature on an inbound webhook
// request and parses the notification envelope. The gateway signs webhook
// bodies the same way it signs responses, so the request is adapted into a
// response-shaped envelope and run through the same verification.
func (c *Client) VerifyNotification(ctx context.Context, req *http.Request) (*Notification, error) {
	body, err := requestutils.Read(ctx, req.Body)
	if err != nil {
		return nil, errorutils.Wrap(err, errorutils.ErrFailedBodyRead.Error())
	}

	verified, err := c.verifyResponse(ctx, req.Header, body)
	if err != nil {
		return nil, err
	}

	notification := &Notification{}
	if err := requestutils.ReadJSON(ctx, bytes.NewReader(verified), notification); err != nil {
		return nil, err
	}
	return notification, nil
}

// DecryptNotification decrypts the notification resource with the merchant
// api v3 key and parses it according to its original type. An unrecognized
// original type is an error, never silently ignored.
func (c *Client) DecryptNotification(notification *Notification) (*NotificationEvent, error) {
	resource := notification.Resource
	if resource.Algorithm != AlgorithmAEADAES256GCM {
		return nil, fmt.Errorf("unsupported notification encryption algorithm: %s", resource.Algorithm)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(resource.Ciphertext)
	if err != nil {
		return nil, errorutils.Wrap(err, "failed to decode notification ciphertext")
	}
	plain, err := c.credential.AESDecrypt(ciphertext, []byte(resource.AssociatedData), []byte(resource.Nonce))
	if err != nil {
		return nil, err
	}

	switch resource.OriginalType {
	case OriginalTypeTransaction:
		trade := &Trade{}
		if err := json.Unmarshal(plain, trade); err != nil {
			return nil, errorutils.Wrap(err, errorutils.ErrFailedBodyUnmarshal.Error())
		}
		return &NotificationEvent{Trade: trade}, nil
	case OriginalTypeRefund:
		refund := &Refund{}
		if err := json.Unmarshal(plain, refund); err != nil {
			return nil, errorutils.Wrap(err, errorutils.ErrFailedBodyUnmarshal.Error())
		}
		return &NotificationEvent{Refund: refund}, nil
	default:
		return nil, fmt.Errorf("%w: %s", errorutils.ErrUnknownNotificationType, resource.OriginalType)
	}
}
