package wechatpay

import (
	"encoding/json"
	"fmt"
)

// GatewayError is the structured error body the gateway returns on a
// non-success status. Error responses are not signed by the gateway, so no
// signature verification is attempted before surfacing one.
type GatewayError struct {
	Code           string             `json:"code"`
	Message        string             `json:"message"`
	Detail         GatewayErrorDetail `json:"detail"`
	HTTPStatusCode int                `json:"-"`
}

// GatewayErrorDetail pinpoints the offending request parameter, when the gateway provides it
type GatewayErrorDetail struct {
	Field    string `json:"field"`
	Value    string `json:"value"`
	Issue    string `json:"issue"`
	Location string `json:"location"`
}

// Error returns the error string
func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error: code: %s - message: %s - http status: %d", e.Code, e.Message, e.HTTPStatusCode)
}

// newGatewayError parses a non-success response body into a *GatewayError.
// Unparsable bodies still produce a GatewayError carrying the http status.
func newGatewayError(status int, body []byte) error {
	gatewayError := &GatewayError{}
	// the body shape is best-effort, the status code alone is meaningful
	_ = json.Unmarshal(body, gatewayError)
	gatewayError.HTTPStatusCode = status
	return gatewayError
}
