package requestutils

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/yfaming/wechatpay/closers"
	errorutils "github.com/yfaming/wechatpay/errors"
	"github.com/yfaming/wechatpay/logging"
)

// payloadLimit10MB - gateway payloads are small, anything larger is hostile
var payloadLimit10MB = int64(1024 * 1024 * 10)

// ReadWithLimit reads an io reader with a limit and closes
func ReadWithLimit(ctx context.Context, body io.Reader, limit int64) ([]byte, error) {
	if c, ok := body.(io.Closer); ok {
		defer closers.Panic(ctx, c)
	}
	return io.ReadAll(io.LimitReader(body, limit))
}

// Read an io reader
func Read(ctx context.Context, body io.Reader) ([]byte, error) {
	b, err := ReadWithLimit(ctx, body, payloadLimit10MB)
	if err != nil {
		return nil, errorutils.Wrap(err, "error reading body")
	}
	return b, nil
}

// ReadJSON reads a request body according to an interface and limits the size to 10MB
func ReadJSON(ctx context.Context, body io.Reader, intr interface{}) error {
	logger := logging.Logger(ctx, "requestutils.ReadJSON")
	if body == nil {
		return errorutils.New(errors.New("body is nil"), "Error in request body", nil)
	}
	b, err := Read(ctx, body)
	if err != nil {
		return err
	}
	logger.Debug().Str("json", string(b)).Msg("read payload")
	err = json.Unmarshal(b, &intr)
	if err != nil {
		return errorutils.Wrap(err, "error unmarshalling body")
	}
	return nil
}
