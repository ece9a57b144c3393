package ws

import "errors"

var (
	errInvalidPayload = errors.New("invalid command payload")
	errUnsupported    = errors.New("unsupported message type")
)
