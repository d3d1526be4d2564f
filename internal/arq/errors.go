package arq

import "errors"

var (
	errInvalidSegment = errors.New("arq: invalid or out-of-window segment")
	errSendFailed     = errors.New("arq: send rejected by engine")
)
