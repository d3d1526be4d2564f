package kcp2k

import "github.com/r2northstar/kcp2k/internal/proto"

// Error kinds surfaced via OnError events. Check with errors.Is.
var (
	ErrDNSResolve         = proto.ErrDNSResolve
	ErrTimeout            = proto.ErrTimeout
	ErrCongestion         = proto.ErrCongestion
	ErrInvalidReceive     = proto.ErrInvalidReceive
	ErrInvalidSend        = proto.ErrInvalidSend
	ErrConnectionClosed   = proto.ErrConnectionClosed
	ErrSendError          = proto.ErrSendError
	ErrConnectionNotFound = proto.ErrConnectionNotFound
	ErrUnexpected         = proto.ErrUnexpected
)
