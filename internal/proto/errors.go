package proto

import "errors"

// Sentinel errors surfaced to applications via [Event.Err]. Check with
// errors.Is; call sites wrap these with fmt.Errorf("...: %w", ...) to add
// context, following the pattern used throughout the rest of this module's
// teacher lineage (see e.g. a2s.Probe's use of ErrTimeout).
var (
	ErrDNSResolve         = errors.New("kcp2k: dns resolution failed")
	ErrTimeout            = errors.New("kcp2k: connection timed out")
	ErrCongestion         = errors.New("kcp2k: send congested")
	ErrInvalidReceive     = errors.New("kcp2k: invalid data received")
	ErrInvalidSend        = errors.New("kcp2k: invalid data to send")
	ErrConnectionClosed   = errors.New("kcp2k: connection closed")
	ErrSendError          = errors.New("kcp2k: send failed")
	ErrConnectionNotFound = errors.New("kcp2k: connection not found")
	ErrUnexpected         = errors.New("kcp2k: unexpected error")
)
