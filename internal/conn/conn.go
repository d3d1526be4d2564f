// Package conn implements the per-peer protocol engine: channel framing,
// the cookie handshake, the connection state machine, keep-alive/timeout/
// dead-link bookkeeping, and the integration of the ARQ sublayer with the
// outer channel framing. See SPEC_FULL.md §4.
package conn

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/rs/zerolog"

	"github.com/r2northstar/kcp2k/internal/arq"
	"github.com/r2northstar/kcp2k/internal/proto"
)

// Transmit writes one fully-framed datagram to the peer. The caller
// supplies this at construction time, already bound to the right egress
// path (Endpoint.Send for a client's connected socket, or a closure over
// Endpoint.SendTo and the peer address for a server connection) — see
// SPEC_FULL.md §9's design note on avoiding a Connection<->socket ownership
// cycle.
type Transmit func(datagram []byte) error

// Connection is the per-peer protocol engine described in SPEC_FULL.md §4.
// It is not safe for concurrent use: all methods are expected to be called
// from the single goroutine driving the owning endpoint's tick loop.
type Connection struct {
	id     uint64
	mode   proto.Mode
	cookie uint32
	state  proto.State

	cfg      *proto.Config
	engine   arq.Engine
	transmit Transmit
	callback proto.Callback
	logger   zerolog.Logger

	peerAddr netip.AddrPort

	clockStart   time.Time
	lastSendPing time.Duration
	lastRecv     time.Duration

	metrics *Metrics
}

// New constructs a Connection. For a server-side connection, cookie should
// be a freshly generated one (see [proto.GenerateCookie]); for a client-side
// connection it is 0 until learned from the peer's first reply.
func New(id uint64, mode proto.Mode, peerAddr netip.AddrPort, cookie uint32, cfg *proto.Config, transmit Transmit, cb proto.Callback, logger zerolog.Logger, m *Metrics) *Connection {
	c := &Connection{
		id:         id,
		mode:       mode,
		cookie:     cookie,
		state:      proto.StateConnected,
		cfg:        cfg,
		transmit:   transmit,
		callback:   cb,
		peerAddr:   peerAddr,
		clockStart: time.Now(),
		logger:     logger.With().Uint64("conn_id", id).Str("remote", peerAddr.String()).Logger(),
		metrics:    m,
	}

	c.engine = arq.New(func(segment []byte) {
		frame := proto.EncodeReliableOutputFrame(c.cookie, segment)
		if err := c.transmit(frame); err != nil {
			c.logger.Debug().Err(err).Msg("reliable output write failed")
		} else if c.metrics != nil {
			c.metrics.txDatagrams(proto.ChannelReliable, len(frame))
		}
	})
	c.engine.SetMTU(cfg.MTU - proto.MetadataSizeReliable)
	c.engine.SetWndSize(cfg.SendWindowSize, cfg.ReceiveWindowSize)
	c.engine.SetNoDelay(cfg.NoDelay, cfg.Interval, cfg.FastResend, !cfg.CongestionWindow)
	c.engine.SetMaximumResendTimes(cfg.MaxRetransmits)

	return c
}

func (c *Connection) ID() uint64               { return c.id }
func (c *Connection) State() proto.State       { return c.state }
func (c *Connection) Cookie() uint32           { return c.cookie }
func (c *Connection) PeerAddr() netip.AddrPort { return c.peerAddr }

// SendHello sends the initial (or replying) reliable Hello with an empty
// payload, kicking off or completing the handshake.
func (c *Connection) SendHello() error {
	return c.sendReliable(proto.ReliableHello, nil)
}

// SendData sends a user payload on the given channel. Empty payloads are
// rejected (testable property #10): there is nothing for Hello/Ping framing
// to carry, and an empty Data message is indistinguishable from one.
func (c *Connection) SendData(data []byte, channel proto.Channel) error {
	if len(data) == 0 {
		return proto.ErrInvalidSend
	}
	if c.state == proto.StateDisconnected {
		return proto.ErrConnectionClosed
	}
	switch channel {
	case proto.ChannelReliable:
		return c.sendReliable(proto.ReliableData, data)
	case proto.ChannelUnreliable:
		return c.sendUnreliableHeader(proto.UnreliableData, data)
	default:
		return proto.ErrInvalidSend
	}
}

func (c *Connection) sendReliable(header proto.ReliableHeader, payload []byte) error {
	msg := proto.EncodeReliableMessage(header, payload)
	if err := c.engine.Send(msg); err != nil {
		return fmt.Errorf("%w: %v", proto.ErrSendError, err)
	}
	return nil
}

func (c *Connection) sendUnreliableHeader(header proto.UnreliableHeader, payload []byte) error {
	frame := proto.EncodeUnreliableFrame(c.cookie, header, payload)
	if err := c.transmit(frame); err != nil {
		return fmt.Errorf("%w: %v", proto.ErrSendError, err)
	}
	if c.metrics != nil {
		c.metrics.txDatagrams(proto.ChannelUnreliable, len(frame))
	}
	return nil
}

// RawInput is step one of SPEC_FULL.md §4.2: parse the channel/cookie
// header, update last_recv, and dispatch by channel. It should be called
// once per inbound datagram, for every datagram drained this tick, before
// [Connection.TickIncoming].
func (c *Connection) RawInput(now time.Time, datagram []byte) {
	// §7 enumerates this as a reported error on the connection, which in this
	// implementation always disconnects; the original raw_input instead
	// drops the datagram silently and leaves the connection up.
	channel, cookie, payload, ok := proto.DecodeDatagramHeader(datagram)
	if !ok {
		c.fail(proto.ErrInvalidReceive, "datagram too short")
		return
	}

	if c.cookie == 0 {
		c.cookie = cookie
	} else if c.state == proto.StateAuthenticated && cookie != c.cookie {
		c.fail(proto.ErrInvalidReceive, "cookie mismatch")
		return
	}

	c.lastRecv = now.Sub(c.clockStart)
	if c.metrics != nil {
		c.metrics.rxDatagrams(channel, len(datagram))
	}

	switch channel {
	case proto.ChannelReliable:
		if err := c.engine.Input(payload); err != nil {
			c.fail(proto.ErrInvalidReceive, "invalid reliable segment")
		}
	case proto.ChannelUnreliable:
		c.handleUnreliable(payload)
	default:
		c.fail(proto.ErrInvalidReceive, "unknown channel")
	}
}

func (c *Connection) handleUnreliable(payload []byte) {
	if len(payload) < 1 {
		c.fail(proto.ErrInvalidReceive, "empty unreliable payload")
		return
	}
	header := proto.UnreliableHeader(payload[0])
	body := payload[1:]

	switch header {
	case proto.UnreliableData:
		if c.state != proto.StateAuthenticated {
			c.fail(proto.ErrInvalidReceive, "unreliable data before authenticated")
			return
		}
		c.emit(proto.Event{Type: proto.OnData, ConnID: c.id, Channel: proto.ChannelUnreliable, Data: body})
	case proto.UnreliableDisconnect:
		c.Disconnect()
	case proto.UnreliablePing:
		// no-op: last_recv is already refreshed above
	default:
		// Open Question resolved in SPEC_FULL.md §9: unknown headers are a
		// protocol violation, not silently treated as Disconnect.
		c.fail(proto.ErrInvalidReceive, "unknown unreliable header")
	}
}

// TickIncoming runs the liveness checks and then, at most, delivers one
// reliable message, in the order required by SPEC_FULL.md §4.4: timeout,
// dead-link, ping, then receive.
func (c *Connection) TickIncoming(now time.Time) {
	if c.state == proto.StateDisconnected {
		return
	}
	elapsed := now.Sub(c.clockStart)

	if elapsed-c.lastRecv > c.cfg.Timeout {
		c.fail(proto.ErrTimeout, "inactivity timeout")
		return
	}
	if c.engine.IsDeadLink() {
		c.fail(proto.ErrTimeout, "dead link")
		return
	}
	if elapsed >= c.lastSendPing+proto.PingInterval {
		c.lastSendPing = elapsed
		c.sendPing()
	}
	if c.state == proto.StateDisconnected {
		return
	}
	c.receiveNextReliable()
}

func (c *Connection) sendPing() {
	var err error
	if c.cfg.IsReliablePing {
		err = c.sendReliable(proto.ReliablePing, nil)
	} else {
		err = c.sendUnreliableHeader(proto.UnreliablePing, nil)
	}
	if err != nil {
		c.logger.Debug().Err(err).Msg("ping send failed")
	}
}

func (c *Connection) receiveNextReliable() {
	size, ok := c.engine.PeekSize()
	if !ok {
		return
	}
	buf := make([]byte, size)
	n := c.engine.Recv(buf)
	if n <= 0 {
		return
	}
	msg := buf[:n]
	header := proto.ReliableHeader(msg[0])
	payload := msg[1:]

	switch c.state {
	case proto.StateConnected:
		switch header {
		case proto.ReliableHello:
			c.onAuthenticated()
		case proto.ReliableData:
			c.fail(proto.ErrInvalidReceive, "reliable data received before authenticated")
		case proto.ReliablePing:
			// ignored
		default:
			c.fail(proto.ErrInvalidReceive, "unknown reliable header")
		}
	case proto.StateAuthenticated:
		switch header {
		case proto.ReliableHello:
			c.fail(proto.ErrInvalidReceive, "duplicate hello")
		case proto.ReliableData:
			if len(payload) == 0 {
				c.fail(proto.ErrInvalidReceive, "empty reliable data")
				return
			}
			c.emit(proto.Event{Type: proto.OnData, ConnID: c.id, Channel: proto.ChannelReliable, Data: payload})
		case proto.ReliablePing:
			// ignored
		default:
			c.fail(proto.ErrInvalidReceive, "unknown reliable header")
		}
	}
}

func (c *Connection) onAuthenticated() {
	if c.mode == proto.ModeServer {
		if err := c.SendHello(); err != nil {
			c.logger.Debug().Err(err).Msg("failed to send reply hello")
		}
	}
	c.state = proto.StateAuthenticated
	if c.metrics != nil {
		c.metrics.handshakeCompleted()
	}
	c.emit(proto.Event{Type: proto.OnConnected, ConnID: c.id})
}

// TickOutgoing advances the ARQ sublayer's retransmission timers and
// flushes any segments ready to go out. See SPEC_FULL.md §4.5.
func (c *Connection) TickOutgoing(now time.Time) {
	if c.state != proto.StateConnected && c.state != proto.StateAuthenticated {
		return
	}
	c.engine.Update(uint32(now.Sub(c.clockStart).Milliseconds()))
}

// Disconnect is the idempotent on_disconnected routine of SPEC_FULL.md §4.3:
// best-effort burst of 5 unreliable Disconnect datagrams, then terminal
// state, then exactly one OnDisconnected event.
func (c *Connection) Disconnect() {
	if c.state == proto.StateDisconnected {
		return
	}
	for i := 0; i < 5; i++ {
		c.sendUnreliableHeader(proto.UnreliableDisconnect, nil)
	}
	c.state = proto.StateDisconnected
	if c.metrics != nil {
		c.metrics.disconnected()
	}
	c.emit(proto.Event{Type: proto.OnDisconnected, ConnID: c.id})
}

func (c *Connection) fail(err error, msg string) {
	c.logger.Debug().Err(err).Str("detail", msg).Msg("connection failed")
	c.emit(proto.Event{Type: proto.OnError, ConnID: c.id, Err: fmt.Errorf("%s: %w", msg, err)})
	c.Disconnect()
}

func (c *Connection) emit(ev proto.Event) {
	if c.callback != nil {
		c.callback(c.id, ev)
	}
}
