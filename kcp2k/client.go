package kcp2k

import (
	"fmt"
	"io"
	"net"
	"net/netip"
	"time"

	"github.com/rs/zerolog"

	"github.com/r2northstar/kcp2k/internal/conn"
	"github.com/r2northstar/kcp2k/internal/proto"
	"github.com/r2northstar/kcp2k/internal/udpconn"
)

// Client owns a UDP socket and at most one [Connection]; it drives tick
// processing for that one connection. See SPEC_FULL.md §4.6.
type Client struct {
	cfg     Config
	cb      Callback
	logger  zerolog.Logger
	metrics *conn.Metrics

	ep *udpconn.Endpoint
	c  *conn.Connection
}

// NewClient constructs a Client. cfg is validated immediately; a bad config
// is treated as unrecoverable at construction time, per SPEC_FULL.md §7.
func NewClient(cfg Config, cb Callback, logger zerolog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	var m *conn.Metrics
	if cfg.MetricsEnabled {
		m = conn.NewMetrics()
	}
	return &Client{cfg: cfg, cb: cb, logger: logger, metrics: m}, nil
}

// Connect resolves hostport and establishes the client's single
// Connection, immediately sending the reliable Hello that starts the
// handshake (SPEC_FULL.md §4.3).
func (cl *Client) Connect(hostport string) error {
	uaddr, err := net.ResolveUDPAddr("udp", hostport)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDNSResolve, err)
	}
	addr, ok := netip.AddrFromSlice(uaddr.IP)
	if !ok {
		return fmt.Errorf("%w: invalid resolved address", ErrDNSResolve)
	}
	remote := netip.AddrPortFrom(addr.Unmap(), uint16(uaddr.Port))

	ep, err := udpconn.Dial(cl.logger, netip.AddrPort{}, remote, udpconn.Config{
		DualStack:      cl.cfg.DualMode,
		RecvBufferSize: cl.cfg.RecvBufferSize,
		SendBufferSize: cl.cfg.SendBufferSize,
	})
	if err != nil {
		return err
	}
	cl.ep = ep

	id := proto.HashAddr(ep.LocalAddr())
	c := conn.New(id, proto.ModeClient, remote, 0, &cl.cfg, func(b []byte) error {
		_, err := ep.Send(b)
		return err
	}, cl.cb, cl.logger, cl.metrics)
	cl.c = c
	if cl.metrics != nil {
		cl.metrics.connectionOpened()
	}

	return c.SendHello()
}

// TickIncoming drains all queued datagrams, feeding the one active
// connection, then runs its liveness/handshake/data-delivery checks.
func (cl *Client) TickIncoming() {
	if cl.c != nil && cl.c.State() == proto.StateDisconnected {
		cl.c = nil
	}
	if cl.ep == nil {
		return
	}

	now := time.Now()
	buf := make([]byte, udpconn.MaxDatagramSize)
	for {
		_, n, ok, err := cl.ep.RecvFrom(buf)
		if err != nil {
			cl.logger.Debug().Err(err).Msg("recv error")
			break
		}
		if !ok {
			break
		}
		if cl.c != nil {
			cl.c.RawInput(now, buf[:n])
		} else {
			cl.logger.Debug().Msg("dropped datagram: no active connection")
		}
	}

	if cl.c != nil {
		cl.c.TickIncoming(now)
	}
}

// TickOutgoing flushes the connection's ARQ sublayer.
func (cl *Client) TickOutgoing() {
	if cl.c != nil {
		cl.c.TickOutgoing(time.Now())
	}
}

// Tick runs TickIncoming followed by TickOutgoing.
func (cl *Client) Tick() {
	cl.TickIncoming()
	cl.TickOutgoing()
}

// Send sends data on the given channel over the active connection.
func (cl *Client) Send(data []byte, channel Channel) error {
	if cl.c == nil {
		return ErrConnectionClosed
	}
	return cl.c.SendData(data, channel)
}

// Stop disconnects (if connected) and shuts down the socket.
func (cl *Client) Stop() error {
	if cl.c != nil {
		cl.c.Disconnect()
	}
	if cl.ep != nil {
		return cl.ep.Shutdown()
	}
	return nil
}

// Logger returns the zerolog logger this client was constructed with.
func (cl *Client) Logger() zerolog.Logger { return cl.logger }

// WritePrometheus writes this client's metrics in prometheus text format,
// if metrics were enabled in its Config.
func (cl *Client) WritePrometheus(w io.Writer) {
	if cl.metrics != nil {
		cl.metrics.WritePrometheus(w)
	}
}
