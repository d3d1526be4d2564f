// Package udpconn wraps a UDP socket for non-blocking, tick-driven use:
// [Endpoint.RecvFrom] never waits for a datagram, returning immediately if
// none is queued. This is the Datagram Endpoint of SPEC_FULL.md §4.1.
package udpconn

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls socket-level behavior. It is a subset of kcp2k.Config.
type Config struct {
	// DualStack selects the "udp" network instead of "udp4" for both Listen
	// and Dial, so a listener accepts IPv4 and IPv6 and a dialer may reach
	// an IPv6 peer.
	DualStack bool

	// RecvBufferSize and SendBufferSize request OS socket buffer sizes, in
	// bytes. Zero leaves the OS default.
	RecvBufferSize int
	SendBufferSize int
}

// MaxDatagramSize is the largest UDP payload this package will read. It
// comfortably exceeds any MTU this layer is configured to emit.
const MaxDatagramSize = 65507

// Endpoint is a non-blocking UDP socket.
type Endpoint struct {
	conn   *net.UDPConn
	logger zerolog.Logger
}

// Listen binds a new Endpoint to addr for server use.
func Listen(logger zerolog.Logger, addr netip.AddrPort, cfg Config) (*Endpoint, error) {
	network := "udp4"
	if cfg.DualStack {
		network = "udp"
	}

	conn, err := net.ListenUDP(network, net.UDPAddrFromAddrPort(addr))
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}
	return newEndpoint(logger, conn, cfg)
}

// Dial connects a new Endpoint to addr for client use, fixing the peer for
// Send/RecvFrom.
func Dial(logger zerolog.Logger, local, remote netip.AddrPort, cfg Config) (*Endpoint, error) {
	network := "udp4"
	if cfg.DualStack {
		network = "udp"
	}

	var laddr *net.UDPAddr
	if local.IsValid() {
		laddr = net.UDPAddrFromAddrPort(local)
	}

	conn, err := net.DialUDP(network, laddr, net.UDPAddrFromAddrPort(remote))
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}
	return newEndpoint(logger, conn, cfg)
}

func newEndpoint(logger zerolog.Logger, conn *net.UDPConn, cfg Config) (*Endpoint, error) {
	e := &Endpoint{conn: conn, logger: logger}

	if cfg.RecvBufferSize > 0 {
		if err := conn.SetReadBuffer(cfg.RecvBufferSize); err != nil {
			logger.Warn().Err(err).Int("requested", cfg.RecvBufferSize).Msg("failed to set recv buffer size")
		}
	}
	if cfg.SendBufferSize > 0 {
		if err := conn.SetWriteBuffer(cfg.SendBufferSize); err != nil {
			logger.Warn().Err(err).Int("requested", cfg.SendBufferSize).Msg("failed to set send buffer size")
		}
	}

	ev := logger.Debug().
		Str("local_addr", conn.LocalAddr().String()).
		Int("recv_buffer_requested", cfg.RecvBufferSize).
		Int("send_buffer_requested", cfg.SendBufferSize)
	if recvActual, sendActual, err := actualBufferSizes(conn); err == nil {
		ev = ev.Int("recv_buffer_actual", recvActual).Int("send_buffer_actual", sendActual)
	} else {
		logger.Debug().Err(err).Msg("could not read back actual socket buffer sizes")
	}
	ev.Msg("udp socket ready")

	return e, nil
}

// pastDeadline is set on every read so ReadFromUDPAddrPort never blocks;
// this is the standard way to emulate a non-blocking read on a net.UDPConn,
// which has no native non-blocking mode exposed through the stdlib net API.
var pastDeadline = time.Unix(1, 0)

// RecvFrom returns at most one queued datagram. ok is false if none was
// available (would-block) or the read failed transiently; err is non-nil
// only for unexpected, non-timeout errors.
func (e *Endpoint) RecvFrom(buf []byte) (addr netip.AddrPort, n int, ok bool, err error) {
	if err := e.conn.SetReadDeadline(pastDeadline); err != nil {
		return netip.AddrPort{}, 0, false, fmt.Errorf("set read deadline: %w", err)
	}

	n, raddr, rerr := e.conn.ReadFromUDPAddrPort(buf)
	if rerr != nil {
		if errors.Is(rerr, os.ErrDeadlineExceeded) {
			return netip.AddrPort{}, 0, false, nil
		}
		return netip.AddrPort{}, 0, false, rerr
	}
	return netip.AddrPortFrom(raddr.Addr().Unmap(), raddr.Port()), n, true, nil
}

// Send writes b to the connected peer (client sockets only).
func (e *Endpoint) Send(b []byte) (int, error) {
	n, err := e.conn.Write(b)
	if err != nil {
		return n, fmt.Errorf("send: %w", err)
	}
	return n, nil
}

// SendTo writes b to addr (server sockets).
func (e *Endpoint) SendTo(b []byte, addr netip.AddrPort) (int, error) {
	n, err := e.conn.WriteToUDPAddrPort(b, addr)
	if err != nil {
		return n, fmt.Errorf("send to %s: %w", addr, err)
	}
	return n, nil
}

// LocalAddr returns the bound local address.
func (e *Endpoint) LocalAddr() netip.AddrPort {
	if e.conn == nil {
		return netip.AddrPort{}
	}
	a, _ := netip.ParseAddrPort(e.conn.LocalAddr().String())
	return a
}

// PeerAddr returns the connected peer address, if any (client sockets).
func (e *Endpoint) PeerAddr() netip.AddrPort {
	if e.conn == nil {
		return netip.AddrPort{}
	}
	ra := e.conn.RemoteAddr()
	if ra == nil {
		return netip.AddrPort{}
	}
	a, _ := netip.ParseAddrPort(ra.String())
	return a
}

// Shutdown closes the socket.
func (e *Endpoint) Shutdown() error {
	return e.conn.Close()
}
