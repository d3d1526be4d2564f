package kcp2k

import (
	"io"
	"net/netip"
	"time"

	"github.com/rs/zerolog"

	"github.com/r2northstar/kcp2k/internal/conn"
	"github.com/r2northstar/kcp2k/internal/proto"
	"github.com/r2northstar/kcp2k/internal/udpconn"
)

// Server owns a listening UDP socket and a table of live connections keyed
// by connection id, per SPEC_FULL.md §4.7.
type Server struct {
	cfg     Config
	cb      Callback
	logger  zerolog.Logger
	metrics *conn.Metrics

	ep    *udpconn.Endpoint
	conns map[uint64]*conn.Connection
}

// NewServer binds addr and constructs a Server. cfg is validated
// immediately, matching [NewClient].
func NewServer(addr netip.AddrPort, cfg Config, cb Callback, logger zerolog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ep, err := udpconn.Listen(logger, addr, udpconn.Config{
		DualStack:      cfg.DualMode,
		RecvBufferSize: cfg.RecvBufferSize,
		SendBufferSize: cfg.SendBufferSize,
	})
	if err != nil {
		return nil, err
	}

	var m *conn.Metrics
	if cfg.MetricsEnabled {
		m = conn.NewMetrics()
	}

	return &Server{
		cfg:     cfg,
		cb:      cb,
		logger:  logger,
		metrics: m,
		ep:      ep,
		conns:   make(map[uint64]*conn.Connection),
	}, nil
}

// TickIncoming is the server-side drive loop of SPEC_FULL.md §4.7: reap
// disconnected connections, drain and dispatch all queued datagrams
// (spawning new connections as needed), then run every live connection's
// incoming tick.
func (s *Server) TickIncoming() {
	for id, c := range s.conns {
		if c.State() == proto.StateDisconnected {
			delete(s.conns, id)
		}
	}

	now := time.Now()
	buf := make([]byte, udpconn.MaxDatagramSize)
	for {
		addr, n, ok, err := s.ep.RecvFrom(buf)
		if err != nil {
			s.logger.Debug().Err(err).Msg("recv error")
			break
		}
		if !ok {
			break
		}

		id := proto.HashAddr(addr)
		c, exists := s.conns[id]
		if !exists {
			c = s.newConnection(id, addr)
			s.conns[id] = c
		}
		c.RawInput(now, buf[:n])
	}

	for _, c := range s.conns {
		c.TickIncoming(now)
	}
}

func (s *Server) newConnection(id uint64, addr netip.AddrPort) *conn.Connection {
	cookie := proto.GenerateCookie()
	c := conn.New(id, proto.ModeServer, addr, cookie, &s.cfg, func(b []byte) error {
		_, err := s.ep.SendTo(b, addr)
		return err
	}, s.cb, s.logger, s.metrics)
	if s.metrics != nil {
		s.metrics.connectionOpened()
	}
	return c
}

// TickOutgoing flushes the ARQ sublayer of every live connection.
func (s *Server) TickOutgoing() {
	now := time.Now()
	for _, c := range s.conns {
		c.TickOutgoing(now)
	}
}

// Tick runs TickIncoming followed by TickOutgoing.
func (s *Server) Tick() {
	s.TickIncoming()
	s.TickOutgoing()
}

// Send sends data to connID on the given channel.
func (s *Server) Send(connID uint64, data []byte, channel Channel) error {
	c, ok := s.conns[connID]
	if !ok {
		return ErrConnectionNotFound
	}
	return c.SendData(data, channel)
}

// Disconnect forcibly disconnects connID, if it is live.
func (s *Server) Disconnect(connID uint64) error {
	c, ok := s.conns[connID]
	if !ok {
		return ErrConnectionNotFound
	}
	c.Disconnect()
	return nil
}

// Connections returns the ids of all currently tracked connections,
// including ones not yet Authenticated.
func (s *Server) Connections() []uint64 {
	ids := make([]uint64, 0, len(s.conns))
	for id := range s.conns {
		ids = append(ids, id)
	}
	return ids
}

// Stop disconnects every live connection and closes the listening socket.
func (s *Server) Stop() error {
	for _, c := range s.conns {
		c.Disconnect()
	}
	return s.ep.Shutdown()
}

// Logger returns the zerolog logger this server was constructed with.
func (s *Server) Logger() zerolog.Logger { return s.logger }

// WritePrometheus writes this server's metrics in prometheus text format,
// if metrics were enabled in its Config.
func (s *Server) WritePrometheus(w io.Writer) {
	if s.metrics != nil {
		s.metrics.WritePrometheus(w)
	}
}
