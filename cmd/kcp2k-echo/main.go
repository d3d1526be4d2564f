// Command kcp2k-echo runs either a reliable+unreliable echo server or a
// client that sends a few messages to one, depending on the mode flag. It
// exists as a manual smoke test and a usage example for the kcp2k package.
package main

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-envparse"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/r2northstar/kcp2k/kcp2k"
)

var opt struct {
	Help   bool
	Mode   string
	Listen string
	Dial   string
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
	pflag.StringVarP(&opt.Mode, "mode", "m", "server", `Mode: "server" or "client"`)
	pflag.StringVarP(&opt.Listen, "listen", "l", "127.0.0.1:7777", "Address to listen on (server mode)")
	pflag.StringVarP(&opt.Dial, "dial", "d", "127.0.0.1:7777", "Address to dial (client mode)")
}

func main() {
	pflag.Parse()

	if pflag.NArg() > 1 || opt.Help {
		fmt.Printf("usage: %s [options] [env_file]\n\noptions:\n%s\nnote: if env_file is provided, config from the environment is ignored\n", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(0)
	}

	var e []string
	if pflag.NArg() == 0 {
		e = os.Environ()
	} else {
		x, err := readEnv(pflag.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: read env file: %v\n", err)
			os.Exit(1)
		}
		e = x
	}

	var cfg kcp2k.Config
	if err := cfg.UnmarshalEnv(e); err != nil {
		fmt.Fprintf(os.Stderr, "error: parse config: %v\n", err)
		os.Exit(1)
	}

	logger := zerolog.New(newLogWriter(cfg.LogStdoutPretty)).Level(cfg.LogLevel).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch opt.Mode {
	case "server":
		err = runServer(ctx, logger, cfg)
	case "client":
		err = runClient(ctx, logger, cfg)
	default:
		fmt.Fprintf(os.Stderr, "error: unknown mode %q\n", opt.Mode)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newLogWriter(pretty bool) io.Writer {
	if !pretty {
		return os.Stderr
	}
	w := zerolog.NewConsoleWriter()
	w.Out = os.Stderr
	return w
}

func runServer(ctx context.Context, logger zerolog.Logger, cfg kcp2k.Config) error {
	addr, err := netip.ParseAddrPort(opt.Listen)
	if err != nil {
		return fmt.Errorf("parse listen addr: %w", err)
	}

	var s *kcp2k.Server
	cb := func(connID uint64, ev kcp2k.Event) {
		switch ev.Type {
		case kcp2k.OnConnected:
			logger.Info().Uint64("conn_id", connID).Msg("client connected")
		case kcp2k.OnData:
			logger.Debug().Uint64("conn_id", connID).Int("len", len(ev.Data)).Msg("echoing data")
			if err := s.Send(connID, ev.Data, ev.Channel); err != nil {
				logger.Debug().Uint64("conn_id", connID).Err(err).Msg("echo send failed")
			}
		case kcp2k.OnError:
			logger.Warn().Uint64("conn_id", connID).Err(ev.Err).Msg("connection error")
		case kcp2k.OnDisconnected:
			logger.Info().Uint64("conn_id", connID).Msg("client disconnected")
		}
	}

	s, err = kcp2k.NewServer(addr, cfg, cb, logger)
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	s.Logger().Info().Str("addr", opt.Listen).Msg("listening")

	return runLoop(ctx, s.Tick, func() error { return s.Stop() })
}

func runClient(ctx context.Context, logger zerolog.Logger, cfg kcp2k.Config) error {
	done := make(chan struct{})
	var n int
	cb := func(connID uint64, ev kcp2k.Event) {
		switch ev.Type {
		case kcp2k.OnConnected:
			logger.Info().Msg("connected")
		case kcp2k.OnData:
			n++
			logger.Info().Int("len", len(ev.Data)).Int("count", n).Msg("received echo")
			if n >= 5 {
				close(done)
			}
		case kcp2k.OnError:
			logger.Warn().Err(ev.Err).Msg("connection error")
		case kcp2k.OnDisconnected:
			logger.Info().Msg("disconnected")
		}
	}

	c, err := kcp2k.NewClient(cfg, cb, logger)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	if err := c.Connect(opt.Dial); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	sendTicker := time.NewTicker(500 * time.Millisecond)
	defer sendTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return c.Stop()
		case <-done:
			return c.Stop()
		case <-sendTicker.C:
			if err := c.Send([]byte("hello from kcp2k-echo"), kcp2k.ChannelReliable); err != nil {
				logger.Debug().Err(err).Msg("send failed")
			}
		case <-ticker.C:
			c.Tick()
		}
	}
}

func runLoop(ctx context.Context, tick func(), stop func() error) error {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return stop()
		case <-t.C:
			tick()
		}
	}
}

func readEnv(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := envparse.Parse(f)
	if err != nil {
		return nil, err
	}

	var r []string
	for k, v := range m {
		r = append(r, k+"="+v)
	}
	return r, nil
}
