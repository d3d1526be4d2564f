package proto

import (
	"fmt"
	"net/netip"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// MetadataSizeReliable is the per-datagram overhead the reliable path adds
// on top of whatever the ARQ sublayer emits: 1 byte channel + 4 bytes
// cookie.
const MetadataSizeReliable = 1 + 4

// PingInterval is how often a connection sends a keep-alive ping while
// Connected or Authenticated.
const PingInterval = 2 * time.Second

// Config holds the static tunables for a Client or Server, immutable once
// constructed. The env tag on each field is its KCP2K_-prefixed environment
// variable name and default, following the convention of the teacher
// config loader this was adapted from.
type Config struct {
	// DualMode uses an IPv4+IPv6 socket instead of an IPv4-only one: a
	// server listens on both, a client may dial an IPv6 peer.
	DualMode bool `env:"KCP2K_DUAL_MODE"`

	RecvBufferSize int `env:"KCP2K_RECV_BUFFER_SIZE=1048576"`
	SendBufferSize int `env:"KCP2K_SEND_BUFFER_SIZE=1048576"`

	// MTU is the maximum UDP payload this layer will emit, including the
	// reliable-path channel+cookie overhead.
	MTU int `env:"KCP2K_MTU=1200"`

	NoDelay           bool `env:"KCP2K_NO_DELAY=true"`
	Interval          int  `env:"KCP2K_INTERVAL=10"`
	FastResend        int  `env:"KCP2K_FAST_RESEND=2"`
	CongestionWindow  bool `env:"KCP2K_CONGESTION_WINDOW=false"`
	SendWindowSize    int  `env:"KCP2K_SEND_WINDOW_SIZE=4096"`
	ReceiveWindowSize int  `env:"KCP2K_RECEIVE_WINDOW_SIZE=4096"`

	// MaxRetransmits is the dead-link threshold: the number of stuck ARQ
	// update rounds an outstanding segment may endure before the connection
	// is considered dead.
	MaxRetransmits uint32 `env:"KCP2K_MAX_RETRANSMITS=40"`

	// Timeout is the inactivity limit, after which a connection is
	// considered timed out if no datagram has been accepted from the peer.
	Timeout time.Duration `env:"KCP2K_TIMEOUT=10s"`

	// IsReliablePing sends keep-alive pings on the reliable channel instead
	// of the unreliable one.
	IsReliablePing bool `env:"KCP2K_RELIABLE_PING=false"`

	// Ambient / observability knobs. These never gate protocol semantics.
	LogLevel        zerolog.Level `env:"KCP2K_LOG_LEVEL=info"`
	LogStdoutPretty bool          `env:"KCP2K_LOG_STDOUT_PRETTY=true"`
	MetricsEnabled  bool          `env:"KCP2K_METRICS_ENABLED=true"`
}

// DefaultConfig returns a Config with the same defaults UnmarshalEnv would
// apply to an empty environment.
func DefaultConfig() Config {
	var c Config
	if err := c.UnmarshalEnv(nil); err != nil {
		panic(fmt.Sprintf("kcp2k: default config failed to parse its own defaults: %v", err))
	}
	return c
}

// Validate checks invariants UnmarshalEnv and manual construction can both
// violate: in particular that MTU leaves room for the reliable-path
// overhead (SPEC_FULL.md §3).
func (c *Config) Validate() error {
	if c.MTU <= MetadataSizeReliable {
		return fmt.Errorf("mtu %d must exceed reliable metadata overhead (%d bytes)", c.MTU, MetadataSizeReliable)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// UnmarshalEnv parses es (a list of "KEY=VALUE" strings, e.g. os.Environ())
// into c, applying each field's env tag default for any variable not
// present.
func (c *Config) UnmarshalEnv(es []string) error {
	em := map[string]string{}
	for _, e := range es {
		if strings.HasPrefix(e, "KCP2K_") {
			if k, v, ok := strings.Cut(e, "="); ok {
				em[k] = v
			}
		}
	}

	cv := reflect.ValueOf(c).Elem()
	for _, ctf := range reflect.VisibleFields(cv.Type()) {
		env, ok := ctf.Tag.Lookup("env")
		if !ok {
			continue
		}

		key, val, _ := strings.Cut(env, "=")
		if v, exists := em[key]; exists {
			val = v
			delete(em, key)
		}

		cvf := cv.FieldByName(ctf.Name)
		switch cvf.Interface().(type) {
		case string:
			cvf.SetString(val)
		case int, int8, int16, int32, int64:
			if val == "" {
				cvf.SetInt(0)
			} else if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				cvf.SetInt(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case uint32, uint64:
			if val == "" {
				cvf.SetUint(0)
			} else if v, err := strconv.ParseUint(val, 10, 64); err == nil {
				cvf.SetUint(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case bool:
			if val == "" {
				cvf.SetBool(false)
			} else if v, err := strconv.ParseBool(val); err == nil {
				cvf.SetBool(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case time.Duration:
			if v, err := time.ParseDuration(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case zerolog.Level:
			if v, err := zerolog.ParseLevel(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case netip.AddrPort:
			if val == "" {
				cvf.Set(reflect.ValueOf(netip.AddrPort{}))
			} else if v, err := netip.ParseAddrPort(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		default:
			return fmt.Errorf("unhandled config field type %T (%s)", cvf.Interface(), env)
		}
	}
	for key, val := range em {
		if val != "" {
			return fmt.Errorf("unknown environment variable %q", key)
		}
	}
	return nil
}
