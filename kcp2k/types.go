// Package kcp2k implements a reliable-plus-unreliable message transport
// over UDP, layering a KCP-style ARQ engine over datagrams to provide
// ordered, reliable messages alongside an unordered, unreliable channel on
// the same socket pair. See SPEC_FULL.md for the full design.
package kcp2k

import "github.com/r2northstar/kcp2k/internal/proto"

// Config holds the static tunables for a [Client] or [Server]. See
// [proto.Config] for field documentation; construct one with
// [DefaultConfig] or by zero-valuing and calling UnmarshalEnv.
type Config = proto.Config

// DefaultConfig returns a Config with this module's documented defaults.
func DefaultConfig() Config {
	return proto.DefaultConfig()
}

// Channel selects between the reliable (ARQ-backed) and unreliable
// messaging paths on a connection.
type Channel = proto.Channel

const (
	ChannelReliable   = proto.ChannelReliable
	ChannelUnreliable = proto.ChannelUnreliable
)

// ConnState is a connection's lifecycle state.
type ConnState = proto.State

const (
	StateConnected     = proto.StateConnected
	StateAuthenticated = proto.StateAuthenticated
	StateDisconnected  = proto.StateDisconnected
)

// EventType discriminates the four callback events a connection can fire.
type EventType = proto.EventType

const (
	OnConnected    = proto.OnConnected
	OnData         = proto.OnData
	OnError        = proto.OnError
	OnDisconnected = proto.OnDisconnected
)

// Event is passed to a [Callback] synchronously from within tick
// processing.
type Event = proto.Event

// Callback receives connection lifecycle and data events for a given
// connection id. It must not block indefinitely: it runs on the goroutine
// driving Tick, and may re-entrantly call [Client.Send] or [Server.Send].
type Callback = proto.Callback
