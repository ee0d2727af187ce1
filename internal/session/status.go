// Package session implements the client side of remote device sessions:
// a registry of per-session channels with automatic reconnection,
// heartbeats, an outbound priority queue, an inbound frame router and a
// file operation tracker.
//
// One Manager owns every channel of a console. Each channel is identified
// by a Key built from the device and session ids. Consumers observe a key
// by registering listeners; the console package wraps all of this in a
// per-session facade.
package session

import (
	"strings"
	"time"
)

// Key identifies one logical channel: "deviceId:sessionId".
type Key string

// NewKey builds the key for a device/session pair.
func NewKey(deviceID, sessionID string) Key {
	return Key(deviceID + ":" + sessionID)
}

// Split returns the device and session ids of k.
func (k Key) Split() (deviceID, sessionID string) {
	deviceID, sessionID, _ = strings.Cut(string(k), ":")
	return deviceID, sessionID
}

// Status is the connection state of one key.
//
//	disconnected -> connecting -> connected
//	connected -> disconnected (explicit or clean remote close)
//	connected -> error -> connecting (retry) -> connected
//	error (retries exhausted) -> disconnected (explicit)
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// ConnectionStatus is a snapshot of one key's state.
type ConnectionStatus struct {
	Status Status

	// LastConnectedAt is updated when the channel opens and whenever a
	// heartbeat echo arrives. Zero if never connected.
	LastConnectedAt time.Time

	// ReconnectAttempts counts retries since the last successful open.
	ReconnectAttempts int

	// Error describes the last failure while Status is StatusError.
	Error string

	// Exhausted is set once automatic reconnection gave up. Only an
	// explicit Connect clears it.
	Exhausted bool
}

// IsConnected reports whether the channel is open.
func (s ConnectionStatus) IsConnected() bool { return s.Status == StatusConnected }
