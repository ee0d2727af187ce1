// Package transport provides the full-duplex channel the session layer
// runs on. The production implementation is a gorilla/websocket client;
// tests substitute their own Dialer.
package transport

import (
	"context"
)

// Close codes used by the session layer. They match RFC 6455.
const (
	// CloseNormal marks an intentional close. It never triggers reconnection.
	CloseNormal = 1000

	// CloseGoingAway is sent by a peer that is shutting down.
	CloseGoingAway = 1001

	// CloseAbnormal is reported when the connection dropped without a close frame.
	CloseAbnormal = 1006
)

// Handler receives events from a Channel. All calls for one channel come
// from a single goroutine, in the order the transport produced them.
type Handler interface {
	// HandleFrame is called for every text or binary message received.
	HandleFrame(data []byte)

	// HandleClose is called exactly once when the channel stops reading.
	// err is nil for a clean close with CloseNormal.
	HandleClose(code int, err error)
}

// Channel is one open full-duplex connection.
type Channel interface {
	// Run starts delivering events to h. It must be called once.
	Run(h Handler)

	// Send writes one message. Safe for concurrent use.
	Send(data []byte) error

	// Close sends a close frame with code and releases the connection.
	// Safe to call more than once.
	Close(code int, reason string) error
}

// Dialer opens channels.
type Dialer interface {
	// Dial opens a channel to url. It must honour ctx cancellation so a
	// connect timeout can abandon the attempt.
	Dial(ctx context.Context, url string) (Channel, error)
}
