package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/pseudocoder/console/internal/metrics"
	"github.com/pseudocoder/console/internal/transport"
)

// Defaults for Options.
const (
	DefaultConnectTimeout       = 10 * time.Second
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultReconnectBaseDelay   = time.Second
	DefaultReconnectMaxDelay    = 5 * time.Minute
	DefaultMaxReconnectAttempts = 5

	// DefaultFilePriority is the queue priority of file requests, above
	// ordinary traffic.
	DefaultFilePriority = 10
)

// Options configures a Manager. Zero values select the defaults above.
type Options struct {
	// Dialer opens channels. Required.
	Dialer transport.Dialer

	// URL builds the channel URL for a device session. Required.
	URL func(deviceID, sessionID string) string

	// Signer signs the auth frame. nil sends an unsigned auth frame.
	Signer Signer

	// Logger receives structured logs. nil discards them.
	Logger *zap.Logger

	// Metrics records counters. nil disables metrics.
	Metrics *metrics.Metrics

	ConnectTimeout time.Duration

	// HeartbeatInterval between heartbeat frames. Negative disables them.
	HeartbeatInterval time.Duration

	// ReconnectBaseDelay is the delay before the first retry; each further
	// retry doubles it, capped at ReconnectMaxDelay.
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration

	// MaxReconnectAttempts bounds automatic retries. Negative disables them.
	MaxReconnectAttempts int

	QueueCapacity int

	// QueueMaxRetries is how many failed redeliveries a queued frame
	// survives. Negative allows none: the first failed redelivery drops it.
	QueueMaxRetries int

	OperationRetention time.Duration
	FilePriority       int
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if o.ReconnectMaxDelay <= 0 {
		o.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if o.ReconnectMaxDelay < o.ReconnectBaseDelay {
		o.ReconnectMaxDelay = o.ReconnectBaseDelay
	}
	if o.MaxReconnectAttempts == 0 {
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if o.MaxReconnectAttempts < 0 {
		o.MaxReconnectAttempts = 0
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	if o.QueueMaxRetries == 0 {
		o.QueueMaxRetries = DefaultQueueMaxRetries
	}
	if o.QueueMaxRetries < 0 {
		o.QueueMaxRetries = 0
	}
	if o.OperationRetention <= 0 {
		o.OperationRetention = DefaultOperationRetention
	}
	if o.FilePriority == 0 {
		o.FilePriority = DefaultFilePriority
	}
	return o
}
