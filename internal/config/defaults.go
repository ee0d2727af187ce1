package config

// DefaultDirName is the per-user directory under $HOME.
const DefaultDirName = ".devconsole"

// DefaultGatewayAddr is the gateway a fresh install talks to.
const DefaultGatewayAddr = "127.0.0.1:7443"

// Transport and session defaults.
const (
	DefaultConnectTimeoutMs     = 10000
	DefaultHeartbeatIntervalMs  = 30000
	DefaultReconnectBaseDelayMs = 1000
	DefaultReconnectMaxDelayMs  = 300000
	DefaultMaxReconnectAttempts = 5
	DefaultQueueCapacity        = 100
	DefaultQueueMaxRetries      = 3
	DefaultOperationRetentionMs = 30000
	DefaultCommandRate          = 10
	DefaultCommandBurst         = 5
)

// Logging defaults.
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)
