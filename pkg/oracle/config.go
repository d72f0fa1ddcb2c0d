package oracle

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Default configuration values.
const (
	// DefaultPollInterval is how often the fulfiller scans for pending
	// randomness requests.
	DefaultPollInterval = 2 * time.Second

	// DefaultKeepaliveTime is the default interval for keepalive pings.
	DefaultKeepaliveTime = 10 * time.Second

	// DefaultKeepaliveTimeout is the default timeout for keepalive responses.
	DefaultKeepaliveTimeout = 5 * time.Second

	// DefaultReconnectMinDelay is the minimum delay before reconnecting.
	DefaultReconnectMinDelay = 1 * time.Second

	// DefaultReconnectMaxDelay is the maximum delay before reconnecting.
	DefaultReconnectMaxDelay = 60 * time.Second

	// DefaultUpdateChannelSize is the default buffer size for the account
	// update channel.
	DefaultUpdateChannelSize = 256

	// DefaultMaxMessageSize is the default maximum gRPC message size (16MB).
	DefaultMaxMessageSize = 16 * 1024 * 1024

	// DefaultPingInterval is the interval between ping messages.
	DefaultPingInterval = 15 * time.Second

	// DefaultHealthCheckInterval is the interval between health checks.
	DefaultHealthCheckInterval = 30 * time.Second

	// DefaultStaleTimeout is how long without updates before the connection
	// is considered stale.
	DefaultStaleTimeout = 60 * time.Second
)

// Configuration errors.
var (
	ErrNoEndpoint    = errors.New("oracle feed endpoint is required")
	ErrInvalidConfig = errors.New("invalid oracle configuration")
)

// FulfillerConfig holds the configuration for the local fulfiller.
type FulfillerConfig struct {
	// PollInterval is how often to scan for pending randomness requests.
	PollInterval time.Duration

	// OnFulfill is called after each successful fulfillment (optional).
	OnFulfill func(result FulfillResult)

	// OnError is called when a fulfillment attempt fails (optional).
	OnError func(err error)
}

// DefaultFulfillerConfig returns a fulfiller configuration with defaults.
func DefaultFulfillerConfig() FulfillerConfig {
	return FulfillerConfig{
		PollInterval: DefaultPollInterval,
	}
}

// FeedConfig holds the configuration for the remote account feed client.
type FeedConfig struct {
	// Endpoint is the gRPC endpoint (e.g., "feed.example.com:443"). Required.
	Endpoint string

	// Token is the authentication token for the gRPC service.
	// Can use environment variable expansion with ${VAR_NAME}.
	Token string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// FromSlot is the starting slot for the subscription.
	// If nil, starts from the current slot.
	FromSlot *uint64

	// Keepalive configuration.
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration

	// Reconnection configuration.
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration
	MaxReconnects     int // 0 = unlimited

	// UpdateChannelSize is the account update channel buffer size.
	UpdateChannelSize int

	// MaxMessageSize is the maximum gRPC message size in bytes.
	MaxMessageSize int

	// PingInterval is the interval between ping messages for keepalive.
	PingInterval time.Duration

	// HealthCheckInterval is how often to check connection health.
	HealthCheckInterval time.Duration

	// StaleTimeout is how long without updates before reconnecting.
	StaleTimeout time.Duration

	// Headers are additional headers to send with gRPC requests.
	Headers map[string]string

	// OnUpdate is called for each account update (optional).
	// Called synchronously - should not block.
	OnUpdate func(*AccountUpdate)

	// OnConnect is called when connection is established (optional).
	OnConnect func()

	// OnDisconnect is called when connection is lost (optional).
	OnDisconnect func(error)

	// OnReconnect is called when reconnection succeeds (optional).
	OnReconnect func(attempt int)
}

// DefaultFeedConfig returns a feed configuration with sensible defaults.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		UseTLS: true,

		KeepaliveTime:    DefaultKeepaliveTime,
		KeepaliveTimeout: DefaultKeepaliveTimeout,

		ReconnectMinDelay: DefaultReconnectMinDelay,
		ReconnectMaxDelay: DefaultReconnectMaxDelay,
		MaxReconnects:     0, // unlimited

		UpdateChannelSize: DefaultUpdateChannelSize,
		MaxMessageSize:    DefaultMaxMessageSize,
		PingInterval:      DefaultPingInterval,

		HealthCheckInterval: DefaultHealthCheckInterval,
		StaleTimeout:        DefaultStaleTimeout,

		Headers: make(map[string]string),
	}
}

// Validate checks if the configuration is valid.
func (c *FeedConfig) Validate() error {
	if c.Endpoint == "" {
		return ErrNoEndpoint
	}
	if c.UpdateChannelSize <= 0 {
		return fmt.Errorf("%w: update channel size must be positive", ErrInvalidConfig)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: max message size must be positive", ErrInvalidConfig)
	}
	if c.KeepaliveTime <= 0 {
		return fmt.Errorf("%w: keepalive time must be positive", ErrInvalidConfig)
	}
	if c.KeepaliveTimeout <= 0 {
		return fmt.Errorf("%w: keepalive timeout must be positive", ErrInvalidConfig)
	}
	if c.ReconnectMinDelay <= 0 {
		return fmt.Errorf("%w: reconnect min delay must be positive", ErrInvalidConfig)
	}
	if c.ReconnectMaxDelay < c.ReconnectMinDelay {
		return fmt.Errorf("%w: reconnect max delay must be >= min delay", ErrInvalidConfig)
	}
	return nil
}

// WithDefaults returns a new config with default values applied for any
// zero values in the original config.
func (c FeedConfig) WithDefaults() FeedConfig {
	defaults := DefaultFeedConfig()

	if c.KeepaliveTime == 0 {
		c.KeepaliveTime = defaults.KeepaliveTime
	}
	if c.KeepaliveTimeout == 0 {
		c.KeepaliveTimeout = defaults.KeepaliveTimeout
	}
	if c.ReconnectMinDelay == 0 {
		c.ReconnectMinDelay = defaults.ReconnectMinDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = defaults.ReconnectMaxDelay
	}
	if c.UpdateChannelSize == 0 {
		c.UpdateChannelSize = defaults.UpdateChannelSize
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	if c.PingInterval == 0 {
		c.PingInterval = defaults.PingInterval
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = defaults.HealthCheckInterval
	}
	if c.StaleTimeout == 0 {
		c.StaleTimeout = defaults.StaleTimeout
	}
	if c.Headers == nil {
		c.Headers = defaults.Headers
	}

	return c
}

// ExpandedToken returns the token with environment variable expansion.
// Supports ${VAR_NAME} syntax.
func (c *FeedConfig) ExpandedToken() string {
	return expandEnvVars(c.Token)
}

// expandEnvVars expands ${VAR} references in a string.
func expandEnvVars(s string) string {
	result := s
	for {
		start := strings.Index(result, "${")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := result[start+2 : end]
		varValue := os.Getenv(varName)
		result = result[:start] + varValue + result[end+1:]
	}
	return result
}
