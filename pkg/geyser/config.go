package geyser

import (
	"time"

	"github.com/pkg/errors"
)

// Default configuration values.
const (
	// DefaultBufferSize is the number of events queued per subscriber
	// before it is dropped.
	DefaultBufferSize = 1024

	// DefaultMaxSubscribers bounds concurrent subscriptions.
	DefaultMaxSubscribers = 64

	// DefaultKeepaliveTime is the default interval for keepalive pings.
	DefaultKeepaliveTime = 10 * time.Second

	// DefaultKeepaliveTimeout is the default timeout for keepalive responses.
	DefaultKeepaliveTimeout = 5 * time.Second

	// DefaultMaxMessageSize is the default maximum gRPC message size.
	DefaultMaxMessageSize = 16 * 1024 * 1024
)

// Configuration errors.
var (
	ErrNoEndpoint    = errors.New("geyser endpoint is required")
	ErrInvalidConfig = errors.New("invalid geyser configuration")
)

// ServerConfig configures the event stream server.
type ServerConfig struct {
	// Addr is the listen address, e.g. "127.0.0.1:8900".
	Addr string

	// Token, when set, must be presented by clients in the x-token header.
	Token string

	BufferSize     int
	MaxSubscribers int

	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultServerConfig returns a server configuration with defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:             "127.0.0.1:8900",
		BufferSize:       DefaultBufferSize,
		MaxSubscribers:   DefaultMaxSubscribers,
		KeepaliveTime:    DefaultKeepaliveTime,
		KeepaliveTimeout: DefaultKeepaliveTimeout,
	}
}

// WithDefaults fills zero fields.
func (c ServerConfig) WithDefaults() ServerConfig {
	d := DefaultServerConfig()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.BufferSize == 0 {
		c.BufferSize = d.BufferSize
	}
	if c.MaxSubscribers == 0 {
		c.MaxSubscribers = d.MaxSubscribers
	}
	if c.KeepaliveTime == 0 {
		c.KeepaliveTime = d.KeepaliveTime
	}
	if c.KeepaliveTimeout == 0 {
		c.KeepaliveTimeout = d.KeepaliveTimeout
	}
	return c
}

// Validate checks if the configuration is valid.
func (c *ServerConfig) Validate() error {
	if c.BufferSize < 0 {
		return errors.Wrap(ErrInvalidConfig, "buffer size must not be negative")
	}
	if c.MaxSubscribers < 0 {
		return errors.Wrap(ErrInvalidConfig, "max subscribers must not be negative")
	}
	return nil
}

// ClientConfig configures a stream client.
type ClientConfig struct {
	// Endpoint is the gRPC target, e.g. "localhost:8900". Required.
	Endpoint string

	// Token is sent in the x-token header.
	Token string

	// UseTLS enables TLS for the connection.
	UseTLS bool

	// BufferSize is the capacity of the channel returned by Subscribe.
	BufferSize int

	MaxMessageSize   int
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultClientConfig returns a client configuration with defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BufferSize:       DefaultBufferSize,
		MaxMessageSize:   DefaultMaxMessageSize,
		KeepaliveTime:    DefaultKeepaliveTime,
		KeepaliveTimeout: DefaultKeepaliveTimeout,
	}
}

// WithDefaults fills zero fields.
func (c ClientConfig) WithDefaults() ClientConfig {
	d := DefaultClientConfig()
	if c.BufferSize == 0 {
		c.BufferSize = d.BufferSize
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.KeepaliveTime == 0 {
		c.KeepaliveTime = d.KeepaliveTime
	}
	if c.KeepaliveTimeout == 0 {
		c.KeepaliveTimeout = d.KeepaliveTimeout
	}
	return c
}

// Validate checks if the configuration is valid.
func (c *ClientConfig) Validate() error {
	if c.Endpoint == "" {
		return ErrNoEndpoint
	}
	if c.BufferSize <= 0 {
		return errors.Wrap(ErrInvalidConfig, "buffer size must be positive")
	}
	if c.MaxMessageSize <= 0 {
		return errors.Wrap(ErrInvalidConfig, "max message size must be positive")
	}
	return nil
}
