package api

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/0xmhha/explorer-indexer/internal/constants"
)

// Config holds API server configuration. Zero timeouts are rejected by
// Validate; DefaultConfig fills every field.
type Config struct {
	// Listen address
	Host string
	Port int

	// net/http server limits
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	ShutdownTimeout time.Duration

	// CORS headers are added for requests whose Origin matches AllowedOrigins;
	// "*" matches any origin
	EnableCORS     bool
	AllowedOrigins []string

	// GraphQL is served on POST GraphQLPath, the Playground on GET when enabled
	EnableGraphQL    bool
	GraphQLPath      string
	EnablePlayground bool

	// Version is reported by /version
	Version string

	// Per-client token bucket
	EnableRateLimit    bool
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// DefaultConfig returns a default API server configuration
func DefaultConfig() *Config {
	return &Config{
		Host:               constants.DefaultAPIHost,
		Port:               constants.DefaultAPIPort,
		ReadTimeout:        constants.DefaultReadTimeout,
		WriteTimeout:       constants.DefaultWriteTimeout,
		IdleTimeout:        constants.DefaultIdleTimeout,
		MaxHeaderBytes:     constants.DefaultMaxHeaderBytes,
		EnableCORS:         true,
		AllowedOrigins:     []string{"*"},
		EnableGraphQL:      true,
		GraphQLPath:        constants.DefaultGraphQLPath,
		Version:            "dev",
		ShutdownTimeout:    constants.DefaultShutdownTimeout,
		RateLimitPerSecond: constants.DefaultRateLimitPerSecond,
		RateLimitBurst:     constants.DefaultRateLimitBurst,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < constants.MinPort || c.Port > constants.MaxPort {
		return fmt.Errorf("port must be between %d and %d", constants.MinPort, constants.MaxPort)
	}
	for name, d := range map[string]time.Duration{
		"read":     c.ReadTimeout,
		"write":    c.WriteTimeout,
		"idle":     c.IdleTimeout,
		"shutdown": c.ShutdownTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s timeout must be positive", name)
		}
	}
	if c.MaxHeaderBytes <= 0 {
		return errors.New("max header bytes must be positive")
	}
	if c.EnableGraphQL && c.GraphQLPath == "" {
		return errors.New("graphql path cannot be empty")
	}
	if c.EnableRateLimit && c.RateLimitPerSecond <= 0 {
		return errors.New("rate limit must be positive")
	}
	return nil
}

// Address returns the server address in host:port format
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
