// Package redis wraps go-redis with OpenTelemetry spans and error
// classification. The gateway uses it for the shared rate-window store
// (sorted sets) and the shared cache backend (strings plus tag sets).
package redis

import (
	"fmt"
	"net/url"
	"time"
)

const maxStatementTruncateLen = 100

// Defaults for a gateway deployment. Redis sits on the request path of every
// admitted call, so timeouts are short.
const (
	DefaultHost          = "localhost"
	DefaultPort          = 6379
	DefaultDB            = 0
	DefaultPoolSize      = 50
	DefaultMinIdleConns  = 10
	DefaultMaxRetries    = 1
	DefaultDialTimeout   = 3 * time.Second
	DefaultReadTimeout   = 500 * time.Millisecond
	DefaultWriteTimeout  = 500 * time.Millisecond
	DefaultHealthTimeout = 2 * time.Second
)

// Secret hides the Redis password from logs and serialized configuration.
type Secret string

const redacted = "[REDACTED]"

// String returns a redacted placeholder.
func (s Secret) String() string { return redacted }

// GoString returns a redacted placeholder for %#v.
func (s Secret) GoString() string { return redacted }

// Value returns the actual secret.
func (s Secret) Value() string { return string(s) }

// MarshalText keeps the secret out of JSON and YAML output.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Config holds the Redis connection settings. URI, when set, wins over the
// structured fields. Env tags are relative; the gateway config nests this
// struct under REDIS.
type Config struct {
	// URI is a redis:// or rediss:// connection string.
	URI      string `json:"uri,omitempty" yaml:"uri" env:"URI"`
	Host     string `json:"host,omitempty" yaml:"host" env:"HOST"`
	Port     int    `json:"port,omitempty" yaml:"port" env:"PORT"`
	DB       int    `json:"db" yaml:"db" env:"DB"`
	Password Secret `json:"-" yaml:"password" env:"PASSWORD"`

	PoolSize     int `json:"pool_size,omitempty" yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int `json:"min_idle_conns,omitempty" yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`

	// MaxRetries is the go-redis command retry budget. -1 disables retries.
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries" env:"MAX_RETRIES"`

	DialTimeout  time.Duration `json:"dial_timeout,omitempty" yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `json:"read_timeout,omitempty" yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout,omitempty" yaml:"write_timeout" env:"WRITE_TIMEOUT"`

	TLSEnabled bool `json:"tls_enabled,omitempty" yaml:"tls_enabled" env:"TLS_ENABLED"`
}

// DefaultConfig returns a Config populated with the package defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		DB:           DefaultDB,
		PoolSize:     DefaultPoolSize,
		MinIdleConns: DefaultMinIdleConns,
		MaxRetries:   DefaultMaxRetries,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Validate applies defaults to zero-valued pool and timeout fields and then
// returns the first invalid value found.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return fmt.Errorf("redis: config URI is invalid: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("redis: config URI scheme must be redis:// or rediss://, got %q", u.Scheme)
		}
		return nil
	}

	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("redis: config port must be between 1 and 65535, got %d", c.Port)
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("redis: config pool_size must be >= 1, got %d", c.PoolSize)
	}
	if c.MinIdleConns < 0 {
		return fmt.Errorf("redis: config min_idle_conns must be >= 0, got %d", c.MinIdleConns)
	}
	if c.PoolSize < c.MinIdleConns {
		return fmt.Errorf("redis: config pool_size (%d) must be >= min_idle_conns (%d)", c.PoolSize, c.MinIdleConns)
	}
	if c.DialTimeout < 0 {
		return fmt.Errorf("redis: config dial_timeout must not be negative, got %v", c.DialTimeout)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("redis: config read_timeout must not be negative, got %v", c.ReadTimeout)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("redis: config write_timeout must not be negative, got %v", c.WriteTimeout)
	}

	return nil
}

// applyDefaults sets default values for zero-valued pool and timeout fields.
func (c *Config) applyDefaults() {
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.MinIdleConns == 0 {
		c.MinIdleConns = DefaultMinIdleConns
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementTruncateLen {
		return s
	}
	return string(runes[:maxStatementTruncateLen]) + "..."
}
