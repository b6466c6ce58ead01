package minio

import (
	"errors"
	"time"
)

// Spans record at most this many runes of an object name.
const maxStatementTruncateLen = 100

const (
	// DefaultRegion is the S3 region used when none is configured.
	DefaultRegion = "us-east-1"

	// DefaultHealthTimeout bounds a health check when the caller's context
	// has no deadline.
	DefaultHealthTimeout = 5 * time.Second

	// defaultHealthBucket is checked when HealthBucket is empty. It need not
	// exist; a successful BucketExists call proves reachability.
	defaultHealthBucket = "gateway-health-check"
)

// Secret hides a secret key from logs and serialized configuration.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string { return redacted }

// GoString keeps %#v from printing the key.
func (s Secret) GoString() string { return redacted }

// Value returns the key itself.
func (s Secret) Value() string { return string(s) }

// MarshalText implements encoding.TextMarshaler with a placeholder.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Config holds the object storage connection settings. With the gateway's
// GATEWAY prefix, Endpoint is read from GATEWAY_MINIO_ENDPOINT.
type Config struct {
	// Endpoint is host:port without a scheme.
	Endpoint  string `json:"endpoint,omitempty" yaml:"endpoint" env:"ENDPOINT"`
	AccessKey string `json:"access_key,omitempty" yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey Secret `json:"-" yaml:"secret_key" env:"SECRET_KEY"`
	Region    string `json:"region,omitempty" yaml:"region" env:"REGION" envDefault:"us-east-1"`
	UseSSL    bool   `json:"use_ssl,omitempty" yaml:"use_ssl" env:"USE_SSL"`

	// HealthBucket is checked by [Client.Health].
	HealthBucket string `json:"health_bucket,omitempty" yaml:"health_bucket" env:"HEALTH_BUCKET"`
}

// Validate applies defaults and returns the first problem found.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("minio: config endpoint must not be empty")
	}
	if c.AccessKey == "" {
		return errors.New("minio: config access_key must not be empty")
	}
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	return nil
}

func (c *Config) healthBucket() string {
	if c.HealthBucket == "" {
		return defaultHealthBucket
	}
	return c.HealthBucket
}

func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementTruncateLen {
		return s
	}
	return string(runes[:maxStatementTruncateLen]) + "..."
}
