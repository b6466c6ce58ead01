// Package postgres wraps a pgx connection pool with OpenTelemetry spans,
// per-statement timeouts and error classification. The credential store and
// the stored-procedure executor both sit on top of it.
package postgres

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"
)

const maxSQLTruncateLen = 100

// Defaults for a gateway pool. Lookups on the hot path are short, so the pool
// favours many connections and a tight statement timeout.
const (
	DefaultHost     = "localhost"
	DefaultPort     = 5432
	DefaultDatabase = "gateway"
	DefaultUser     = "gateway"

	DefaultMaxConns int32 = 32
	DefaultMinConns int32 = 4

	DefaultMaxConnLifetime   = time.Hour
	DefaultMaxConnIdleTime   = 15 * time.Minute
	DefaultHealthCheckPeriod = time.Minute
	DefaultConnectTimeout    = 5 * time.Second
	DefaultStatementTimeout  = 3 * time.Second
	DefaultHealthTimeout     = 2 * time.Second
)

// SSLMode is a libpq sslmode value.
type SSLMode string

const (
	SSLModeDisable    SSLMode = "disable"
	SSLModePrefer     SSLMode = "prefer"
	SSLModeRequire    SSLMode = "require"
	SSLModeVerifyCA   SSLMode = "verify-ca"
	SSLModeVerifyFull SSLMode = "verify-full"
)

// Valid reports whether the mode is recognized.
func (m SSLMode) Valid() bool {
	switch m {
	case SSLModeDisable, SSLModePrefer, SSLModeRequire, SSLModeVerifyCA, SSLModeVerifyFull:
		return true
	default:
		return false
	}
}

// Secret hides a password from logs and serialized configuration.
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

// Config holds the connection settings. URI, when set, wins over the
// structured fields. Env tags are relative; the gateway config nests this
// struct under POSTGRES.
type Config struct {
	URI      string  `json:"uri,omitempty" yaml:"uri" env:"URI"`
	Host     string  `json:"host,omitempty" yaml:"host" env:"HOST"`
	Port     int     `json:"port,omitempty" yaml:"port" env:"PORT"`
	Database string  `json:"database" yaml:"database" env:"DATABASE"`
	User     string  `json:"user" yaml:"user" env:"USER"`
	Password Secret  `json:"-" yaml:"password" env:"PASSWORD"`
	SSLMode  SSLMode `json:"ssl_mode,omitempty" yaml:"ssl_mode" env:"SSLMODE"`

	// SSLRootCert is a CA bundle path used for verify-ca and verify-full.
	SSLRootCert string `json:"ssl_root_cert,omitempty" yaml:"ssl_root_cert" env:"SSL_ROOT_CERT"`

	MaxConns          int32         `json:"max_conns,omitempty" yaml:"max_conns" env:"MAX_CONNS"`
	MinConns          int32         `json:"min_conns,omitempty" yaml:"min_conns" env:"MIN_CONNS"`
	MaxConnLifetime   time.Duration `json:"max_conn_lifetime,omitempty" yaml:"max_conn_lifetime" env:"MAX_CONN_LIFETIME"`
	MaxConnIdleTime   time.Duration `json:"max_conn_idle_time,omitempty" yaml:"max_conn_idle_time" env:"MAX_CONN_IDLE_TIME"`
	HealthCheckPeriod time.Duration `json:"health_check_period,omitempty" yaml:"health_check_period" env:"HEALTH_CHECK_PERIOD"`
	ConnectTimeout    time.Duration `json:"connect_timeout,omitempty" yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`

	// StatementTimeout bounds every Query/QueryRow/Exec issued through the
	// client when the caller's context has no earlier deadline.
	StatementTimeout time.Duration `json:"statement_timeout,omitempty" yaml:"statement_timeout" env:"STATEMENT_TIMEOUT"`
}

// DefaultConfig returns a Config populated with the package defaults.
func DefaultConfig() *Config {
	c := &Config{
		Host:     DefaultHost,
		Port:     DefaultPort,
		Database: DefaultDatabase,
		User:     DefaultUser,
		SSLMode:  SSLModePrefer,
	}
	c.applyPoolDefaults()
	return c
}

// Validate applies defaults to zero-valued pool settings and checks the
// rest. It returns the first problem found.
func (c *Config) Validate() error {
	c.applyPoolDefaults()

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return fmt.Errorf("postgres: config URI is invalid: %w", err)
		}
		if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			return fmt.Errorf("postgres: config URI scheme must be postgres://, got %q", u.Scheme)
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
		return fmt.Errorf("postgres: config port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Database == "" {
		return errors.New("postgres: config database must not be empty")
	}
	if c.User == "" {
		return errors.New("postgres: config user must not be empty")
	}
	if c.SSLMode == "" {
		c.SSLMode = SSLModePrefer
	}
	if !c.SSLMode.Valid() {
		return fmt.Errorf("postgres: config ssl_mode %q is not valid", c.SSLMode)
	}
	if c.MaxConns < c.MinConns {
		return fmt.Errorf("postgres: config max_conns (%d) must be >= min_conns (%d)", c.MaxConns, c.MinConns)
	}
	if c.StatementTimeout < 0 {
		return fmt.Errorf("postgres: config statement_timeout must not be negative, got %v", c.StatementTimeout)
	}
	return nil
}

func (c *Config) applyPoolDefaults() {
	if c.MaxConns == 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.MinConns == 0 {
		c.MinConns = DefaultMinConns
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = DefaultMaxConnLifetime
	}
	if c.MaxConnIdleTime == 0 {
		c.MaxConnIdleTime = DefaultMaxConnIdleTime
	}
	if c.HealthCheckPeriod == 0 {
		c.HealthCheckPeriod = DefaultHealthCheckPeriod
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.StatementTimeout == 0 {
		c.StatementTimeout = DefaultStatementTimeout
	}
}

// ConnectionString renders the libpq URL for the config.
func (c *Config) ConnectionString() string {
	if c.URI != "" {
		return c.URI
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password.Value()),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.Database,
	}
	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", string(c.SSLMode))
	}
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	q.Set("application_name", "stricklysoft-gateway")
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Config) tlsConfig() (*tls.Config, error) {
	if c.SSLRootCert == "" || c.SSLMode == SSLModeDisable {
		return nil, nil
	}
	caCert, err := os.ReadFile(c.SSLRootCert)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to read CA certificate %q: %w", c.SSLRootCert, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("postgres: no certificates found in %q", c.SSLRootCert)
	}
	return &tls.Config{RootCAs: pool, ServerName: c.Host, MinVersion: tls.VersionTLS12}, nil
}

func truncateSQL(sql string) string {
	runes := []rune(sql)
	if len(runes) <= maxSQLTruncateLen {
		return sql
	}
	return string(runes[:maxSQLTruncateLen]) + "..."
}
