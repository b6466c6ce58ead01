package gateway

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/StricklySoft/stricklysoft-gateway/pkg/audit"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/auth"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/clients/minio"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/clients/postgres"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/clients/redis"
	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/ratelimit"
)

// Backend kinds for caches and rate windows.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is the complete gateway configuration. Load it with
//
//	config.New().WithEnvPrefix("GATEWAY").WithFile(path)
//
// so that, for example, GATEWAY_POSTGRES_HOST sets Postgres.Host.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server" env:"SERVER"`
	Postgres  postgres.Config `json:"postgres" yaml:"postgres" env:"POSTGRES"`
	Redis     redis.Config    `json:"redis" yaml:"redis" env:"REDIS"`
	Auth      auth.Config     `json:"auth" yaml:"auth" env:"AUTH"`
	Cache     CacheConfig     `json:"cache" yaml:"cache" env:"CACHE"`
	RateLimit RateLimitConfig `json:"ratelimit" yaml:"ratelimit" env:"RATELIMIT"`
	Executor  ExecutorConfig  `json:"executor" yaml:"executor" env:"EXECUTOR"`
	Audit     audit.Config    `json:"audit" yaml:"audit" env:"AUDIT"`

	// MinIO is only read when the audit sink is archive.
	MinIO minio.Config `json:"minio" yaml:"minio" env:"MINIO"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `json:"addr" yaml:"addr" env:"ADDR" envDefault:":8080"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" env:"WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// MaxBodyBytes bounds a function call's JSON body.
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes" env:"MAX_BODY_BYTES" envDefault:"1048576"`

	// AdminToken guards the /admin routes. Empty disables them.
	AdminToken auth.Secret `json:"-" yaml:"admin_token" env:"ADMIN_TOKEN"`

	// TrustProxyHeaders takes the client address from X-Forwarded-For or
	// X-Real-IP. Enable it only behind a proxy that sets them.
	TrustProxyHeaders bool `json:"trust_proxy_headers" yaml:"trust_proxy_headers" env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	// CORSOrigins lists browser origins allowed to call the gateway. Empty
	// disables CORS handling.
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" env:"CORS_ORIGINS"`

	LogLevel string `json:"log_level" yaml:"log_level" env:"LOG_LEVEL" envDefault:"info"`
}

// CacheConfig configures the three caches.
type CacheConfig struct {
	Backend string `json:"backend" yaml:"backend" env:"BACKEND" envDefault:"redis"`

	// Size bounds the in-process backend's entry count.
	Size int `json:"size" yaml:"size" env:"SIZE" envDefault:"10000"`

	ConfigurationTTL time.Duration `json:"configuration_ttl" yaml:"configuration_ttl" env:"CONFIGURATION_TTL" envDefault:"5m"`
	PermissionTTL    time.Duration `json:"permission_ttl" yaml:"permission_ttl" env:"PERMISSION_TTL" envDefault:"5m"`

	// TagTTL is how long Redis tag sets outlive their newest member.
	TagTTL time.Duration `json:"tag_ttl" yaml:"tag_ttl" env:"TAG_TTL" envDefault:"1h"`
}

// RateLimitConfig configures per-client quotas and the per-IP guard.
type RateLimitConfig struct {
	Backend string `json:"backend" yaml:"backend" env:"BACKEND" envDefault:"redis"`

	// DefaultBudget applies to clients without their own budget.
	DefaultBudget string `json:"default_budget" yaml:"default_budget" env:"DEFAULT_BUDGET" envDefault:"100/minute"`

	// DefaultWindow is used for bare-count budgets on clients without a
	// window of their own.
	DefaultWindow time.Duration `json:"default_window" yaml:"default_window" env:"DEFAULT_WINDOW" envDefault:"60s"`

	FailureMode string        `json:"failure_mode" yaml:"failure_mode" env:"FAILURE_MODE" envDefault:"open"`
	Grace       time.Duration `json:"grace" yaml:"grace" env:"GRACE" envDefault:"10s"`

	// GuardRate is the per-IP request rate allowed before authentication,
	// in requests per second. Zero disables the guard.
	GuardRate  float64 `json:"guard_rate" yaml:"guard_rate" env:"GUARD_RATE" envDefault:"50"`
	GuardBurst int     `json:"guard_burst" yaml:"guard_burst" env:"GUARD_BURST" envDefault:"100"`

	// GuardSize bounds how many client addresses the guard tracks.
	GuardSize int `json:"guard_size" yaml:"guard_size" env:"GUARD_SIZE" envDefault:"65536"`
}

// ExecutorConfig configures downstream calls.
type ExecutorConfig struct {
	Timeout time.Duration `json:"timeout" yaml:"timeout" env:"TIMEOUT" envDefault:"30s"`
}

// Validate checks every section and reports all problems together.
func (c *Config) Validate() error {
	var errs error
	errs = multierr.Append(errs, c.Server.validate())
	errs = multierr.Append(errs, c.Postgres.Validate())
	if c.Cache.Backend == BackendRedis || c.RateLimit.Backend == BackendRedis {
		errs = multierr.Append(errs, c.Redis.Validate())
	}
	errs = multierr.Append(errs, c.Auth.Validate())
	errs = multierr.Append(errs, c.Cache.validate())
	errs = multierr.Append(errs, c.RateLimit.validate())
	if c.Executor.Timeout < 0 {
		errs = multierr.Append(errs, fmt.Errorf("executor: timeout must not be negative, got %v", c.Executor.Timeout))
	}
	errs = multierr.Append(errs, c.Audit.Validate())
	if strings.EqualFold(c.Audit.Sink, audit.SinkArchive) {
		errs = multierr.Append(errs, c.MinIO.Validate())
	}
	if errs != nil {
		return sserr.Wrap(errs, sserr.CodeValidation, "gateway: invalid configuration")
	}
	return nil
}

func (s *ServerConfig) validate() error {
	var errs error
	if s.Addr == "" {
		errs = multierr.Append(errs, fmt.Errorf("server: addr must not be empty"))
	}
	if s.MaxBodyBytes <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("server: max_body_bytes must be positive"))
	}
	if _, err := ParseLevel(s.LogLevel); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

func (c *CacheConfig) validate() error {
	var errs error
	if c.Backend != BackendMemory && c.Backend != BackendRedis {
		errs = multierr.Append(errs, fmt.Errorf("cache: backend must be %q or %q, got %q", BackendMemory, BackendRedis, c.Backend))
	}
	if c.Backend == BackendMemory && c.Size <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("cache: size must be positive"))
	}
	if c.ConfigurationTTL <= 0 || c.PermissionTTL <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("cache: TTLs must be positive"))
	}
	return errs
}

func (c *RateLimitConfig) validate() error {
	var errs error
	if c.Backend != BackendMemory && c.Backend != BackendRedis {
		errs = multierr.Append(errs, fmt.Errorf("ratelimit: backend must be %q or %q, got %q", BackendMemory, BackendRedis, c.Backend))
	}
	if _, err := ratelimit.ParseBudget(c.DefaultBudget, c.DefaultWindow); err != nil {
		errs = multierr.Append(errs, err)
	}
	if !ratelimit.FailureMode(c.FailureMode).Valid() {
		errs = multierr.Append(errs, fmt.Errorf("ratelimit: failure_mode must be open or closed, got %q", c.FailureMode))
	}
	if c.GuardRate < 0 || (c.GuardRate > 0 && (c.GuardBurst < 1 || c.GuardSize < 1)) {
		errs = multierr.Append(errs, fmt.Errorf("ratelimit: guard needs a non-negative rate and positive burst and size"))
	}
	return errs
}

// ParseLevel maps a configured level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("server: unknown log level %q", s)
	}
}
