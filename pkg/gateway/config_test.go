package gateway

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-gateway/internal/testutil/fixtures"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/config"
	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

func lookup(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func baseEnv() map[string]string {
	return map[string]string{
		"GATEWAY_POSTGRES_DATABASE": fixtures.TestDBName,
		"GATEWAY_POSTGRES_USER":     fixtures.TestDBUser,
		"GATEWAY_CACHE_BACKEND":     BackendMemory,
		"GATEWAY_RATELIMIT_BACKEND": BackendMemory,
	}
}

func load(t *testing.T, env map[string]string) (Config, error) {
	t.Helper()
	var cfg Config
	err := config.New().WithEnvPrefix("GATEWAY").WithLookup(lookup(env)).Load(&cfg)
	return cfg, err
}

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := load(t, baseEnv())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)
	assert.False(t, cfg.Server.TrustProxyHeaders)
	assert.Equal(t, 5*time.Minute, cfg.Cache.ConfigurationTTL)
	assert.Equal(t, "100/minute", cfg.RateLimit.DefaultBudget)
	assert.Equal(t, "open", cfg.RateLimit.FailureMode)
	assert.Equal(t, 30*time.Second, cfg.Executor.Timeout)
	assert.Equal(t, "zap", cfg.Audit.Sink)
	assert.Equal(t, []string{"stdout"}, cfg.Audit.OutputPaths)
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Parallel()
	env := baseEnv()
	env["GATEWAY_SERVER_ADDR"] = ":9090"
	env["GATEWAY_SERVER_ADMIN_TOKEN"] = "admin"
	env["GATEWAY_SERVER_CORS_ORIGINS"] = "https://a.example,https://b.example"
	env["GATEWAY_RATELIMIT_FAILURE_MODE"] = "closed"
	env["GATEWAY_AUDIT_SINK"] = "slog"

	cfg, err := load(t, env)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "admin", cfg.Server.AdminToken.Value())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "closed", cfg.RateLimit.FailureMode)
	assert.Equal(t, "slog", cfg.Audit.Sink)
}

func TestConfig_ReportsEveryProblem(t *testing.T) {
	t.Parallel()
	env := baseEnv()
	delete(env, "GATEWAY_POSTGRES_DATABASE")
	env["GATEWAY_CACHE_BACKEND"] = "disk"
	env["GATEWAY_RATELIMIT_DEFAULT_BUDGET"] = "many"
	env["GATEWAY_SERVER_LOG_LEVEL"] = "loud"

	_, err := load(t, env)
	require.Error(t, err)
	assert.True(t, sserr.IsValidation(err))
	msg := err.Error()
	for _, want := range []string{"postgres", "cache: backend", "budget", "log level"} {
		assert.Contains(t, msg, want)
	}
}

func TestConfig_RedisCheckedOnlyWhenUsed(t *testing.T) {
	t.Parallel()
	env := baseEnv()
	env["GATEWAY_REDIS_URI"] = "http://wrong"
	_, err := load(t, env)
	assert.NoError(t, err)

	env["GATEWAY_CACHE_BACKEND"] = BackendRedis
	_, err = load(t, env)
	assert.Error(t, err)
}

func TestConfig_ArchiveNeedsObjectStorage(t *testing.T) {
	t.Parallel()
	env := baseEnv()
	env["GATEWAY_AUDIT_SINK"] = "archive"
	_, err := load(t, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minio")

	env["GATEWAY_MINIO_ENDPOINT"] = "localhost:9000"
	env["GATEWAY_MINIO_ACCESS_KEY"] = "gateway"
	env["GATEWAY_AUDIT_ARCHIVE_BATCH_SIZE"] = "50"
	cfg, err := load(t, env)
	require.NoError(t, err)
	assert.Equal(t, "gateway-audit", cfg.Audit.Archive.Bucket)
	assert.Equal(t, 50, cfg.Audit.Archive.BatchSize)
	assert.Equal(t, time.Minute, cfg.Audit.Archive.FlushInterval)
	assert.Equal(t, "us-east-1", cfg.MinIO.Region)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"":      slog.LevelInfo,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("trace")
	assert.Error(t, err)
}
