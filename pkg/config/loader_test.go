package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

// ===========================================================================
// Test fixtures
// ===========================================================================

type secret string

type cacheSection struct {
	TTL     time.Duration `env:"TTL" envDefault:"5m" yaml:"ttl" json:"ttl"`
	Size    int           `env:"SIZE" envDefault:"1024" yaml:"size" json:"size"`
	Backend string        `env:"BACKEND" envDefault:"memory" yaml:"backend" json:"backend"`
}

type testConfig struct {
	Addr        string        `env:"ADDR" envDefault:":8080" yaml:"addr" json:"addr"`
	AdminToken  secret        `env:"ADMIN_TOKEN" yaml:"admin_token" json:"admin_token" required:"true"`
	Debug       bool          `env:"DEBUG" yaml:"debug" json:"debug"`
	Grace       time.Duration `env:"GRACE" envDefault:"1s" yaml:"grace" json:"grace"`
	SampleRatio float64       `env:"SAMPLE_RATIO" envDefault:"0.5" yaml:"sample_ratio" json:"sample_ratio"`
	RoleIDs     []int64       `env:"ROLE_IDS" yaml:"role_ids" json:"role_ids"`
	Origins     []string      `env:"ORIGINS" yaml:"origins" json:"origins"`
	Cache       cacheSection  `env:"CACHE" yaml:"cache" json:"cache"`
}

type validatedConfig struct {
	Port int `env:"PORT" envDefault:"8080"`
}

func (c *validatedConfig) Validate() error {
	if c.Port > 65535 {
		return errors.New("port out of range")
	}
	return nil
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// ===========================================================================
// Layering
// ===========================================================================

func TestLoad_DefaultsOnly(t *testing.T) {
	t.Parallel()
	var cfg testConfig
	err := New().WithEnvPrefix("gw").
		WithLookup(envMap(map[string]string{"GW_ADMIN_TOKEN": "tok"})).
		Load(&cfg)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, time.Second, cfg.Grace)
	assert.InDelta(t, 0.5, cfg.SampleRatio, 1e-9)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 1024, cfg.Cache.Size)
	assert.Equal(t, secret("tok"), cfg.AdminToken)
}

func TestLoad_FileOverridesDefaults_EnvOverridesFile(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "gw.yaml", `
addr: ":9090"
admin_token: "${ADMIN}"
cache:
  ttl: 30s
  backend: redis
`)
	var cfg testConfig
	err := New().WithEnvPrefix("GW").WithFile(path).
		WithLookup(envMap(map[string]string{
			"ADMIN":         "from-file-expansion",
			"GW_CACHE_SIZE": "64",
			"GW_ROLE_IDS":   "1, 2,3",
			"GW_ORIGINS":    "a.example, b.example",
			"GW_DEBUG":      "true",
		})).
		Load(&cfg)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, secret("from-file-expansion"), cfg.AdminToken)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, 64, cfg.Cache.Size)
	assert.Equal(t, []int64{1, 2, 3}, cfg.RoleIDs)
	assert.Equal(t, []string{"a.example", "b.example"}, cfg.Origins)
	assert.True(t, cfg.Debug)
}

func TestLoad_JSONFile(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "gw.json", `{"addr": ":7070", "admin_token": "x"}`)
	var cfg testConfig
	require.NoError(t, New().WithFile(path).WithLookup(envMap(nil)).Load(&cfg))
	assert.Equal(t, ":7070", cfg.Addr)
}

func TestLoad_MissingFileIsIgnored(t *testing.T) {
	t.Parallel()
	var cfg testConfig
	err := New().WithFile(filepath.Join(t.TempDir(), "absent.yaml")).
		WithLookup(envMap(map[string]string{"ADMIN_TOKEN": "x"})).
		Load(&cfg)
	require.NoError(t, err)
}

// ===========================================================================
// Failures
// ===========================================================================

func TestLoad_RequiredFieldsReportedTogether(t *testing.T) {
	t.Parallel()
	type twoRequired struct {
		A string `env:"A" required:"true"`
		B string `env:"B" required:"true"`
	}
	var cfg twoRequired
	err := New().WithLookup(envMap(nil)).Load(&cfg)
	require.Error(t, err)

	e, ok := sserr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, sserr.CodeValidationRequired, e.Code)
	assert.Equal(t, []string{"A", "B"}, e.Details["fields"])
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad duration", map[string]string{"ADMIN_TOKEN": "x", "GRACE": "soon"}},
		{"bad bool", map[string]string{"ADMIN_TOKEN": "x", "DEBUG": "maybe"}},
		{"bad float", map[string]string{"ADMIN_TOKEN": "x", "SAMPLE_RATIO": "half"}},
		{"bad int list", map[string]string{"ADMIN_TOKEN": "x", "ROLE_IDS": "1,two"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var cfg testConfig
			err := New().WithLookup(envMap(tt.env)).Load(&cfg)
			require.Error(t, err)
			assert.True(t, sserr.HasCode(err, sserr.CodeInternalConfiguration))
		})
	}
}

func TestLoad_RejectsNonPointer(t *testing.T) {
	t.Parallel()
	assert.True(t, sserr.HasCode(New().Load(testConfig{}), sserr.CodeInternalConfiguration))
	var nilPtr *testConfig
	assert.True(t, sserr.HasCode(New().Load(nilPtr), sserr.CodeInternalConfiguration))
}

func TestLoad_RejectsTraversalAndUnknownExtension(t *testing.T) {
	t.Parallel()
	var cfg testConfig
	assert.Error(t, New().WithFile("../etc/gw.yaml").Load(&cfg))

	path := writeFile(t, "gw.toml", "addr = 1")
	err := New().WithFile(path).Load(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file extension")
}

func TestLoad_CustomValidator(t *testing.T) {
	t.Parallel()
	var cfg validatedConfig
	err := New().WithLookup(envMap(map[string]string{"PORT": "70000"})).Load(&cfg)
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeValidation))
}

func TestMustLoad_Panics(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() {
		_ = MustLoad[testConfig](New().WithLookup(envMap(nil)))
	})
}
