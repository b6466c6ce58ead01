package auth

import (
	"strings"
	"time"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

// Secret is a string type that redacts its value in String(), GoString(), and
// MarshalText() to prevent accidental exposure in logs, JSON output, or
// fmt.Printf. The actual value is only accessible via the [Secret.Value]
// method, which should be called only where the raw value is truly needed
// (e.g., passing to a signing function).
type Secret string

// secretRedacted is the placeholder text shown instead of the actual secret
// value when the secret is printed, formatted, or serialized.
const secretRedacted = "[REDACTED]"

// String returns the redacted placeholder.
func (s Secret) String() string { return secretRedacted }

// GoString returns the redacted placeholder for %#v.
func (s Secret) GoString() string { return secretRedacted }

// Value returns the actual secret string.
func (s Secret) Value() string { return string(s) }

// MarshalText implements [encoding.TextMarshaler], returning the redacted
// placeholder.
func (s Secret) MarshalText() ([]byte, error) { return []byte(secretRedacted), nil }

// minSigningKeyLen is the shortest HS256 key the gateway accepts.
const minSigningKeyLen = 32

// maxTokenSize bounds the bearer and delegated tokens the gateway will
// parse or forward.
const maxTokenSize = 8192

// Config holds the authentication settings. Env tags are relative; the
// gateway config nests this struct under AUTH.
type Config struct {
	// SigningKey is the HS256 key for self-describing bearer tokens. When
	// empty, bearer credentials are only looked up as opaque tokens and
	// token issuance is disabled.
	SigningKey Secret `json:"-" yaml:"signing_key" env:"SIGNING_KEY"`

	// Issuer is the "iss" claim minted into and required of bearer tokens.
	Issuer string `json:"issuer" yaml:"issuer" env:"ISSUER" envDefault:"stricklysoft-gateway"`

	// Audience is the optional "aud" claim. When empty it is neither minted
	// nor checked.
	Audience string `json:"audience,omitempty" yaml:"audience" env:"AUDIENCE"`

	// ClockSkew is the leeway applied to exp and nbf checks.
	ClockSkew time.Duration `json:"clock_skew" yaml:"clock_skew" env:"CLOCK_SKEW" envDefault:"30s"`

	// TokenTTL is the lifetime of tokens minted by [TokenIssuer].
	TokenTTL time.Duration `json:"token_ttl" yaml:"token_ttl" env:"TOKEN_TTL" envDefault:"1h"`

	// IdentityTTL bounds how long a verified API key stays cached. A client
	// deactivated in the store keeps authenticating for at most this long.
	IdentityTTL time.Duration `json:"identity_ttl" yaml:"identity_ttl" env:"IDENTITY_TTL" envDefault:"5m"`

	Delegated DelegatedConfig `json:"delegated" yaml:"delegated" env:"DELEGATED"`
}

// DelegatedConfig configures the third-party identity provider.
type DelegatedConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" env:"ENABLED" envDefault:"false"`

	// Provider is the short name mixed into synthetic keys, e.g. "google".
	// Changing it re-provisions every delegated client.
	Provider string `json:"provider" yaml:"provider" env:"PROVIDER"`

	// IssuerURL is the OpenID Connect issuer used for discovery.
	IssuerURL string `json:"issuer_url" yaml:"issuer_url" env:"ISSUER_URL"`

	// Scheme is the Authorization header scheme that selects this
	// strategy.
	Scheme string `json:"scheme" yaml:"scheme" env:"SCHEME" envDefault:"OAuth"`

	// DefaultRoleID is assigned to clients provisioned on first sight.
	DefaultRoleID int64 `json:"default_role_id" yaml:"default_role_id" env:"DEFAULT_ROLE_ID"`

	RateLimit  string `json:"rate_limit" yaml:"rate_limit" env:"RATE_LIMIT" envDefault:"100/hour"`
	RateWindow int    `json:"rate_window" yaml:"rate_window" env:"RATE_WINDOW" envDefault:"3600"`
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if key := c.SigningKey.Value(); key != "" && len(key) < minSigningKeyLen {
		return sserr.Newf(sserr.CodeValidation, "auth: signing key must be at least %d bytes", minSigningKeyLen)
	}
	if c.SigningKey.Value() != "" && c.Issuer == "" {
		return sserr.New(sserr.CodeValidation, "auth: issuer must not be empty when a signing key is set")
	}
	if c.ClockSkew < 0 {
		return sserr.New(sserr.CodeValidation, "auth: clock skew must be non-negative")
	}
	if c.TokenTTL <= 0 {
		return sserr.New(sserr.CodeValidation, "auth: token TTL must be positive")
	}
	if c.IdentityTTL < 0 {
		return sserr.New(sserr.CodeValidation, "auth: identity TTL must be non-negative")
	}

	if c.Delegated.Enabled {
		if c.Delegated.IssuerURL == "" {
			return sserr.New(sserr.CodeValidation, "auth: delegated issuer URL must not be empty when delegated auth is enabled")
		}
		if c.Delegated.Provider == "" {
			return sserr.New(sserr.CodeValidation, "auth: delegated provider name must not be empty")
		}
		if c.Delegated.Scheme == "" || strings.EqualFold(c.Delegated.Scheme, bearerScheme) {
			return sserr.New(sserr.CodeValidation, "auth: delegated scheme must be set and differ from Bearer")
		}
		if c.Delegated.RateWindow <= 0 {
			return sserr.New(sserr.CodeValidation, "auth: delegated rate window must be positive")
		}
	}
	return nil
}
