// Package models defines the records the gateway reads from the credential
// store and the transient values it builds while admitting a request.
//
// The credential store owns durable truth for every record here. The gateway
// holds [Client] and [FunctionDefinition] values only for the lifetime of a
// request or a cache entry and never writes them back, with two exceptions:
// token last-used markers and auto-provisioned delegated clients.
package models

import (
	"fmt"
	"time"
)

// ClientKind distinguishes how a client authenticates.
type ClientKind string

const (
	// ClientKindAPIKey authenticates with an opaque key, optionally paired
	// with a secret.
	ClientKindAPIKey ClientKind = "api_key"

	// ClientKindToken authenticates with bearer tokens (signed or opaque).
	ClientKindToken ClientKind = "token"

	// ClientKindOAuth is auto-provisioned from a delegated identity provider.
	ClientKindOAuth ClientKind = "oauth"
)

// String returns the string representation of the kind.
func (k ClientKind) String() string {
	return string(k)
}

// Valid reports whether the kind is one of the recognized values.
func (k ClientKind) Valid() bool {
	switch k {
	case ClientKindAPIKey, ClientKindToken, ClientKindOAuth:
		return true
	default:
		return false
	}
}

// Client is the caller identity resolved by authentication.
type Client struct {
	ID   int64      `json:"id" db:"id"`
	Name string     `json:"name" db:"name"`
	Kind ClientKind `json:"kind" db:"kind"`

	// APIKey is the lookup key. For delegated clients it is the synthetic
	// key derived from provider and external id.
	APIKey string `json:"-" db:"api_key"`

	// SecretHash is a bcrypt hash. Empty means the key alone suffices.
	SecretHash string `json:"-" db:"secret_hash"`

	Active bool `json:"active" db:"is_active"`

	// RateLimit is the budget: an absolute count ("100") or a
	// count/period shorthand ("5/60s", "100/hour").
	RateLimit string `json:"rate_limit" db:"rate_limit"`

	// RateWindow is the window in seconds used when RateLimit carries no
	// period.
	RateWindow int `json:"rate_window" db:"rate_window"`

	RoleIDs []int64 `json:"role_ids" db:"-"`

	Provider   string `json:"provider,omitempty" db:"provider"`
	ExternalID string `json:"external_id,omitempty" db:"external_id"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty" db:"last_seen_at"`
}

// RateKey returns the key the rate limiter counts this client under.
func (c *Client) RateKey() string {
	return fmt.Sprintf("client:%d", c.ID)
}

// HasRole reports whether the client is assigned the role.
func (c *Client) HasRole(roleID int64) bool {
	for _, id := range c.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// Token is an opaque bearer token issued to a client.
type Token struct {
	Value      string     `json:"-" db:"token"`
	ClientID   int64      `json:"client_id" db:"client_id"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}

// Expired reports whether the token is past its expiry at now. Tokens
// without an expiry never expire.
func (t *Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// CredentialScheme names the header scheme a credential was presented with.
type CredentialScheme string

const (
	SchemeBearer    CredentialScheme = "bearer"
	SchemeAPIKey    CredentialScheme = "api_key"
	SchemeDelegated CredentialScheme = "delegated"
)

// Credential is the material extracted from one request. It exists only for
// the duration of one authentication attempt.
type Credential struct {
	Scheme CredentialScheme
	Value  string

	// Secret accompanies API keys whose client carries a secret hash.
	Secret string
}

// String never renders the credential value.
func (c Credential) String() string {
	return fmt.Sprintf("Credential{Scheme: %s}", c.Scheme)
}
