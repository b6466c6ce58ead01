package auth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/models"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/store"
)

// IssuedToken is the response body of a successful token request.
type IssuedToken struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int       `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TokenIssuer mints HS256 bearer tokens for token-kind clients that prove
// their key and secret. The tokens verify with [BearerValidator] configured
// from the same [Config].
type TokenIssuer struct {
	store    store.CredentialStore
	key      []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenIssuer returns an issuer, or nil when no signing key is
// configured.
func NewTokenIssuer(cfg Config, s store.CredentialStore) *TokenIssuer {
	if cfg.SigningKey.Value() == "" {
		return nil
	}
	return &TokenIssuer{
		store:    s,
		key:      []byte(cfg.SigningKey.Value()),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TokenTTL,
		now:      time.Now,
	}
}

// WithClock replaces the issuer's time source. It is intended for tests.
func (i *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	i.now = now
	return i
}

// Issue verifies the client's key and secret and returns a signed token.
// Every rejection is reported as INVALID_CREDENTIALS.
func (i *TokenIssuer) Issue(ctx context.Context, apiKey, secret string) (*IssuedToken, error) {
	if apiKey == "" || secret == "" {
		return nil, sserr.InvalidCredentials(errors.New("auth: key and secret are required"))
	}

	client, err := i.store.FindClientByKey(ctx, apiKey)
	if err != nil {
		return nil, classifyError(err)
	}
	if client.Kind != models.ClientKindToken || !client.Active || client.SecretHash == "" {
		return nil, sserr.InvalidCredentials(errors.New("auth: client may not request tokens"))
	}
	if err := verifySecret(client.SecretHash, secret); err != nil {
		return nil, err
	}

	now := i.now()
	exp := now.Add(i.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    i.issuer,
		Subject:   strconv.FormatInt(client.ID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
	if i.audience != "" {
		claims.Audience = jwt.ClaimStrings{i.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternal, "auth: failed to sign token")
	}
	return &IssuedToken{
		AccessToken: signed,
		TokenType:   bearerScheme,
		ExpiresIn:   int(i.ttl / time.Second),
		ExpiresAt:   exp.UTC().Truncate(time.Second),
	}, nil
}
