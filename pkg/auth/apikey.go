package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/StricklySoft/stricklysoft-gateway/pkg/cache"
	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/models"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/store"
)

// Request locations for API-key credentials.
const (
	APIKeyHeader    = "X-API-Key"
	APISecretHeader = "X-API-Secret"
	APIKeyQuery     = "api_key"
)

// APIKeyValidator authenticates an API key sent in the X-API-Key header or
// the api_key query parameter. Only api_key clients qualify; a key
// belonging to another kind is rejected rather than authenticated as that
// kind.
//
// Verified key and secret pairs are cached by fingerprint in the identity
// cache so bcrypt and the store are skipped on the hot path.
type APIKeyValidator struct {
	store    store.CredentialStore
	identity *cache.Cache[models.Client]
	logger   *slog.Logger
	tracer   trace.Tracer
}

var _ CredentialValidator = (*APIKeyValidator)(nil)

// NewAPIKeyValidator returns an API-key validator. identity may be nil to
// disable caching.
func NewAPIKeyValidator(s store.CredentialStore, identity *cache.Cache[models.Client], logger *slog.Logger) *APIKeyValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIKeyValidator{
		store:    s,
		identity: identity,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
	}
}

// Name implements [CredentialValidator].
func (v *APIKeyValidator) Name() string { return "api_key" }

// Extract implements [CredentialValidator]. The header wins over the query
// parameter.
func (v *APIKeyValidator) Extract(r *http.Request) (models.Credential, bool) {
	secret := r.Header.Get(APISecretHeader)
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return models.Credential{Scheme: models.SchemeAPIKey, Value: key, Secret: secret}, true
	}
	if key := r.URL.Query().Get(APIKeyQuery); key != "" {
		return models.Credential{Scheme: models.SchemeAPIKey, Value: key, Secret: secret}, true
	}
	return models.Credential{}, false
}

// Validate implements [CredentialValidator].
func (v *APIKeyValidator) Validate(ctx context.Context, cred models.Credential) (*models.Client, error) {
	ctx, span := startSpan(ctx, v.tracer, "auth.ValidateAPIKey")
	defer span.End()

	fp := fingerprint(string(models.SchemeAPIKey), cred.Value, cred.Secret)
	if v.identity != nil {
		if client, ok := v.identity.Get(ctx, fp); ok && client.Active {
			span.SetAttributes(attribute.Bool("auth.cache_hit", true))
			return &client, nil
		}
	}
	span.SetAttributes(attribute.Bool("auth.cache_hit", false))

	client, err := v.store.FindClientByKey(ctx, cred.Value)
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}
	if client.Kind != models.ClientKindAPIKey {
		err := sserr.InvalidCredentials(errors.New("auth: key does not belong to an api_key client"))
		finishSpan(span, err)
		return nil, err
	}
	if !client.Active {
		err := sserr.InvalidCredentials(errors.New("auth: client is inactive"))
		finishSpan(span, err)
		return nil, err
	}
	if err := verifySecret(client.SecretHash, cred.Secret); err != nil {
		finishSpan(span, err)
		return nil, err
	}

	if v.identity != nil {
		v.identity.Set(context.WithoutCancel(ctx), fp, *client, cache.ClientTag(client.ID))
	}
	return client, nil
}

// verifySecret checks secret against a bcrypt hash. An empty hash means the
// client has no secret and any presented secret is ignored.
func verifySecret(hash, secret string) error {
	if hash == "" {
		return nil
	}
	if secret == "" {
		return sserr.InvalidCredentials(errors.New("auth: secret is required for this key"))
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return sserr.InvalidCredentials(err)
	}
	return nil
}
