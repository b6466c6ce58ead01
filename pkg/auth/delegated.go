package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/models"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/store"
)

// UserInfoProvider exchanges an access token for the subject's identity.
// *oidc.Provider satisfies it.
type UserInfoProvider interface {
	UserInfo(ctx context.Context, tokenSource oauth2.TokenSource) (*oidc.UserInfo, error)
}

// DelegatedValidator authenticates "Authorization: <scheme> <token>" by
// calling a third-party provider's userinfo endpoint. The first request from
// a new subject provisions an oauth client keyed by a synthetic key derived
// from the provider name and subject; later requests reuse it.
type DelegatedValidator struct {
	provider UserInfoProvider
	store    store.CredentialStore
	cfg      DelegatedConfig
	logger   *slog.Logger
	tracer   trace.Tracer
}

var _ CredentialValidator = (*DelegatedValidator)(nil)

// NewDelegatedValidator returns a validator that uses provider for userinfo.
func NewDelegatedValidator(cfg DelegatedConfig, provider UserInfoProvider, s store.CredentialStore, logger *slog.Logger) *DelegatedValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &DelegatedValidator{
		provider: provider,
		store:    s,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
	}
}

// DiscoverProvider runs OpenID Connect discovery against the configured
// issuer. It performs a network call.
func DiscoverProvider(ctx context.Context, cfg DelegatedConfig) (*oidc.Provider, error) {
	p, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeUnavailableDependency,
			"auth: OIDC discovery failed for %s", cfg.IssuerURL)
	}
	return p, nil
}

// SyntheticKey derives the deterministic lookup key for a delegated
// identity.
func SyntheticKey(provider, subject string) string {
	sum := sha256.Sum256([]byte(provider + ":" + subject))
	return "oauth_" + hex.EncodeToString(sum[:])
}

// Name implements [CredentialValidator].
func (v *DelegatedValidator) Name() string { return "delegated" }

// Extract implements [CredentialValidator].
func (v *DelegatedValidator) Extract(r *http.Request) (models.Credential, bool) {
	token, ok := authorizationValue(r, v.cfg.Scheme)
	if !ok {
		return models.Credential{}, false
	}
	return models.Credential{Scheme: models.SchemeDelegated, Value: token}, true
}

// Validate implements [CredentialValidator]. Provider failures of any kind
// are rejections; only store failures are infrastructure errors.
func (v *DelegatedValidator) Validate(ctx context.Context, cred models.Credential) (*models.Client, error) {
	ctx, span := startSpan(ctx, v.tracer, "auth.ValidateDelegated")
	defer span.End()
	span.SetAttributes(attribute.String("auth.provider", v.cfg.Provider))

	if cred.Value == "" || len(cred.Value) > maxTokenSize {
		err := sserr.New(sserr.CodeInvalidCredentials, "auth: delegated token is empty or oversized")
		finishSpan(span, err)
		return nil, err
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.Value, TokenType: "Bearer"})
	info, err := v.provider.UserInfo(ctx, ts)
	if err != nil {
		rejected := sserr.InvalidCredentials(err)
		finishSpan(span, rejected)
		return nil, rejected
	}
	if info == nil || info.Subject == "" {
		rejected := sserr.InvalidCredentials(errors.New("auth: provider returned no subject"))
		finishSpan(span, rejected)
		return nil, rejected
	}

	name := info.Email
	if name == "" {
		name = v.cfg.Provider + ":" + info.Subject
	}
	client, created, err := v.store.FindOrCreateDelegated(ctx, store.DelegatedClient{
		Provider:      v.cfg.Provider,
		ExternalID:    info.Subject,
		APIKey:        SyntheticKey(v.cfg.Provider, info.Subject),
		Name:          name,
		RateLimit:     v.cfg.RateLimit,
		RateWindow:    v.cfg.RateWindow,
		DefaultRoleID: v.cfg.DefaultRoleID,
	})
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}
	if created {
		v.logger.InfoContext(ctx, "provisioned delegated client",
			slog.Int64("client_id", client.ID),
			slog.String("provider", v.cfg.Provider),
		)
	}
	if !client.Active {
		err := sserr.InvalidCredentials(errors.New("auth: client is inactive"))
		finishSpan(span, err)
		return nil, err
	}
	return client, nil
}
