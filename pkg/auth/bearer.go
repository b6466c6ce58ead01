package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/models"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/store"
)

const bearerScheme = "Bearer"

// BearerValidator authenticates "Authorization: Bearer <token>". A token is
// first verified as an HS256 JWT whose subject is the client id; if that
// fails it is looked up as an opaque token and its last-used marker is
// updated.
type BearerValidator struct {
	store     store.CredentialStore
	key       []byte
	issuer    string
	audience  string
	clockSkew time.Duration
	now       func() time.Time
	logger    *slog.Logger
	tracer    trace.Tracer
}

var _ CredentialValidator = (*BearerValidator)(nil)

// NewBearerValidator returns a bearer validator. With an empty signing key
// every token is treated as opaque.
func NewBearerValidator(cfg Config, s store.CredentialStore, logger *slog.Logger) *BearerValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &BearerValidator{
		store:     s,
		key:       []byte(cfg.SigningKey.Value()),
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		clockSkew: cfg.ClockSkew,
		now:       time.Now,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}
}

// WithClock replaces the validator's time source. It is intended for tests.
func (v *BearerValidator) WithClock(now func() time.Time) *BearerValidator {
	v.now = now
	return v
}

// Name implements [CredentialValidator].
func (v *BearerValidator) Name() string { return "bearer" }

// Extract implements [CredentialValidator].
func (v *BearerValidator) Extract(r *http.Request) (models.Credential, bool) {
	token, ok := authorizationValue(r, bearerScheme)
	if !ok {
		return models.Credential{}, false
	}
	return models.Credential{Scheme: models.SchemeBearer, Value: token}, true
}

// Validate implements [CredentialValidator].
func (v *BearerValidator) Validate(ctx context.Context, cred models.Credential) (*models.Client, error) {
	if cred.Value == "" {
		return nil, sserr.New(sserr.CodeInvalidCredentials, "auth: token must not be empty")
	}
	if len(cred.Value) > maxTokenSize {
		return nil, sserr.New(sserr.CodeInvalidCredentials, "auth: token exceeds maximum size")
	}

	var jwtErr error
	if len(v.key) > 0 {
		clientID, err := v.verifyJWT(ctx, cred.Value)
		if err == nil {
			return v.activeClient(ctx, clientID)
		}
		jwtErr = err
	}

	client, err := v.opaque(ctx, cred.Value)
	if err != nil {
		// A signed token that failed verification explains the rejection
		// better than "token not found".
		if jwtErr != nil && sserr.IsNotFound(err) && looksLikeJWT(cred.Value) {
			return nil, classifyJWTError(jwtErr)
		}
		return nil, err
	}
	return client, nil
}

// verifyJWT checks signature, issuer, expiry and audience, and returns the
// client id carried in the subject.
func (v *BearerValidator) verifyJWT(ctx context.Context, tokenStr string) (int64, error) {
	_, span := startSpan(ctx, v.tracer, "auth.VerifyJWT")
	defer span.End()

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(v.issuer),
		jwt.WithLeeway(v.clockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, parserOpts...)
	if err != nil {
		finishSpan(span, err)
		return 0, err
	}
	if !token.Valid {
		err := errors.New("auth: token is not valid")
		finishSpan(span, err)
		return 0, err
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		err := sserr.New(sserr.CodeInvalidCredentials, "auth: token subject is not a client id")
		finishSpan(span, err)
		return 0, err
	}
	span.SetAttributes(attribute.Int64("auth.client_id", id))
	return id, nil
}

func (v *BearerValidator) opaque(ctx context.Context, value string) (*models.Client, error) {
	ctx, span := startSpan(ctx, v.tracer, "auth.LookupOpaqueToken")
	defer span.End()

	tok, err := v.store.FindToken(ctx, value)
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}
	now := v.now()
	if tok.Expired(now) {
		err := sserr.New(sserr.CodeCredentialExpired, "auth: token has expired")
		finishSpan(span, err)
		return nil, err
	}

	client, err := v.activeClient(ctx, tok.ClientID)
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}

	if err := v.store.TouchToken(ctx, value, now); err != nil {
		v.logger.WarnContext(ctx, "failed to update token last-used marker",
			slog.Int64("client_id", tok.ClientID),
			slog.String("error", err.Error()),
		)
	}
	return client, nil
}

func (v *BearerValidator) activeClient(ctx context.Context, id int64) (*models.Client, error) {
	client, err := v.store.FindClientByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !client.Active {
		return nil, sserr.InvalidCredentials(errors.New("auth: client is inactive"))
	}
	return client, nil
}

// looksLikeJWT reports whether s has the three dot-separated segments of a
// compact JWS.
func looksLikeJWT(s string) bool {
	dots := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			dots++
		}
	}
	return dots == 2
}

// classifyJWTError converts a JWT library error to an *sserr.Error with the
// correct authentication code.
func classifyJWTError(err error) *sserr.Error {
	if err == nil {
		return nil
	}

	var ssError *sserr.Error
	if errors.As(err, &ssError) {
		return ssError
	}

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return sserr.Wrap(err, sserr.CodeCredentialExpired, "auth: token has expired")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return sserr.Wrap(err, sserr.CodeInvalidCredentials, "auth: token is malformed")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return sserr.Wrap(err, sserr.CodeInvalidCredentials, "auth: token signature is invalid")
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return sserr.Wrap(err, sserr.CodeInvalidCredentials, "auth: token is unverifiable")
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return sserr.Wrap(err, sserr.CodeInvalidCredentials, "auth: token is not yet valid")
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return sserr.Wrap(err, sserr.CodeInvalidCredentials, "auth: token audience is invalid")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return sserr.Wrap(err, sserr.CodeInvalidCredentials, "auth: token issuer is invalid")
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return sserr.Wrap(err, sserr.CodeInvalidCredentials, "auth: token is missing a required claim")
	default:
		return sserr.Wrap(err, sserr.CodeInvalidCredentials, "auth: token validation failed")
	}
}
