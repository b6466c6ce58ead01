// Package auth resolves the credential on an inbound request to a
// [models.Client].
//
// Three strategies are supported, tried in a fixed order: a bearer token
// (self-describing HS256 JWT, falling back to an opaque token lookup), an
// API key (header or query parameter, optionally paired with a secret),
// and a delegated token validated against a third-party OpenID Connect
// provider. The first strategy whose header is present is used exclusively;
// a rejected bearer token never falls through to the API key.
//
// Failures are reported as [sserr.Error] values:
//
//   - no recognized credential: [sserr.CodeAuthenticationRequired] (401)
//   - credential presented and rejected: [sserr.CodeInvalidCredentials] (401)
//   - credential store unreachable: an INT or UNAVAIL code (5xx)
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/models"
)

// tracerName is the OpenTelemetry instrumentation scope name for auth spans.
const tracerName = "github.com/StricklySoft/stricklysoft-gateway/pkg/auth"

// CredentialValidator is one authentication strategy.
type CredentialValidator interface {
	// Name identifies the strategy in logs and spans.
	Name() string

	// Extract reports whether the request carries this strategy's
	// credential and returns it. It must not perform I/O.
	Extract(r *http.Request) (models.Credential, bool)

	// Validate resolves the credential to an active client.
	Validate(ctx context.Context, cred models.Credential) (*models.Client, error)
}

// Dispatcher selects the first validator whose credential is present on a
// request and delegates to it.
type Dispatcher struct {
	validators []CredentialValidator
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewDispatcher returns a dispatcher trying validators in the given order.
// Nil validators are skipped so optional strategies can be passed
// unconditionally.
func NewDispatcher(logger *slog.Logger, validators ...CredentialValidator) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
	for _, v := range validators {
		if v != nil {
			d.validators = append(d.validators, v)
		}
	}
	return d
}

// Validators returns the strategy names in dispatch order.
func (d *Dispatcher) Validators() []string {
	names := make([]string, len(d.validators))
	for i, v := range d.validators {
		names[i] = v.Name()
	}
	return names
}

// Authenticate resolves the request's credential to a client.
func (d *Dispatcher) Authenticate(ctx context.Context, r *http.Request) (*models.Client, error) {
	for _, v := range d.validators {
		cred, ok := v.Extract(r)
		if !ok {
			continue
		}

		ctx, span := startSpan(ctx, d.tracer, "auth.Authenticate")
		span.SetAttributes(attribute.String("auth.strategy", v.Name()))

		client, err := v.Validate(ctx, cred)
		if err != nil {
			err = classifyError(err)
			finishSpan(span, err)
			span.End()
			d.logger.DebugContext(ctx, "credential rejected",
				slog.String("strategy", v.Name()),
				slog.String("code", sserr.GetCode(err).String()),
			)
			return nil, err
		}
		if !client.Active {
			err := sserr.InvalidCredentials(nil)
			finishSpan(span, err)
			span.End()
			return nil, err
		}

		span.SetAttributes(attribute.Int64("auth.client_id", client.ID))
		span.End()
		return client, nil
	}
	return nil, sserr.AuthenticationRequired()
}

// classifyError maps a strategy failure onto the dispatcher's contract.
// Not-found lookups become rejections; coded infrastructure errors pass
// through; anything uncoded is treated as an internal failure.
func classifyError(err error) error {
	switch {
	case sserr.IsAuthentication(err):
		return err
	case sserr.IsNotFound(err), sserr.IsValidation(err):
		return sserr.InvalidCredentials(err)
	}
	if _, ok := sserr.AsError(err); ok {
		return err
	}
	return sserr.Wrap(err, sserr.CodeInternal, "auth: credential validation failed")
}

// fingerprint hashes credential material so it can key a cache without
// holding the raw value in memory.
func fingerprint(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// authorizationValue returns the credential after scheme in the
// Authorization header, matching the scheme case-insensitively. A header
// naming the scheme with an empty value still selects the strategy.
func authorizationValue(r *http.Request, scheme string) (string, bool) {
	header := r.Header.Get("Authorization")
	if len(header) < len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) {
		return "", false
	}
	rest := header[len(scheme):]
	if rest != "" && rest[0] != ' ' {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// startSpan creates a new OpenTelemetry span with the given name.
func startSpan(ctx context.Context, tracer trace.Tracer, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// finishSpan records an error on the span if err is non-nil and sets the
// span status to Error.
func finishSpan(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
