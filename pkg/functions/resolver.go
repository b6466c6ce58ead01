// Package functions resolves function definitions by identifier and turns
// a caller's raw parameters into typed, ordered procedure arguments.
//
// Definitions are read through the configuration cache. A definition is
// validated before it is cached, so a malformed record is reported every
// time it is requested rather than being memoized.
package functions

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-gateway/pkg/cache"
	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/models"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/store"
)

const tracerName = "github.com/StricklySoft/stricklysoft-gateway/pkg/functions"

// Resolver loads function definitions. It is safe for concurrent use.
type Resolver struct {
	store  store.CredentialStore
	cache  *cache.Cache[models.FunctionDefinition]
	logger *slog.Logger
	tracer trace.Tracer
}

// NewResolver returns a resolver reading from s. configuration may be nil
// to disable caching.
func NewResolver(s store.CredentialStore, configuration *cache.Cache[models.FunctionDefinition], logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  s,
		cache:  configuration,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
}

// Target returns the identity and active flag of a function, whether or not
// it is active. Authorization uses it to tell a disabled function from an
// unknown one. Target does not report a malformed definition: that is
// [Resolver.Load]'s job once the caller has been authorized and admitted.
// A valid definition read here is cached for the following Load.
func (r *Resolver) Target(ctx context.Context, identifier string) (models.FunctionTarget, error) {
	ctx, span := r.tracer.Start(ctx, "functions.Target")
	defer span.End()
	span.SetAttributes(attribute.String("function.identifier", identifier))

	if identifier == "" {
		return models.FunctionTarget{}, sserr.FunctionNotFound(identifier)
	}
	if r.cache != nil {
		if fn, ok := r.cache.Get(ctx, identifier); ok {
			span.SetAttributes(attribute.Bool("function.cache_hit", true))
			return fn.Target(), nil
		}
	}

	fn, err := r.store.FindFunctionByIdentifier(ctx, identifier)
	if err != nil {
		err = r.lookupError(err, identifier)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.FunctionTarget{}, err
	}
	if Validate(fn) == nil {
		r.fill(ctx, identifier, fn)
	}
	return fn.Target(), nil
}

// Load returns the full definition for identifier. With activeOnly set, an
// inactive function is reported as FUNCTION_NOT_FOUND. A definition that
// fails [Validate] is logged and returned as an INT_003 error.
func (r *Resolver) Load(ctx context.Context, identifier string, activeOnly bool) (*models.FunctionDefinition, error) {
	ctx, span := r.tracer.Start(ctx, "functions.Load")
	defer span.End()
	span.SetAttributes(
		attribute.String("function.identifier", identifier),
		attribute.Bool("function.active_only", activeOnly),
	)

	if identifier == "" {
		return nil, sserr.FunctionNotFound(identifier)
	}

	if r.cache != nil {
		if fn, ok := r.cache.Get(ctx, identifier); ok {
			span.SetAttributes(attribute.Bool("function.cache_hit", true))
			if activeOnly && !fn.Active {
				return nil, sserr.FunctionNotFound(identifier)
			}
			return &fn, nil
		}
	}

	var (
		fn  *models.FunctionDefinition
		err error
	)
	if activeOnly {
		fn, err = r.store.FindActiveFunctionByIdentifier(ctx, identifier)
	} else {
		fn, err = r.store.FindFunctionByIdentifier(ctx, identifier)
	}
	if err != nil {
		err = r.lookupError(err, identifier)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := Validate(fn); err != nil {
		r.logger.ErrorContext(ctx, "function definition is invalid",
			slog.String("function", identifier),
			slog.Any("error", err),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid definition")
		return nil, err
	}

	r.fill(ctx, identifier, fn)
	return fn, nil
}

// fill caches a validated definition.
func (r *Resolver) fill(ctx context.Context, identifier string, fn *models.FunctionDefinition) {
	if r.cache != nil {
		r.cache.Set(context.WithoutCancel(ctx), identifier, *fn, cache.FunctionTag(identifier))
	}
}

func (r *Resolver) lookupError(err error, identifier string) error {
	switch {
	case sserr.IsNotFound(err):
		return sserr.FunctionNotFound(identifier)
	case sserr.GetCode(err) != "":
		return err
	default:
		return sserr.Wrap(err, sserr.CodeInternalDatabase, "functions: definition lookup failed")
	}
}
