// Package authz decides whether an authenticated client may perform an
// action on a function.
//
// A decision requires, in order: an active client, an active function, and
// at least one of the client's roles holding a permission on that function
// (by id or by wildcard) for the action. Deny is an ordinary false result;
// only credential store failures are returned as errors.
//
// Decisions and per-role permission sets are memoized in the permission
// cache. Decision entries are tagged with the client, the function and
// every role consulted, so the cache coordinator can evict exactly the
// slice a record change affects. Role permission sets are tagged with their
// role only.
package authz

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-gateway/pkg/cache"
	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/models"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/store"
)

const tracerName = "github.com/StricklySoft/stricklysoft-gateway/pkg/authz"

// Decision result labels.
const (
	resultAllowed          = "allowed"
	resultDenied           = "denied"
	resultInactiveClient   = "inactive_client"
	resultInactiveFunction = "inactive_function"
)

func init() {
	prometheus.MustRegister(decisionsTotal)
}

// decisionsTotal counts authorization outcomes.
// Labels:
//   - result: allowed, denied, inactive_client or inactive_function
//   - source: cache or store
var decisionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "authz_decisions_total",
		Help:      "Authorization decisions by result and source.",
	},
	[]string{"result", "source"},
)

// Entry is a permission cache value. Decision entries set Allowed; role
// entries carry Permissions.
type Entry struct {
	Allowed     bool                `json:"allowed,omitempty"`
	Permissions []models.Permission `json:"permissions,omitempty"`
}

// Engine evaluates role-based access. It is safe for concurrent use.
type Engine struct {
	store  store.CredentialStore
	cache  *cache.Cache[Entry]
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEngine returns an engine reading from s. permissions may be nil to
// disable memoization.
func NewEngine(s store.CredentialStore, permissions *cache.Cache[Entry], logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  s,
		cache:  permissions,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
}

func decisionKey(clientID, functionID int64, action string) string {
	return fmt.Sprintf("decision:%d:%d:%s", clientID, functionID, action)
}

func roleKey(roleID int64) string {
	return fmt.Sprintf("role:%d", roleID)
}

// Authorize reports whether client may perform action on fn.
func (e *Engine) Authorize(ctx context.Context, client *models.Client, fn models.FunctionTarget, action string) (bool, error) {
	ctx, span := e.tracer.Start(ctx, "authz.Authorize")
	defer span.End()
	span.SetAttributes(
		attribute.String("authz.function", fn.Identifier),
		attribute.String("authz.action", action),
	)

	if client == nil || !client.Active {
		decisionsTotal.WithLabelValues(resultInactiveClient, "precondition").Inc()
		return false, nil
	}
	span.SetAttributes(attribute.Int64("authz.client_id", client.ID))
	if !fn.Active {
		decisionsTotal.WithLabelValues(resultInactiveFunction, "precondition").Inc()
		return false, nil
	}

	key := decisionKey(client.ID, fn.ID, action)
	if e.cache != nil {
		if entry, ok := e.cache.Get(ctx, key); ok {
			decisionsTotal.WithLabelValues(result(entry.Allowed), "cache").Inc()
			span.SetAttributes(attribute.Bool("authz.cache_hit", true))
			return entry.Allowed, nil
		}
	}

	roles, err := e.store.FindRolesForClient(ctx, client.ID)
	if err != nil {
		err = storeError(err, "authz: role lookup failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}

	var perms []models.Permission
	tags := make([]string, 0, len(roles)+2)
	tags = append(tags, cache.ClientTag(client.ID), cache.FunctionTag(fn.Identifier))
	for _, role := range roles {
		rp, err := e.rolePermissions(ctx, role.ID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return false, err
		}
		perms = append(perms, rp...)
		tags = append(tags, cache.RoleTag(role.ID))
	}

	allowed := NewPermissionSet(perms).Match(models.ResourceFunction, fn.ID, action)
	if e.cache != nil {
		e.cache.Set(context.WithoutCancel(ctx), key, Entry{Allowed: allowed}, tags...)
	}
	decisionsTotal.WithLabelValues(result(allowed), "store").Inc()

	if !allowed {
		e.logger.DebugContext(ctx, "no matching permission",
			slog.Int64("client_id", client.ID),
			slog.Int64("function_id", fn.ID),
			slog.Int("roles", len(roles)),
		)
	}
	return allowed, nil
}

// rolePermissions returns a role's permissions, cache first.
func (e *Engine) rolePermissions(ctx context.Context, roleID int64) ([]models.Permission, error) {
	key := roleKey(roleID)
	if e.cache != nil {
		if entry, ok := e.cache.Get(ctx, key); ok {
			return entry.Permissions, nil
		}
	}
	perms, err := e.store.FindPermissionsForRole(ctx, roleID)
	if err != nil {
		return nil, storeError(err, "authz: permission lookup failed")
	}
	if e.cache != nil {
		e.cache.Set(context.WithoutCancel(ctx), key, Entry{Permissions: perms}, cache.RoleTag(roleID))
	}
	return perms, nil
}

func result(allowed bool) string {
	if allowed {
		return resultAllowed
	}
	return resultDenied
}

func storeError(err error, message string) error {
	if _, ok := sserr.AsError(err); ok {
		return err
	}
	return sserr.Wrap(err, sserr.CodeInternalDatabase, message)
}
