package cache

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

// Cache names.
const (
	NameConfiguration = "configuration"
	NamePermission    = "permission"
	NameIdentity      = "identity"
)

// ClientTag tags entries derived from a client.
func ClientTag(id int64) string { return fmt.Sprintf("client:%d", id) }

// RoleTag tags entries derived from a role.
func RoleTag(id int64) string { return fmt.Sprintf("role:%d", id) }

// FunctionTag tags entries derived from a function definition.
func FunctionTag(identifier string) string { return "function:" + identifier }

// Invalidator is the untyped surface of a [Cache] the coordinator drives.
type Invalidator interface {
	Name() string
	Delete(ctx context.Context, keys ...string) error
	InvalidateTag(ctx context.Context, tag string) (int, error)
	Flush(ctx context.Context) error
	Stats() Stats
}

// Coordinator is the only entry point for invalidation. Admin mutation
// paths call it synchronously after their write commits.
//
// Configuration cache keys are function identifiers. Permission and
// identity entries are found through tags.
type Coordinator struct {
	configuration Invalidator
	permission    Invalidator
	identity      Invalidator
	backends      []Backend
	logger        *slog.Logger
}

// NewCoordinator returns a coordinator over the three caches. backends are
// pinged by Health; pass each distinct backend once.
func NewCoordinator(configuration, permission, identity Invalidator, logger *slog.Logger, backends ...Backend) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		configuration: configuration,
		permission:    permission,
		identity:      identity,
		backends:      backends,
		logger:        logger,
	}
}

// InvalidateFunction clears the function's configuration entry and every
// permission decision scoped to it. Other functions are untouched.
func (c *Coordinator) InvalidateFunction(ctx context.Context, identifier string) error {
	err := c.configuration.Delete(ctx, identifier)
	n, tagErr := c.permission.InvalidateTag(ctx, FunctionTag(identifier))
	err = multierr.Append(err, tagErr)

	c.logger.InfoContext(ctx, "invalidated function",
		slog.String("function", identifier),
		slog.Int("permission_entries", n),
	)
	return c.wrap(err, "function")
}

// InvalidateClient clears the permission and identity entries of a client.
func (c *Coordinator) InvalidateClient(ctx context.Context, id int64) error {
	tag := ClientTag(id)
	perms, err := c.permission.InvalidateTag(ctx, tag)
	idents, idErr := c.identity.InvalidateTag(ctx, tag)
	err = multierr.Append(err, idErr)

	c.logger.InfoContext(ctx, "invalidated client",
		slog.Int64("client_id", id),
		slog.Int("permission_entries", perms),
		slog.Int("identity_entries", idents),
	)
	return c.wrap(err, "client")
}

// InvalidateRole clears the permission entries derived from a role.
func (c *Coordinator) InvalidateRole(ctx context.Context, id int64) error {
	n, err := c.permission.InvalidateTag(ctx, RoleTag(id))

	c.logger.InfoContext(ctx, "invalidated role",
		slog.Int64("role_id", id),
		slog.Int("permission_entries", n),
	)
	return c.wrap(err, "role")
}

// FlushAll clears all three caches. It is idempotent; concurrent readers see
// misses.
func (c *Coordinator) FlushAll(ctx context.Context) error {
	var err error
	for _, inv := range c.caches() {
		err = multierr.Append(err, inv.Flush(ctx))
	}
	c.logger.InfoContext(ctx, "flushed all caches")
	return c.wrap(err, "all")
}

// Stats returns a snapshot per cache.
func (c *Coordinator) Stats() []Stats {
	caches := c.caches()
	out := make([]Stats, len(caches))
	for i, inv := range caches {
		out[i] = inv.Stats()
	}
	return out
}

// Health pings every backend.
func (c *Coordinator) Health(ctx context.Context) error {
	var err error
	for _, b := range c.backends {
		err = multierr.Append(err, b.Ping(ctx))
	}
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "cache: backend unhealthy")
	}
	return nil
}

func (c *Coordinator) caches() []Invalidator {
	return []Invalidator{c.configuration, c.permission, c.identity}
}

func (c *Coordinator) wrap(err error, scope string) error {
	if err == nil {
		return nil
	}
	c.logger.Error("cache invalidation incomplete",
		slog.String("scope", scope),
		slog.String("error", err.Error()),
	)
	return sserr.Wrapf(err, sserr.CodeUnavailableDependency, "cache: invalidate %s failed", scope)
}
