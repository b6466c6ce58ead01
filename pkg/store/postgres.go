package store

import (
	"context"
	_ "embed"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/StricklySoft/stricklysoft-gateway/pkg/clients/postgres"
	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/models"
)

// Schema is the DDL for the tables the gateway reads. The admin backend owns
// the schema in production; Schema exists for integration tests and local
// environments.
//
//go:embed schema.sql
var Schema string

// DB is the subset of [*postgres.Client] the store uses.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Health(ctx context.Context) error
}

var _ DB = (*postgres.Client)(nil)

// Postgres is a [CredentialStore] backed by PostgreSQL.
type Postgres struct {
	db DB
}

var _ CredentialStore = (*Postgres)(nil)

// NewPostgres returns a store that queries db.
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate applies [Schema]. Statements are idempotent.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return sserr.Wrap(err, sserr.CodeInternalDatabase, "store: migrate failed")
	}
	return nil
}

const selectClient = `
SELECT c.id, c.name, c.kind, c.api_key, COALESCE(c.secret_hash, ''), c.is_active,
       c.rate_limit, c.rate_window, COALESCE(c.provider, ''), COALESCE(c.external_id, ''),
       c.created_at, c.last_seen_at,
       COALESCE(array_agg(cr.role_id ORDER BY cr.role_id) FILTER (WHERE cr.role_id IS NOT NULL), '{}')
FROM gateway_client c
LEFT JOIN gateway_client_role cr ON cr.client_id = c.id`

func scanClient(row pgx.Row) (*models.Client, error) {
	var c models.Client
	err := row.Scan(&c.ID, &c.Name, &c.Kind, &c.APIKey, &c.SecretHash, &c.Active,
		&c.RateLimit, &c.RateWindow, &c.Provider, &c.ExternalID,
		&c.CreatedAt, &c.LastSeenAt, &c.RoleIDs)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindClientByKey returns the client registered under apiKey with its role
// ids.
func (s *Postgres) FindClientByKey(ctx context.Context, apiKey string) (*models.Client, error) {
	c, err := scanClient(s.db.QueryRow(ctx, selectClient+`
WHERE c.api_key = $1
GROUP BY c.id`, apiKey))
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, clientNotFound()
		}
		return nil, err
	}
	return c, nil
}

// FindClientByID returns the client with the given id.
func (s *Postgres) FindClientByID(ctx context.Context, id int64) (*models.Client, error) {
	c, err := scanClient(s.db.QueryRow(ctx, selectClient+`
WHERE c.id = $1
GROUP BY c.id`, id))
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, clientNotFound()
		}
		return nil, err
	}
	return c, nil
}

// FindToken returns the opaque token row for value. Expiry is not checked.
func (s *Postgres) FindToken(ctx context.Context, value string) (*models.Token, error) {
	var t models.Token
	err := s.db.QueryRow(ctx,
		`SELECT token, client_id, expires_at, last_used_at FROM gateway_token WHERE token = $1`,
		value).Scan(&t.Value, &t.ClientID, &t.ExpiresAt, &t.LastUsedAt)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, tokenNotFound()
		}
		return nil, err
	}
	return &t, nil
}

// TouchToken records the token's last use.
func (s *Postgres) TouchToken(ctx context.Context, value string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE gateway_token SET last_used_at = $2 WHERE token = $1`, value, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return tokenNotFound()
	}
	return nil
}

// FindOrCreateDelegated inserts the client and its default role in one
// transaction. A concurrent insert of the same key loses the race silently
// and both callers read back the same row.
func (s *Postgres) FindOrCreateDelegated(ctx context.Context, d DelegatedClient) (*models.Client, bool, error) {
	created, err := s.insertDelegated(ctx, d)
	if err != nil {
		return nil, false, err
	}
	c, err := s.FindClientByKey(ctx, d.APIKey)
	if err != nil {
		return nil, false, err
	}
	return c, created, nil
}

func (s *Postgres) insertDelegated(ctx context.Context, d DelegatedClient) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	var id int64
	err = tx.QueryRow(ctx, `
INSERT INTO gateway_client (name, kind, api_key, is_active, rate_limit, rate_window, provider, external_id)
VALUES ($1, 'oauth', $2, TRUE, $3, $4, $5, $6)
ON CONFLICT (api_key) DO NOTHING
RETURNING id`,
		d.Name, d.APIKey, d.RateLimit, d.RateWindow, d.Provider, d.ExternalID).Scan(&id)
	if postgres.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, sserr.Wrap(err, sserr.CodeInternalDatabase, "store: provision delegated client failed")
	}

	if d.DefaultRoleID != 0 {
		if _, err := tx.Exec(ctx,
			`INSERT INTO gateway_client_role (client_id, role_id) VALUES ($1, $2)`,
			id, d.DefaultRoleID); err != nil {
			return false, sserr.Wrap(err, sserr.CodeInternalDatabase, "store: assign default role failed")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, sserr.Wrap(err, sserr.CodeInternalDatabase, "store: commit delegated client failed")
	}
	committed = true
	return true, nil
}

// FindActiveFunctionByIdentifier returns the definition only if it is
// active.
func (s *Postgres) FindActiveFunctionByIdentifier(ctx context.Context, identifier string) (*models.FunctionDefinition, error) {
	return s.findFunction(ctx, identifier, true)
}

// FindFunctionByIdentifier returns the definition regardless of its active
// flag.
func (s *Postgres) FindFunctionByIdentifier(ctx context.Context, identifier string) (*models.FunctionDefinition, error) {
	return s.findFunction(ctx, identifier, false)
}

func (s *Postgres) findFunction(ctx context.Context, identifier string, activeOnly bool) (*models.FunctionDefinition, error) {
	sql := `
SELECT id, identifier, name, procedure_name, COALESCE(description, ''), is_active, updated_at
FROM gateway_function
WHERE identifier = $1`
	if activeOnly {
		sql += ` AND is_active`
	}

	var fn models.FunctionDefinition
	err := s.db.QueryRow(ctx, sql, identifier).Scan(
		&fn.ID, &fn.Identifier, &fn.Name, &fn.Procedure, &fn.Description, &fn.Active, &fn.UpdatedAt)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, sserr.FunctionNotFound(identifier)
		}
		return nil, err
	}

	if fn.Parameters, err = s.parameters(ctx, fn.ID); err != nil {
		return nil, err
	}
	if fn.Responses, err = s.responses(ctx, fn.ID); err != nil {
		return nil, err
	}
	if fn.Errors, err = s.errorMappings(ctx, fn.ID); err != nil {
		return nil, err
	}
	return &fn, nil
}

func (s *Postgres) parameters(ctx context.Context, functionID int64) ([]models.ParameterSpec, error) {
	rows, err := s.db.Query(ctx, `
SELECT name, param_type, is_required, default_value, COALESCE(validation_rule, ''), procedure_param_name, position
FROM gateway_function_parameter
WHERE function_id = $1
ORDER BY position, name`, functionID)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row pgx.CollectableRow) (models.ParameterSpec, error) {
		var p models.ParameterSpec
		err := row.Scan(&p.Name, &p.Type, &p.Required, &p.Default, &p.Validation, &p.Target, &p.Position)
		return p, err
	})
}

func (s *Postgres) responses(ctx context.Context, functionID int64) ([]models.ResponseMapping, error) {
	rows, err := s.db.Query(ctx, `
SELECT field_name, COALESCE(source_column, ''), COALESCE(field_type, '')
FROM gateway_function_response
WHERE function_id = $1
ORDER BY position, field_name`, functionID)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row pgx.CollectableRow) (models.ResponseMapping, error) {
		var m models.ResponseMapping
		err := row.Scan(&m.Field, &m.Source, &m.Type)
		return m, err
	})
}

func (s *Postgres) errorMappings(ctx context.Context, functionID int64) ([]models.ErrorMapping, error) {
	rows, err := s.db.Query(ctx, `
SELECT error_code, http_status, error_message
FROM gateway_function_error
WHERE function_id = $1
ORDER BY error_code`, functionID)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row pgx.CollectableRow) (models.ErrorMapping, error) {
		var m models.ErrorMapping
		err := row.Scan(&m.Code, &m.HTTPStatus, &m.Message)
		return m, err
	})
}

// FindRolesForClient returns the client's roles ordered by id.
func (s *Postgres) FindRolesForClient(ctx context.Context, clientID int64) ([]models.Role, error) {
	rows, err := s.db.Query(ctx, `
SELECT r.id, r.name, COALESCE(r.description, '')
FROM gateway_role r
JOIN gateway_client_role cr ON cr.role_id = r.id
WHERE cr.client_id = $1
ORDER BY r.id`, clientID)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row pgx.CollectableRow) (models.Role, error) {
		var r models.Role
		err := row.Scan(&r.ID, &r.Name, &r.Description)
		return r, err
	})
}

// FindPermissionsForRole returns every permission the role holds.
func (s *Postgres) FindPermissionsForRole(ctx context.Context, roleID int64) ([]models.Permission, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, role_id, resource_kind, resource_id, action
FROM gateway_permission
WHERE role_id = $1
ORDER BY id`, roleID)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row pgx.CollectableRow) (models.Permission, error) {
		var p models.Permission
		err := row.Scan(&p.ID, &p.RoleID, &p.ResourceKind, &p.ResourceID, &p.Action)
		return p, err
	})
}

// Health pings the database.
func (s *Postgres) Health(ctx context.Context) error {
	return s.db.Health(ctx)
}

// collect drains rows, returning an empty (never nil) slice so cached and
// uncached reads compare equal.
func collect[T any](rows pgx.Rows, fn pgx.RowToFunc[T]) ([]T, error) {
	out, err := pgx.CollectRows(rows, fn)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalDatabase, "store: read rows failed")
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}
