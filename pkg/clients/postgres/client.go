package postgres

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
const tracerName = "github.com/StricklySoft/stricklysoft-gateway/pkg/clients/postgres"

// Pool defines the connection pool operations the client uses. It is
// satisfied by [*pgxpool.Pool] and by pgxmock pools in unit tests, injected
// through [NewFromPool].
//
// Every method follows the pgx v5 signature exactly so [*pgxpool.Pool]
// satisfies Pool without an adapter.
type Pool interface {
	// Query executes a SQL query that returns rows.
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)

	// QueryRow executes a SQL query that returns at most one row.
	// Errors are deferred until the returned pgx.Row is scanned.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row

	// Exec executes a SQL statement that does not return rows.
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)

	// Begin starts a new database transaction.
	Begin(ctx context.Context) (pgx.Tx, error)

	// Ping verifies the connection to the database is alive.
	Ping(ctx context.Context) error

	// Close releases all pool resources. The pool must not be used
	// afterwards.
	Close()
}

// Compile-time check that *pgxpool.Pool satisfies Pool.
var _ Pool = (*pgxpool.Pool)(nil)

// Client is a PostgreSQL client with connection pooling, OpenTelemetry
// tracing and structured error handling. It wraps a [Pool] (typically
// [*pgxpool.Pool]) and records a client span for every statement.
//
// A Client is safe for concurrent use by multiple goroutines. The gateway
// shares one Client between the function store, the permission lookups
// and the procedure executor.
//
// Create a Client with [NewClient] for production use, or [NewFromPool]
// for testing with mock pools.
type Client struct {
	pool         Pool
	config       *Config
	tracer       trace.Tracer
	databaseName string
}

// NewClient creates a PostgreSQL client with connection pooling. It
// validates cfg, parses the connection string, applies the pool limits,
// loads a custom CA when [Config.SSLRootCert] is set and verifies
// connectivity with a ping.
//
// The caller must call [Client.Close] when the client is no longer needed
// to release pool resources.
//
// Error codes returned:
//   - [sserr.CodeValidation]: invalid configuration or connection string
//   - [sserr.CodeInternalConfiguration]: unusable TLS material
//   - [sserr.CodeUnavailableDependency]: cannot reach the database
//
// Example:
//
//	cfg := postgres.DefaultConfig()
//	cfg.Database = "gateway"
//	cfg.Password = postgres.Secret(os.Getenv("GATEWAY_DB_PASSWORD"))
//	client, err := postgres.NewClient(ctx, *cfg)
//	if err != nil {
//	    return fmt.Errorf("connecting to postgres: %w", err)
//	}
//	defer client.Close()
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation, "postgres: invalid configuration")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation, "postgres: failed to parse connection string")
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	tlsCfg, err := cfg.tlsConfig()
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "postgres: failed to configure TLS")
	}
	if tlsCfg != nil {
		poolCfg.ConnConfig.TLSConfig = tlsCfg
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "postgres: failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "postgres: failed to connect to database")
	}

	dbName := cfg.Database
	if cfg.URI != "" {
		if u, parseErr := url.Parse(cfg.URI); parseErr == nil {
			dbName = strings.TrimPrefix(u.Path, "/")
		}
	}

	return &Client{
		pool:         pool,
		config:       &cfg,
		tracer:       otel.Tracer(tracerName),
		databaseName: dbName,
	}, nil
}

// NewFromPool creates a Client around a pre-existing [Pool]. It is
// intended for tests that inject pgxmock.
//
// cfg is stored but not validated; pass nil for a zero-value config.
//
// Example (testing):
//
//	mock, _ := pgxmock.NewPool()
//	client := postgres.NewFromPool(mock, &postgres.Config{Database: "gateway"})
func NewFromPool(pool Pool, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Client{
		pool:         pool,
		config:       cfg,
		tracer:       otel.Tracer(tracerName),
		databaseName: cfg.Database,
	}
}

// withTimeout applies the configured statement timeout unless the caller's
// deadline is already earlier.
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.StatementTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.config.StatementTimeout)
}

// Query executes a query that returns rows. The configured statement
// timeout is not applied because the caller iterates rows under ctx after
// Query returns; bound ctx instead.
//
// The caller must close the returned rows. Errors are wrapped as
// [*sserr.Error]:
//   - [sserr.CodeTimeoutDatabase] if the context deadline is exceeded
//   - [sserr.CodeInternalDatabase] for all other errors
//
// Example:
//
//	rows, err := client.Query(ctx, "SELECT identifier FROM gateway_functions WHERE active")
//	if err != nil {
//	    return err
//	}
//	defer rows.Close()
func (c *Client) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	ctx, span := c.startSpan(ctx, "Query", sql)
	rows, err := c.pool.Query(ctx, sql, args...)
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "postgres: query failed")
	}
	return rows, nil
}

// QueryRow executes a query expected to return at most one row, bounded by
// the configured statement timeout. The span ends when the row is scanned.
//
// Scan errors are classified like every other error. [pgx.ErrNoRows] is
// returned unwrapped and is not recorded as a span error; test for it with
// [IsNoRows].
//
// Example:
//
//	var name string
//	err := client.QueryRow(ctx, "SELECT name FROM gateway_clients WHERE id = $1", id).Scan(&name)
//	if postgres.IsNoRows(err) {
//	    // unknown client
//	}
func (c *Client) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	ctx, span := c.startSpan(ctx, "QueryRow", sql)
	ctx, cancel := c.withTimeout(ctx)
	return &tracedRow{row: c.pool.QueryRow(ctx, sql, args...), span: span, cancel: cancel}
}

// Exec executes a statement that returns no rows, bounded by the
// configured statement timeout.
//
// Errors are wrapped as [*sserr.Error]:
//   - [sserr.CodeTimeoutDatabase] if the deadline is exceeded
//   - [sserr.CodeInternalDatabase] for all other errors
func (c *Client) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	ctx, span := c.startSpan(ctx, "Exec", sql)
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	tag, err := c.pool.Exec(ctx, sql, args...)
	finishSpan(span, err)
	if err != nil {
		return tag, wrapError(err, "postgres: exec failed")
	}
	return tag, nil
}

// Begin starts a transaction. The caller must commit or roll back the
// returned [pgx.Tx]; statements issued through it are not traced.
func (c *Client) Begin(ctx context.Context) (pgx.Tx, error) {
	ctx, span := c.startSpan(ctx, "Begin", "BEGIN")
	tx, err := c.pool.Begin(ctx)
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "postgres: begin transaction failed")
	}
	return tx, nil
}

// Health verifies that the database is reachable by pinging the pool. It
// applies [DefaultHealthTimeout] if ctx has no deadline.
//
// Returns nil if the database is reachable, or a [*sserr.Error] with code
// [sserr.CodeUnavailableDependency] if the ping fails.
//
// Example:
//
//	if err := client.Health(ctx); err != nil {
//	    logger.Warn("postgres unhealthy", "error", err)
//	}
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", "SELECT 1")
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}

	err := c.pool.Ping(ctx)
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "postgres: health check failed")
	}
	return nil
}

// Close releases all pool resources. The client must not be used
// afterwards.
func (c *Client) Close() {
	c.pool.Close()
}

// Pool returns the underlying [Pool] for operations the Client does not
// wrap. Do not close it directly; use [Client.Close].
func (c *Client) Pool() Pool {
	return c.pool
}

// tracedRow defers span completion and timeout release until Scan.
type tracedRow struct {
	row    pgx.Row
	span   trace.Span
	cancel context.CancelFunc
}

func (r *tracedRow) Scan(dest ...any) error {
	defer r.cancel()
	err := r.row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		finishSpan(r.span, nil)
		return err
	}
	finishSpan(r.span, err)
	if err != nil {
		return wrapError(err, "postgres: query row failed")
	}
	return nil
}

// startSpan starts a client span carrying the OpenTelemetry database
// semantic attributes. The statement is truncated before it is recorded.
func (c *Client) startSpan(ctx context.Context, operationName, sql string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "postgres."+operationName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.name", c.databaseName),
		attribute.String("db.statement", truncateSQL(sql)),
	)
	return ctx, span
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// wrapError classifies err. Deadlines become [sserr.CodeTimeoutDatabase];
// everything else, including server-side errors, becomes
// [sserr.CodeInternalDatabase]. The *pgconn.PgError stays reachable through
// errors.As so callers can read SQLSTATE.
func wrapError(err error, message string) *sserr.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.Wrap(err, sserr.CodeTimeoutDatabase, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalDatabase, message)
}

// IsNoRows reports whether err means a lookup found nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
