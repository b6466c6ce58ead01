// Package executor invokes the stored procedure behind a function
// definition and shapes its rows into the response payload.
//
// Procedures are called with named notation so argument order in the
// definition never has to match the procedure signature:
//
//	SELECT * FROM "api"."get_customer"("p_customer_id" => $1, "p_limit" => $2)
//
// A failing procedure is translated through the definition's error
// mappings. The SQLSTATE is looked up first, then the exception message so
// that RAISE EXCEPTION 'CUSTOMER_NOT_FOUND' can be mapped without a custom
// ERRCODE. Unmapped failures are INT_004 and render as a 500.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/functions"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/models"
)

const tracerName = "github.com/StricklySoft/stricklysoft-gateway/pkg/executor"

// Execution outcome labels.
const (
	outcomeSuccess  = "success"
	outcomeMapped   = "mapped_error"
	outcomeFailure  = "failure"
	outcomeTimedOut = "timeout"
)

func init() {
	prometheus.MustRegister(executionDuration)
}

// executionDuration observes procedure latency.
// Labels:
//   - function: function identifier
//   - outcome: success, mapped_error, failure or timeout
var executionDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "gateway",
		Name:      "execution_duration_seconds",
		Help:      "Downstream procedure latency by function and outcome.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"function", "outcome"},
)

// Executor runs a resolved function with bound arguments.
type Executor interface {
	Execute(ctx context.Context, fn *models.FunctionDefinition, args functions.Args) (Result, error)
}

// Result is the shaped output of one procedure call.
type Result struct {
	// Data holds one object per returned row. It is never nil.
	Data []map[string]any

	// Rows is len(Data).
	Rows int
}

// Querier is the subset of [*postgres.Client] the executor needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Option configures a [Postgres] executor.
type Option func(*Postgres)

// WithTimeout bounds each procedure call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(p *Postgres) { p.timeout = d }
}

// WithLogger sets the logger used for downstream failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Postgres) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Postgres executes functions as Postgres set-returning procedures. It is
// safe for concurrent use.
type Postgres struct {
	db      Querier
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
}

var _ Executor = (*Postgres)(nil)

// NewPostgres returns an executor issuing calls through db.
func NewPostgres(db Querier, opts ...Option) *Postgres {
	p := &Postgres{
		db:     db,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute calls fn.Procedure with args and shapes the rows per
// fn.Responses.
func (p *Postgres) Execute(ctx context.Context, fn *models.FunctionDefinition, args functions.Args) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "executor.Execute", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("function.identifier", fn.Identifier),
		attribute.String("function.procedure", fn.Procedure),
		attribute.Int("function.args", len(args)),
	)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	records, err := p.call(ctx, fn, args)
	if err != nil {
		outcome, err := p.translate(ctx, fn, err)
		executionDuration.WithLabelValues(fn.Identifier, outcome).Observe(time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return Result{}, err
	}
	executionDuration.WithLabelValues(fn.Identifier, outcomeSuccess).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("function.rows", len(records)))

	data := make([]map[string]any, len(records))
	for i, rec := range records {
		data[i] = shape(fn.Responses, rec)
	}
	return Result{Data: data, Rows: len(data)}, nil
}

func (p *Postgres) call(ctx context.Context, fn *models.FunctionDefinition, args functions.Args) ([]map[string]any, error) {
	sql, values := buildCall(fn.Procedure, args)
	rows, err := p.db.Query(ctx, sql, values...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		fields := rows.FieldDescriptions()
		rec := make(map[string]any, len(fields))
		for i, f := range fields {
			if i < len(values) {
				rec[f.Name] = values[i]
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// translate maps a downstream failure to the metric outcome label and the
// error the caller sees.
func (p *Postgres) translate(ctx context.Context, fn *models.FunctionDefinition, err error) (string, error) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		m, ok := fn.ErrorMappingFor(pgErr.Code)
		if !ok {
			m, ok = fn.ErrorMappingFor(pgErr.Message)
		}
		if ok {
			p.logger.InfoContext(ctx, "procedure raised a mapped error",
				slog.String("function", fn.Identifier),
				slog.String("sqlstate", pgErr.Code),
				slog.Int("status", m.HTTPStatus),
			)
			return outcomeMapped, sserr.Wrap(err, sserr.CodeExecutionFailed, m.Message).WithStatus(m.HTTPStatus, m.Code)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		p.logger.WarnContext(ctx, "procedure timed out",
			slog.String("function", fn.Identifier),
			slog.Duration("timeout", p.timeout),
		)
		return outcomeTimedOut, sserr.Wrapf(err, sserr.CodeTimeoutDatabase, "function %q timed out", fn.Identifier)
	}

	p.logger.ErrorContext(ctx, "procedure failed",
		slog.String("function", fn.Identifier),
		slog.Any("error", err),
	)
	return outcomeFailure, sserr.Wrapf(err, sserr.CodeExecutionFailed, "function %q failed", fn.Identifier)
}

// buildCall renders the named-notation call for procedure and returns the
// positional values.
func buildCall(procedure string, args functions.Args) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(pgx.Identifier(strings.Split(procedure, ".")).Sanitize())
	b.WriteByte('(')
	values := make([]any, len(args))
	for i, a := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s => $%d", pgx.Identifier{a.Target}.Sanitize(), i+1)
		values[i] = a.Value
	}
	b.WriteByte(')')
	return b.String(), values
}

// shape projects a row through the response mappings. Without mappings the
// row is returned as-is.
func shape(mappings []models.ResponseMapping, row map[string]any) map[string]any {
	if len(mappings) == 0 {
		out := make(map[string]any, len(row))
		for k, v := range row {
			out[k] = present("", v)
		}
		return out
	}
	out := make(map[string]any, len(mappings))
	for _, m := range mappings {
		out[m.Field] = present(m.Type, row[m.SourceColumn()])
	}
	return out
}

// present converts driver values into JSON-friendly ones.
func present(typ models.ParamType, v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case [16]byte:
		return uuid.UUID(t).String()
	case time.Time:
		if typ == models.ParamDate {
			return t.Format(functions.DateLayout)
		}
		return t.Format(time.RFC3339Nano)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	}
	return v
}
