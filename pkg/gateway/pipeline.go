// Package gateway composes authentication, authorization, admission,
// configuration resolution and execution into the request pipeline, and
// serves it over HTTP.
//
// A request walks the stages of [models.Stage] strictly in order. The first
// failing stage ends the request in [models.StageFailed]; nothing is
// retried. Every run, successful or not, produces exactly one audit event
// and one log line.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-gateway/pkg/audit"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/auth"
	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/executor"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/functions"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/models"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/ratelimit"
)

const tracerName = "github.com/StricklySoft/stricklysoft-gateway/pkg/gateway"

// Authenticator resolves the caller of an HTTP request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*models.Client, error)
}

// Authorizer decides whether a client may act on a function.
type Authorizer interface {
	Authorize(ctx context.Context, client *models.Client, fn models.FunctionTarget, action string) (bool, error)
}

// Admitter enforces a rate budget for a key.
type Admitter interface {
	Check(ctx context.Context, key string, b ratelimit.Budget) (ratelimit.Decision, error)
}

// FunctionResolver loads function definitions.
type FunctionResolver interface {
	Target(ctx context.Context, identifier string) (models.FunctionTarget, error)
	Load(ctx context.Context, identifier string, activeOnly bool) (*models.FunctionDefinition, error)
}

// Deps are the collaborators of a [Pipeline]. All but Logger and Now are
// required.
type Deps struct {
	Authenticator Authenticator
	Authorizer    Authorizer
	Limiter       Admitter
	Resolver      FunctionResolver
	Executor      executor.Executor
	Audit         *audit.Recorder
	Logger        *slog.Logger

	// DefaultBudget and DefaultWindow apply to clients without their own.
	DefaultBudget string
	DefaultWindow time.Duration

	Now func() time.Time
}

// Pipeline runs requests through the admission stages. It holds no
// per-request state and is safe for concurrent use.
type Pipeline struct {
	Deps
	tracer trace.Tracer
}

// NewPipeline returns a pipeline over d.
func NewPipeline(d Deps) *Pipeline {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Audit == nil {
		d.Audit = audit.NewRecorder(nil, d.Logger)
	}
	if d.DefaultWindow <= 0 {
		d.DefaultWindow = time.Minute
	}
	return &Pipeline{Deps: d, tracer: otel.Tracer(tracerName)}
}

// Request is one function call.
type Request struct {
	// HTTP carries the credential headers.
	HTTP *http.Request

	RequestID  string
	Identifier string
	Params     map[string]any

	// ParamsErr reports a parameter bag that could not be decoded. It fails
	// the request at binding time, after the caller has been admitted.
	ParamsErr error
}

// Outcome is the result of one pipeline run.
type Outcome struct {
	RequestID string

	// Stage is Responded or Failed. Last is the final non-terminal stage
	// reached.
	Stage models.Stage
	Last  models.Stage

	Status int
	Data   []map[string]any
	Err    *sserr.Error

	// Rate is set once the request reached admission.
	Rate *ratelimit.Decision

	Client   *models.Client
	Function *models.FunctionTarget
	Elapsed  time.Duration
}

// run tracks one request's position in the state machine.
type run struct {
	stage models.Stage
	out   *Outcome
}

func (r *run) advance(to models.Stage) error {
	if !models.ValidTransition(r.stage, to) {
		return sserr.Internalf("gateway: illegal stage transition %s -> %s", r.stage, to)
	}
	r.stage = to
	return nil
}

// Handle runs req to a terminal stage. It never returns nil.
//
// Admission stages run on a context detached from the caller's
// cancellation so a disconnect cannot leave half-written cache fills;
// execution honors cancellation.
func (p *Pipeline) Handle(ctx context.Context, req Request) *Outcome {
	start := p.Now()
	ctx, span := p.tracer.Start(ctx, "gateway.Handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("gateway.request_id", req.RequestID),
		attribute.String("gateway.function", req.Identifier),
	)

	r := &run{stage: models.StageReceived, out: &Outcome{RequestID: req.RequestID}}
	err := p.stages(ctx, req, r)
	if err == nil {
		err = r.advance(models.StageResponded)
	}

	out := r.out
	out.Elapsed = p.Now().Sub(start)
	if err != nil {
		e := failure(err)
		out.Last = r.stage
		out.Stage = models.StageFailed
		out.Err = e
		out.Status = e.HTTPStatus()
		span.RecordError(e)
		span.SetStatus(codes.Error, e.PublicCode())
	} else {
		out.Last = models.StageExecuted
		out.Stage = models.StageResponded
		out.Status = http.StatusOK
	}
	span.SetAttributes(attribute.Int("gateway.status", out.Status))

	p.finish(ctx, req, out)
	return out
}

func (p *Pipeline) stages(ctx context.Context, req Request, r *run) error {
	admitCtx := context.WithoutCancel(ctx)

	client, err := p.Authenticator.Authenticate(admitCtx, req.HTTP)
	if err != nil {
		return err
	}
	r.out.Client = client
	admitCtx = auth.ContextWithClient(admitCtx, client)
	if err := r.advance(models.StageAuthenticated); err != nil {
		return err
	}

	target, err := p.Resolver.Target(admitCtx, req.Identifier)
	if err != nil {
		return err
	}
	r.out.Function = &target
	if !target.Active {
		return sserr.FunctionDisabled(target.Identifier)
	}
	allowed, err := p.Authorizer.Authorize(admitCtx, client, target, models.ActionExecute)
	if err != nil {
		return err
	}
	if !allowed {
		return sserr.PermissionDenied(target.Identifier)
	}
	if err := r.advance(models.StageAuthorized); err != nil {
		return err
	}

	budget, err := p.budget(admitCtx, client)
	if err != nil {
		return err
	}
	decision, err := p.Limiter.Check(admitCtx, client.RateKey(), budget)
	if err != nil {
		return err
	}
	r.out.Rate = &decision
	if !decision.Allowed {
		return sserr.RateLimited(decision.Limit, decision.RetryAfter)
	}
	if err := r.advance(models.StageAdmittedByRateLimit); err != nil {
		return err
	}

	fn, err := p.Resolver.Load(admitCtx, req.Identifier, true)
	if err != nil {
		return err
	}
	if err := r.advance(models.StageConfigurationResolved); err != nil {
		return err
	}

	if req.ParamsErr != nil {
		return req.ParamsErr
	}
	args, err := functions.BindParams(fn, req.Params)
	if err != nil {
		return err
	}
	res, err := p.Executor.Execute(auth.ContextWithClient(ctx, client), fn, args)
	if err != nil {
		return err
	}
	r.out.Data = res.Data
	return r.advance(models.StageExecuted)
}

// failure coerces err to a coded error. Unavailable and timeout failures
// render as 500 so the status agrees with their INTERNAL_ERROR wire code.
func failure(err error) *sserr.Error {
	e := sserr.FromError(err)
	if e.Status != 0 {
		return e
	}
	switch e.Code.Category() {
	case "UNAVAIL", "TIMEOUT":
		return e.WithStatus(http.StatusInternalServerError, "")
	}
	return e
}

// budget resolves the client's rate budget. A malformed client budget is a
// configuration defect, not a caller error.
func (p *Pipeline) budget(ctx context.Context, c *models.Client) (ratelimit.Budget, error) {
	spec := c.RateLimit
	if spec == "" {
		spec = p.DefaultBudget
	}
	window := p.DefaultWindow
	if c.RateWindow > 0 {
		window = time.Duration(c.RateWindow) * time.Second
	}
	b, err := ratelimit.ParseBudget(spec, window)
	if err != nil {
		p.Logger.ErrorContext(ctx, "client has an invalid rate budget",
			slog.Int64("client_id", c.ID),
			slog.String("budget", spec),
		)
		return ratelimit.Budget{}, err
	}
	return b, nil
}

// finish writes the run's single log line, audit event and metrics.
func (p *Pipeline) finish(ctx context.Context, req Request, out *Outcome) {
	event := models.Event{
		RequestID: req.RequestID,
		Function:  req.Identifier,
		Stage:     out.Last,
		Outcome:   models.OutcomeSuccess,
		Status:    out.Status,
		Elapsed:   out.Elapsed,
		Time:      p.Now().UTC(),
	}
	if req.HTTP != nil {
		event.RemoteAddr = req.HTTP.RemoteAddr
	}
	if out.Client != nil {
		id := out.Client.ID
		event.ClientID = &id
		event.ClientName = out.Client.Name
	}
	functionLabel := functionUnresolved
	if out.Function != nil {
		id := out.Function.ID
		event.FunctionID = &id
		functionLabel = out.Function.Identifier
	}

	code := "OK"
	level := slog.LevelInfo
	attrs := []slog.Attr{
		slog.String("request_id", req.RequestID),
		slog.String("function", req.Identifier),
		slog.Int("status", out.Status),
		slog.Duration("elapsed", out.Elapsed),
	}
	if event.ClientID != nil {
		attrs = append(attrs, slog.Int64("client_id", *event.ClientID))
	}
	if out.Err != nil {
		code = out.Err.PublicCode()
		event.Code = code
		event.Message = out.Err.Message
		event.Outcome = models.OutcomeFailure
		switch {
		case out.Status >= http.StatusInternalServerError:
			level = slog.LevelError
		case sserr.IsSecurityEvent(out.Err):
			level = slog.LevelWarn
			event.Outcome = models.OutcomeSecurity
		}
		attrs = append(attrs,
			slog.String("stage", out.Last.String()),
			slog.String("code", code),
			slog.String("error", out.Err.Error()),
		)
		stageFailuresTotal.WithLabelValues(out.Last.String(), code).Inc()
	}

	requestsTotal.WithLabelValues(functionLabel, code).Inc()
	requestDuration.WithLabelValues(functionLabel).Observe(out.Elapsed.Seconds())

	logCtx := context.WithoutCancel(ctx)
	p.Logger.LogAttrs(logCtx, level, "request finished", attrs...)
	p.Audit.Record(logCtx, event)
}
