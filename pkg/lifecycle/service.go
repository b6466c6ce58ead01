package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-gateway/pkg/lifecycle"

// Hook runs during a transition. A non-nil error moves the service to
// [StateFailed].
type Hook func(ctx context.Context) error

// StateChangeHandler observes transitions. Handlers run synchronously under
// the service's lock and must not call back into the service.
type StateChangeHandler func(old, new State)

// Info is a point-in-time snapshot suitable for JSON.
type Info struct {
	Name      string        `json:"name"`
	Version   string        `json:"version"`
	State     State         `json:"state"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
}

// Option configures a [Service].
type Option func(*Service)

// WithLogger sets the logger for transition messages.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOnStart appends a start hook. Hooks run in registration order.
func WithOnStart(h Hook) Option {
	return func(s *Service) { s.onStart = append(s.onStart, h) }
}

// WithOnStop appends a stop hook. Stop hooks run in reverse registration
// order and all of them run even when one fails; their errors are
// combined.
func WithOnStop(h Hook) Option {
	return func(s *Service) { s.onStop = append(s.onStop, h) }
}

// OnStateChange registers an observer.
func OnStateChange(h StateChangeHandler) Option {
	return func(s *Service) { s.handlers = append(s.handlers, h) }
}

// Service is a named process with a validated lifecycle. It is safe for
// concurrent use.
type Service struct {
	name    string
	version string

	mu        sync.RWMutex
	state     State
	startedAt *time.Time

	tracer   trace.Tracer
	logger   *slog.Logger
	onStart  []Hook
	onStop   []Hook
	handlers []StateChangeHandler
}

// NewService returns a service in [StateUnknown].
func NewService(name, version string, opts ...Option) *Service {
	s := &Service{
		name:    name,
		version: version,
		state:   StateUnknown,
		tracer:  otel.Tracer(tracerName),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Name() string { return s.name }

// State returns the current state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Info returns a snapshot. Uptime is only set while running.
func (s *Service) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := Info{Name: s.name, Version: s.version, State: s.state}
	if s.startedAt != nil && s.state == StateRunning {
		t := *s.startedAt
		info.StartedAt = &t
		info.Uptime = time.Since(t)
	}
	return info
}

// Health returns nil only in [StateRunning]; otherwise an UNAVAIL_001
// error naming the state.
func (s *Service) Health(context.Context) error {
	if state := s.State(); state != StateRunning {
		return sserr.Newf(sserr.CodeUnavailable, "lifecycle: %s is %s", s.name, state)
	}
	return nil
}

func (s *Service) setState(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.state
	if !ValidTransition(from, to) {
		return sserr.Newf(sserr.CodeInternal, "lifecycle: invalid transition from %q to %q", from, to)
	}
	s.state = to
	switch to {
	case StateRunning:
		now := time.Now().UTC()
		s.startedAt = &now
	case StateStopped, StateFailed:
		s.startedAt = nil
	}

	for _, h := range s.handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("lifecycle: state change handler panicked",
						slog.Any("panic", r),
						slog.String("service", s.name),
					)
				}
			}()
			h(from, to)
		}()
	}
	return nil
}

// Start runs the start hooks between Starting and Running. It is allowed
// from Unknown, Stopped and Failed.
func (s *Service) Start(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "lifecycle.Start",
		trace.WithAttributes(attribute.String("service.name", s.name)))
	defer span.End()

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		return sserr.Wrap(err, sserr.CodeTimeout, "lifecycle: start canceled")
	}
	if err := s.setState(StateStarting); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.logger.InfoContext(ctx, "lifecycle: starting",
		slog.String("service", s.name),
		slog.String("version", s.version),
	)

	for _, h := range s.onStart {
		if err := h(ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: start hook failed",
				slog.String("service", s.name),
				slog.Any("error", err),
			)
			_ = s.setState(StateFailed)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return sserr.Wrap(err, sserr.CodeInternal, "lifecycle: start hook failed")
		}
	}

	if err := s.setState(StateRunning); err != nil {
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// Stop runs the stop hooks between Stopping and Stopped. Stopping a
// service in a terminal state or one that never started is a no-op.
func (s *Service) Stop(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "lifecycle.Stop",
		trace.WithAttributes(attribute.String("service.name", s.name)))
	defer span.End()

	if state := s.State(); state.IsTerminal() || state == StateUnknown {
		return nil
	}
	if err := s.setState(StateStopping); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.logger.InfoContext(ctx, "lifecycle: stopping", slog.String("service", s.name))

	var errs error
	for i := len(s.onStop) - 1; i >= 0; i-- {
		if err := s.onStop[i](ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: stop hook failed",
				slog.String("service", s.name),
				slog.Any("error", err),
			)
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		_ = s.setState(StateFailed)
		span.RecordError(errs)
		span.SetStatus(codes.Error, errs.Error())
		return sserr.Wrap(errs, sserr.CodeInternal, "lifecycle: stop hooks failed")
	}

	if err := s.setState(StateStopped); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "lifecycle: stopped", slog.String("service", s.name))
	span.SetStatus(codes.Ok, "")
	return nil
}
