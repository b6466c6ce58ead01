package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

// FailureMode decides admission when the window store is unreachable.
type FailureMode string

const (
	// FailOpen admits the request and skips recording.
	FailOpen FailureMode = "open"

	// FailClosed rejects the request with an internal error.
	FailClosed FailureMode = "closed"
)

// Valid reports whether m is a recognized mode.
func (m FailureMode) Valid() bool {
	return m == FailOpen || m == FailClosed
}

// DefaultGrace is added to a window's expiry so the set outlives its newest
// entry.
const DefaultGrace = 10 * time.Second

func init() {
	prometheus.MustRegister(rejectionsTotal, storeErrorsTotal)
}

var (
	rejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "ratelimit_rejections_total",
		Help:      "Requests rejected because the caller's budget was exhausted.",
	})
	storeErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "ratelimit_store_errors_total",
		Help:      "Window store failures handled by the configured failure mode.",
	})
)

// Decision is the outcome of [Limiter.Check], carrying what the rate-limit
// response headers need.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int

	// ResetAt is when the oldest counted entry leaves the window.
	ResetAt time.Time

	// RetryAfter is ResetAt minus now, floored at zero. It is meaningful
	// when Remaining is zero.
	RetryAfter time.Duration

	// Degraded is set when the store failed and FailOpen admitted the
	// request without counting it.
	Degraded bool
}

// Limiter enforces sliding-window budgets over a [WindowStore].
type Limiter struct {
	store   WindowStore
	now     func() time.Time
	grace   time.Duration
	failure FailureMode
	logger  *slog.Logger
}

// Option configures a [Limiter].
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithGrace sets the extra expiry beyond the window.
func WithGrace(d time.Duration) Option {
	return func(l *Limiter) { l.grace = d }
}

// WithFailureMode sets the behavior on store errors.
func WithFailureMode(m FailureMode) Option {
	return func(l *Limiter) { l.failure = m }
}

// WithLogger sets the logger for store failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New returns a limiter that fails open with [DefaultGrace].
func New(store WindowStore, opts ...Option) *Limiter {
	l := &Limiter{
		store:   store,
		now:     time.Now,
		grace:   DefaultGrace,
		failure: FailOpen,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit reports whether key has fewer than budget entries in the window
// ending now. It does not record anything. Admit followed by [Limiter.Hit]
// can over-admit under concurrency; enforcement goes through
// [Limiter.Check].
func (l *Limiter) Admit(ctx context.Context, key string, budget int, window time.Duration) (bool, error) {
	n, err := l.store.Count(ctx, key, l.now().Add(-window))
	if err != nil {
		return false, err
	}
	return n < budget, nil
}

// Hit records one request without checking the budget.
func (l *Limiter) Hit(ctx context.Context, key string, window time.Duration) error {
	now := l.now()
	if err := l.store.Prune(ctx, key, now.Add(-window)); err != nil {
		return err
	}
	return l.store.Add(ctx, key, now, member(now), window+l.grace)
}

// member is the timestamp plus a random suffix so entries recorded in the
// same instant stay distinct.
func member(at time.Time) string {
	return fmt.Sprintf("%d-%s", at.UnixNano(), uuid.NewString())
}

// Remaining returns how many more requests the budget allows now.
func (l *Limiter) Remaining(ctx context.Context, key string, budget int, window time.Duration) (int, error) {
	n, err := l.store.Count(ctx, key, l.now().Add(-window))
	if err != nil {
		return 0, err
	}
	return max(budget-n, 0), nil
}

// ResetIn returns (earliest surviving entry + window) - now, floored at
// zero. An empty window resets immediately.
func (l *Limiter) ResetIn(ctx context.Context, key string, window time.Duration) (time.Duration, error) {
	now := l.now()
	earliest, ok, err := l.store.Earliest(ctx, key, now.Add(-window))
	if err != nil || !ok {
		return 0, err
	}
	return max(earliest.Add(window).Sub(now), 0), nil
}

// Check admits and, when admitted, records one request for key in a single
// atomic store operation, so concurrent checks never admit more than the
// budget. A store failure follows the failure mode: FailOpen returns an
// allowed, degraded decision; FailClosed returns an internal error.
func (l *Limiter) Check(ctx context.Context, key string, b Budget) (Decision, error) {
	now := l.now()

	w, err := l.store.TryAdd(ctx, key, now.Add(-b.Window), now, member(now), b.Count, b.Window+l.grace)
	if err != nil {
		return l.degrade(ctx, key, b, now, err)
	}

	var resetIn time.Duration
	if !w.Earliest.IsZero() {
		resetIn = max(w.Earliest.Add(b.Window).Sub(now), 0)
	}
	d := Decision{
		Allowed:   w.Added,
		Limit:     b.Count,
		Remaining: max(b.Count-w.Count, 0),
		ResetAt:   now.Add(resetIn),
	}
	if d.Remaining == 0 {
		d.RetryAfter = resetIn
	}
	if !d.Allowed {
		rejectionsTotal.Inc()
		if d.RetryAfter == 0 {
			// Zero budget: nothing in the window will ever free a slot.
			d.RetryAfter = b.Window
			d.ResetAt = now.Add(b.Window)
		}
	}
	return d, nil
}

func (l *Limiter) degrade(ctx context.Context, key string, b Budget, now time.Time, err error) (Decision, error) {
	storeErrorsTotal.Inc()
	l.logger.WarnContext(ctx, "rate window store failed",
		slog.String("key", key),
		slog.String("failure_mode", string(l.failure)),
		slog.String("error", err.Error()),
	)
	if l.failure == FailClosed {
		return Decision{}, sserr.Wrap(err, sserr.CodeInternalDatabase, "ratelimit: window store unavailable")
	}
	return Decision{
		Allowed:   true,
		Limit:     b.Count,
		Remaining: b.Count,
		ResetAt:   now.Add(b.Window),
		Degraded:  true,
	}, nil
}
