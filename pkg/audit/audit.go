// Package audit records one event per finished gateway request.
//
// Sinks return errors so they can be tested, but the gateway only ever
// calls them through [Recorder], which logs and counts failures and never
// lets them reach the caller.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/models"
)

// Sink kinds accepted by [Config.Sink].
const (
	SinkZap     = "zap"
	SinkSlog    = "slog"
	SinkArchive = "archive"
	SinkNone    = "none"
)

func init() {
	prometheus.MustRegister(eventsTotal, failuresTotal)
}

// eventsTotal counts recorded events.
// Labels:
//   - outcome: success, failure or security
var eventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "audit_events_total",
		Help:      "Audit events recorded by outcome.",
	},
	[]string{"outcome"},
)

var failuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "gateway",
	Name:      "audit_failures_total",
	Help:      "Audit events a sink failed to write.",
})

// Config selects and configures the audit sink.
type Config struct {
	// Sink is one of zap, slog, archive or none.
	Sink string `json:"sink" yaml:"sink" env:"SINK" envDefault:"zap"`

	// OutputPaths are zap output paths (files, stdout, stderr).
	OutputPaths []string `json:"output_paths" yaml:"output_paths" env:"OUTPUT_PATHS" envDefault:"stdout"`

	Archive ArchiveConfig `json:"archive" yaml:"archive" env:"ARCHIVE"`
}

// Validate checks the sink kind.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Sink) {
	case SinkZap:
		if len(c.OutputPaths) == 0 {
			return sserr.New(sserr.CodeValidation, "audit: output_paths is required for the zap sink")
		}
		return nil
	case SinkArchive:
		return c.Archive.validate()
	case SinkSlog, SinkNone:
		return nil
	default:
		return sserr.Newf(sserr.CodeValidation, "audit: unknown sink %q", c.Sink)
	}
}

// Sink writes audit events.
type Sink interface {
	Record(ctx context.Context, event models.Event) error
}

// Open builds the sink cfg names. slogger backs the slog sink and objects
// the archive sink; objects may be nil for every other kind.
func Open(cfg Config, slogger *slog.Logger, objects ObjectWriter) (Sink, error) {
	switch strings.ToLower(cfg.Sink) {
	case SinkZap:
		return NewZapSink(cfg.OutputPaths...)
	case SinkSlog:
		return NewSlogSink(slogger), nil
	case SinkArchive:
		if objects == nil {
			return nil, sserr.New(sserr.CodeInternalConfiguration, "audit: archive sink needs object storage")
		}
		return NewArchiveSink(objects, cfg.Archive, slogger), nil
	case SinkNone:
		return Discard{}, nil
	default:
		return nil, sserr.Newf(sserr.CodeValidation, "audit: unknown sink %q", cfg.Sink)
	}
}

// Discard drops every event.
type Discard struct{}

// Record implements [Sink].
func (Discard) Record(context.Context, models.Event) error { return nil }

// Recorder is the fire-and-forget front of a [Sink].
type Recorder struct {
	sink   Sink
	logger *slog.Logger
}

// NewRecorder wraps sink. A nil sink discards.
func NewRecorder(sink Sink, logger *slog.Logger) *Recorder {
	if sink == nil {
		sink = Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sink: sink, logger: logger}
}

// Record writes event. Invalid events, sink errors and sink panics are
// logged and counted; none of them propagate.
func (r *Recorder) Record(ctx context.Context, event models.Event) {
	defer func() {
		if p := recover(); p != nil {
			failuresTotal.Inc()
			r.logger.ErrorContext(ctx, "audit sink panicked",
				slog.String("request_id", event.RequestID),
				slog.String("panic", fmt.Sprint(p)),
			)
		}
	}()

	if err := event.Validate(); err != nil {
		r.logger.WarnContext(ctx, "recording incomplete audit event",
			slog.String("request_id", event.RequestID),
			slog.Any("error", err),
		)
	}
	if err := r.sink.Record(ctx, event); err != nil {
		failuresTotal.Inc()
		r.logger.ErrorContext(ctx, "audit sink failed",
			slog.String("request_id", event.RequestID),
			slog.Any("error", err),
		)
		return
	}
	eventsTotal.WithLabelValues(string(event.Outcome)).Inc()
}
