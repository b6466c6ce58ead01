package audit

import (
	"context"
	"log/slog"

	"github.com/StricklySoft/stricklysoft-gateway/pkg/models"
)

// SlogSink writes events through the application logger under an "audit"
// group.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink returns a sink writing to logger, or slog.Default when nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Record implements [Sink].
func (s *SlogSink) Record(ctx context.Context, e models.Event) error {
	attrs := []any{
		slog.String("request_id", e.RequestID),
		slog.String("stage", e.Stage.String()),
		slog.String("outcome", string(e.Outcome)),
		slog.Int("status", e.Status),
		slog.Duration("elapsed", e.Elapsed),
	}
	if e.ClientID != nil {
		attrs = append(attrs, slog.Int64("client_id", *e.ClientID))
	}
	if e.Function != "" {
		attrs = append(attrs, slog.String("function", e.Function))
	}
	if e.FunctionID != nil {
		attrs = append(attrs, slog.Int64("function_id", *e.FunctionID))
	}
	if e.Code != "" {
		attrs = append(attrs, slog.String("code", e.Code))
	}

	level := slog.LevelInfo
	msg := "request"
	if e.IsSecurity() {
		level = slog.LevelWarn
		msg = "security event"
	}
	s.logger.Log(ctx, level, msg, slog.Group("audit", attrs...))
	return nil
}
