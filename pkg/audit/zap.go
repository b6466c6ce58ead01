package audit

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/StricklySoft/stricklysoft-gateway/pkg/models"
)

// ZapSink writes events as JSON lines through zap. Security events are
// written at warn level, everything else at info.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink builds a production zap logger writing to paths.
func NewZapSink(paths ...string) (*ZapSink, error) {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if len(paths) > 0 {
		cfg.OutputPaths = paths
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return NewZapSinkFromLogger(logger), nil
}

// NewZapSinkFromLogger wraps an existing logger.
func NewZapSinkFromLogger(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger.Named("audit")}
}

// Record implements [Sink].
func (s *ZapSink) Record(_ context.Context, e models.Event) error {
	fields := []zap.Field{
		zap.String("request_id", e.RequestID),
		zap.String("stage", e.Stage.String()),
		zap.String("outcome", string(e.Outcome)),
		zap.Int("status", e.Status),
		zap.Duration("elapsed", e.Elapsed),
		zap.Time("time", e.Time),
	}
	if e.ClientID != nil {
		fields = append(fields, zap.Int64("client_id", *e.ClientID))
	}
	if e.ClientName != "" {
		fields = append(fields, zap.String("client_name", e.ClientName))
	}
	if e.Function != "" {
		fields = append(fields, zap.String("function", e.Function))
	}
	if e.FunctionID != nil {
		fields = append(fields, zap.Int64("function_id", *e.FunctionID))
	}
	if e.Code != "" {
		fields = append(fields, zap.String("code", e.Code))
	}
	if e.Message != "" {
		fields = append(fields, zap.String("message", e.Message))
	}
	if e.RemoteAddr != "" {
		fields = append(fields, zap.String("remote_addr", e.RemoteAddr))
	}

	if e.IsSecurity() {
		s.logger.Warn("security event", fields...)
	} else {
		s.logger.Info("request", fields...)
	}
	return nil
}

// Sync flushes buffered entries.
func (s *ZapSink) Sync() error {
	return s.logger.Sync()
}
