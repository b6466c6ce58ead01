package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/StricklySoft/stricklysoft-gateway/internal/testutil/fixtures"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/models"
)

func securityEvent() models.Event {
	clientID := fixtures.ClientID
	fnID := fixtures.OtherFunctionID
	return models.Event{
		RequestID:  models.NewRequestID(),
		ClientID:   &clientID,
		Function:   "orders.create",
		FunctionID: &fnID,
		Stage:      models.StageAuthenticated,
		Outcome:    models.OutcomeSecurity,
		Status:     403,
		Code:       "PERMISSION_DENIED",
		Elapsed:    3 * time.Millisecond,
		Time:       time.Now(),
	}
}

type failingSink struct{ err error }

func (f failingSink) Record(context.Context, models.Event) error { return f.err }

type panickingSink struct{}

func (panickingSink) Record(context.Context, models.Event) error { panic("boom") }

type captureSink struct{ events []models.Event }

func (c *captureSink) Record(_ context.Context, e models.Event) error {
	c.events = append(c.events, e)
	return nil
}

func TestZapSink_SecurityEventAtWarn(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewZapSinkFromLogger(zap.New(core))

	require.NoError(t, sink.Record(context.Background(), securityEvent()))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, fixtures.ClientID, fields["client_id"])
	assert.Equal(t, fixtures.OtherFunctionID, fields["function_id"])
	assert.Equal(t, "PERMISSION_DENIED", fields["code"])
}

func TestZapSink_SuccessAtInfo(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewZapSinkFromLogger(zap.New(core))

	e := models.Event{RequestID: models.NewRequestID(), Stage: models.StageExecuted, Outcome: models.OutcomeSuccess, Status: 200}
	require.NoError(t, sink.Record(context.Background(), e))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.NotContains(t, entries[0].ContextMap(), "client_id")
}

func TestNewZapSink_WritesFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "audit.log")
	sink, err := NewZapSink(path)
	require.NoError(t, err)

	require.NoError(t, sink.Record(context.Background(), securityEvent()))
	_ = sink.Sync()
}

func TestSlogSink_GroupsAttributes(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	sink := NewSlogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, sink.Record(context.Background(), securityEvent()))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	group, ok := line["audit"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(fixtures.ClientID), group["client_id"])
	assert.Equal(t, "orders.create", group["function"])
}

func TestRecorder_SwallowsFailures(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	for _, sink := range []Sink{failingSink{errors.New("disk full")}, panickingSink{}} {
		assert.NotPanics(t, func() {
			NewRecorder(sink, logger).Record(context.Background(), securityEvent())
		})
	}
	out := buf.String()
	assert.Contains(t, out, "audit sink failed")
	assert.Contains(t, out, "audit sink panicked")
}

func TestRecorder_ForwardsIncompleteEvents(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	capture := &captureSink{}
	r := NewRecorder(capture, slog.New(slog.NewJSONHandler(&buf, nil)))

	r.Record(context.Background(), models.Event{RequestID: "not-a-uuid", Stage: models.StageReceived, Status: 401})

	assert.Len(t, capture.events, 1)
	assert.True(t, strings.Contains(buf.String(), "incomplete audit event"))
}

func TestRecorder_NilSinkDiscards(t *testing.T) {
	t.Parallel()
	assert.NotPanics(t, func() {
		NewRecorder(nil, nil).Record(context.Background(), securityEvent())
	})
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, (&Config{Sink: "zap", OutputPaths: []string{"stdout"}}).Validate())
	assert.NoError(t, (&Config{Sink: "SLOG"}).Validate())
	assert.NoError(t, (&Config{Sink: "none"}).Validate())
	assert.Error(t, (&Config{Sink: "zap"}).Validate())
	assert.Error(t, (&Config{Sink: "kafka"}).Validate())
}

func TestOpen(t *testing.T) {
	t.Parallel()
	sink, err := Open(Config{Sink: SinkNone}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, Discard{}, sink)

	sink, err = Open(Config{Sink: SinkSlog}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &SlogSink{}, sink)

	_, err = Open(Config{Sink: "kafka"}, nil, nil)
	assert.Error(t, err)
}
