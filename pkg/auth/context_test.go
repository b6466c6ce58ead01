package auth

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-gateway/internal/testutil/fixtures"
)

func TestContextWithClient_RoundTrip(t *testing.T) {
	ctx := ContextWithClient(context.Background(), fixtures.Client())

	got, ok := ClientFromContext(ctx)
	if !ok {
		t.Fatal("ClientFromContext returned false, want true")
	}
	if got.ID != fixtures.ClientID {
		t.Errorf("ID = %d, want %d", got.ID, fixtures.ClientID)
	}
}

func TestClientFromContext_Empty(t *testing.T) {
	got, ok := ClientFromContext(context.Background())
	if ok {
		t.Error("ClientFromContext returned true on empty context, want false")
	}
	if got != nil {
		t.Error("ClientFromContext returned non-nil client on empty context")
	}
}

func TestClientFromContext_NilClient(t *testing.T) {
	ctx := ContextWithClient(context.Background(), nil)
	if _, ok := ClientFromContext(ctx); ok {
		t.Error("ClientFromContext returned true for a nil client, want false")
	}
}

func TestMustClientFromContext_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustClientFromContext did not panic on empty context")
		}
	}()
	MustClientFromContext(context.Background())
}

func TestRequestID_RoundTrip(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-1")
	id, ok := RequestIDFromContext(ctx)
	if !ok || id != "req-1" {
		t.Errorf("RequestIDFromContext = (%q, %v), want (req-1, true)", id, ok)
	}

	if _, ok := RequestIDFromContext(context.Background()); ok {
		t.Error("RequestIDFromContext returned true on empty context")
	}
}

func TestTraceIDFromContext_NoTrace(t *testing.T) {
	traceID, ok := TraceIDFromContext(context.Background())
	if ok {
		t.Error("TraceIDFromContext returned true with no trace, want false")
	}
	if traceID != "" {
		t.Errorf("TraceIDFromContext = %q, want empty string", traceID)
	}
}

func TestTraceIDFromContext_WithTrace(t *testing.T) {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	traceID, ok := TraceIDFromContext(ctx)
	if !ok {
		t.Fatal("TraceIDFromContext returned false, want true")
	}
	if len(traceID) != 32 {
		t.Errorf("TraceID length = %d, want 32", len(traceID))
	}
}

func TestContextKeys_Independent(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-2")
	ctx = ContextWithClient(ctx, fixtures.Client())

	if id, _ := RequestIDFromContext(ctx); id != "req-2" {
		t.Errorf("request id = %q, want req-2", id)
	}
	if _, ok := ClientFromContext(ctx); !ok {
		t.Error("client missing after setting request id")
	}
}
