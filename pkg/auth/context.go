package auth

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-gateway/pkg/models"
)

// contextKey is an unexported type used for context keys in this package.
type contextKey int

const (
	// clientKey stores the authenticated *models.Client.
	clientKey contextKey = iota

	// requestIDKey stores the gateway request id.
	requestIDKey
)

// ContextWithClient returns a new context carrying the authenticated client.
// The pipeline attaches it once the Authenticated stage is reached so later
// stages and the downstream executor can read it.
func ContextWithClient(ctx context.Context, client *models.Client) context.Context {
	return context.WithValue(ctx, clientKey, client)
}

// ClientFromContext retrieves the client attached by [ContextWithClient].
// It never returns a non-nil client with false.
func ClientFromContext(ctx context.Context) (*models.Client, bool) {
	client, ok := ctx.Value(clientKey).(*models.Client)
	return client, ok && client != nil
}

// MustClientFromContext retrieves the client, panicking if none is present.
// Use it only in code that runs after authentication succeeded.
func MustClientFromContext(ctx context.Context) *models.Client {
	client, ok := ClientFromContext(ctx)
	if !ok {
		panic("auth: no client in context; authentication has not run")
	}
	return client
}

// ContextWithRequestID returns a new context carrying the request id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext retrieves the request id, or "" and false.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok && id != ""
}

// TraceIDFromContext extracts the OpenTelemetry trace ID from the context.
// Returns the trace ID as a hex string and true if a valid trace is active.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasTraceID() {
		return "", false
	}
	return spanCtx.TraceID().String(), true
}
