// Package minio provides an S3-compatible object storage client with
// OpenTelemetry tracing and structured errors. The gateway uses it to
// archive audit events.
//
// For testing, inject a fake store with [NewFromStore]:
//
//	client := minio.NewFromStore(fake, nil)
package minio

import (
	"context"
	"errors"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
const tracerName = "github.com/StricklySoft/stricklysoft-gateway/pkg/clients/minio"

// ObjectStore defines the object storage operations the gateway needs. It
// is satisfied by [*minio.Client] and by fakes in unit tests, injected
// through [NewFromStore].
type ObjectStore interface {
	// PutObject uploads objectSize bytes read from reader as one object.
	// A size of -1 streams with multipart upload.
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)

	// BucketExists reports whether a bucket exists and is accessible.
	BucketExists(ctx context.Context, bucketName string) (bool, error)

	// MakeBucket creates a bucket in the given region.
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

// Compile-time check that *minio.Client satisfies ObjectStore.
var _ ObjectStore = (*minio.Client)(nil)

// Client is an S3-compatible object storage client with OpenTelemetry
// tracing and structured error handling. It wraps an [ObjectStore]
// (typically [*minio.Client]) and records a client span per operation.
//
// A Client is safe for concurrent use by multiple goroutines. The audit
// archiver holds one for the life of the process.
//
// Create a Client with [NewClient] for production use, or [NewFromStore]
// for testing with fakes.
type Client struct {
	store  ObjectStore
	config *Config
	tracer trace.Tracer
}

// NewClient creates an object storage client. It validates cfg, builds
// the SDK client with static V4 credentials and verifies connectivity by
// checking the health bucket. A missing health bucket is not an error; an
// unreachable server is.
//
// Error codes returned:
//   - [sserr.CodeValidation]: invalid configuration
//   - [sserr.CodeInternalConfiguration]: the SDK rejected the endpoint
//   - [sserr.CodeUnavailableDependency]: cannot reach the server
//
// Example:
//
//	client, err := minio.NewClient(ctx, minio.Config{
//	    Endpoint:  "minio.storage:9000",
//	    AccessKey: "gateway",
//	    SecretKey: minio.Secret(os.Getenv("GATEWAY_MINIO_SECRET_KEY")),
//	})
//	if err != nil {
//	    return fmt.Errorf("connecting to object storage: %w", err)
//	}
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation, "minio: invalid configuration")
	}

	sdk, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey.Value(), ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "minio: failed to create client")
	}
	if _, err := sdk.BucketExists(ctx, cfg.healthBucket()); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "minio: failed to connect to server")
	}

	return &Client{store: sdk, config: &cfg, tracer: otel.Tracer(tracerName)}, nil
}

// NewFromStore creates a Client around a pre-existing [ObjectStore].
//
// cfg is stored but not validated; pass nil for a zero-value config.
//
// Example (testing):
//
//	client := minio.NewFromStore(fake, nil)
func NewFromStore(store ObjectStore, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Client{store: store, config: cfg, tracer: otel.Tracer(tracerName)}
}

// PutObject uploads one object and returns the server's upload info.
//
// All errors are wrapped as [*sserr.Error]:
//   - [sserr.CodeTimeoutDatabase] if the context deadline is exceeded
//   - [sserr.CodeInternalDatabase] for all other storage errors
//
// Example:
//
//	_, err := client.PutObject(ctx, "gateway-audit", "2026/05/01/batch.ndjson",
//	    bytes.NewReader(data), int64(len(data)),
//	    minio.PutObjectOptions{ContentType: "application/x-ndjson"})
func (c *Client) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	ctx, span := c.startSpan(ctx, "PutObject", bucketName, "PUT "+objectName)
	info, err := c.store.PutObject(ctx, bucketName, objectName, reader, objectSize, opts)
	finishSpan(span, err)
	if err != nil {
		return minio.UploadInfo{}, wrapError(err, "minio: put object failed")
	}
	return info, nil
}

// EnsureBucket creates bucketName in the configured region unless it
// already exists. Losing a creation race to another replica is not an
// error. Failures are classified like [Client.PutObject].
//
// Example:
//
//	if err := client.EnsureBucket(ctx, "gateway-audit"); err != nil {
//	    return err
//	}
func (c *Client) EnsureBucket(ctx context.Context, bucketName string) error {
	ctx, span := c.startSpan(ctx, "EnsureBucket", bucketName, "MAKE BUCKET "+bucketName)
	exists, err := c.store.BucketExists(ctx, bucketName)
	if err == nil && !exists {
		err = c.store.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: c.config.Region})
		if code := minio.ToErrorResponse(err).Code; code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			err = nil
		}
	}
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "minio: ensure bucket failed")
	}
	return nil
}

// Health verifies that the server is reachable by checking the configured
// health bucket. It applies [DefaultHealthTimeout] if ctx has no deadline.
//
// Returns nil if the server answers, whether or not the bucket exists, or
// a [*sserr.Error] with code [sserr.CodeUnavailableDependency] otherwise.
func (c *Client) Health(ctx context.Context) error {
	bucket := c.config.healthBucket()
	ctx, span := c.startSpan(ctx, "Health", bucket, "BucketExists "+bucket)
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}

	_, err := c.store.BucketExists(ctx, bucket)
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "minio: health check failed")
	}
	return nil
}

// Close is a no-op. The SDK uses a shared HTTP transport and holds no
// connections of its own; Close exists so the client fits the same
// shutdown path as the database clients.
func (c *Client) Close() {}

// startSpan starts a client span. The bucket is recorded as db.name.
func (c *Client) startSpan(ctx context.Context, operationName, bucketName, statement string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "minio."+operationName, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "minio"),
		attribute.String("db.name", bucketName),
		attribute.String("db.statement", truncateStatement(statement)),
	)
	return ctx, span
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// wrapError classifies deadline errors as TIMEOUT_002 and everything else
// as INT_002.
func wrapError(err error, message string) *sserr.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.Wrap(err, sserr.CodeTimeoutDatabase, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalDatabase, message)
}
