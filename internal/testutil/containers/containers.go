//go:build integration

// Package containers provides testcontainers-go helpers for integration
// testing against real PostgreSQL, Redis and MinIO.
//
// All helpers in this package are gated behind the "integration" build
// tag so they do not pull Docker-related dependencies into unit test
// builds. Use them exclusively from test files that carry the same tag:
//
//	//go:build integration
//
// The caller owns the returned container:
//
//	result, err := containers.StartPostgres(ctx)
//	if err != nil { ... }
//	defer result.Container.Terminate(ctx)
package containers

import (
	"context"
	"fmt"

	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// DefaultPostgresImage is the container image used for PostgreSQL
// integration tests.
const DefaultPostgresImage = "docker.io/postgres:16-alpine"

// Credentials for the PostgreSQL container. They are deliberately weak and
// only suitable for ephemeral containers.
const (
	DefaultPostgresDatabase = "gateway_test"
	DefaultPostgresUser     = "testuser"
	DefaultPostgresPassword = "testpassword"
)

// PostgresResult holds a started PostgreSQL container and a connection
// string for [postgres.Config.URI]. ConnString includes sslmode=disable.
type PostgresResult struct {
	Container  *tcpostgres.PostgresContainer
	ConnString string
}

// StartPostgres starts a PostgreSQL 16 container and waits until it
// accepts connections. If the connection string cannot be read the
// container is terminated before returning.
func StartPostgres(ctx context.Context) (*PostgresResult, error) {
	container, err := tcpostgres.Run(ctx,
		DefaultPostgresImage,
		tcpostgres.WithDatabase(DefaultPostgresDatabase),
		tcpostgres.WithUsername(DefaultPostgresUser),
		tcpostgres.WithPassword(DefaultPostgresPassword),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get connection string: %w", err)
	}
	return &PostgresResult{Container: container, ConnString: connStr}, nil
}

// DefaultRedisImage is the container image used for Redis integration
// tests.
const DefaultRedisImage = "docker.io/redis:7-alpine"

// RedisResult holds a started Redis container and its redis:// URI.
type RedisResult struct {
	Container  *tcredis.RedisContainer
	ConnString string
}

// StartRedis starts an unauthenticated Redis 7 container.
func StartRedis(ctx context.Context) (*RedisResult, error) {
	container, err := tcredis.Run(ctx, DefaultRedisImage)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start redis container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get redis connection string: %w", err)
	}
	return &RedisResult{Container: container, ConnString: connStr}, nil
}

// DefaultMinIOImage is the container image used for object storage
// integration tests.
const DefaultMinIOImage = "docker.io/minio/minio:latest"

// Root credentials for the MinIO container.
const (
	DefaultMinIOAccessKey = "minioadmin"
	DefaultMinIOSecretKey = "minioadmin"
)

// MinIOResult holds a started MinIO container. Endpoint is host:port
// without a scheme.
type MinIOResult struct {
	Container *tcminio.MinioContainer
	Endpoint  string
	AccessKey string
	SecretKey string
}

// StartMinIO starts a MinIO container with the default root credentials.
func StartMinIO(ctx context.Context) (*MinIOResult, error) {
	container, err := tcminio.Run(ctx,
		DefaultMinIOImage,
		tcminio.WithUsername(DefaultMinIOAccessKey),
		tcminio.WithPassword(DefaultMinIOSecretKey),
	)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start minio container: %w", err)
	}

	endpoint, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get minio connection string: %w", err)
	}
	return &MinIOResult{
		Container: container,
		Endpoint:  endpoint,
		AccessKey: DefaultMinIOAccessKey,
		SecretKey: DefaultMinIOSecretKey,
	}, nil
}
