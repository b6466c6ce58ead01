// Package store defines the credential store the gateway reads clients,
// roles, permissions, tokens and function definitions from, with a
// PostgreSQL implementation for production and an in-memory one for tests
// and local runs.
//
// Lookups that find nothing return an [sserr.Error] in the NF category
// ([sserr.CodeClientNotFound], [sserr.CodeFunctionNotFound] or
// [sserr.CodeNotFound]); callers test with [sserr.IsNotFound]. Every other
// error is an infrastructure failure.
package store

import (
	"context"
	"time"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/models"
)

// CredentialStore is the read side of the admin backend's records plus the
// two writes the gateway is allowed: token last-used markers and delegated
// client provisioning.
type CredentialStore interface {
	FindClientByKey(ctx context.Context, apiKey string) (*models.Client, error)
	FindClientByID(ctx context.Context, id int64) (*models.Client, error)

	FindToken(ctx context.Context, value string) (*models.Token, error)
	TouchToken(ctx context.Context, value string, at time.Time) error

	// FindOrCreateDelegated returns the client registered under d.APIKey,
	// provisioning it on first sight. created reports whether it was new.
	FindOrCreateDelegated(ctx context.Context, d DelegatedClient) (client *models.Client, created bool, err error)

	FindActiveFunctionByIdentifier(ctx context.Context, identifier string) (*models.FunctionDefinition, error)
	FindFunctionByIdentifier(ctx context.Context, identifier string) (*models.FunctionDefinition, error)

	FindRolesForClient(ctx context.Context, clientID int64) ([]models.Role, error)
	FindPermissionsForRole(ctx context.Context, roleID int64) ([]models.Permission, error)

	Health(ctx context.Context) error
}

// DelegatedClient describes a client to provision for a delegated identity.
type DelegatedClient struct {
	Provider   string
	ExternalID string

	// APIKey is the synthetic lookup key derived from Provider and
	// ExternalID.
	APIKey string
	Name   string

	RateLimit  string
	RateWindow int

	// DefaultRoleID is assigned on creation when non-zero.
	DefaultRoleID int64
}

func clientNotFound() *sserr.Error {
	return sserr.New(sserr.CodeClientNotFound, "client not found")
}

func tokenNotFound() *sserr.Error {
	return sserr.New(sserr.CodeNotFound, "token not found")
}
