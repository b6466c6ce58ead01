// Package fixtures provides shared test data constants and factory
// functions for the gateway test suite.
//
// Using common constants for clients, roles and functions prevents magic
// strings in tests and keeps seeded data consistent across packages.
package fixtures

import (
	"time"

	"github.com/StricklySoft/stricklysoft-gateway/pkg/models"
)

// Standard client values used across auth, authz and gateway tests.
const (
	// ClientID is the default client ID for unit tests.
	ClientID int64 = 101

	// ClientName is the default client name for unit tests.
	ClientName = "test-client"

	// APIKey is the API key issued to the default client.
	APIKey = "gk_live_3f9a2c71e8d04b6a"

	// APISecret is the plaintext secret paired with APIKey.
	// This is a deliberately weak value suitable only for unit tests.
	APISecret = "s3cret-for-tests"

	// BearerToken is an opaque token issued to the default client.
	BearerToken = "tok_8c1e4d2b9a7f"

	// AltClientID is an alternative client ID for tests requiring two clients.
	AltClientID int64 = 202

	// AltAPIKey is the API key issued to the alternative client.
	AltAPIKey = "gk_live_77aa01bb23cc45dd"
)

// Standard role and function values used in authorization tests.
const (
	// RoleID is the role granted to the default client.
	RoleID int64 = 11

	// FunctionID is the ID of the default function.
	FunctionID int64 = 501

	// FunctionIdentifier is the public identifier of the default function.
	FunctionIdentifier = "get_customer"

	// FunctionProcedure is the stored procedure behind the default function.
	FunctionProcedure = "api.get_customer"

	// OtherFunctionID is a function the default role is not granted.
	OtherFunctionID int64 = 502
)

// Database values used by gateway configuration tests.
const (
	// TestDBName is the database name for test configurations.
	TestDBName = "testdb"

	// TestDBUser is the database user for test configurations.
	TestDBUser = "testuser"
)

// Client returns the default active API-key client with RoleID attached.
// SecretHash is left empty; tests exercising secrets set it themselves.
func Client() *models.Client {
	return &models.Client{
		ID:         ClientID,
		Name:       ClientName,
		Kind:       models.ClientKindAPIKey,
		APIKey:     APIKey,
		Active:     true,
		RateLimit:  "100/minute",
		RateWindow: 60,
		RoleIDs:    []int64{RoleID},
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// Function returns the default active function with one required integer
// parameter and one optional string parameter.
func Function() *models.FunctionDefinition {
	limit := "10"
	return &models.FunctionDefinition{
		ID:         FunctionID,
		Identifier: FunctionIdentifier,
		Name:       "Get customer",
		Procedure:  FunctionProcedure,
		Active:     true,
		Parameters: []models.ParameterSpec{
			{Name: "customer_id", Type: models.ParamInteger, Required: true, Target: "p_customer_id", Position: 1},
			{Name: "limit", Type: models.ParamInteger, Default: &limit, Target: "p_limit", Position: 2},
		},
		Responses: []models.ResponseMapping{
			{Field: "id", Source: "customer_id", Type: models.ParamInteger},
			{Field: "name", Source: "full_name", Type: models.ParamString},
		},
		Errors: []models.ErrorMapping{
			{Code: "P0002", HTTPStatus: 404, Message: "customer not found"},
		},
		UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// ExecutePermission returns a permission granting RoleID execute on
// functionID. A nil functionID produces a wildcard grant.
func ExecutePermission(id int64, functionID *int64) models.Permission {
	return models.Permission{
		ID:           id,
		RoleID:       RoleID,
		ResourceKind: models.ResourceFunction,
		ResourceID:   functionID,
		Action:       models.ActionExecute,
	}
}
