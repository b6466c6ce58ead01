package store

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"

	"github.com/StricklySoft/stricklysoft-gateway/pkg/clients/postgres"
	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/models"
)

var clientColumns = []string{
	"id", "name", "kind", "api_key", "secret_hash", "is_active",
	"rate_limit", "rate_window", "provider", "external_id",
	"created_at", "last_seen_at", "role_ids",
}

var created = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *Postgres) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock, NewPostgres(postgres.NewFromPool(mock, &postgres.Config{Database: "gateway"}))
}

func q(s string) string { return regexp.QuoteMeta(s) }

func expectationsMet(t *testing.T, mock pgxmock.PgxPoolIface) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

// ===========================================================================
// Clients
// ===========================================================================

func TestPostgres_FindClientByKey(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectQuery(q("WHERE c.api_key = $1")).
		WithArgs("gk_live_1").
		WillReturnRows(pgxmock.NewRows(clientColumns).AddRow(
			int64(7), "acme", models.ClientKindAPIKey, "gk_live_1", "", true,
			"5/60s", 60, "", "", created, nil, []int64{11, 12}))

	c, err := s.FindClientByKey(context.Background(), "gk_live_1")
	if err != nil {
		t.Fatalf("FindClientByKey() error: %v", err)
	}
	if c.ID != 7 || c.Name != "acme" || !c.Active {
		t.Errorf("client = %+v", c)
	}
	if c.Kind != models.ClientKindAPIKey {
		t.Errorf("Kind = %q, want api_key", c.Kind)
	}
	if !reflect.DeepEqual(c.RoleIDs, []int64{11, 12}) {
		t.Errorf("RoleIDs = %v, want [11 12]", c.RoleIDs)
	}
	if c.LastSeenAt != nil {
		t.Errorf("LastSeenAt = %v, want nil", c.LastSeenAt)
	}
	expectationsMet(t, mock)
}

func TestPostgres_FindClientByKey_NotFound(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectQuery(q("WHERE c.api_key = $1")).
		WithArgs("nope").
		WillReturnRows(pgxmock.NewRows(clientColumns))

	_, err := s.FindClientByKey(context.Background(), "nope")
	if !sserr.HasCode(err, sserr.CodeClientNotFound) {
		t.Fatalf("error = %v, want %s", err, sserr.CodeClientNotFound)
	}
	expectationsMet(t, mock)
}

func TestPostgres_FindClientByID_DatabaseError(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectQuery(q("WHERE c.id = $1")).
		WithArgs(int64(7)).
		WillReturnError(errors.New("connection reset"))

	_, err := s.FindClientByID(context.Background(), 7)
	if err == nil {
		t.Fatal("expected error")
	}
	if sserr.IsNotFound(err) {
		t.Error("infrastructure failure must not read as not found")
	}
	if !sserr.HasCode(err, sserr.CodeInternalDatabase) {
		t.Errorf("code = %s, want %s", sserr.GetCode(err), sserr.CodeInternalDatabase)
	}
}

// ===========================================================================
// Tokens
// ===========================================================================

func TestPostgres_FindToken(t *testing.T) {
	mock, s := newMockStore(t)
	expires := created.Add(time.Hour)

	mock.ExpectQuery(q("FROM gateway_token WHERE token = $1")).
		WithArgs("tok").
		WillReturnRows(pgxmock.NewRows([]string{"token", "client_id", "expires_at", "last_used_at"}).
			AddRow("tok", int64(7), &expires, nil))

	tok, err := s.FindToken(context.Background(), "tok")
	if err != nil {
		t.Fatalf("FindToken() error: %v", err)
	}
	if tok.ClientID != 7 || tok.ExpiresAt == nil || !tok.ExpiresAt.Equal(expires) {
		t.Errorf("token = %+v", tok)
	}
	expectationsMet(t, mock)
}

func TestPostgres_TouchToken(t *testing.T) {
	mock, s := newMockStore(t)
	at := created.Add(time.Minute)

	mock.ExpectExec(q("UPDATE gateway_token SET last_used_at = $2")).
		WithArgs("tok", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(q("UPDATE gateway_token SET last_used_at = $2")).
		WithArgs("gone", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := s.TouchToken(context.Background(), "tok", at); err != nil {
		t.Fatalf("TouchToken() error: %v", err)
	}
	if err := s.TouchToken(context.Background(), "gone", at); !sserr.IsNotFound(err) {
		t.Errorf("TouchToken(gone) = %v, want not found", err)
	}
	expectationsMet(t, mock)
}

// ===========================================================================
// Delegated provisioning
// ===========================================================================

func delegated() DelegatedClient {
	return DelegatedClient{
		Provider:      "google",
		ExternalID:    "sub-1",
		APIKey:        "oauth_abc",
		Name:          "google:sub-1",
		RateLimit:     "100/hour",
		RateWindow:    3600,
		DefaultRoleID: 11,
	}
}

func TestPostgres_FindOrCreateDelegated_Creates(t *testing.T) {
	mock, s := newMockStore(t)
	d := delegated()

	mock.ExpectBegin()
	mock.ExpectQuery(q("INSERT INTO gateway_client")).
		WithArgs(d.Name, d.APIKey, d.RateLimit, d.RateWindow, d.Provider, d.ExternalID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1001)))
	mock.ExpectExec(q("INSERT INTO gateway_client_role")).
		WithArgs(int64(1001), int64(11)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectQuery(q("WHERE c.api_key = $1")).
		WithArgs(d.APIKey).
		WillReturnRows(pgxmock.NewRows(clientColumns).AddRow(
			int64(1001), d.Name, models.ClientKindOAuth, d.APIKey, "", true,
			d.RateLimit, d.RateWindow, d.Provider, d.ExternalID, created, nil, []int64{11}))

	c, isNew, err := s.FindOrCreateDelegated(context.Background(), d)
	if err != nil {
		t.Fatalf("FindOrCreateDelegated() error: %v", err)
	}
	if !isNew {
		t.Error("created = false, want true")
	}
	if c.ID != 1001 || c.Kind != models.ClientKindOAuth || !c.HasRole(11) {
		t.Errorf("client = %+v", c)
	}
	expectationsMet(t, mock)
}

func TestPostgres_FindOrCreateDelegated_Existing(t *testing.T) {
	mock, s := newMockStore(t)
	d := delegated()

	mock.ExpectBegin()
	mock.ExpectQuery(q("INSERT INTO gateway_client")).
		WithArgs(d.Name, d.APIKey, d.RateLimit, d.RateWindow, d.Provider, d.ExternalID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectRollback()
	mock.ExpectQuery(q("WHERE c.api_key = $1")).
		WithArgs(d.APIKey).
		WillReturnRows(pgxmock.NewRows(clientColumns).AddRow(
			int64(900), d.Name, models.ClientKindOAuth, d.APIKey, "", true,
			d.RateLimit, d.RateWindow, d.Provider, d.ExternalID, created, nil, []int64{11}))

	c, isNew, err := s.FindOrCreateDelegated(context.Background(), d)
	if err != nil {
		t.Fatalf("FindOrCreateDelegated() error: %v", err)
	}
	if isNew {
		t.Error("created = true, want false")
	}
	if c.ID != 900 {
		t.Errorf("ID = %d, want 900", c.ID)
	}
	expectationsMet(t, mock)
}

// ===========================================================================
// Functions
// ===========================================================================

func expectFunction(mock pgxmock.PgxPoolIface, activeOnly bool) {
	sql := "FROM gateway_function\nWHERE identifier = $1"
	if activeOnly {
		sql += " AND is_active"
	}
	def := "10"
	mock.ExpectQuery(q(sql)).
		WithArgs("get_customer").
		WillReturnRows(pgxmock.NewRows([]string{"id", "identifier", "name", "procedure_name", "description", "is_active", "updated_at"}).
			AddRow(int64(501), "get_customer", "Get customer", "api.get_customer", "", true, created))
	mock.ExpectQuery(q("FROM gateway_function_parameter")).
		WithArgs(int64(501)).
		WillReturnRows(pgxmock.NewRows([]string{"name", "param_type", "is_required", "default_value", "validation_rule", "procedure_param_name", "position"}).
			AddRow("customer_id", models.ParamInteger, true, nil, "", "p_customer_id", 1).
			AddRow("limit", models.ParamInteger, false, &def, "", "p_limit", 2))
	mock.ExpectQuery(q("FROM gateway_function_response")).
		WithArgs(int64(501)).
		WillReturnRows(pgxmock.NewRows([]string{"field_name", "source_column", "field_type"}).
			AddRow("id", "customer_id", models.ParamInteger))
	mock.ExpectQuery(q("FROM gateway_function_error")).
		WithArgs(int64(501)).
		WillReturnRows(pgxmock.NewRows([]string{"error_code", "http_status", "error_message"}))
}

func TestPostgres_FindActiveFunctionByIdentifier(t *testing.T) {
	mock, s := newMockStore(t)
	expectFunction(mock, true)

	fn, err := s.FindActiveFunctionByIdentifier(context.Background(), "get_customer")
	if err != nil {
		t.Fatalf("FindActiveFunctionByIdentifier() error: %v", err)
	}
	if fn.ID != 501 || fn.Procedure != "api.get_customer" {
		t.Errorf("function = %+v", fn)
	}
	if len(fn.Parameters) != 2 {
		t.Fatalf("len(Parameters) = %d, want 2", len(fn.Parameters))
	}
	if fn.Parameters[0].Default != nil {
		t.Errorf("Parameters[0].Default = %v, want nil", *fn.Parameters[0].Default)
	}
	if fn.Parameters[1].Default == nil || *fn.Parameters[1].Default != "10" {
		t.Errorf("Parameters[1].Default = %v, want 10", fn.Parameters[1].Default)
	}
	if len(fn.Responses) != 1 || fn.Responses[0].SourceColumn() != "customer_id" {
		t.Errorf("Responses = %+v", fn.Responses)
	}
	if fn.Errors == nil || len(fn.Errors) != 0 {
		t.Errorf("Errors = %#v, want empty non-nil slice", fn.Errors)
	}
	expectationsMet(t, mock)
}

func TestPostgres_FindFunctionByIdentifier_IgnoresActive(t *testing.T) {
	mock, s := newMockStore(t)
	expectFunction(mock, false)

	if _, err := s.FindFunctionByIdentifier(context.Background(), "get_customer"); err != nil {
		t.Fatalf("FindFunctionByIdentifier() error: %v", err)
	}
	expectationsMet(t, mock)
}

func TestPostgres_FindFunction_NotFound(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectQuery(q("FROM gateway_function")).
		WithArgs("orders.create").
		WillReturnRows(pgxmock.NewRows([]string{"id", "identifier", "name", "procedure_name", "description", "is_active", "updated_at"}))

	_, err := s.FindActiveFunctionByIdentifier(context.Background(), "orders.create")
	if !sserr.HasCode(err, sserr.CodeFunctionNotFound) {
		t.Fatalf("error = %v, want %s", err, sserr.CodeFunctionNotFound)
	}
	expectationsMet(t, mock)
}

// ===========================================================================
// Roles and permissions
// ===========================================================================

func TestPostgres_FindRolesForClient(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectQuery(q("JOIN gateway_client_role cr ON cr.role_id = r.id")).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "description"}).
			AddRow(int64(11), "user", "").
			AddRow(int64(12), "admin", "full access"))

	roles, err := s.FindRolesForClient(context.Background(), 7)
	if err != nil {
		t.Fatalf("FindRolesForClient() error: %v", err)
	}
	if len(roles) != 2 || roles[1].Name != "admin" {
		t.Errorf("roles = %+v", roles)
	}
	expectationsMet(t, mock)
}

func TestPostgres_FindPermissionsForRole(t *testing.T) {
	mock, s := newMockStore(t)
	fid := int64(501)

	mock.ExpectQuery(q("FROM gateway_permission")).
		WithArgs(int64(11)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "role_id", "resource_kind", "resource_id", "action"}).
			AddRow(int64(1), int64(11), models.ResourceFunction, &fid, models.ActionExecute).
			AddRow(int64(2), int64(11), models.ResourceFunction, nil, models.ActionRead))

	perms, err := s.FindPermissionsForRole(context.Background(), 11)
	if err != nil {
		t.Fatalf("FindPermissionsForRole() error: %v", err)
	}
	if len(perms) != 2 {
		t.Fatalf("len(perms) = %d, want 2", len(perms))
	}
	if perms[0].IsWildcard() || *perms[0].ResourceID != 501 {
		t.Errorf("perms[0] = %+v, want resource 501", perms[0])
	}
	if !perms[1].IsWildcard() {
		t.Errorf("perms[1] = %+v, want wildcard", perms[1])
	}
	expectationsMet(t, mock)
}

func TestPostgres_Migrate(t *testing.T) {
	mock, s := newMockStore(t)

	mock.ExpectExec(q("CREATE TABLE IF NOT EXISTS gateway_role")).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	expectationsMet(t, mock)
}
