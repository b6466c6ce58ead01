package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/crypto/bcrypt"

	"github.com/StricklySoft/stricklysoft-gateway/internal/testutil"
	"github.com/StricklySoft/stricklysoft-gateway/internal/testutil/fixtures"
	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/models"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/store"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// testSigningKey is a 32-byte HMAC key used across bearer token tests.
const testSigningKey = "this-is-a-32-byte-test-signing-k"

func testConfig() Config {
	return Config{
		SigningKey:  testSigningKey,
		Issuer:      "stricklysoft-gateway",
		ClockSkew:   30 * time.Second,
		TokenTTL:    time.Hour,
		IdentityTTL: time.Minute,
		Delegated: DelegatedConfig{
			Provider:   "acme",
			Scheme:     "OAuth",
			RateLimit:  "100/hour",
			RateWindow: 3600,
		},
	}
}

func hashSecret(t *testing.T, secret string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err, "failed to hash secret")
	return string(h)
}

// seededStore returns a store holding the default api_key client and an
// opaque token issued to it.
func seededStore(t *testing.T) *store.Memory {
	t.Helper()
	s := store.NewMemory()
	s.PutClient(fixtures.Client())
	s.PutToken(&models.Token{Value: fixtures.BearerToken, ClientID: fixtures.ClientID})
	return s
}

func newRequest(headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/v1/functions/"+fixtures.FunctionIdentifier, nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

// stubValidator records whether it was consulted.
type stubValidator struct {
	name      string
	header    string
	client    *models.Client
	err       error
	validated int
}

func (s *stubValidator) Name() string { return s.name }

func (s *stubValidator) Extract(r *http.Request) (models.Credential, bool) {
	v := r.Header.Get(s.header)
	return models.Credential{Value: v}, v != ""
}

func (s *stubValidator) Validate(context.Context, models.Credential) (*models.Client, error) {
	s.validated++
	return s.client, s.err
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

func TestDispatcher_NoCredential(t *testing.T) {
	d := NewDispatcher(nil, NewBearerValidator(testConfig(), seededStore(t), nil),
		NewAPIKeyValidator(seededStore(t), nil, nil))

	_, err := d.Authenticate(context.Background(), newRequest(nil))
	testutil.AssertPublicError(t, err, http.StatusUnauthorized, sserr.PublicAuthenticationRequired)
}

func TestDispatcher_FirstMatchIsExclusive(t *testing.T) {
	first := &stubValidator{name: "first", header: "X-First", err: sserr.InvalidCredentials(nil)}
	second := &stubValidator{name: "second", header: "X-Second", client: fixtures.Client()}
	d := NewDispatcher(nil, first, second)

	_, err := d.Authenticate(context.Background(), newRequest(map[string]string{
		"X-First":  "a",
		"X-Second": "b",
	}))

	testutil.AssertErrorCode(t, err, sserr.CodeInvalidCredentials)
	assert.Equal(t, 1, first.validated)
	assert.Equal(t, 0, second.validated, "second strategy must not run once the first matched")
}

func TestDispatcher_FallsThroughToLaterScheme(t *testing.T) {
	first := &stubValidator{name: "first", header: "X-First"}
	second := &stubValidator{name: "second", header: "X-Second", client: fixtures.Client()}
	d := NewDispatcher(nil, first, nil, second)

	client, err := d.Authenticate(context.Background(), newRequest(map[string]string{"X-Second": "b"}))
	require.NoError(t, err)
	assert.Equal(t, fixtures.ClientID, client.ID)
	assert.Equal(t, []string{"first", "second"}, d.Validators())
}

func TestDispatcher_OrderBearerBeforeAPIKey(t *testing.T) {
	s := seededStore(t)
	d := NewDispatcher(nil,
		NewBearerValidator(testConfig(), s, nil),
		NewAPIKeyValidator(s, nil, nil),
	)

	// A bad bearer token is rejected even though a valid API key is present.
	_, err := d.Authenticate(context.Background(), newRequest(map[string]string{
		"Authorization": "Bearer nope",
		APIKeyHeader:    fixtures.APIKey,
	}))
	testutil.AssertPublicError(t, err, http.StatusUnauthorized, sserr.PublicInvalidCredentials)
}

func TestDispatcher_InactiveClientFromValidator(t *testing.T) {
	inactive := fixtures.Client()
	inactive.Active = false
	v := &stubValidator{name: "stub", header: "X-Stub", client: inactive}
	d := NewDispatcher(nil, v)

	_, err := d.Authenticate(context.Background(), newRequest(map[string]string{"X-Stub": "x"}))
	testutil.AssertErrorCode(t, err, sserr.CodeInvalidCredentials)
}

func TestDispatcher_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   sserr.Code
		status int
	}{
		{"not found becomes invalid", sserr.New(sserr.CodeClientNotFound, "client not found"), sserr.CodeInvalidCredentials, 401},
		{"expired stays expired", sserr.New(sserr.CodeCredentialExpired, "expired"), sserr.CodeCredentialExpired, 401},
		{"database error passes through", sserr.New(sserr.CodeInternalDatabase, "down"), sserr.CodeInternalDatabase, 500},
		{"uncoded error is internal", errors.New("boom"), sserr.CodeInternal, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDispatcher(nil, &stubValidator{name: "stub", header: "X-Stub", err: tt.err})
			_, err := d.Authenticate(context.Background(), newRequest(map[string]string{"X-Stub": "x"}))
			testutil.AssertErrorCode(t, err, tt.code)
			e, _ := sserr.AsError(err)
			require.NotNil(t, e)
			assert.Equal(t, tt.status, e.HTTPStatus())
		})
	}
}

func TestDispatcher_RecordsSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	d := NewDispatcher(nil, &stubValidator{name: "stub", header: "X-Stub", err: sserr.InvalidCredentials(nil)})
	_, err := d.Authenticate(context.Background(), newRequest(map[string]string{"X-Stub": "x"}))
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "auth.Authenticate", spans[0].Name)
	assert.NotEmpty(t, spans[0].Events, "rejection should be recorded on the span")
}

func TestAuthorizationValue(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Bearer   abc  ", "abc", true},
		{"Bearer", "", true},
		{"Bearerabc", "", false},
		{"OAuth abc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		r := newRequest(map[string]string{"Authorization": tt.header})
		got, ok := authorizationValue(r, bearerScheme)
		assert.Equal(t, tt.ok, ok, "header %q", tt.header)
		assert.Equal(t, tt.want, got, "header %q", tt.header)
	}
}

func TestFingerprint_Separates(t *testing.T) {
	assert.NotEqual(t, fingerprint("ab", "c"), fingerprint("a", "bc"))
	assert.Equal(t, fingerprint("a", "b"), fingerprint("a", "b"))
	assert.Len(t, fingerprint("x"), 64)
}
