package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-gateway/internal/testutil/fixtures"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/audit"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/auth"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/authz"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/cache"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/executor"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/functions"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/models"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/ratelimit"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/store"
)

const testAdminToken = "admin-token-for-tests"

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeExecutor struct {
	mu    sync.Mutex
	calls []functions.Args
	data  []map[string]any
	err   error
}

func (f *fakeExecutor) Execute(_ context.Context, _ *models.FunctionDefinition, args functions.Args) (executor.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, args)
	if f.err != nil {
		return executor.Result{}, f.err
	}
	data := f.data
	if data == nil {
		data = []map[string]any{}
	}
	return executor.Result{Data: data, Rows: len(data)}, nil
}

func (f *fakeExecutor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *recordingSink) Record(_ context.Context, e models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) Events() []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Event(nil), s.events...)
}

func (s *recordingSink) Last(t *testing.T) models.Event {
	t.Helper()
	events := s.Events()
	require.NotEmpty(t, events, "no audit event recorded")
	return events[len(events)-1]
}

// harness wires real components over in-memory backends.
type harness struct {
	store    *store.Memory
	exec     *fakeExecutor
	sink     *recordingSink
	pipeline *Pipeline
	handler  http.Handler
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newHarness seeds the default client, function and role, granting the
// client execute on the default function only.
func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := quietLogger()

	st := store.NewMemory()
	st.PutClient(fixtures.Client())
	st.PutFunction(fixtures.Function())
	fnID := fixtures.FunctionID
	st.PutRole(models.Role{ID: fixtures.RoleID, Name: "reader"}, fixtures.ExecutePermission(1, &fnID))

	backend := cache.NewLRUBackend(1000, time.Hour)
	identity := cache.New[models.Client](cache.NameIdentity, backend, time.Minute, logger)
	permissions := cache.New[authz.Entry](cache.NamePermission, backend, time.Minute, logger)
	configuration := cache.New[models.FunctionDefinition](cache.NameConfiguration, backend, time.Minute, logger)

	exec := &fakeExecutor{}
	sink := &recordingSink{}
	pipeline := NewPipeline(Deps{
		Authenticator: auth.NewDispatcher(logger, auth.NewAPIKeyValidator(st, identity, logger)),
		Authorizer:    authz.NewEngine(st, permissions, logger),
		Limiter: ratelimit.New(ratelimit.NewMemoryWindowStore(),
			ratelimit.WithClock(func() time.Time { return testNow }),
			ratelimit.WithLogger(logger),
		),
		Resolver:      functions.NewResolver(st, configuration, logger),
		Executor:      exec,
		Audit:         audit.NewRecorder(sink, logger),
		Logger:        logger,
		DefaultBudget: "100/minute",
		DefaultWindow: time.Minute,
	})

	handler := NewRouter(ServerDeps{
		Config: ServerConfig{
			MaxBodyBytes: 1 << 10,
			AdminToken:   auth.Secret(testAdminToken),
		},
		Pipeline: pipeline,
		Caches:   cache.NewCoordinator(configuration, permissions, identity, logger, backend),
		Health: map[string]HealthCheck{
			"store": st.Health,
		},
		Logger: logger,
	})

	return &harness{store: st, exec: exec, sink: sink, pipeline: pipeline, handler: handler}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
	Meta struct {
		RequestID     string   `json:"request_id"`
		ExecutionTime *float64 `json:"execution_time"`
	} `json:"meta"`
}

// call sends a request and decodes the response envelope. A nil headers
// map sends no credential.
func (h *harness) call(t *testing.T, method, target, body string, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return rec, env
}

func withKey(key string) map[string]string {
	return map[string]string{auth.APIKeyHeader: key}
}

// serve sends a request and returns the raw recorder.
func serve(h *harness, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}
