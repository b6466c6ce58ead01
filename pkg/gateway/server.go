package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/StricklySoft/stricklysoft-gateway/pkg/auth"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/cache"
	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/models"
)

// HeaderAdminToken carries the admin token on /admin routes.
const HeaderAdminToken = "X-Admin-Token"

// TokenIssuer mints bearer tokens for the /v1/auth/token route.
type TokenIssuer interface {
	Issue(ctx context.Context, apiKey, secret string) (*auth.IssuedToken, error)
}

// CacheAdmin is the cache control surface exposed under /admin.
type CacheAdmin interface {
	InvalidateFunction(ctx context.Context, identifier string) error
	InvalidateClient(ctx context.Context, id int64) error
	InvalidateRole(ctx context.Context, id int64) error
	FlushAll(ctx context.Context) error
	Stats() []cache.Stats
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// ServerDeps are the collaborators of the HTTP surface. Issuer and Caches
// may be nil, which leaves their routes unmounted.
type ServerDeps struct {
	Config   ServerConfig
	Pipeline *Pipeline
	Issuer   TokenIssuer
	Caches   CacheAdmin
	Guard    *Guard
	Health   map[string]HealthCheck
	Logger   *slog.Logger
}

type server struct {
	ServerDeps
}

// NewRouter returns the gateway's HTTP handler.
func NewRouter(d ServerDeps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	s := &server{ServerDeps: d}

	r := chi.NewRouter()
	if d.Config.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	if len(d.Config.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: d.Config.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", auth.APIKeyHeader, auth.APISecretHeader, HeaderRequestID},
			ExposedHeaders: []string{HeaderRequestID, HeaderRateLimitLimit, HeaderRateLimitRemaining, HeaderRateLimitReset, HeaderRetryAfter},
			MaxAge:         300,
		}))
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, sserr.New(sserr.CodeNotFound, "route not found").WithStatus(http.StatusNotFound, "NOT_FOUND"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, sserr.New(sserr.CodeValidation, "method not allowed").WithStatus(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"))
	})

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(d.Guard.Middleware)
		r.Get("/v1/functions/{identifier}", s.handleFunction)
		r.Post("/v1/functions/{identifier}", s.handleFunction)
		if d.Issuer != nil {
			r.Post("/v1/auth/token", s.handleToken)
		}
	})

	if d.Caches != nil && d.Config.AdminToken.Value() != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/cache/stats", s.handleCacheStats)
			r.Post("/cache/flush", s.handleCacheFlush)
			r.Post("/cache/functions/{identifier}/invalidate", s.handleInvalidateFunction)
			r.Post("/cache/clients/{id}/invalidate", s.handleInvalidateClient)
			r.Post("/cache/roles/{id}/invalidate", s.handleInvalidateRole)
		})
	}
	return r
}

// requestID adopts a caller-supplied UUID request id or mints one, and
// echoes it on the response.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if _, err := uuid.Parse(id); err != nil {
			id = models.NewRequestID()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(auth.ContextWithRequestID(r.Context(), id)))
	})
}

func (s *server) handleFunction(w http.ResponseWriter, r *http.Request) {
	params, perr := s.decodeParams(w, r)
	id, _ := auth.RequestIDFromContext(r.Context())
	out := s.Pipeline.Handle(r.Context(), Request{
		HTTP:       r,
		RequestID:  id,
		Identifier: chi.URLParam(r, "identifier"),
		Params:     params,
		ParamsErr:  perr,
	})
	writeOutcome(w, r, out)
}

// decodeParams merges query parameters with a JSON object body; body keys
// win. The api_key query parameter is a credential, not an argument.
func (s *server) decodeParams(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	params := make(map[string]any)
	for k, v := range r.URL.Query() {
		if k == auth.APIKeyQuery || len(v) == 0 {
			continue
		}
		params[k] = v[0]
	}
	if r.Body == nil || r.Method == http.MethodGet {
		return params, nil
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.Config.MaxBodyBytes))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return params, nil
		}
		return params, bodyError(err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return params, sserr.Validation("request body must hold a single JSON object")
	}
	for k, v := range body {
		params[k] = v
	}
	return params, nil
}

func bodyError(err error) *sserr.Error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return sserr.Wrapf(err, sserr.CodeValidationRange, "request body exceeds %d bytes", tooLarge.Limit)
	}
	return sserr.Wrap(err, sserr.CodeValidation, "request body must be a JSON object")
}

type tokenRequest struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

func (s *server) handleToken(w http.ResponseWriter, r *http.Request) {
	req := tokenRequest{
		APIKey:    r.Header.Get(auth.APIKeyHeader),
		APISecret: r.Header.Get(auth.APISecretHeader),
	}
	if req.APIKey == "" && r.Body != nil {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.Config.MaxBodyBytes))
		if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, r, bodyError(err))
			return
		}
	}

	tok, err := s.Issuer.Issue(r.Context(), req.APIKey, req.APISecret)
	if err != nil {
		e := sserr.FromError(err)
		s.Logger.WarnContext(r.Context(), "token request rejected",
			slog.String("code", e.PublicCode()),
			slog.String("remote_addr", r.RemoteAddr),
		)
		writeError(w, r, e)
		return
	}
	writeData(w, r, http.StatusOK, tok)
}

type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	report := healthReport{Status: "ok", Checks: make(map[string]string, len(s.Health))}
	status := http.StatusOK
	for name, check := range s.Health {
		if err := check(ctx); err != nil {
			report.Checks[name] = "unavailable"
			report.Status = "degraded"
			status = http.StatusServiceUnavailable
			s.Logger.WarnContext(ctx, "health check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.Checks[name] = "ok"
	}
	writeJSON(w, status, report)
}

func (s *server) requireAdmin(next http.Handler) http.Handler {
	want := []byte(s.Config.AdminToken.Value())
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(HeaderAdminToken)
		if got == "" {
			writeError(w, r, sserr.AuthenticationRequired())
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			s.Logger.WarnContext(r.Context(), "admin token rejected", slog.String("remote_addr", r.RemoteAddr))
			writeError(w, r, sserr.InvalidCredentials(nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeData(w, r, http.StatusOK, s.Caches.Stats())
}

func (s *server) handleCacheFlush(w http.ResponseWriter, r *http.Request) {
	s.adminResult(w, r, s.Caches.FlushAll(r.Context()))
}

func (s *server) handleInvalidateFunction(w http.ResponseWriter, r *http.Request) {
	s.adminResult(w, r, s.Caches.InvalidateFunction(r.Context(), chi.URLParam(r, "identifier")))
}

func (s *server) handleInvalidateClient(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.adminResult(w, r, s.Caches.InvalidateClient(r.Context(), id))
}

func (s *server) handleInvalidateRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.adminResult(w, r, s.Caches.InvalidateRole(r.Context(), id))
}

func (s *server) adminResult(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, map[string]bool{"invalidated": true})
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, sserr.Validationf("invalid id %q", raw)
	}
	return id, nil
}
