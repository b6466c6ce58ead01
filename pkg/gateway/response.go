package gateway

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/StricklySoft/stricklysoft-gateway/pkg/auth"
	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/ratelimit"
)

// Response headers.
const (
	HeaderRequestID          = "X-Request-ID"
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

type meta struct {
	RequestID string `json:"request_id"`

	// ExecutionTime is in milliseconds.
	ExecutionTime *float64 `json:"execution_time,omitempty"`
}

type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
	Meta    meta `json:"meta"`
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
	Meta    meta      `json:"meta"`
}

func newMeta(r *http.Request) meta {
	id, _ := auth.RequestIDFromContext(r.Context())
	return meta{RequestID: id}
}

// timedMeta is newMeta plus the pipeline's elapsed time.
func timedMeta(r *http.Request, elapsed time.Duration) meta {
	m := newMeta(r)
	ms := float64(elapsed.Microseconds()) / 1000
	m.ExecutionTime = &ms
	return m
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// The status line is already out; the caller sees a truncated body.
		slog.Debug("response write failed", slog.String("error", err.Error()))
	}
}

func writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, status, successEnvelope{Success: true, Data: data, Meta: newMeta(r)})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	renderError(w, sserr.FromError(err), newMeta(r))
}

// renderError writes the failure envelope. Details are withheld from server
// errors.
func renderError(w http.ResponseWriter, e *sserr.Error, m meta) {
	status := e.HTTPStatus()
	body := errorBody{Code: e.PublicCode(), Message: e.PublicMessage()}
	if status < http.StatusInternalServerError && len(e.Details) > 0 {
		body.Details = e.Details
	}
	if secs, ok := e.Details["retry_after"].(int); ok && sserr.IsRateLimited(e) {
		w.Header().Set(HeaderRetryAfter, strconv.Itoa(secs))
	}
	writeJSON(w, status, errorEnvelope{Success: false, Error: body, Meta: m})
}

// setRateHeaders adds the X-RateLimit headers for d, plus Retry-After when
// nothing remains.
func setRateHeaders(h http.Header, d *ratelimit.Decision) {
	h.Set(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
	h.Set(HeaderRateLimitReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
	if d.Remaining == 0 {
		secs := int(math.Ceil(d.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		h.Set(HeaderRetryAfter, strconv.Itoa(secs))
	}
}

// writeOutcome renders a pipeline outcome.
func writeOutcome(w http.ResponseWriter, r *http.Request, out *Outcome) {
	if out.Rate != nil {
		setRateHeaders(w.Header(), out.Rate)
	}
	m := timedMeta(r, out.Elapsed)
	if out.Err != nil {
		renderError(w, out.Err, m)
		return
	}
	writeJSON(w, out.Status, successEnvelope{Success: true, Data: out.Data, Meta: m})
}
