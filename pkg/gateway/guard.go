package gateway

import (
	"net"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

// Guard is a per-address token bucket applied before authentication. It
// caps how fast any one address can make the gateway hit the credential
// store with guesses. Buckets for the least recently seen addresses are
// evicted once size addresses are tracked.
type Guard struct {
	buckets *lru.Cache[string, *rate.Limiter]
	limit   rate.Limit
	burst   int
}

// NewGuard returns a guard allowing rps requests per second with the given
// burst per address. It returns nil, nil when rps is zero.
func NewGuard(rps float64, burst, size int) (*Guard, error) {
	if rps <= 0 {
		return nil, nil
	}
	buckets, err := lru.New[string, *rate.Limiter](size)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "gateway: invalid guard size")
	}
	return &Guard{buckets: buckets, limit: rate.Limit(rps), burst: burst}, nil
}

// Allow takes a token from addr's bucket.
func (g *Guard) Allow(addr string) bool {
	bucket, ok := g.buckets.Get(addr)
	if !ok {
		fresh := rate.NewLimiter(g.limit, g.burst)
		if prev, found, _ := g.buckets.PeekOrAdd(addr, fresh); found {
			bucket = prev
		} else {
			bucket = fresh
		}
	}
	return bucket.Allow()
}

// Len returns how many addresses are tracked.
func (g *Guard) Len() int {
	return g.buckets.Len()
}

// Middleware rejects requests from addresses over their rate with
// RATE_LIMIT_EXCEEDED. A nil guard passes everything through.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	if g == nil {
		return next
	}
	retry := time.Duration(float64(time.Second) / float64(g.limit))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Allow(clientAddr(r)) {
			guardRejectionsTotal.Inc()
			writeError(w, r, sserr.RateLimited(g.burst, retry))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientAddr returns the host part of r.RemoteAddr.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
