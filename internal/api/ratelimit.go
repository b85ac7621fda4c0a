package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"govorilka/internal/models"

	"github.com/c-pro/geche"
	"golang.org/x/time/rate"
)

// idleClientTTL is how long a client's bucket is kept after its last request.
const idleClientTTL = time.Minute

// RateLimiter caps requests per client address with a token bucket of
// perSecond tokens refilled every second.
type RateLimiter struct {
	mu      sync.Mutex
	clients geche.Geche[string, *rate.Limiter]
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

func NewRateLimiter(ctx context.Context, perSecond int) *RateLimiter {
	return &RateLimiter{
		clients: geche.NewMapTTLCache[string, *rate.Limiter](ctx, idleClientTTL, idleClientTTL),
		limit:   rate.Limit(perSecond),
		burst:   perSecond,
		now:     time.Now,
	}
}

func (l *RateLimiter) allow(client string) bool {
	l.mu.Lock()
	lim, err := l.clients.Get(client)
	if err != nil {
		lim = rate.NewLimiter(l.limit, l.burst)
	}
	// Set again to refresh the idle TTL.
	l.clients.Set(client, lim)
	l.mu.Unlock()

	return lim.AllowN(l.now(), 1)
}

// Middleware rejects requests over the limit with 429 and the standard
// error body.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientAddr(r)
		if !l.allow(client) {
			w.Header().Set("Retry-After", "1")
			writeError(w, fmt.Errorf("too many requests from %s, try again later: %w", client, models.ErrRateLimited))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
