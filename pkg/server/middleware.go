package server

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type contextKey string

const claimsKey contextKey = "claims"

// ClaimsFromContext returns the Claims authMiddleware attached, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey).(*Claims)
	return c
}

// bearerToken returns the token from an "Authorization: Bearer" header,
// or from the token query parameter for WebSocket clients that cannot set
// headers.
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		tok := r.URL.Query().Get("token")
		return tok, tok != ""
	}
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || tok == "" {
		return "", false
	}
	return tok, true
}

// authMiddleware validates the bearer token and injects its Claims into
// the request context. With adminOnly set, tokens without the admin claim
// are refused.
func authMiddleware(auth *AuthService, adminOnly bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "authorization required")
			return
		}
		claims, err := auth.ValidateToken(token)
		if err != nil {
			DebugLog("auth: %s %s: %v", r.Method, r.URL.Path, err)
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if adminOnly && !claims.Admin {
			writeError(w, http.StatusForbidden, "admin token required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

// clientAddr is the caller's address, preferring the first hop of
// X-Forwarded-For or X-Real-IP when behind a reverse proxy.
func clientAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// originPolicy decides which browser origins may call the API or open a
// WebSocket. An empty list allows any origin.
type originPolicy map[string]bool

func newOriginPolicy(origins []string) originPolicy {
	p := make(originPolicy, len(origins))
	for _, o := range origins {
		p[strings.ToLower(o)] = true
	}
	return p
}

func (p originPolicy) allows(origin string) bool {
	return len(p) == 0 || p[strings.ToLower(origin)]
}

// checkWSOrigin is the WebSocket upgrader's origin check. Non-browser
// clients send no Origin and are let through.
func (p originPolicy) checkWSOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || p.allows(origin)
}

func corsMiddleware(p originPolicy, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && p.allows(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimiter is a per-client token bucket refilled at limit tokens per
// minute, holding at most limit tokens.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	limit   float64
	now     func() time.Time
}

type tokenBucket struct {
	tokens float64
	last   time.Time
}

// newRateLimiter returns a limiter; zero or less disables limiting.
func newRateLimiter(requestsPerMinute int) *rateLimiter {
	return &rateLimiter{
		buckets: make(map[string]*tokenBucket),
		limit:   float64(requestsPerMinute),
		now:     time.Now,
	}
}

func (rl *rateLimiter) allow(client string) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[client]
	if !ok {
		b = &tokenBucket{tokens: rl.limit, last: now}
		rl.buckets[client] = b
	}
	b.tokens = min(rl.limit, b.tokens+now.Sub(b.last).Minutes()*rl.limit)
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// cleanup forgets clients whose bucket has refilled completely.
func (rl *rateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for client, b := range rl.buckets {
		if now.Sub(b.last) >= time.Minute {
			delete(rl.buckets, client)
		}
	}
}

func rateLimitMiddleware(rl *rateLimiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientAddr(r)) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// instrumentMiddleware counts requests by method and status code.
func instrumentMiddleware(m *Metrics, next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(m.httpRequests, next)
}
