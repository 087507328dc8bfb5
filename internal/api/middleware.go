package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/BTreeMap/RobotFeed/internal/metrics"
	"github.com/BTreeMap/RobotFeed/internal/models"
)

// Roles carried in the token's role claim.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Claims are the bearer token claims. The subject is the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type ctxKey int

const (
	userIDKey ctxKey = iota
	roleKey
)

// UserID returns the authenticated user id stored in ctx.
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// Role returns the authenticated role stored in ctx.
func Role(ctx context.Context) string {
	v, _ := ctx.Value(roleKey).(string)
	return v
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			slog.Warn("Server.authMiddleware: missing bearer token", "path", r.URL.Path)
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Missing or invalid Authorization header"))
			return
		}

		claims, err := s.parseToken(token)
		if err != nil {
			slog.Warn("Server.authMiddleware: token rejected", "path", r.URL.Path, "error", err)
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid token"))
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, claims.Subject)
		ctx = context.WithValue(ctx, roleKey, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) parseToken(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.opts.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.opts.Now))
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	if claims.Role == "" {
		claims.Role = RoleUser
	}
	if claims.Role != RoleUser && claims.Role != RoleAdmin {
		return nil, errors.New("token has an unknown role")
	}
	return claims, nil
}

func requireRole(role string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if Role(r.Context()) != role {
				slog.Warn("requireRole: forbidden", "path", r.URL.Path, "userID", UserID(r.Context()), "role", Role(r.Context()))
				writeJSONResponse(w, http.StatusForbidden, models.Error("Forbidden"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Idle token buckets are dropped after limiterIdleTTL; the sweep runs every
// limiterSweepInterval while the server is running.
const (
	limiterIdleTTL       = 10 * time.Minute
	limiterSweepInterval = time.Minute
)

// rateLimiter keeps one token bucket per user.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	return &rateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

func (rl *rateLimiter) allow(key string, now time.Time) bool {
	rl.mu.Lock()
	entry, ok := rl.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = now
	rl.mu.Unlock()
	return entry.limiter.AllowN(now, 1)
}

// cleanup drops buckets unused since before now-idle and returns how many.
func (rl *rateLimiter) cleanup(now time.Time, idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > idle {
			delete(rl.limiters, key)
			removed++
		}
	}
	return removed
}

func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// sweepLimiters runs cleanup until ctx is canceled.
func (s *Server) sweepLimiters(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.cleanup(s.opts.Now(), limiterIdleTTL); n > 0 {
				slog.Debug("Server.sweepLimiters: dropped idle rate limiters", "count", n)
			}
		}
	}
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := UserID(r.Context())
		if key == "" {
			key = r.RemoteAddr
		}
		if !s.limiter.allow(key, s.opts.Now()) {
			slog.Warn("Server.rateLimitMiddleware: rate limit exceeded", "key", key, "path", r.URL.Path)
			writeJSONResponse(w, http.StatusTooManyRequests, models.Error("Rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		metrics.RecordHTTPRequest(r.Method, path, strconv.Itoa(rec.status), time.Since(start))
	})
}
