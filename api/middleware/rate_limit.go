package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/angelmondragon/loyalty-core/api/responses"
	"github.com/angelmondragon/loyalty-core/pkg/config"
	pkgerrors "github.com/angelmondragon/loyalty-core/pkg/errors"
	"github.com/angelmondragon/loyalty-core/pkg/logger"
)

type windowStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// TenantLimiter keeps one token bucket per tenant in process memory and optionally a
// shared fixed window in Redis.
type TenantLimiter struct {
	limit  rate.Limit
	burst  int
	store  windowStore
	window time.Duration
	max    int64

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewTenantLimiter(cfg config.RateLimitConfig, store windowStore) *TenantLimiter {
	l := &TenantLimiter{
		limit:   rate.Limit(cfg.RequestsPerSecond),
		burst:   cfg.Burst,
		buckets: make(map[string]*rate.Limiter),
	}
	if cfg.RequestsPerSecond <= 0 {
		l.limit = rate.Inf
	}
	if l.burst <= 0 {
		l.burst = 1
	}
	if store != nil && cfg.WindowLimit > 0 && cfg.Window > 0 {
		l.store = store
		l.window = cfg.Window
		l.max = cfg.WindowLimit
	}
	return l
}

func (l *TenantLimiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = b
	}
	return b
}

// Allow reports whether key may make another request. When it may not, the returned
// duration hints how long to wait.
func (l *TenantLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	reservation := l.bucket(key).Reserve()
	if !reservation.OK() {
		return false, time.Second, nil
	}
	if delay := reservation.Delay(); delay > 0 {
		reservation.Cancel()
		return false, delay, nil
	}
	if l.store == nil {
		return true, 0, nil
	}
	ok, _, err := l.store.FixedWindowAllow(ctx, "tenant:"+key, l.max, l.window)
	if err != nil {
		return false, 0, err
	}
	if !ok {
		return false, l.window, nil
	}
	return true, 0, nil
}

// RateLimit throttles requests per tenant. It must run after TenantScope. A failing
// shared store degrades to the in-memory bucket.
func RateLimit(limiter *TenantLimiter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID, ok := TenantIDFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			allowed, wait, err := limiter.Allow(r.Context(), tenantID.String())
			if err != nil {
				if logg != nil {
					logg.Warn(logg.WithField(r.Context(), "error", err.Error()), "rate_limit.store_unavailable")
				}
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
