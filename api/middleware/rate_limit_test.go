package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/loyalty-core/pkg/config"
)

type fakeWindowStore struct {
	counts map[string]int64
	err    error
}

func (f *fakeWindowStore) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	if f.err != nil {
		return false, 0, f.err
	}
	if f.counts == nil {
		f.counts = map[string]int64{}
	}
	f.counts[scope]++
	return f.counts[scope] <= limit, f.counts[scope], nil
}

func tenantRequest(tenantID uuid.UUID) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	return req.WithContext(WithTenantID(req.Context(), tenantID))
}

func TestRateLimitPerTenantBucket(t *testing.T) {
	limiter := NewTenantLimiter(config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2}, nil)
	handler := RateLimit(limiter, nil)(okHandler())

	busy, quiet := uuid.New(), uuid.New()
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, tenantRequest(busy))
		codes = append(codes, resp.Code)
		if resp.Code == http.StatusTooManyRequests && resp.Header().Get("Retry-After") == "" {
			t.Fatal("expected Retry-After on throttled response")
		}
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, tenantRequest(quiet))
	if resp.Code != http.StatusOK {
		t.Fatalf("other tenants keep their own bucket, got %d", resp.Code)
	}
}

func TestRateLimitSharedWindow(t *testing.T) {
	store := &fakeWindowStore{}
	limiter := NewTenantLimiter(config.RateLimitConfig{Burst: 10, WindowLimit: 1, Window: time.Minute}, store)
	handler := RateLimit(limiter, nil)(okHandler())
	tenantID := uuid.New()

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, tenantRequest(tenantID))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, tenantRequest(tenantID))
	if first.Code != http.StatusOK || second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 200 then 429, got %d and %d", first.Code, second.Code)
	}
	if second.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected window based Retry-After, got %q", second.Header().Get("Retry-After"))
	}
}

func TestRateLimitStoreFailureFailsOpen(t *testing.T) {
	store := &fakeWindowStore{err: errors.New("redis down")}
	limiter := NewTenantLimiter(config.RateLimitConfig{Burst: 10, WindowLimit: 1, Window: time.Minute}, store)
	resp := httptest.NewRecorder()
	RateLimit(limiter, nil)(okHandler()).ServeHTTP(resp, tenantRequest(uuid.New()))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected request through on store failure, got %d", resp.Code)
	}
}
