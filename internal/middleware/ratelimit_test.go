package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func testRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    2,
		SearchRate:      rate.Limit(1.0 / 60.0),
		SearchBurst:     1,
		CleanupInterval: time.Minute,
	}
}

func requestAs(userID, method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	if userID == "" {
		return req
	}
	return req.WithContext(ContextWithUserID(req.Context(), userID))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiter_General_BurstThen429(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs("user-1", http.MethodGet, "/api/history"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs("user-1", http.MethodGet, "/api/history"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want %q", got, "1")
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" || body.Category != "system" {
		t.Errorf("body = %+v", body)
	}
}

func TestRateLimiter_IsolatesUsers(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()
	handler := rl.SearchMiddleware()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs("user-A", http.MethodPost, "/api/search"))
	if w.Code != http.StatusOK {
		t.Fatalf("user-A first: status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs("user-A", http.MethodPost, "/api/search"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("user-A second: status = %d, want 429", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs("user-B", http.MethodPost, "/api/search"))
	if w.Code != http.StatusOK {
		t.Errorf("user-B first: status = %d, want 200", w.Code)
	}
}

func TestRateLimiter_SearchRetryAfter(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()
	handler := rl.SearchMiddleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), requestAs("user-1", http.MethodPost, "/api/search"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs("user-1", http.MethodPost, "/api/search"))

	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After is not a number: %v", err)
	}
	if retry != 60 {
		t.Errorf("Retry-After = %d, want 60", retry)
	}
}

func TestRateLimiter_SearchIndependentFromGeneral(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	search := rl.SearchMiddleware()(okHandler())
	general := rl.GeneralMiddleware()(okHandler())

	search.ServeHTTP(httptest.NewRecorder(), requestAs("user-1", http.MethodPost, "/api/search"))

	w := httptest.NewRecorder()
	general.ServeHTTP(w, requestAs("user-1", http.MethodGet, "/api/history"))
	if w.Code != http.StatusOK {
		t.Errorf("general after exhausted search: status = %d, want 200", w.Code)
	}
	if rl.LimiterCount(LimitSearch) != 1 || rl.LimiterCount(LimitGeneral) != 1 {
		t.Errorf("counts = (%d, %d), want (1, 1)", rl.LimiterCount(LimitGeneral), rl.LimiterCount(LimitSearch))
	}
}

func TestRateLimiter_NoUserID_Returns401(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	for _, mw := range []func(http.Handler) http.Handler{rl.GeneralMiddleware(), rl.SearchMiddleware()} {
		w := httptest.NewRecorder()
		mw(okHandler()).ServeHTTP(w, requestAs("", http.MethodGet, "/api/history"))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	}
}

func TestRateLimiter_CleanupRemovesIdleEntries(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }

	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestAs("user-1", http.MethodGet, "/"))
	rl.SearchMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestAs("user-1", http.MethodPost, "/"))

	// TTLはCleanupIntervalの2倍（2分）
	clock = clock.Add(90 * time.Second)
	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), requestAs("user-2", http.MethodGet, "/"))
	clock = clock.Add(60 * time.Second)

	if removed := rl.cleanup(); removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if rl.LimiterCount(LimitGeneral) != 1 || rl.LimiterCount(LimitSearch) != 0 {
		t.Errorf("counts after cleanup = (%d, %d), want (1, 0)", rl.LimiterCount(LimitGeneral), rl.LimiterCount(LimitSearch))
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		name  string
		limit rate.Limit
		burst int
		want  int
	}{
		{"one per second", 1, 1, 1},
		{"one per minute", rate.Limit(1.0 / 60.0), 1, 60},
		{"unlimited", rate.Inf, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lim := rate.NewLimiter(tt.limit, tt.burst)
			lim.Allow()
			if got := retryAfterSeconds(lim); got != tt.want {
				t.Errorf("retryAfterSeconds() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralRate != 2.0 {
		t.Errorf("GeneralRate = %f, want 2.0", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.SearchBurst != 20 {
		t.Errorf("SearchBurst = %d, want 20", cfg.SearchBurst)
	}
}

func TestPerMinute(t *testing.T) {
	limit, burst := PerMinute(30)
	if limit != rate.Limit(0.5) || burst != 30 {
		t.Errorf("PerMinute(30) = (%v, %d), want (0.5, 30)", limit, burst)
	}

	limit, burst = PerMinute(0)
	if burst != 1 || limit <= 0 {
		t.Errorf("PerMinute(0) = (%v, %d), want positive rate with burst 1", limit, burst)
	}
}
