package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/moodbytes/internal/model"
)

// LimitType はレート制限の種類。ユーザーごとに種類別のトークンバケットを持つ。
type LimitType string

const (
	// LimitGeneral は /api 全体に掛かる制限。
	LimitGeneral LimitType = "general"
	// LimitSearch は場所検索APIの呼び出しに掛かる制限。上流の利用枠を守るため全体とは別枠。
	LimitSearch LimitType = "search"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit // req/sec
	GeneralBurst    int
	SearchRate      rate.Limit
	SearchBurst     int
	CleanupInterval time.Duration // アイドルなバケットはこの2倍で破棄する
}

// DefaultRateLimiterConfig は 120 req/min（全体）と 20 req/min（検索）の設定を返す。
func DefaultRateLimiterConfig() RateLimiterConfig {
	general, generalBurst := PerMinute(120)
	search, searchBurst := PerMinute(20)
	return RateLimiterConfig{
		GeneralRate:     general,
		GeneralBurst:    generalBurst,
		SearchRate:      search,
		SearchBurst:     searchBurst,
		CleanupInterval: 5 * time.Minute,
	}
}

// PerMinute は1分あたりのリクエスト数からレート設定を返す。
// バーストサイズは1分ぶんのリクエスト数とする。
func PerMinute(n int) (rate.Limit, int) {
	if n <= 0 {
		n = 1
	}
	return rate.Limit(float64(n) / 60.0), n
}

type bucketPolicy struct {
	limit rate.Limit
	burst int
}

type bucketKey struct {
	kind   LimitType
	userID string
}

type bucket struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter はユーザー×制限種別ごとのトークンバケットを管理する。
type RateLimiter struct {
	policies map[LimitType]bucketPolicy
	idleTTL  time.Duration
	interval time.Duration

	mu      sync.Mutex
	buckets map[bucketKey]*bucket

	now    func() time.Time
	stopCh chan struct{}
}

// NewRateLimiter はRateLimiterを生成し、アイドルなバケットの掃除を開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		policies: map[LimitType]bucketPolicy{
			LimitGeneral: {config.GeneralRate, config.GeneralBurst},
			LimitSearch:  {config.SearchRate, config.SearchBurst},
		},
		idleTTL:  config.CleanupInterval * 2,
		interval: config.CleanupInterval,
		buckets:  make(map[bucketKey]*bucket),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop は掃除ゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// GeneralMiddleware は /api 全体の制限。SessionMiddlewareの後に置く。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.Middleware(LimitGeneral)
}

// SearchMiddleware は POST /api/search 専用の制限。
func (rl *RateLimiter) SearchMiddleware() func(next http.Handler) http.Handler {
	return rl.Middleware(LimitSearch)
}

// Middleware は指定種別の制限を掛けるミドルウェアを返す。
// 超過時は429と、次のトークンが補充されるまでの秒数をRetry-Afterで返す。
func (rl *RateLimiter) Middleware(kind LimitType) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.ErrNotAuthenticated)
				return
			}

			lim := rl.limiter(kind, userID)
			if !lim.Allow() {
				slog.Warn("rate limit exceeded",
					slog.String("user_id", userID),
					slog.String("limit_type", string(kind)),
				)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(lim)))
				WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitExceededError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LimiterCount は指定種別で保持しているバケット数を返す。
func (rl *RateLimiter) LimiterCount(kind LimitType) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for k := range rl.buckets {
		if k.kind == kind {
			n++
		}
	}
	return n
}

func (rl *RateLimiter) limiter(kind LimitType, userID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := bucketKey{kind: kind, userID: userID}
	b, ok := rl.buckets[key]
	if !ok {
		p := rl.policies[kind]
		b = &bucket{limiter: rate.NewLimiter(p.limit, p.burst)}
		rl.buckets[key] = b
	}
	b.lastAccess = rl.now()
	return b.limiter
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup はidleTTLより長くアクセスのないバケットを破棄し、破棄数を返す。
func (rl *RateLimiter) cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for k, b := range rl.buckets {
		if now.Sub(b.lastAccess) > rl.idleTTL {
			delete(rl.buckets, k)
			removed++
		}
	}
	return removed
}

// retryAfterSeconds は次の1トークンが貯まるまでの秒数（切り上げ、最小1）。
func retryAfterSeconds(lim *rate.Limiter) int {
	limit := lim.Limit()
	if limit <= 0 || limit == rate.Inf {
		return 1
	}
	deficit := 1 - lim.Tokens()
	sec := int(math.Ceil(deficit / float64(limit)))
	if sec < 1 {
		return 1
	}
	return sec
}
