package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// attemptLimiter はメールアドレスごとのサインイン失敗回数を制限する。
// 失敗1回ごとにトークンを1つ消費し、window/maxAttempts ごとに1つ回復する。
type attemptLimiter struct {
	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	maxAttempts int
	every       rate.Limit
	now         func() time.Time
}

func newAttemptLimiter(maxAttempts int, window time.Duration) *attemptLimiter {
	return &attemptLimiter{
		limiters:    make(map[string]*rate.Limiter),
		maxAttempts: maxAttempts,
		every:       rate.Every(window / time.Duration(maxAttempts)),
		now:         time.Now,
	}
}

// Blocked は失敗回数が上限に達していればtrueを返す。
func (l *attemptLimiter) Blocked(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		return false
	}
	return lim.TokensAt(l.now()) < 1
}

// Fail は失敗を1回記録する。
func (l *attemptLimiter) Fail(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.every, l.maxAttempts)
		l.limiters[key] = lim
	}
	lim.AllowN(l.now(), 1)
}

// Reset は成功時に失敗記録を消去する。
func (l *attemptLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, key)
}
