package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/hitoshi/moodbytes/internal/model"
)

const principalKeyPrefix = "moodbytes:principal:"

// cachedPrincipal はキャッシュに保存する表示用のプリンシパル情報。
// 認可の判断には使わない。
type cachedPrincipal struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

func toCached(p *model.Principal) cachedPrincipal {
	return cachedPrincipal{ID: p.ID, Email: p.Email, DisplayName: p.DisplayName}
}

func (c cachedPrincipal) principal() *model.Principal {
	return &model.Principal{ID: c.ID, Email: c.Email, DisplayName: c.DisplayName}
}

// PrincipalCache はセッションキーごとのプリンシパルキャッシュ。
// 見つからない場合Getは (nil, nil) を返す。
type PrincipalCache interface {
	Get(ctx context.Context, key string) (*model.Principal, error)
	Set(ctx context.Context, key string, p *model.Principal) error
	Delete(ctx context.Context, key string) error
}

// RedisPrincipalCache はRedisをバックエンドとするPrincipalCache。
type RedisPrincipalCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPrincipalCache はRedisPrincipalCacheを生成する。
func NewRedisPrincipalCache(client *redis.Client, ttl time.Duration) *RedisPrincipalCache {
	return &RedisPrincipalCache{client: client, ttl: ttl}
}

// NewRedisClient はredis://形式のURLからクライアントを生成する。
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (c *RedisPrincipalCache) Get(ctx context.Context, key string) (*model.Principal, error) {
	data, err := c.client.Get(ctx, principalKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached principal: %w", err)
	}

	var cp cachedPrincipal
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode cached principal: %w", err)
	}
	return cp.principal(), nil
}

func (c *RedisPrincipalCache) Set(ctx context.Context, key string, p *model.Principal) error {
	data, err := json.Marshal(toCached(p))
	if err != nil {
		return fmt.Errorf("failed to encode principal: %w", err)
	}
	if err := c.client.Set(ctx, principalKeyPrefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache principal: %w", err)
	}
	return nil
}

func (c *RedisPrincipalCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, principalKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete cached principal: %w", err)
	}
	return nil
}

// MemoryPrincipalCache はプロセス内のPrincipalCache。REDIS_URL未設定時に使う。
type MemoryPrincipalCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	value     cachedPrincipal
	expiresAt time.Time
}

// NewMemoryPrincipalCache はMemoryPrincipalCacheを生成する。ttlが0以下なら期限なし。
func NewMemoryPrincipalCache(ttl time.Duration) *MemoryPrincipalCache {
	return &MemoryPrincipalCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryPrincipalCache) Get(ctx context.Context, key string) (*model.Principal, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		_ = c.Delete(ctx, key)
		return nil, nil
	}
	return e.value.principal(), nil
}

func (c *MemoryPrincipalCache) Set(ctx context.Context, key string, p *model.Principal) error {
	e := memoryEntry{value: toCached(p)}
	if c.ttl > 0 {
		e.expiresAt = c.now().Add(c.ttl)
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

func (c *MemoryPrincipalCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// compile-time interface check
var (
	_ PrincipalCache = (*RedisPrincipalCache)(nil)
	_ PrincipalCache = (*MemoryPrincipalCache)(nil)
)
