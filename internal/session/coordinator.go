// Package session は認証セッションごとのプリンシパルの状態遷移を管理する。
//
// 状態は SignedOut / Authenticating / SignedIn の3つ。
// 未知のセッションキーは、認証プロバイダー（セッションストア）が判定を返すまで Authenticating とみなす。
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/moodbytes/internal/model"
)

// State はセッションの認証状態。
type State int

const (
	StateAuthenticating State = iota
	StateSignedOut
	StateSignedIn
)

func (s State) String() string {
	switch s {
	case StateSignedOut:
		return "signed_out"
	case StateSignedIn:
		return "signed_in"
	default:
		return "authenticating"
	}
}

// ProfileEnsurer はSignedIn遷移時のプロフィール作成・更新インターフェース。
type ProfileEnsurer interface {
	EnsureProfile(ctx context.Context, principal *model.Principal) error
}

// SessionFinder はセッションの検索インターフェース。
// repository.SessionRepositoryの部分集合。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// PrincipalLoader はユーザーIDからプリンシパル情報を引くインターフェース。
// repository.IdentityRepositoryの部分集合。
type PrincipalLoader interface {
	FindByUserID(ctx context.Context, userID string) (*model.Identity, error)
}

// Config はCoordinatorの設定。
type Config struct {
	IdleTTL       time.Duration // メモリ上のエントリを保持する期間
	PruneInterval time.Duration // 期限切れエントリの掃除間隔（0以下なら掃除しない）
}

type entry struct {
	state      State
	principal  *model.Principal
	lastAccess time.Time
}

// Coordinator はセッションキー（セッションID）ごとの状態を保持する。
type Coordinator struct {
	profiles ProfileEnsurer
	sessions SessionFinder
	loader   PrincipalLoader
	cache    PrincipalCache
	logger   *slog.Logger
	config   Config

	mu      sync.Mutex
	entries map[string]*entry

	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewCoordinator はCoordinatorを生成する。
// PruneIntervalが正の場合、バックグラウンドで期限切れエントリを掃除する。
func NewCoordinator(
	profiles ProfileEnsurer,
	sessions SessionFinder,
	loader PrincipalLoader,
	cache PrincipalCache,
	logger *slog.Logger,
	config Config,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = NewMemoryPrincipalCache(config.IdleTTL)
	}
	c := &Coordinator{
		profiles: profiles,
		sessions: sessions,
		loader:   loader,
		cache:    cache,
		logger:   logger,
		config:   config,
		entries:  make(map[string]*entry),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
	if config.PruneInterval > 0 {
		go c.pruneLoop()
	}
	return c
}

// Stop はバックグラウンドの掃除を停止する。
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// State はセッションキーの現在の状態を返す。
func (c *Coordinator) State(key string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.state
	}
	return StateAuthenticating
}

// Begin はセッションキーを Authenticating にする。
func (c *Coordinator) Begin(key string) {
	c.setState(key, StateAuthenticating, nil)
}

// Resolve は認証プロバイダーの判定結果を反映する。
// principalがnilなら SignedOut に遷移し、キャッシュを消去する。
// それ以外は SignedIn に遷移し、プロフィールを作成または更新してキャッシュに書き込む。
// プロフィール更新とキャッシュ書き込みの失敗はログに残すのみ。
func (c *Coordinator) Resolve(ctx context.Context, key string, principal *model.Principal) {
	if principal == nil {
		c.setState(key, StateSignedOut, nil)
		if err := c.cache.Delete(ctx, key); err != nil {
			c.logger.Warn("キャッシュ済みプリンシパルの削除に失敗しました",
				slog.String("error", err.Error()),
			)
		}
		return
	}

	c.setState(key, StateSignedIn, principal)

	if c.profiles != nil {
		if err := c.profiles.EnsureProfile(ctx, principal); err != nil {
			c.logger.Warn("プロフィールの作成・更新に失敗しました",
				slog.String("user_id", principal.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := c.cache.Set(ctx, key, principal); err != nil {
		c.logger.Warn("プリンシパルのキャッシュに失敗しました",
			slog.String("user_id", principal.ID),
			slog.String("error", err.Error()),
		)
	}
}

// SignOut はセッションキーを SignedOut に遷移させる。
func (c *Coordinator) SignOut(ctx context.Context, key string) {
	c.Resolve(ctx, key, nil)
}

// Invalidate はプリンシパルの全セッションを SignedOut に遷移させる。
// 退会や外部での失効時に使う。
func (c *Coordinator) Invalidate(ctx context.Context, principalID string) {
	var keys []string
	c.mu.Lock()
	for key, e := range c.entries {
		if e.principal != nil && e.principal.ID == principalID {
			keys = append(keys, key)
		}
	}
	c.mu.Unlock()

	for _, key := range keys {
		c.SignOut(ctx, key)
	}
}

// Authenticate はセッションキーからプリンシパルを返す。
// セッションストア上のセッションを正とし、失効していれば SignedOut に遷移して
// model.ErrNotAuthenticated を返す。
// メモリ上に SignedIn のエントリがなければ、キャッシュまたはidentityからプリンシパルを引き直す。
// 引き直しではプロフィールを更新しない。EnsureProfile はサインイン時の Resolve だけが呼ぶ。
func (c *Coordinator) Authenticate(ctx context.Context, key string) (*model.Principal, error) {
	if key == "" {
		return nil, model.ErrNotAuthenticated
	}

	sess, err := c.sessions.FindByID(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if sess == nil {
		if c.State(key) == StateSignedIn {
			c.SignOut(ctx, key)
		}
		return nil, model.ErrNotAuthenticated
	}

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && e.state == StateSignedIn && e.principal != nil && e.principal.ID == sess.UserID {
		e.lastAccess = c.now()
		p := *e.principal
		c.mu.Unlock()
		return &p, nil
	}
	c.mu.Unlock()

	c.Begin(key)

	principal, err := c.loadPrincipal(ctx, key, sess.UserID)
	if err != nil {
		return nil, err
	}
	if principal == nil {
		c.SignOut(ctx, key)
		return nil, model.ErrNotAuthenticated
	}

	c.rehydrate(ctx, key, principal)
	p := *principal
	return &p, nil
}

// rehydrate は既存セッションのプリンシパルを SignedIn として復元する。
// サインインではないため、プロフィール（last_login_at等）には書き込まない。
func (c *Coordinator) rehydrate(ctx context.Context, key string, principal *model.Principal) {
	c.setState(key, StateSignedIn, principal)
	if err := c.cache.Set(ctx, key, principal); err != nil {
		c.logger.Warn("プリンシパルのキャッシュに失敗しました",
			slog.String("user_id", principal.ID),
			slog.String("error", err.Error()),
		)
	}
}

// loadPrincipal はキャッシュ、identityの順にプリンシパルを探す。
func (c *Coordinator) loadPrincipal(ctx context.Context, key, userID string) (*model.Principal, error) {
	cached, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("キャッシュ済みプリンシパルの取得に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
	if cached != nil && cached.ID == userID {
		return cached, nil
	}

	if c.loader == nil {
		return nil, nil
	}
	ident, err := c.loader.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load principal: %w", err)
	}
	if ident == nil {
		return nil, nil
	}
	return ident.Principal(), nil
}

func (c *Coordinator) setState(key string, state State, principal *model.Principal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	e.state = state
	e.lastAccess = c.now()
	if state == StateSignedOut {
		e.principal = nil
	} else if principal != nil {
		cp := *principal
		e.principal = &cp
	}
}

// pruneLoop は一定間隔でアクセスのないエントリを削除する。
func (c *Coordinator) pruneLoop() {
	ticker := time.NewTicker(c.config.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.prune()
		case <-c.stopCh:
			return
		}
	}
}

// prune は最終アクセスからIdleTTLを超えたエントリを削除する。
func (c *Coordinator) prune() int {
	if c.config.IdleTTL <= 0 {
		return 0
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, e := range c.entries {
		if now.Sub(e.lastAccess) > c.config.IdleTTL {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}
