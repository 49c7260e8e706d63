// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/moodbytes/internal/model"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
	// principalContextKey はリクエストコンテキストにプリンシパルを格納するためのキー。
	principalContextKey = contextKey("principal")
)

// PrincipalAuthenticator はセッションIDからプリンシパルを解決するインターフェース。
// session.Coordinatorが実装する。
type PrincipalAuthenticator interface {
	Authenticate(ctx context.Context, sessionID string) (*model.Principal, error)
}

// SessionIDFromRequest はリクエストからセッションIDを取り出す。
// Authorization: Bearer ヘッダーを優先し、なければCookieを使う。
// 2番目の戻り値はヘッダー由来かどうか。
func SessionIDFromRequest(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token), true
		}
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, false
	}
	return "", false
}

// NewSessionMiddleware はCookieまたはAuthorizationヘッダーからセッションを読み取り、
// プリンシパルを解決するミドルウェアを返す。
// 認証済みユーザーIDとプリンシパルをリクエストコンテキストに注入する。
// 未認証リクエストには401を返す。
func NewSessionMiddleware(auth PrincipalAuthenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. セッションIDを取得
			sessionID, _ := SessionIDFromRequest(r)
			if sessionID == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.ErrNotAuthenticated)
				return
			}

			// 2. プリンシパルを解決
			principal, err := auth.Authenticate(r.Context(), sessionID)
			if err != nil {
				if !errors.Is(err, model.ErrNotAuthenticated) {
					slog.Error("failed to authenticate session",
						slog.String("error", err.Error()),
					)
				}
				WriteErrorResponse(w, http.StatusUnauthorized, model.ErrNotAuthenticated)
				return
			}

			// 3. コンテキストに注入
			setLogUserID(r.Context(), principal.ID)
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// PrincipalFromContext はリクエストコンテキストからプリンシパルを取得する。
func PrincipalFromContext(ctx context.Context) (*model.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*model.Principal)
	return p, ok && p != nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// ContextWithPrincipal はコンテキストにプリンシパルとそのIDを注入する。
func ContextWithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	ctx = context.WithValue(ctx, principalContextKey, p)
	return ContextWithUserID(ctx, p.ID)
}
