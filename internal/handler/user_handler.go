package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/moodbytes/internal/middleware"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Withdraw はユーザーの退会処理を実行する。
	// 検索履歴とプロフィールを削除してから、セッションとidentityを削除する。
	Withdraw(ctx context.Context, userID string) (*withdrawResponse, error)
}

// withdrawResponse は退会処理の結果。
// 履歴の一部を削除できなかった場合もアカウントは削除され、件数を警告として返す。
type withdrawResponse struct {
	Deleted        bool `json:"deleted"`
	HistoryDeleted int  `json:"history_deleted"`
	PurgeWarnings  int  `json:"purge_warnings"`
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	config  AuthHandlerConfig
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, config AuthHandlerConfig) *UserHandler {
	return &UserHandler{
		service: service,
		config:  config,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	result, err := h.service.Withdraw(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// セッションは削除済みのためCookieもクリアする
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, result)
}
