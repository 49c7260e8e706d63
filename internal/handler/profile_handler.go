package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/moodbytes/internal/model"
)

// ProfileServiceInterface はプロフィール参照に必要なサービスインターフェース。
type ProfileServiceInterface interface {
	Get(ctx context.Context, principalID string) (*model.UserProfile, error)
}

// ProfileNavigator はプロフィール画面への遷移を通知するインターフェース。
type ProfileNavigator interface {
	NavigateToProfile(principalID string)
}

// ProfileHandler はプロフィールのHTTPハンドラー。
type ProfileHandler struct {
	service   ProfileServiceInterface
	navigator ProfileNavigator
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface, navigator ProfileNavigator) *ProfileHandler {
	return &ProfileHandler{
		service:   service,
		navigator: navigator,
	}
}

// GetProfile はログインユーザーのプロフィールを返す。
// 画面遷移として扱い、購読中の他クライアントにも再取得を促す通知を出す。
// GET /api/profile
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	h.navigator.NavigateToProfile(userID)

	profile, err := h.service.Get(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if profile == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
		return
	}

	writeJSON(w, http.StatusOK, profile)
}
