package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/moodbytes/internal/history"
	"github.com/hitoshi/moodbytes/internal/model"
)

// HistoryServiceInterface は検索履歴の参照に必要なサービスインターフェース。
type HistoryServiceInterface interface {
	ListWithCount(ctx context.Context, principalID string, limit int) history.Page
	ByMood(ctx context.Context, principalID string, mood model.Mood) []*model.SearchHistoryEntry
}

// HistoryDeleter は検索履歴の削除に必要なインターフェース。
// 削除成功時のプロフィール変更通知はdiscovery.Orchestratorが行う。
type HistoryDeleter interface {
	DeleteHistoryEntry(ctx context.Context, principalID, entryID string) history.DeleteOutcome
}

// HistoryHandler は検索履歴のHTTPハンドラー。
type HistoryHandler struct {
	service HistoryServiceInterface
	deleter HistoryDeleter
}

// NewHistoryHandler はHistoryHandlerを生成する。
func NewHistoryHandler(service HistoryServiceInterface, deleter HistoryDeleter) *HistoryHandler {
	return &HistoryHandler{
		service: service,
		deleter: deleter,
	}
}

// ListHistory は検索履歴を新しい順に返す。
// GET /api/history?limit=20
// GET /api/history?mood=Romantic
func (h *HistoryHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()

	if moodParam := query.Get("mood"); moodParam != "" {
		mood, err := model.ParseMood(moodParam)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		items := h.service.ByMood(r.Context(), userID, mood)
		writeJSON(w, http.StatusOK, history.Page{Items: items, TotalCount: len(items)})
		return
	}

	limit := 0
	if limitParam := query.Get("limit"); limitParam != "" {
		n, err := strconv.Atoi(limitParam)
		if err != nil || n < 1 {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("limit は1以上の整数で指定してください"))
			return
		}
		limit = n
	}

	writeJSON(w, http.StatusOK, h.service.ListWithCount(r.Context(), userID, limit))
}

// DeleteHistory は検索履歴を1件削除する。
// 存在しない履歴の削除も成功として扱う。
// DELETE /api/history/{id}
func (h *HistoryHandler) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	entryID := chi.URLParam(r, "id")
	if entryID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("履歴IDは必須です"))
		return
	}

	outcome := h.deleter.DeleteHistoryEntry(r.Context(), userID, entryID)
	if !outcome.Deleted {
		writeAPIErrorResponse(w, http.StatusServiceUnavailable, model.NewHistoryUnavailableError())
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}
