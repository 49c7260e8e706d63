package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/moodbytes/internal/discovery"
	"github.com/hitoshi/moodbytes/internal/history"
	"github.com/hitoshi/moodbytes/internal/model"
)

// DiscoveryServiceInterface は検索画面の操作を提供するサービスインターフェース。
// discovery.Orchestratorが実装する。
type DiscoveryServiceInterface interface {
	PerformSearch(ctx context.Context, principalID string, mood model.Mood, coord model.Coordinate) (*discovery.SearchOutcome, error)
	PlaceDetails(ctx context.Context, placeID string) (json.RawMessage, error)
	DeleteHistoryEntry(ctx context.Context, principalID, entryID string) history.DeleteOutcome
	NavigateToProfile(principalID string)
}

// SearchHandler はムード一覧・検索・場所詳細のHTTPハンドラー。
type SearchHandler struct {
	service DiscoveryServiceInterface
	timeout time.Duration
}

// NewSearchHandler はSearchHandlerを生成する。
// timeoutは上流API呼び出しを含む1リクエストの上限で、0の場合は無制限。
func NewSearchHandler(service DiscoveryServiceInterface, timeout time.Duration) *SearchHandler {
	return &SearchHandler{
		service: service,
		timeout: timeout,
	}
}

type searchRequest struct {
	Mood      string   `json:"mood" validate:"required"`
	Latitude  *float64 `json:"latitude" validate:"required"`
	Longitude *float64 `json:"longitude" validate:"required"`
}

type moodResponse struct {
	Moods []model.Mood `json:"moods"`
}

// ListMoods は選択可能なムード一覧を返す。
// GET /api/moods
func (h *SearchHandler) ListMoods(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, moodResponse{Moods: model.Moods()})
}

// Search は現在地とムードで周辺の場所を検索する。
// POST /api/search
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	req, err := decodeJSON[searchRequest](r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	mood, err := model.ParseMood(req.Mood)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	coord := model.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	outcome, err := h.service.PerformSearch(ctx, userID, mood, coord)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

// PlaceDetails は場所の詳細を返す。
// GET /api/places/{id}
func (h *SearchHandler) PlaceDetails(w http.ResponseWriter, r *http.Request) {
	placeID := chi.URLParam(r, "id")

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()

	place, err := h.service.PlaceDetails(ctx, placeID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]json.RawMessage{"place": place})
}

func (h *SearchHandler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.timeout)
}
