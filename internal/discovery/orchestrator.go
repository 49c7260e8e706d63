// Package discovery は検索・履歴削除・プロフィール遷移を取りまとめる。
//
// 検索結果の表示が主操作で、履歴保存は失敗しても検索結果を妨げない。
// 検索回数が変わり得る操作のあとには "profile changed" 通知を発行し、
// 依存するビューにストアから再取得させる。
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hitoshi/moodbytes/internal/history"
	"github.com/hitoshi/moodbytes/internal/metrics"
	"github.com/hitoshi/moodbytes/internal/model"
	"github.com/hitoshi/moodbytes/internal/place"
)

// 通知理由
const (
	ReasonSearchSaved    = "search_saved"
	ReasonHistoryDeleted = "history_deleted"
	ReasonNavigate       = "navigate_to_profile"
)

// PlacesAPI は場所検索APIのインターフェース。
type PlacesAPI interface {
	NearbySearch(ctx context.Context, coord model.Coordinate, mood model.Mood) ([]byte, error)
	PlaceDetails(ctx context.Context, placeID string) (json.RawMessage, error)
}

// HistoryStore は履歴の保存・削除インターフェース。
type HistoryStore interface {
	SaveResults(ctx context.Context, principalID string, mood model.Mood, coord model.Coordinate, results model.SearchResults) (string, error)
	Delete(ctx context.Context, principalID, entryID string) history.DeleteOutcome
}

// ProfileNotifier は "profile changed" 通知の発行インターフェース。
type ProfileNotifier interface {
	ProfileChanged(principalID, reason string)
}

// SearchOutcome は検索1回の結果。
// HistoryIDは履歴に保存できた場合のみ設定される。
type SearchOutcome struct {
	Mood         model.Mood          `json:"mood"`
	Results      model.SearchResults `json:"results"`
	HistoryID    string              `json:"history_id,omitempty"`
	HistorySaved bool                `json:"history_saved"`
}

// Orchestrator はUI向けの検索フローを提供する。
type Orchestrator struct {
	places   PlacesAPI
	history  HistoryStore
	notifier ProfileNotifier
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
}

// NewOrchestrator はOrchestratorを生成する。
func NewOrchestrator(
	places PlacesAPI,
	historyStore HistoryStore,
	notifier ProfileNotifier,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Orchestrator {
	if collector == nil {
		collector = metrics.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		places:   places,
		history:  historyStore,
		notifier: notifier,
		metrics:  collector,
		logger:   logger,
	}
}

// PerformSearch はムードと座標で検索し、結果を履歴に保存する。
// プリンシパルがない場合は検索せずに model.ErrNotAuthenticated を返す。
// 検索APIの失敗はUPSTREAM_API_FAILUREとして返し、履歴には触れない。
// 履歴保存の失敗はログに残し、検索結果はそのまま返す。
func (o *Orchestrator) PerformSearch(ctx context.Context, principalID string, mood model.Mood, coord model.Coordinate) (*SearchOutcome, error) {
	if principalID == "" {
		return nil, model.ErrNotAuthenticated
	}
	if !mood.Valid() {
		o.metrics.RecordSearch(string(mood), metrics.OutcomeInvalidRequest)
		return nil, model.NewInvalidMoodError(string(mood))
	}
	if err := coord.Validate(); err != nil {
		o.metrics.RecordSearch(string(mood), metrics.OutcomeInvalidRequest)
		return nil, err
	}

	raw, err := o.places.NearbySearch(ctx, coord, mood)
	if err != nil {
		o.metrics.RecordSearch(string(mood), metrics.OutcomeUpstreamFailure)
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return nil, apiErr
		}
		return nil, model.NewUpstreamAPIError(err.Error())
	}
	o.metrics.RecordSearch(string(mood), metrics.OutcomeSuccess)

	outcome := &SearchOutcome{
		Mood:    mood,
		Results: place.Normalize(raw),
	}

	id, err := o.history.SaveResults(ctx, principalID, mood, coord, outcome.Results)
	if err != nil {
		o.logger.Error("検索履歴の保存に失敗しました",
			slog.String("user_id", principalID),
			slog.String("mood", string(mood)),
			slog.String("error", err.Error()),
		)
		return outcome, nil
	}

	outcome.HistoryID = id
	outcome.HistorySaved = true
	o.notifier.ProfileChanged(principalID, ReasonSearchSaved)
	return outcome, nil
}

// DeleteHistoryEntry は履歴を削除する。
// 削除自体が成功した場合は、カウンター更新の成否に関わらず通知を発行する。
func (o *Orchestrator) DeleteHistoryEntry(ctx context.Context, principalID, entryID string) history.DeleteOutcome {
	out := o.history.Delete(ctx, principalID, entryID)
	if out.Deleted {
		o.notifier.ProfileChanged(principalID, ReasonHistoryDeleted)
	}
	return out
}

// NavigateToProfile はプロフィール画面への遷移時に常に通知を発行する。
func (o *Orchestrator) NavigateToProfile(principalID string) {
	o.notifier.ProfileChanged(principalID, ReasonNavigate)
}

// PlaceDetails は場所の詳細を取得する。
func (o *Orchestrator) PlaceDetails(ctx context.Context, placeID string) (json.RawMessage, error) {
	if placeID == "" {
		return nil, model.NewInvalidRequestError("place_id は必須です")
	}
	return o.places.PlaceDetails(ctx, placeID)
}
