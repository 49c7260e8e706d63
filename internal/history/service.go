// Package history はプリンシパルごとの検索履歴の保存・一覧・削除を提供する。
//
// 履歴の書き込みが主操作で、検索回数カウンターの更新は副次的なベストエフォート処理とする。
// カウンター更新の失敗はログに残すのみで、主操作の結果を覆さない。
package history

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hitoshi/moodbytes/internal/metrics"
	"github.com/hitoshi/moodbytes/internal/model"
	"github.com/hitoshi/moodbytes/internal/place"
	"github.com/hitoshi/moodbytes/internal/repository"
)

const (
	// DefaultLimit は一覧取得件数のデフォルト値。
	DefaultLimit = 20
	// MaxLimit は一覧取得件数の上限。
	MaxLimit = 100
	// DefaultMoodLimit はムード別一覧の上限。
	DefaultMoodLimit = 10
)

// SearchCounter は検索回数カウンターの更新インターフェース。
// profile.Serviceが実装する。
type SearchCounter interface {
	IncrementSearchCount(ctx context.Context, principalID string) bool
	DecrementSearchCount(ctx context.Context, principalID string) bool
}

// DeleteOutcome は履歴削除の結果。
// Deletedは主操作の成否、CounterUpdatedは検索回数の減算の成否を表す。
type DeleteOutcome struct {
	Deleted        bool `json:"deleted"`
	CounterUpdated bool `json:"counter_updated"`
}

// Page は履歴一覧と総件数の組。
type Page struct {
	Items      []*model.SearchHistoryEntry `json:"items"`
	TotalCount int                         `json:"total_count"`
}

// Options はServiceの設定値。
type Options struct {
	DefaultLimit int
	MoodLimit    int
}

// Service は検索履歴のサービス層。
type Service struct {
	repo         repository.HistoryRepository
	counter      SearchCounter
	metrics      metrics.MetricsCollector
	logger       *slog.Logger
	defaultLimit int
	moodLimit    int
	now          func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.HistoryRepository,
	counter SearchCounter,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	opts Options,
) *Service {
	if collector == nil {
		collector = metrics.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DefaultLimit <= 0 || opts.DefaultLimit > MaxLimit {
		opts.DefaultLimit = DefaultLimit
	}
	if opts.MoodLimit <= 0 || opts.MoodLimit > MaxLimit {
		opts.MoodLimit = DefaultMoodLimit
	}
	return &Service{
		repo:         repo,
		counter:      counter,
		metrics:      collector,
		logger:       logger,
		defaultLimit: opts.DefaultLimit,
		moodLimit:    opts.MoodLimit,
		now:          time.Now,
	}
}

// Save は検索APIの生レスポンスを正規化して履歴に保存し、検索回数を加算する。
// プリンシパルがない場合は model.ErrNotAuthenticated を返す。
func (s *Service) Save(ctx context.Context, principalID string, mood model.Mood, coord model.Coordinate, raw []byte) (string, error) {
	return s.SaveResults(ctx, principalID, mood, coord, place.Normalize(raw))
}

// SaveResults は正規化済みの検索結果を履歴に保存し、検索回数を加算する。
// ストアへの書き込み失敗はラップしたエラーで返す。
// 検索回数の加算失敗は呼び出し元には返さない。
func (s *Service) SaveResults(ctx context.Context, principalID string, mood model.Mood, coord model.Coordinate, results model.SearchResults) (string, error) {
	if principalID == "" {
		return "", model.ErrNotAuthenticated
	}
	if !mood.Valid() {
		return "", model.NewInvalidMoodError(string(mood))
	}
	if err := coord.Validate(); err != nil {
		return "", err
	}

	// 書き込み時点で totalCount == len(places) を保証する
	results.TotalCount = len(results.Places)
	if results.Places == nil {
		results.Places = []model.PlaceRecord{}
	}

	entry := &model.SearchHistoryEntry{
		Mood:          mood,
		Location:      coord,
		SearchResults: results,
		Timestamp:     s.now(),
	}
	if err := s.repo.Create(ctx, principalID, entry); err != nil {
		s.metrics.RecordHistorySaveFailure()
		return "", fmt.Errorf("failed to save search history: %w", err)
	}
	s.metrics.RecordHistorySaved()

	if !s.counter.IncrementSearchCount(ctx, principalID) {
		s.logger.Warn("検索履歴は保存しましたが検索回数を加算できませんでした",
			slog.String("user_id", principalID),
			slog.String("entry_id", entry.ID),
		)
	}

	return entry.ID, nil
}

// List は履歴を新しい順に最大limit件返す。
// limitが0以下の場合はデフォルト値、上限を超える場合はMaxLimitを使う。
// 取得に失敗した場合は空の一覧を返す。
func (s *Service) List(ctx context.Context, principalID string, limit int) []*model.SearchHistoryEntry {
	if principalID == "" {
		return []*model.SearchHistoryEntry{}
	}
	entries, err := s.repo.ListByPrincipal(ctx, principalID, s.clampLimit(limit))
	if err != nil {
		s.logger.Warn("検索履歴の取得に失敗しました",
			slog.String("user_id", principalID),
			slog.String("error", err.Error()),
		)
		return []*model.SearchHistoryEntry{}
	}
	return sortNewestFirst(entries)
}

// Count は履歴の総件数を返す。取得に失敗した場合は0を返す。
func (s *Service) Count(ctx context.Context, principalID string) int {
	if principalID == "" {
		return 0
	}
	n, err := s.repo.CountByPrincipal(ctx, principalID)
	if err != nil {
		s.logger.Warn("検索履歴の件数取得に失敗しました",
			slog.String("user_id", principalID),
			slog.String("error", err.Error()),
		)
		return 0
	}
	return n
}

// ByMood は指定ムードの履歴を新しい順に返す。件数は MoodLimit で打ち切る。
func (s *Service) ByMood(ctx context.Context, principalID string, mood model.Mood) []*model.SearchHistoryEntry {
	if principalID == "" {
		return []*model.SearchHistoryEntry{}
	}
	entries, err := s.repo.ListByMood(ctx, principalID, mood, s.moodLimit)
	if err != nil {
		s.logger.Warn("ムード別の検索履歴の取得に失敗しました",
			slog.String("user_id", principalID),
			slog.String("mood", string(mood)),
			slog.String("error", err.Error()),
		)
		return []*model.SearchHistoryEntry{}
	}
	return sortNewestFirst(entries)
}

// ListWithCount は一覧と総件数を並行に取得して返す。
func (s *Service) ListWithCount(ctx context.Context, principalID string, limit int) Page {
	var (
		wg    sync.WaitGroup
		items []*model.SearchHistoryEntry
		total int
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		items = s.List(ctx, principalID, limit)
	}()
	go func() {
		defer wg.Done()
		total = s.Count(ctx, principalID)
	}()
	wg.Wait()

	return Page{Items: items, TotalCount: total}
}

// Delete は履歴を削除し、実際に削除された場合のみ検索回数を減算する。
// 存在しないIDの削除は成功扱いとし、カウンターには触れない。
// ストアからの削除に失敗した場合は Deleted=false を返す。
func (s *Service) Delete(ctx context.Context, principalID, entryID string) DeleteOutcome {
	if principalID == "" || entryID == "" {
		return DeleteOutcome{}
	}

	removed, err := s.repo.Delete(ctx, principalID, entryID)
	if err != nil {
		s.logger.Warn("検索履歴の削除に失敗しました",
			slog.String("user_id", principalID),
			slog.String("entry_id", entryID),
			slog.String("error", err.Error()),
		)
		return DeleteOutcome{}
	}
	if !removed {
		return DeleteOutcome{Deleted: true, CounterUpdated: true}
	}
	s.metrics.RecordHistoryDeleted()

	out := DeleteOutcome{Deleted: true}
	out.CounterUpdated = s.counter.DecrementSearchCount(ctx, principalID)
	if !out.CounterUpdated {
		s.logger.Warn("検索履歴は削除しましたが検索回数を減算できませんでした",
			slog.String("user_id", principalID),
			slog.String("entry_id", entryID),
		)
	}
	return out
}

func (s *Service) clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return s.defaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// sortNewestFirst はストアの返却順に依存せず、検索時刻（Timestamp）の降順に並べ替える。
// 同時刻はサーバー採番時刻の降順。
func sortNewestFirst(entries []*model.SearchHistoryEntry) []*model.SearchHistoryEntry {
	if entries == nil {
		return []*model.SearchHistoryEntry{}
	}
	slices.SortStableFunc(entries, func(a, b *model.SearchHistoryEntry) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return entries
}
