// Package profile はプリンシパルごとのプロフィールと検索回数カウンターを管理する。
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/moodbytes/internal/metrics"
	"github.com/hitoshi/moodbytes/internal/model"
	"github.com/hitoshi/moodbytes/internal/repository"
)

// DefaultPurgeConcurrency は退会時に並行して削除する履歴の上限数。
const DefaultPurgeConcurrency = 5

// HistoryPurger は退会時の履歴列挙・削除インターフェース。
type HistoryPurger interface {
	ListIDsByPrincipal(ctx context.Context, principalID string) ([]string, error)
	Delete(ctx context.Context, principalID, entryID string) (bool, error)
}

// PurgeReport は退会時の削除結果。
// Failedが0でなくてもプロフィールは削除済み。
type PurgeReport struct {
	HistoryDeleted int
	HistoryFailed  int
	ListFailed     bool // 履歴IDの列挙自体に失敗した
}

// Warnings は利用者に伝える警告件数を返す。
func (r *PurgeReport) Warnings() int {
	n := r.HistoryFailed
	if r.ListFailed {
		n++
	}
	return n
}

// Service はプロフィールのサービス層。
type Service struct {
	repo           repository.ProfileRepository
	history        HistoryPurger
	metrics        metrics.MetricsCollector
	logger         *slog.Logger
	maxConcurrency int
	now            func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はDefaultPurgeConcurrencyを使用する。
func NewService(
	repo repository.ProfileRepository,
	history HistoryPurger,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	maxConcurrency int,
) *Service {
	if collector == nil {
		collector = metrics.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultPurgeConcurrency
	}
	return &Service{
		repo:           repo,
		history:        history,
		metrics:        collector,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		now:            time.Now,
	}
}

// EnsureProfile はサインイン時にプロフィールを作成または更新する。
// 既存の場合は最終ログイン日時・表示名・写真URLのみ更新し、
// 表示名と写真URLは空でなければ上書きする。
func (s *Service) EnsureProfile(ctx context.Context, principal *model.Principal) error {
	if principal == nil || principal.ID == "" {
		return model.ErrNotAuthenticated
	}

	now := s.now()
	existing, err := s.repo.FindByID(ctx, principal.ID)
	if err != nil {
		return fmt.Errorf("failed to find profile: %w", err)
	}

	if existing != nil {
		if err := s.repo.UpdateLogin(ctx, principal.ID, now, principal.DisplayName, principal.PhotoURL); err != nil {
			return fmt.Errorf("failed to update profile login: %w", err)
		}
		return nil
	}

	p := &model.UserProfile{
		ID:            principal.ID,
		Email:         principal.Email,
		DisplayName:   principal.DisplayName,
		PhotoURL:      principal.PhotoURL,
		CreatedAt:     now,
		LastLoginAt:   now,
		TotalSearches: 0,
		FavoriteMoods: []string{},
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}

	s.logger.Info("プロフィールを作成しました", slog.String("user_id", principal.ID))
	return nil
}

// Get はプロフィールを取得する。存在しない場合はnilを返す。
func (s *Service) Get(ctx context.Context, principalID string) (*model.UserProfile, error) {
	if principalID == "" {
		return nil, nil
	}
	p, err := s.repo.FindByID(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// IncrementSearchCount は検索回数を1増やす。
// プロフィールが存在しない場合や更新に失敗した場合はfalseを返す。
func (s *Service) IncrementSearchCount(ctx context.Context, principalID string) bool {
	return s.adjust(ctx, principalID, 1, metrics.CounterOpIncrement)
}

// DecrementSearchCount は検索回数を1減らす。0未満にはならない。
func (s *Service) DecrementSearchCount(ctx context.Context, principalID string) bool {
	return s.adjust(ctx, principalID, -1, metrics.CounterOpDecrement)
}

func (s *Service) adjust(ctx context.Context, principalID string, delta int, op string) bool {
	if principalID == "" {
		return false
	}
	ok, err := s.repo.AdjustSearchCount(ctx, principalID, delta)
	if err != nil {
		s.logger.Warn("検索回数の更新に失敗しました",
			slog.String("user_id", principalID),
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordCounterUpdateFailure(op)
		return false
	}
	if !ok {
		s.logger.Warn("プロフィールが存在しないため検索回数を更新できません",
			slog.String("user_id", principalID),
			slog.String("op", op),
		)
		s.metrics.RecordCounterUpdateFailure(op)
		return false
	}
	return true
}

// DeleteProfileAndAllHistory は全検索履歴を削除してからプロフィールを削除する。
// 履歴の一部が削除できなくてもプロフィール削除は続行し、失敗件数をレポートで返す。
func (s *Service) DeleteProfileAndAllHistory(ctx context.Context, principalID string) (*PurgeReport, error) {
	if principalID == "" {
		return nil, model.ErrNotAuthenticated
	}

	report := &PurgeReport{}

	ids, err := s.history.ListIDsByPrincipal(ctx, principalID)
	if err != nil {
		// 列挙できなかった場合も退会は続行する
		s.logger.Warn("検索履歴の列挙に失敗しました",
			slog.String("user_id", principalID),
			slog.String("error", err.Error()),
		)
		report.ListFailed = true
	} else {
		report.HistoryDeleted, report.HistoryFailed = s.purge(ctx, principalID, ids)
	}

	if report.HistoryFailed > 0 {
		s.logger.Warn("検索履歴の一部を削除できませんでした",
			slog.String("user_id", principalID),
			slog.Int("deleted", report.HistoryDeleted),
			slog.Int("failed", report.HistoryFailed),
		)
		s.metrics.RecordPurgeFailures(report.HistoryFailed)
	}

	if err := s.repo.DeleteByID(ctx, principalID); err != nil {
		return report, fmt.Errorf("failed to delete profile: %w", err)
	}

	s.logger.Info("プロフィールと検索履歴を削除しました",
		slog.String("user_id", principalID),
		slog.Int("history_deleted", report.HistoryDeleted),
	)
	return report, nil
}

// purge は履歴をセマフォで並行数を制限しながら削除する。
func (s *Service) purge(ctx context.Context, principalID string, ids []string) (deleted, failed int) {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.maxConcurrency)
	)

	for _, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(entryID string) {
			defer wg.Done()
			defer func() { <-sem }()

			_, err := s.history.Delete(ctx, principalID, entryID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				s.logger.Warn("検索履歴の削除に失敗しました",
					slog.String("user_id", principalID),
					slog.String("entry_id", entryID),
					slog.String("error", err.Error()),
				)
				return
			}
			deleted++
		}(id)
	}

	wg.Wait()
	return deleted, failed
}
