// Package user はアカウント単位の操作（退会）を提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/moodbytes/internal/model"
	"github.com/hitoshi/moodbytes/internal/profile"
	"github.com/hitoshi/moodbytes/internal/repository"
)

// ProfilePurger はプロフィールと全検索履歴の削除インターフェース。
type ProfilePurger interface {
	DeleteProfileAndAllHistory(ctx context.Context, principalID string) (*profile.PurgeReport, error)
}

// SessionInvalidator はプリンシパルの全セッションを SignedOut にするインターフェース。
type SessionInvalidator interface {
	Invalidate(ctx context.Context, principalID string)
}

// Service はアカウント管理のサービス層。
type Service struct {
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	profiles    ProfilePurger
	sessions    SessionInvalidator
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	profiles ProfilePurger,
	sessions SessionInvalidator,
) *Service {
	return &Service{
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		profiles:    profiles,
		sessions:    sessions,
	}
}

// Withdraw はアカウントを削除する。
// 削除順序: sessions → search_history → users（プロフィール） → identities
// 先にセッションを失効させ、削除中に他端末から検索履歴が書き込まれないようにする。
// 検索履歴の一部が削除できなくても続行し、レポートで件数を返す。
// プロフィール削除に失敗した場合はidentityを残すため、再サインインして退会をやり直せる。
func (s *Service) Withdraw(ctx context.Context, userID string) (*profile.PurgeReport, error) {
	ident, err := s.identRepo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if ident == nil {
		return nil, model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	// 1. セッションを削除し、メモリ上のプリンシパルも失効させる
	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return nil, fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}
	if s.sessions != nil {
		s.sessions.Invalidate(ctx, userID)
	}

	// 2. 検索履歴 → プロフィール
	report, err := s.profiles.DeleteProfileAndAllHistory(ctx, userID)
	if err != nil {
		return report, fmt.Errorf("プロフィールの削除に失敗しました: %w", err)
	}

	// 3. 認証情報を削除
	if err := s.identRepo.DeleteByUserID(ctx, userID); err != nil {
		return report, fmt.Errorf("認証情報の削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
		slog.Int("warnings", report.Warnings()),
	)

	return report, nil
}
