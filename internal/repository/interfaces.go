// Package repository はデータ永続化のインターフェースを定義する。
//
// ストアは非トランザクショナルなCRUDとして扱う。
// 複数の書き込みをまたぐ整合性はサービス層の責務とする。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/moodbytes/internal/model"
)

// ProfileRepository はプロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.UserProfile, error)

	// Create はプロフィールを作成する。
	Create(ctx context.Context, profile *model.UserProfile) error

	// UpdateLogin は最終ログイン日時を更新する。
	// displayName、photoURLは空でない場合のみ上書きし、空なら既存値を維持する。
	// created_at と total_searches には触れない。
	UpdateLogin(ctx context.Context, id string, lastLoginAt time.Time, displayName, photoURL string) error

	// AdjustSearchCount は total_searches に delta を加算する（0未満にはならない）。
	// プロフィールが存在しない場合はfalseを返す。
	AdjustSearchCount(ctx context.Context, id string, delta int) (bool, error)

	// DeleteByID は指定IDのプロフィールを削除する。存在しなくてもエラーにしない。
	DeleteByID(ctx context.Context, id string) error
}

// HistoryRepository は検索履歴の永続化インターフェース。
// 全操作はプリンシパルIDでスコープされる。
type HistoryRepository interface {
	// Create は履歴を作成し、entry.ID と entry.CreatedAt を採番する。
	Create(ctx context.Context, principalID string, entry *model.SearchHistoryEntry) error

	// ListByPrincipal は作成日時の降順で最大limit件を返す。
	ListByPrincipal(ctx context.Context, principalID string, limit int) ([]*model.SearchHistoryEntry, error)

	// ListByMood はムードが完全一致する履歴を作成日時の降順で最大limit件返す。
	ListByMood(ctx context.Context, principalID string, mood model.Mood, limit int) ([]*model.SearchHistoryEntry, error)

	// CountByPrincipal は履歴の総件数を返す。
	CountByPrincipal(ctx context.Context, principalID string) (int, error)

	// Delete は履歴を削除する。存在しないIDでもエラーにせず、removed=falseを返す。
	Delete(ctx context.Context, principalID, entryID string) (removed bool, err error)

	// ListIDsByPrincipal は全履歴のIDを返す。一括削除の列挙に使う。
	ListIDsByPrincipal(ctx context.Context, principalID string) ([]string, error)
}

// IdentityRepository は認証プロバイダー上のアカウントの永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// FindByUserID はユーザーIDに紐づく最初のidentityを返す。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Identity, error)

	// Create はidentityを作成する。
	// (provider, provider_user_id) が重複する場合は ErrDuplicateIdentity を返す。
	Create(ctx context.Context, identity *model.Identity) error

	// UpdateProfile はプロバイダーから受け取った表示名と写真URLでidentityを更新する。
	UpdateProfile(ctx context.Context, id, displayName, photoURL string) error

	// DeleteByUserID はユーザーの全identityを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}
