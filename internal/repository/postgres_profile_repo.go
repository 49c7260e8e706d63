package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/moodbytes/internal/model"
	"github.com/lib/pq"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.UserProfile, error) {
	p := &model.UserProfile{}
	var moods []string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, photo_url, created_at, last_login_at, total_searches, favorite_moods
		 FROM users WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Email, &p.DisplayName, &p.PhotoURL, &p.CreatedAt, &p.LastLoginAt, &p.TotalSearches, pq.Array(&moods))

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by ID: %w", err)
	}

	p.FavoriteMoods = moods
	if p.FavoriteMoods == nil {
		p.FavoriteMoods = []string{}
	}
	return p, nil
}

// Create はプロフィールを作成する。
// 同時の初回サインインで既に作成済みの場合は何もしない。
func (r *PostgresProfileRepo) Create(ctx context.Context, p *model.UserProfile) error {
	moods := p.FavoriteMoods
	if moods == nil {
		moods = []string{}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, display_name, photo_url, created_at, last_login_at, total_searches, favorite_moods)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		p.ID, p.Email, p.DisplayName, p.PhotoURL, p.CreatedAt, p.LastLoginAt, p.TotalSearches, pq.Array(moods),
	)
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

// UpdateLogin は最終ログイン日時を更新し、空でない表示名・写真URLのみ上書きする。
func (r *PostgresProfileRepo) UpdateLogin(ctx context.Context, id string, lastLoginAt time.Time, displayName, photoURL string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET
			last_login_at = $2,
			display_name = COALESCE(NULLIF($3::text, ''), display_name),
			photo_url = COALESCE(NULLIF($4::text, ''), photo_url)
		 WHERE id = $1`,
		id, lastLoginAt, displayName, photoURL,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile login: %w", err)
	}
	return nil
}

// AdjustSearchCount は total_searches を原子的に増減する。
// 読み取りと書き込みを1文で行うため、同一ユーザーの同時検索でも更新は失われない。
func (r *PostgresProfileRepo) AdjustSearchCount(ctx context.Context, id string, delta int) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET total_searches = GREATEST(total_searches + $2, 0) WHERE id = $1`,
		id, delta,
	)
	if err != nil {
		return false, fmt.Errorf("failed to adjust search count: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// DeleteByID は指定IDのプロフィールを削除する。
func (r *PostgresProfileRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
