package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/moodbytes/internal/model"
	"github.com/oklog/ulid/v2"
)

// PostgresHistoryRepo はPostgreSQLを使用した検索履歴リポジトリ。
// IDはULIDで採番する。
type PostgresHistoryRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresHistoryRepo はPostgresHistoryRepoを生成する。
func NewPostgresHistoryRepo(db *sql.DB) *PostgresHistoryRepo {
	return &PostgresHistoryRepo{db: db, now: time.Now}
}

// Create は履歴を作成し、entry.ID と entry.CreatedAt を設定する。
func (r *PostgresHistoryRepo) Create(ctx context.Context, principalID string, entry *model.SearchHistoryEntry) error {
	now := r.now()
	id, err := newEntryID(now)
	if err != nil {
		return fmt.Errorf("failed to generate history ID: %w", err)
	}

	results, err := json.Marshal(entry.SearchResults)
	if err != nil {
		return fmt.Errorf("failed to encode search results: %w", err)
	}

	searchedAt := entry.Timestamp
	if searchedAt.IsZero() {
		searchedAt = now
	}

	var createdAt time.Time
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO search_history (id, user_id, mood, latitude, longitude, search_results, searched_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		id, principalID, string(entry.Mood), entry.Location.Latitude, entry.Location.Longitude, results, searchedAt,
	).Scan(&createdAt)
	if err != nil {
		return fmt.Errorf("failed to insert search history: %w", err)
	}

	entry.ID = id
	entry.Timestamp = searchedAt
	entry.CreatedAt = createdAt
	return nil
}

// ListByPrincipal は検索時刻の降順で最大limit件を返す。
func (r *PostgresHistoryRepo) ListByPrincipal(ctx context.Context, principalID string, limit int) ([]*model.SearchHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, mood, latitude, longitude, search_results, searched_at, created_at
		 FROM search_history
		 WHERE user_id = $1
		 ORDER BY searched_at DESC, created_at DESC, id DESC
		 LIMIT $2`,
		principalID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list search history: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ListByMood はムードが完全一致する履歴を作成日時の降順で最大limit件返す。
func (r *PostgresHistoryRepo) ListByMood(ctx context.Context, principalID string, mood model.Mood, limit int) ([]*model.SearchHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, mood, latitude, longitude, search_results, searched_at, created_at
		 FROM search_history
		 WHERE user_id = $1 AND mood = $2
		 ORDER BY searched_at DESC, created_at DESC, id DESC
		 LIMIT $3`,
		principalID, string(mood), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list search history by mood: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// CountByPrincipal は履歴の総件数を返す。
func (r *PostgresHistoryRepo) CountByPrincipal(ctx context.Context, principalID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM search_history WHERE user_id = $1`,
		principalID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count search history: %w", err)
	}
	return count, nil
}

// Delete は履歴を削除する。存在しないIDの場合も成功とし、removed=falseを返す。
func (r *PostgresHistoryRepo) Delete(ctx context.Context, principalID, entryID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM search_history WHERE user_id = $1 AND id = $2`,
		principalID, entryID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete search history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ListIDsByPrincipal は全履歴のIDを返す。
func (r *PostgresHistoryRepo) ListIDsByPrincipal(ctx context.Context, principalID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM search_history WHERE user_id = $1`,
		principalID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list search history IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan search history ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate search history IDs: %w", err)
	}
	return ids, nil
}

func scanEntries(rows *sql.Rows) ([]*model.SearchHistoryEntry, error) {
	var entries []*model.SearchHistoryEntry
	for rows.Next() {
		e := &model.SearchHistoryEntry{}
		var mood string
		var results []byte
		if err := rows.Scan(&e.ID, &mood, &e.Location.Latitude, &e.Location.Longitude, &results, &e.Timestamp, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan search history: %w", err)
		}
		e.Mood = model.Mood(mood)
		if err := json.Unmarshal(results, &e.SearchResults); err != nil {
			return nil, fmt.Errorf("failed to decode search results of %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate search history: %w", err)
	}
	return entries, nil
}

// newEntryID は時刻順にソート可能なULIDを生成する。
// 同一ミリ秒内でも単調増加するよう、プロセス共有のエントロピーを使う。
func newEntryID(t time.Time) (string, error) {
	id, err := ulid.New(ulid.Timestamp(t), ulid.DefaultEntropy())
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// compile-time interface check
var _ HistoryRepository = (*PostgresHistoryRepo)(nil)
