package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/articles/internal/model"
	"github.com/lib/pq"
)

// PostgresFieldStore はfield_rowsテーブルによる重複排除ストア。
// (feed_id, field_name, field_hashed_value) の一意制約に衝突する行は
// ON CONFLICT DO NOTHINGで無視し、バッチの残り行への挿入は継続する。
type PostgresFieldStore struct {
	db *sql.DB
}

// NewPostgresFieldStore はPostgresFieldStoreを生成する。
func NewPostgresFieldStore(db *sql.DB) *PostgresFieldStore {
	return &PostgresFieldStore{db: db}
}

// Persist はrowsを一括挿入する。txが渡された場合はそのトランザクション内で
// 実行し、nilならオートコミットする。同一idHashを持つ行がバッチ内や
// 既存レコードと衝突しても、その行だけが無視されてバッチの残りは
// そのまま挿入される。
func (r *PostgresFieldStore) Persist(ctx context.Context, tx *sql.Tx, rows []model.StoredFieldRow) error {
	if len(rows) == 0 {
		return nil
	}

	exec := func(query string, args ...interface{}) error {
		var err error
		if tx != nil {
			_, err = tx.ExecContext(ctx, query, args...)
		} else {
			_, err = r.db.ExecContext(ctx, query, args...)
		}
		return err
	}

	const query = `
		INSERT INTO field_rows (feed_id, field_name, field_hashed_value)
		VALUES ($1, $2, $3)
		ON CONFLICT (feed_id, field_name, field_hashed_value) DO NOTHING`

	for _, row := range rows {
		if err := exec(query, string(row.FeedId), row.FieldName, row.FieldHashedValue); err != nil {
			return fmt.Errorf("フィールド行の保存に失敗しました: %w", err)
		}
	}
	return nil
}

// FindIdFieldsForFeed はcandidateHashesのうち、field_name="id"としてすでに
// 保存済みのハッシュ値だけを返す。
func (r *PostgresFieldStore) FindIdFieldsForFeed(ctx context.Context, feedID model.FeedId, candidateHashes []string) ([]string, error) {
	if len(candidateHashes) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT field_hashed_value FROM field_rows
		 WHERE feed_id = $1 AND field_name = 'id' AND field_hashed_value = ANY($2)`,
		string(feedID), pq.Array(candidateHashes),
	)
	if err != nil {
		return nil, fmt.Errorf("idフィールドの検索に失敗しました: %w", err)
	}
	defer rows.Close()

	var found []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("idフィールド行の読み取りに失敗しました: %w", err)
		}
		found = append(found, hash)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("idフィールドの走査に失敗しました: %w", err)
	}
	return found, nil
}

// SomeFieldsExist はpairsのうち1つでもすでに保存済みの
// (field_name, field_hashed_value) が存在すればtrueを返す。
func (r *PostgresFieldStore) SomeFieldsExist(ctx context.Context, feedID model.FeedId, pairs []model.FieldPair) (bool, error) {
	if len(pairs) == 0 {
		return false, nil
	}

	names := make([]string, len(pairs))
	values := make([]string, len(pairs))
	for i, p := range pairs {
		names[i] = p.Name
		values[i] = p.Value
	}

	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM field_rows
		     WHERE feed_id = $1
		       AND (field_name, field_hashed_value) = ANY (
		           SELECT unnest($2::text[]), unnest($3::text[])
		       )
		 )`,
		string(feedID), pq.Array(names), pq.Array(values),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("フィールドの存在確認に失敗しました: %w", err)
	}
	return exists, nil
}

// HasArticlesStoredForFeed はfeedIDに紐づく行が1件でもあればtrueを返す。
func (r *PostgresFieldStore) HasArticlesStoredForFeed(ctx context.Context, feedID model.FeedId) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM field_rows WHERE feed_id = $1)`,
		string(feedID),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("フィード保存状態の確認に失敗しました: %w", err)
	}
	return exists, nil
}

// DeleteAllForFeed はfeedIDに紐づくfield_rowsを全削除する。
func (r *PostgresFieldStore) DeleteAllForFeed(ctx context.Context, feedID model.FeedId) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM field_rows WHERE feed_id = $1`, string(feedID))
	if err != nil {
		return fmt.Errorf("フィード情報の削除に失敗しました: %w", err)
	}
	return nil
}
