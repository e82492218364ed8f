package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/articles/internal/model"
	"github.com/lib/pq"
)

// PostgresComparisonRegistry はcomparison_registryテーブルによる
// アクティブ化済み比較フィールドの永続化ストア。
type PostgresComparisonRegistry struct {
	db *sql.DB
}

// NewPostgresComparisonRegistry はPostgresComparisonRegistryを生成する。
func NewPostgresComparisonRegistry(db *sql.DB) *PostgresComparisonRegistry {
	return &PostgresComparisonRegistry{db: db}
}

// Find はfieldNamesのうち、feedIDに対してすでにアクティブ化済みの
// フィールド名を返す。
func (r *PostgresComparisonRegistry) Find(ctx context.Context, feedID model.FeedId, fieldNames []string) ([]model.ComparisonRegistryRow, error) {
	if len(fieldNames) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT field_name FROM comparison_registry
		 WHERE feed_id = $1 AND field_name = ANY($2)`,
		string(feedID), pq.Array(fieldNames),
	)
	if err != nil {
		return nil, fmt.Errorf("比較レジストリの検索に失敗しました: %w", err)
	}
	defer rows.Close()

	var found []model.ComparisonRegistryRow
	for rows.Next() {
		var fieldName string
		if err := rows.Scan(&fieldName); err != nil {
			return nil, fmt.Errorf("比較レジストリ行の読み取りに失敗しました: %w", err)
		}
		found = append(found, model.ComparisonRegistryRow{FeedId: feedID, FieldName: fieldName})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("比較レジストリの走査に失敗しました: %w", err)
	}
	return found, nil
}

// Persist はrowsを一括挿入してフィールドをアクティブ化する。txが渡された
// 場合はそのトランザクション内で実行し、nilならオートコミットする。
// 既にアクティブ化済みの行はON CONFLICT DO NOTHINGで無視し、バッチの
// 残り行は挿入を継続する。
func (r *PostgresComparisonRegistry) Persist(ctx context.Context, tx *sql.Tx, rows []model.ComparisonRegistryRow) error {
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
		INSERT INTO comparison_registry (feed_id, field_name)
		VALUES ($1, $2)
		ON CONFLICT (feed_id, field_name) DO NOTHING`

	for _, row := range rows {
		if err := exec(query, string(row.FeedId), row.FieldName); err != nil {
			return fmt.Errorf("比較レジストリの保存に失敗しました: %w", err)
		}
	}
	return nil
}
