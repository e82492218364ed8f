package model

import "time"

// StoredFieldRow は (feedId, fieldName, fieldHashedValue) を一意制約に持つ
// 重複排除の恒久データ。fieldName="id" が識別ハッシュの行を表す。
type StoredFieldRow struct {
	FeedId           FeedId
	FieldName        string
	FieldHashedValue string
	CreatedAt        time.Time
}

// ComparisonRegistryRow は (feedId, fieldName) をfieldNameが
// フィードに対して「アクティブ化」された比較であることを示す。
type ComparisonRegistryRow struct {
	FeedId    FeedId
	FieldName string
}

// FieldPair はsomeFieldsExistの問い合わせに使う (name, value) の組。
type FieldPair struct {
	Name  string
	Value string
}
