package model

import (
	"crypto/sha1"
	"encoding/hex"
)

// FeedId はオペレーターが割り当てるフィードの不透明な識別子。
// 重複排除状態はすべてFeedIdでスコープされる。
type FeedId string

// RawDates は元アイテムの時刻フィールドをISO-8601文字列に正規化したもの。
// 値が有効な日付として解釈できなかった場合はnilのまま残す。
type RawDates struct {
	Date    *string `json:"date,omitempty"`
	PubDate *string `json:"pubdate,omitempty"`
}

// RawItem はXmlParserがXMLから抽出した1件分の生アイテム。
// フィールド名はRSS/Atom双方に現れうる共通の候補キーのみを持つ。
type RawItem struct {
	Fields map[string]string
}

// Get は候補キーの値を返す。存在しない、あるいは空文字列ならfalseを返す。
func (r RawItem) Get(key string) (string, bool) {
	if r.Fields == nil {
		return "", false
	}
	v, ok := r.Fields[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Article は不変の値であり、フラット化された表現と元の日付の両方を持つ。
type Article struct {
	// Flattened はstring/float64/bool/nilのみを値に持つマップ。
	// 常にidとidHashを含む。
	Flattened map[string]any `json:"flattened"`
	// Raw は元アイテムの時刻フィールドをISO-8601に正規化したもの。
	Raw RawDates `json:"raw"`

	// InjectArticleContent は遅延実行されるコンテンツ注入クロージャ。
	// キャッシュへのシリアライズ対象外（クロージャは復元できない）。
	InjectArticleContent func() (map[string]any, error) `json:"-"`
	// HasArticleContentInjection はInjectArticleContentが設定されているかを示す。
	HasArticleContentInjection bool `json:"-"`
}

// Id はflattened["id"]を文字列として返す。存在しなければ空文字列。
func (a Article) Id() string {
	v, _ := a.Flattened["id"].(string)
	return v
}

// IdHash はflattened["idHash"]を文字列として返す。存在しなければ空文字列。
func (a Article) IdHash() string {
	v, _ := a.Flattened["idHash"].(string)
	return v
}

// Sha1Hex は入力文字列のSHA-1を16進小文字で返す。
// 呼び出しごとにフレッシュなハッシュインスタンスを生成する（§5の共有リソース方針）。
func Sha1Hex(s string) string {
	h := sha1.New()
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}
