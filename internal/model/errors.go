// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind は articles パッケージが返しうるエラーの種類を列挙する。
// メッセージ部分文字列での判定は行わず、常にKindで分岐する。
type ErrorKind string

const (
	// ErrKindInvalidFeed はパーサーが入力をフィードとして認識できなかったことを示す。
	// FetchOrchestratorのHTMLフォールバックで回復が試みられる。
	ErrKindInvalidFeed ErrorKind = "invalid_feed"
	// ErrKindFeedParseTimeout はパース処理がタイムアウトしたことを示す。そのパスに対して致命的。
	ErrKindFeedParseTimeout ErrorKind = "feed_parse_timeout"
	// ErrKindNoIdType はIdResolverが有効な識別フィールドを1つも見つけられなかったことを示す。
	ErrKindNoIdType ErrorKind = "no_id_type"
	// ErrKindMissingIdHash は構築後の記事にidHashが欠落しているという不変条件違反を示す。
	ErrKindMissingIdHash ErrorKind = "missing_id_hash"
	// ErrKindPendingRequest はFetcherが本文を返さなかったことを示す（リクエストは処理中）。
	ErrKindPendingRequest ErrorKind = "pending_request"
	// ErrKindFeedArticleNotFound は単一記事の検索が失敗したことを示す。
	ErrKindFeedArticleNotFound ErrorKind = "feed_article_not_found"
	// ErrKindUniqueViolation はストアの一意制約違反を示す。書き込み経路で常に飲み込まれる。
	ErrKindUniqueViolation ErrorKind = "unique_violation"
)

// Error は種類付きのエラーを表す。errors.Is/errors.Asと組み合わせて使う。
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap はラップされたエラーを返す。errors.Is/errors.Asが辿れるようにする。
func (e *Error) Unwrap() error {
	return e.Err
}

// Is はKindだけを比較する。sentinelとしてのErrorと比較されたときに使われる。
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == te.Kind
}

// NewError は種類とメッセージからErrorを生成する。
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError は下位エラーを種類付きでラップする。
func WrapError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf はerrがmodel.Errorであればその種類を、そうでなければ空文字列を返す。
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind はerrがmodel.Errorでkindに一致するかを判定する。
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// Sentinel errors — errors.Is(err, model.ErrInvalidFeed) のように使う。
var (
	ErrInvalidFeed         = &Error{Kind: ErrKindInvalidFeed}
	ErrFeedParseTimeout    = &Error{Kind: ErrKindFeedParseTimeout}
	ErrNoIdType            = &Error{Kind: ErrKindNoIdType}
	ErrMissingIdHash       = &Error{Kind: ErrKindMissingIdHash}
	ErrPendingRequest      = &Error{Kind: ErrKindPendingRequest}
	ErrFeedArticleNotFound = &Error{Kind: ErrKindFeedArticleNotFound}
	ErrUniqueViolation     = &Error{Kind: ErrKindUniqueViolation}
)
