// Package social はインパクト投稿のいいね・コメント機能を提供する。
// 楽観的ミューテーションによる即時反映と、サーバー確定値への収束、
// プッシュ受信とローカルエコーの重複排除を含む。
package social

import (
	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer は投稿・コメント本文のHTMLサニタイズ機能のインターフェース。
// 他ユーザーが入力した本文を表示する前に必ず通すこと。
type Sanitizer interface {
	// Sanitize はHTMLをサニタイズして安全な文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(rawHTML string) string
}

// contentSanitizer はSanitizerの実装。
// bluemondayの許可リストベースのポリシーを保持し、スレッドセーフに動作する。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer はコメント・投稿本文向けのSanitizerを生成する。
// 許可するのは装飾系の最小限のタグのみ:
//   - p, br, strong, em, blockquote
//   - a（href属性のみ。target="_blank"とrel="noopener noreferrer"を強制付与）
//
// script, iframe, style および on* イベント属性は許可リスト外のため除去される。
func NewSanitizer() Sanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements("p", "br", "strong", "em", "blockquote")

	p.AllowAttrs("href").OnElements("a")
	p.AllowStandardURLs()
	p.AllowRelativeURLs(false)
	p.RequireNoFollowOnLinks(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)

	return &contentSanitizer{policy: p}
}

// Sanitize はHTMLコンテンツをサニタイズする。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	return s.policy.Sanitize(rawHTML)
}
