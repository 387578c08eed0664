// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は蔵書のタイトル・著者名などの書誌テキストからマークアップを除去し、
// APIの利用者が値をそのままHTMLへ埋め込んでもスクリプトが実行されないようにする。
// bluemondayのStrictPolicyを使用し、すべてのタグと属性を取り除く。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプレーンテキスト化のインターフェースを定義する。
type TextSanitizer interface {
	// Sanitize はタグを除去し、前後の空白を取り除いたテキストを返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフなので共有して使う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// maxSanitizePasses は文字参照で二重に隠されたタグを剥がすための反復上限。
const maxSanitizePasses = 3

// Sanitize はタグを除去したテキストを返す。
// StrictPolicyは文字参照を出力するため保存用に素の文字へ戻し、
// 戻した結果にタグが現れなくなるまで繰り返す。
func (s *textSanitizer) Sanitize(raw string) string {
	cur := raw
	for i := 0; i < maxSanitizePasses; i++ {
		next := html.UnescapeString(s.policy.Sanitize(cur))
		if next == cur {
			break
		}
		cur = next
	}
	return strings.TrimSpace(cur)
}
