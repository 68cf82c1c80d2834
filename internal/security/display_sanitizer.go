package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// DisplaySanitizer は公開エンドポイントで返す試験名・受験者名からマークアップを取り除く。
// 出力はHTMLエスケープ済みのプレーンテキスト。
type DisplaySanitizer struct {
	policy *bluemonday.Policy
}

// NewDisplaySanitizer はbluemondayのStrictPolicyを使うDisplaySanitizerを生成する。
// bluemonday.Policyは生成後は並行利用してよい。
func NewDisplaySanitizer() *DisplaySanitizer {
	return &DisplaySanitizer{policy: bluemonday.StrictPolicy()}
}

// Text はすべてのタグを除去し、前後の空白を取り除いた文字列を返す。
func (s *DisplaySanitizer) Text(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}
