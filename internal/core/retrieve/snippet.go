package retrieve

import "strings"

// DefaultSnippetLength はスニペットの最大文字数
const DefaultSnippetLength = 300

// MakeSnippet はテキストを文境界で切り詰めてスニペットを作る。
// 良い境界（上限の70%以降）が見つからない場合は単純に切り詰める。
func MakeSnippet(text string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = DefaultSnippetLength
	}
	if len(text) <= maxLength {
		return text
	}

	truncated := text[:maxLength]

	boundary := lastSentenceBoundary(truncated)
	if boundary > maxLength*7/10 {
		return strings.TrimSpace(truncated[:boundary+1])
	}

	return strings.TrimSpace(truncated)
}

// lastSentenceBoundary は文末とみなせる最後の位置を返す（見つからなければ -1）
func lastSentenceBoundary(s string) int {
	boundary := -1
	for _, sep := range []string{". ", "! ", "? ", "\n"} {
		if idx := strings.LastIndex(s, sep); idx > boundary {
			boundary = idx
		}
	}
	return boundary
}
