// Package text 提供通知文本的裁剪工具。
package text

import "unicode/utf8"

// Truncate 把 s 截断到至多 max 字节并追加 "..."，截断点落在 UTF-8 字符边界上。
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
