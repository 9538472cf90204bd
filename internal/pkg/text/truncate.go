package text

import "unicode/utf8"

// Truncate 按字节上限截断，不会切断多字节字符；超长时追加 "..."。
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
