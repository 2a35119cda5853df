package text

// Truncate 按 rune 截断到 max 个字符，超长时追加省略号。
// 中文等多字节内容不会被从字节中间切断。
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
